// Package icp implements the host side of the In-Circuit Programming
// protocol for N76E003-class parts: bit-banged command framing over
// DAT/CLK/RST, programming-mode entry and exit sequencing, flash and
// identifier commands, and the fault-injection re-entry variant.
//
// The engine is strictly single-master and single-threaded. Operations block
// for their full microsecond-budgeted duration and must not be interrupted
// mid-sequence; an interrupted session has to be discarded and the target
// re-entered from scratch.
package icp

import (
	"fmt"

	"github.com/n76tools/icpflash/internal/pgm"
	"github.com/n76tools/icpflash/internal/target"
)

// State is the host's belief about the target's mode. The bus offers no way
// to observe the target directly, so this tracks what the host has done, not
// what the chip acknowledges.
type State int

const (
	StateUninitialized State = iota
	StateIdle
	StateEntryPending
	StateProgramming
	StateError
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateIdle:
		return "idle"
	case StateEntryPending:
		return "entry-pending"
	case StateProgramming:
		return "programming"
	case StateError:
		return "error"
	default:
		return "?"
	}
}

// Session is the single logical connection to one target chip. It owns the
// acquired programmer handle between Init and Deinit. Sessions are not safe
// for concurrent use and only one session per process can hold the
// programmer at a time.
type Session struct {
	codec
	prov     pgm.Provider
	pins     pgm.Pins
	handle   *pgm.Handle
	state    State
	progress ProgressFunc
}

// ProgressFunc reports long-running flash operation progress in bytes.
type ProgressFunc func(done, total int)

// New creates a session bound to a provider. No hardware is touched until
// Init.
func New(prov pgm.Provider, pins pgm.Pins) *Session {
	return &Session{prov: prov, pins: pins, state: StateUninitialized}
}

// State returns the current host-side protocol state.
func (s *Session) State() State { return s.state }

// SetProgress installs a progress callback for ReadFlash and WriteFlash.
func (s *Session) SetProgress(cb ProgressFunc) { s.progress = cb }

func (s *Session) reportProgress(done, total int) {
	if s.progress != nil {
		s.progress(done, total)
	}
}

// Init acquires the programmer as the process-wide exclusive resource and
// parks the pins for protocol use: CLK and RST as outputs, DAT as input.
// With resetFirst the target is held in reset (RST high); otherwise RST is
// driven low. Fails fast if another session already holds the programmer.
func (s *Session) Init(resetFirst bool) error {
	h, err := pgm.Acquire(s.prov, s.pins)
	if err != nil {
		s.state = StateError
		return fmt.Errorf("icp: init: %w", err)
	}
	s.handle = h
	s.io = h

	h.SetDirection(pgm.CLK, pgm.Output)
	h.Write(pgm.CLK, false)
	h.SetDirection(pgm.RST, pgm.Output)
	h.Write(pgm.RST, resetFirst)
	h.SetDirection(pgm.DAT, pgm.Input)
	if h.HasTrigger() {
		h.SetDirection(pgm.Trigger, pgm.Output)
		h.Write(pgm.Trigger, false)
	}
	if err := h.Err(); err != nil {
		// A half-initialized session must not keep the process-wide
		// claim or leave pins driven.
		h.Release(false)
		s.handle = nil
		s.io = nil
		s.state = StateError
		return fmt.Errorf("icp: init pins: %w", err)
	}
	s.state = StateIdle
	return nil
}

// Entry performs the cold entry into programming mode. With resetFirst the
// 24-bit ICP reset pattern is toggled onto RST first (fresh power-on path);
// otherwise a plain RST pulse is used.
func (s *Session) Entry(resetFirst bool) error {
	if s.handle == nil {
		return ErrNotInitialized
	}
	s.state = StateEntryPending

	if resetFirst {
		s.sendResetSeq(ResetSeq, 24)
	} else {
		s.io.Write(pgm.RST, true)
		s.io.SleepMicros(5000)
		s.io.Write(pgm.RST, false)
		s.io.SleepMicros(1000)
	}

	s.io.SleepMicros(100)
	s.sendEntryBits()
	s.io.SleepMicros(10)

	if err := s.io.Err(); err != nil {
		s.state = StateError
		return fmt.Errorf("icp: entry: %w", err)
	}
	s.state = StateProgramming
	return nil
}

// sendResetSeq toggles RST through the given bit pattern, one step per
// 10ms, ending on bit 0.
func (s *Session) sendResetSeq(seq uint32, bits int) {
	for i := 0; i <= bits; i++ {
		s.io.Write(pgm.RST, (seq>>uint(bits-i))&1 == 1)
		s.io.SleepMicros(resetSeqStepMicros)
	}
}

// Reentry re-enters programming mode without a power cycle: RST high for
// Delay1, low for Delay2, entry bits, then a Delay3 settle. The durations
// are what re-synchronize the target's internal state machine; outside
// tolerance the target simply never enters, indistinguishable from a dead
// chip.
func (s *Session) Reentry(t Timing) error {
	if s.handle == nil {
		return ErrNotInitialized
	}
	s.state = StateEntryPending

	s.io.SleepMicros(10)
	if t.Delay1 > 0 {
		s.io.Write(pgm.RST, true)
		s.io.SleepMicros(t.Delay1)
	}
	s.io.Write(pgm.RST, false)
	s.io.SleepMicros(t.Delay2)
	s.sendEntryBits()
	s.io.SleepMicros(t.Delay3)

	if err := s.io.Err(); err != nil {
		s.state = StateError
		return fmt.Errorf("icp: reentry: %w", err)
	}
	s.state = StateProgramming
	return nil
}

// ReentryGlitch is the fault-injection variant of Reentry. An extra
// RST pulse first pins down the moment the target reloads its config bytes,
// then TRIGGER is raised DelayAfterTriggerHigh µs before the RST rise and
// dropped DelayBeforeTriggerLow µs after it, bracketing the config-load
// window. Whether the glitch did anything is not observable here; callers
// must infer it from subsequent reads.
func (s *Session) ReentryGlitch(t Timing) error {
	if s.handle == nil {
		return ErrNotInitialized
	}
	if !s.handle.HasTrigger() {
		return ErrNoTrigger
	}
	s.state = StateEntryPending

	s.io.SleepMicros(200)
	s.io.Write(pgm.RST, true)
	s.io.SleepMicros(t.Delay1)
	s.io.Write(pgm.RST, false)
	s.io.SleepMicros(t.Delay2)

	s.io.Write(pgm.Trigger, true)
	s.io.SleepMicros(t.DelayAfterTriggerHigh)
	s.io.Write(pgm.RST, true)

	beforeLow := t.DelayBeforeTriggerLow
	if beforeLow == 0 {
		beforeLow = configLoadMicros
	}
	if beforeLow > t.Delay1 {
		s.io.SleepMicros(t.Delay1)
		s.io.Write(pgm.RST, false)
		s.io.SleepMicros(beforeLow - t.Delay1)
		s.io.Write(pgm.Trigger, false)
	} else {
		s.io.SleepMicros(beforeLow)
		s.io.Write(pgm.Trigger, false)
		s.io.SleepMicros(t.Delay1 - beforeLow)
		s.io.Write(pgm.RST, false)
	}
	s.io.SleepMicros(t.Delay2)
	s.sendEntryBits()
	s.io.SleepMicros(10)

	if err := s.io.Err(); err != nil {
		s.state = StateError
		return fmt.Errorf("icp: reentry glitch: %w", err)
	}
	s.state = StateProgramming
	return nil
}

// ReentryGlitchRead performs ReentryGlitch and immediately reads the 5
// protected config bytes, returning whatever the attempt exposed. The bytes
// may be real data or garbage; the engine does not judge.
func (s *Session) ReentryGlitchRead(t Timing) ([]byte, error) {
	if err := s.ReentryGlitch(t); err != nil {
		return nil, err
	}
	return s.ReadFlash(target.ConfigAddr, GlitchCaptureLen)
}

// Exit sends the exit bits and returns the target to normal execution.
func (s *Session) Exit() error {
	if s.handle == nil {
		return ErrNotInitialized
	}
	s.io.Write(pgm.RST, true)
	s.io.SleepMicros(5000)
	s.io.Write(pgm.RST, false)
	s.io.SleepMicros(10000)
	s.sendExitBits()
	s.io.SleepMicros(500)
	s.io.Write(pgm.RST, true)

	if err := s.io.Err(); err != nil {
		s.state = StateError
		return fmt.Errorf("icp: exit: %w", err)
	}
	s.state = StateIdle
	return nil
}

// Deinit releases the programmer, returning every pin to input unless
// leaveResetHigh asks for RST to keep driving high. Call at most once per
// successful Init; calling it on a never-initialized session is a no-op.
func (s *Session) Deinit(leaveResetHigh bool) error {
	if s.handle == nil {
		s.state = StateUninitialized
		return nil
	}
	err := s.handle.Release(leaveResetHigh)
	s.handle = nil
	s.io = nil
	s.state = StateUninitialized
	if err != nil {
		return fmt.Errorf("icp: deinit: %w", err)
	}
	return nil
}
