package pgm

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog/log"
)

// ErrBusy is returned by Acquire when another session already holds the
// programmer lines. The protocol is a single-master bus; a second holder
// must fail fast rather than silently share the pins.
var ErrBusy = errors.New("pgm: programmer already acquired by another session")

// inUse guards the process-wide exclusive claim on the programmer hardware.
var inUse atomic.Bool

// Handle is the acquired programmer resource. It forwards the Interface
// methods to the underlying provider and guarantees that the pins are
// returned to a safe state exactly once on every exit path, including
// SIGINT/SIGTERM while a programming sequence is in flight.
type Handle struct {
	prov     Provider
	pins     Pins
	released atomic.Bool
	sigs     chan os.Signal
}

// Acquire claims the programmer hardware through the given provider.
//
// Some backends alter process-wide signal disposition as a side effect of
// hardware initialization (the pigpio C library famously replaces the SIGINT
// and SIGTERM handlers). Acquire resets any such disposition immediately
// after Open returns, then installs its own watcher that releases the pins
// and re-raises the signal, so an interrupted run never leaves the target
// with floating or driven lines.
func Acquire(prov Provider, pins Pins) (*Handle, error) {
	if !inUse.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	if err := prov.Open(); err != nil {
		inUse.Store(false)
		return nil, fmt.Errorf("pgm: open provider: %w", err)
	}

	// Undo whatever the provider's init did to the process signal handlers.
	signal.Reset(syscall.SIGINT, syscall.SIGTERM)

	h := &Handle{
		prov: prov,
		pins: pins,
		sigs: make(chan os.Signal, 1),
	}
	signal.Notify(h.sigs, syscall.SIGINT, syscall.SIGTERM)
	go h.watchSignals()

	log.Debug().
		Int("dat", pins.DAT).Int("clk", pins.CLK).Int("rst", pins.RST).
		Int("trigger", pins.Trigger).
		Msg("programmer acquired")
	return h, nil
}

func (h *Handle) watchSignals() {
	sig, ok := <-h.sigs
	if !ok {
		return
	}
	log.Warn().Str("signal", sig.String()).Msg("interrupted, releasing programmer pins")
	// The target's internal state is undefined from here on; all we can do
	// is stop driving the lines before the process dies. The session must
	// be re-entered from scratch on the next run.
	h.Release(false)
	signal.Reset(sig)
	if s, ok := sig.(syscall.Signal); ok {
		_ = syscall.Kill(os.Getpid(), s)
	}
}

// Release returns every pin to input (high impedance) and frees the
// exclusive claim. If leaveResetHigh is true the RST line keeps driving high
// instead, holding the target in reset after the programmer detaches.
// Release is idempotent; only the first call touches the hardware.
func (h *Handle) Release(leaveResetHigh bool) error {
	if !h.released.CompareAndSwap(false, true) {
		return nil
	}
	signal.Stop(h.sigs)
	close(h.sigs)

	h.prov.SetDirection(DAT, Input)
	h.prov.SetDirection(CLK, Input)
	if leaveResetHigh {
		h.prov.SetDirection(RST, Output)
		h.prov.Write(RST, true)
	} else {
		h.prov.SetDirection(RST, Input)
	}
	if h.pins.HasTrigger() {
		h.prov.SetDirection(Trigger, Input)
	}

	err := h.prov.Close()
	inUse.Store(false)
	log.Debug().Bool("leave_reset_high", leaveResetHigh).Msg("programmer released")
	if err != nil {
		return fmt.Errorf("pgm: close provider: %w", err)
	}
	return nil
}

// Pins returns the pin mapping the handle was acquired with.
func (h *Handle) Pins() Pins { return h.pins }

// HasTrigger reports whether the fault-injection line is available.
func (h *Handle) HasTrigger() bool { return h.pins.HasTrigger() }

// SetDirection implements Interface.
func (h *Handle) SetDirection(pin Pin, dir Direction) { h.prov.SetDirection(pin, dir) }

// Write implements Interface.
func (h *Handle) Write(pin Pin, high bool) { h.prov.Write(pin, high) }

// Read implements Interface.
func (h *Handle) Read(pin Pin) bool { return h.prov.Read(pin) }

// SleepMicros implements Interface.
func (h *Handle) SleepMicros(n uint32) { h.prov.SleepMicros(n) }

// Err implements Interface.
func (h *Handle) Err() error { return h.prov.Err() }
