// Package pgm abstracts the programmer-side GPIO lines used to drive the ICP
// protocol: DAT, CLK, RST and an optional TRIGGER line for fault injection.
//
// The protocol engine is written against Interface only; concrete providers
// exist for the Linux GPIO character device (periph.io) and for the pigpiod
// daemon socket. Providers are expected to offer microsecond-scale timing.
package pgm

import "time"

// Pin identifies one of the programmer signal lines. These are roles, not
// hardware line numbers; providers map them to physical pins via Pins.
type Pin int

const (
	DAT Pin = iota
	CLK
	RST
	Trigger
)

func (p Pin) String() string {
	switch p {
	case DAT:
		return "DAT"
	case CLK:
		return "CLK"
	case RST:
		return "RST"
	case Trigger:
		return "TRIGGER"
	default:
		return "?"
	}
}

// Direction is the configured direction of a signal line.
type Direction int

const (
	Input Direction = iota
	Output
)

// Pins maps signal roles to hardware pin numbers (BCM numbering on a
// Raspberry Pi). Trigger may be -1 when no fault-injection line is wired.
type Pins struct {
	DAT     int
	CLK     int
	RST     int
	Trigger int
}

// DefaultPins is the 40-pin header wiring printed by the CLI help:
// GPIO20 = DAT, GPIO26 = CLK, GPIO21 = RST, no trigger.
var DefaultPins = Pins{DAT: 20, CLK: 26, RST: 21, Trigger: -1}

// HasTrigger reports whether a trigger line is configured.
func (p Pins) HasTrigger() bool { return p.Trigger >= 0 }

// Interface is the GPIO capability consumed by the protocol engine.
//
// Write, Read and SetDirection do not return errors: they sit in
// timing-critical bit loops where per-call error handling would introduce
// jitter the protocol cannot tolerate. A provider records the first hardware
// fault it encounters and reports it from Err; the engine checks Err at
// operation boundaries, where a late failure is indistinguishable from an
// immediate one anyway (the bus gives no acknowledgment).
type Interface interface {
	// SetDirection configures pin as an input or output.
	SetDirection(pin Pin, dir Direction)

	// Write drives an output pin high or low.
	Write(pin Pin, high bool)

	// Read samples the current level of a pin.
	Read(pin Pin) bool

	// SleepMicros blocks the calling goroutine for n microseconds. Short
	// waits are busy-waits; this is deliberate, see SleepMicros.
	SleepMicros(n uint32)

	// Err returns the first hardware fault recorded since the provider was
	// opened, or nil.
	Err() error
}

// Provider is a hardware backend that can be acquired as the process-wide
// programmer resource. Open and Close bracket hardware ownership; everything
// between goes through the Interface methods.
type Provider interface {
	Interface

	// Open claims the hardware. It may fail if the lines are busy or the
	// backing service is unreachable.
	Open() error

	// Close releases the hardware. Pin state on close is the lifecycle
	// manager's concern, not the provider's.
	Close() error
}

// busyWaitThreshold is the cutoff below which SleepMicros spins instead of
// sleeping. time.Sleep granularity on a stock kernel is around 100µs and the
// protocol's bit windows are single-digit microseconds.
const busyWaitThreshold = time.Millisecond

// SleepMicros delays for n microseconds with microsecond-scale precision.
// Sub-millisecond waits busy-wait on the monotonic clock; longer waits are
// handed to the scheduler.
func SleepMicros(n uint32) {
	if n == 0 {
		return
	}
	d := time.Duration(n) * time.Microsecond
	if d >= busyWaitThreshold {
		time.Sleep(d)
		return
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}
