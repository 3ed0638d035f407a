package icp

// Timing holds the caller-tunable microsecond delays for re-entry and the
// fault-injection variant. Glitch attempts sweep these values across many
// runs; nothing in the engine judges whether a particular combination
// "worked".
type Timing struct {
	// Delay1 is the RST high pulse width during re-entry.
	Delay1 uint32
	// Delay2 is the wait after RST falls, before the entry bits.
	Delay2 uint32
	// Delay3 is the settle time after the entry bits.
	Delay3 uint32
	// DelayAfterTriggerHigh is the wait between raising TRIGGER and
	// raising RST inside the glitch window.
	DelayAfterTriggerHigh uint32
	// DelayBeforeTriggerLow is the wait after RST rises before TRIGGER
	// drops. Zero selects the 280µs default, the length of the target's
	// config-load window.
	DelayBeforeTriggerLow uint32
}

// DefaultTiming returns the timing that reliably re-enters a healthy
// unlocked target.
func DefaultTiming() Timing {
	return Timing{
		Delay1:                5000,
		Delay2:                1000,
		Delay3:                10,
		DelayAfterTriggerHigh: 0,
		DelayBeforeTriggerLow: 280,
	}
}

// configLoadMicros is the duration of the target's config byte load, used
// when DelayBeforeTriggerLow is zero.
const configLoadMicros = 280
