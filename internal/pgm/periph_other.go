//go:build !linux

package pgm

import "errors"

// PeriphProvider is a stub on non-Linux platforms; the GPIO character device
// is a Linux kernel interface. Open always fails, the remaining methods are
// never reached at runtime.
type PeriphProvider struct{}

// NewPeriphProvider returns the stub provider.
func NewPeriphProvider(pins Pins) *PeriphProvider {
	return &PeriphProvider{}
}

// Open always fails on non-Linux platforms.
func (p *PeriphProvider) Open() error {
	return errors.New("gpio character device is only supported on linux")
}

// Close is a stub - never called on non-Linux platforms.
func (p *PeriphProvider) Close() error { return nil }

// SetDirection is a stub - never called on non-Linux platforms.
func (p *PeriphProvider) SetDirection(pin Pin, dir Direction) {}

// Write is a stub - never called on non-Linux platforms.
func (p *PeriphProvider) Write(pin Pin, high bool) {}

// Read is a stub - never called on non-Linux platforms.
func (p *PeriphProvider) Read(pin Pin) bool { return false }

// SleepMicros is a stub - never called on non-Linux platforms.
func (p *PeriphProvider) SleepMicros(n uint32) {}

// Err is a stub - never called on non-Linux platforms.
func (p *PeriphProvider) Err() error { return nil }
