//go:build linux

package pgm

import (
	"fmt"
	"strconv"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PeriphProvider drives the programmer lines through the Linux GPIO
// character device via periph.io. This is the preferred backend: no daemon,
// and line access is exclusive at the kernel level.
type PeriphProvider struct {
	pins  Pins
	lines [4]gpio.PinIO
	err   error
}

// NewPeriphProvider creates a character-device provider for the given pins.
// The hardware is not touched until Open.
func NewPeriphProvider(pins Pins) *PeriphProvider {
	return &PeriphProvider{pins: pins}
}

// Open initializes the periph host and resolves the configured pins.
func (p *PeriphProvider) Open() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("periph host init: %w", err)
	}
	numbers := map[Pin]int{DAT: p.pins.DAT, CLK: p.pins.CLK, RST: p.pins.RST}
	if p.pins.HasTrigger() {
		numbers[Trigger] = p.pins.Trigger
	}
	for role, num := range numbers {
		line := gpioreg.ByName("GPIO" + strconv.Itoa(num))
		if line == nil {
			line = gpioreg.ByName(strconv.Itoa(num))
		}
		if line == nil {
			return fmt.Errorf("gpio pin %d (%s) not found", num, role)
		}
		p.lines[role] = line
	}
	p.err = nil
	return nil
}

// Close releases the provider. Line state is left as-is; the lifecycle
// manager has already parked the pins.
func (p *PeriphProvider) Close() error {
	for i := range p.lines {
		p.lines[i] = nil
	}
	return nil
}

// SetDirection implements Interface.
func (p *PeriphProvider) SetDirection(pin Pin, dir Direction) {
	line := p.lines[pin]
	if line == nil {
		return
	}
	var err error
	if dir == Output {
		err = line.Out(gpio.Low)
	} else {
		err = line.In(gpio.PullNoChange, gpio.NoEdge)
	}
	p.setErr(err)
}

// Write implements Interface.
func (p *PeriphProvider) Write(pin Pin, high bool) {
	line := p.lines[pin]
	if line == nil {
		return
	}
	p.setErr(line.Out(gpio.Level(high)))
}

// Read implements Interface.
func (p *PeriphProvider) Read(pin Pin) bool {
	line := p.lines[pin]
	if line == nil {
		return false
	}
	return line.Read() == gpio.High
}

// SleepMicros implements Interface.
func (p *PeriphProvider) SleepMicros(n uint32) { SleepMicros(n) }

// Err implements Interface.
func (p *PeriphProvider) Err() error { return p.err }

func (p *PeriphProvider) setErr(err error) {
	if err != nil && p.err == nil {
		p.err = err
	}
}
