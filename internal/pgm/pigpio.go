package pgm

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// pigpiod socket command IDs. The daemon speaks fixed 16-byte little-endian
// frames: command, p1, p2, p3; the reply echoes the frame with the result in
// the last word (negative values are daemon error codes).
const (
	pigpioCmdModes = 0
	pigpioCmdRead  = 3
	pigpioCmdWrite = 4
)

// pigpiod pin modes for MODES.
const (
	pigpioModeInput  = 0
	pigpioModeOutput = 1
)

// DefaultPigpioAddr is the pigpiod daemon's default listen address.
const DefaultPigpioAddr = "localhost:8888"

// PigpioProvider drives the programmer lines through a pigpiod daemon
// socket. Useful when the character device is unavailable or the daemon
// already owns the GPIO hardware; per-toggle latency is higher than the
// character device, so bit delays may need widening.
type PigpioProvider struct {
	addr string
	pins Pins
	conn net.Conn
	err  error
}

// NewPigpioProvider creates a daemon-backed provider. An empty addr selects
// DefaultPigpioAddr.
func NewPigpioProvider(addr string, pins Pins) *PigpioProvider {
	if addr == "" {
		addr = DefaultPigpioAddr
	}
	return &PigpioProvider{addr: addr, pins: pins}
}

// Open connects to the daemon.
func (p *PigpioProvider) Open() error {
	conn, err := net.DialTimeout("tcp", p.addr, 2*time.Second)
	if err != nil {
		return fmt.Errorf("connect to pigpiod at %s: %w", p.addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		// Every bit toggle is a round trip; Nagle would wreck the timing.
		tcp.SetNoDelay(true)
	}
	p.conn = conn
	p.err = nil
	return nil
}

// Close disconnects from the daemon.
func (p *PigpioProvider) Close() error {
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

// command sends one frame and returns the daemon's result word.
func (p *PigpioProvider) command(cmd, p1, p2 uint32) (int32, error) {
	if p.conn == nil {
		return 0, fmt.Errorf("pigpiod connection not open")
	}
	var frame [16]byte
	binary.LittleEndian.PutUint32(frame[0:4], cmd)
	binary.LittleEndian.PutUint32(frame[4:8], p1)
	binary.LittleEndian.PutUint32(frame[8:12], p2)
	if _, err := p.conn.Write(frame[:]); err != nil {
		return 0, fmt.Errorf("pigpiod write: %w", err)
	}
	var reply [16]byte
	if _, err := readFull(p.conn, reply[:]); err != nil {
		return 0, fmt.Errorf("pigpiod read: %w", err)
	}
	res := int32(binary.LittleEndian.Uint32(reply[12:16]))
	if res < 0 {
		return res, fmt.Errorf("pigpiod command %d failed: error %d", cmd, res)
	}
	return res, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (p *PigpioProvider) number(pin Pin) uint32 {
	switch pin {
	case DAT:
		return uint32(p.pins.DAT)
	case CLK:
		return uint32(p.pins.CLK)
	case RST:
		return uint32(p.pins.RST)
	default:
		return uint32(p.pins.Trigger)
	}
}

// SetDirection implements Interface.
func (p *PigpioProvider) SetDirection(pin Pin, dir Direction) {
	mode := uint32(pigpioModeInput)
	if dir == Output {
		mode = pigpioModeOutput
	}
	_, err := p.command(pigpioCmdModes, p.number(pin), mode)
	p.setErr(err)
}

// Write implements Interface.
func (p *PigpioProvider) Write(pin Pin, high bool) {
	level := uint32(0)
	if high {
		level = 1
	}
	_, err := p.command(pigpioCmdWrite, p.number(pin), level)
	p.setErr(err)
}

// Read implements Interface.
func (p *PigpioProvider) Read(pin Pin) bool {
	res, err := p.command(pigpioCmdRead, p.number(pin), 0)
	p.setErr(err)
	return res == 1
}

// SleepMicros implements Interface.
func (p *PigpioProvider) SleepMicros(n uint32) { SleepMicros(n) }

// Err implements Interface.
func (p *PigpioProvider) Err() error { return p.err }

func (p *PigpioProvider) setErr(err error) {
	if err != nil && p.err == nil {
		p.err = err
	}
}
