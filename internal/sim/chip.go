// Package sim provides a simulated N76E003-class target wired directly to
// the pgm capability interface. The chip model tracks virtual time through
// SleepMicros, decodes the bit-banged command frames off the CLK/DAT edges,
// and enforces reset-pulse and entry-sequence gating, so protocol tests run
// against something that behaves like silicon rather than a canned script.
//
// The protocol constants here are deliberately independent copies: if the
// engine ever shifts a wrong bit pattern, tests fail instead of comparing
// the engine against itself.
package sim

import (
	"github.com/n76tools/icpflash/internal/pgm"
	"github.com/n76tools/icpflash/internal/target"
)

// Protocol constants as the simulated silicon expects them.
const (
	entryWord = 0x5AA503
	exitWord  = 0x0F78F0

	cmdReadFlash    = 0x00
	cmdReadUID      = 0x04
	cmdReadCID      = 0x0B
	cmdReadDeviceID = 0x0C
	cmdWriteFlash   = 0x21
	cmdPageErase    = 0x22
	cmdMassErase    = 0x26

	massEraseKey = 0x3A5A5
	ucidOffset   = 0x20
)

// Write status codes the chip reports after a programming command.
const (
	StatusOK        = 0x00
	StatusLocked    = 0x01
	StatusNotErased = 0x02
)

// phase is what the chip expects on the bus next.
type phase int

const (
	phaseIdle  phase = iota // accumulating a 24-bit frame
	phaseRead              // serving response bytes
	phaseWrite             // consuming data bytes + end bits
)

// Chip is the simulated target. It implements pgm.Provider so a session can
// acquire it like real hardware.
type Chip struct {
	// Contents. Flash is the 18KB array; Config the 5-byte block at
	// target.ConfigAddr. The lock state is CONFIG0 bit 1, exactly as on
	// silicon.
	Flash    []byte
	Config   [target.ConfigLen]byte
	DeviceID uint16
	PID      uint16
	CID      byte
	UID      [12]byte
	UCID     [16]byte

	// MinResetPulseMicros is the narrowest RST high pulse the chip
	// accepts as a reset; narrower pulses leave it unsynchronized and
	// entry bits are ignored.
	MinResetPulseMicros uint64

	// GlitchWindowMin/Max bound the trigger-high durations (µs) that
	// count as a successful fault injection. Both zero disables glitch
	// sensitivity entirely. A trigger pulse outside a configured window
	// crashes the boot instead, so the following entry is ignored.
	GlitchWindowMin uint64
	GlitchWindowMax uint64

	// OpenErr, when set, makes Open fail - simulates busy/absent lines.
	OpenErr error

	opened bool
	now    uint64 // virtual microseconds

	dirs   [4]pgm.Direction
	levels [4]bool

	rstHighAt  uint64
	trigHighAt uint64
	armed      bool
	crashed    bool
	exposed    bool
	inIcp      bool

	ph      phase
	inShift uint32
	inBits  int

	// read stream
	outShift  byte
	outBits   int
	readQueue []byte
	readIdx   int
	flashRead bool
	rAddr     uint32

	// write stream
	activeCmd byte
	wShift    uint32
	wBits     int
	wAddr     uint32
	wStatus   byte
}

// NewChip returns a healthy, unlocked, fully erased chip with N76E003
// identifiers.
func NewChip() *Chip {
	c := &Chip{
		Flash:               make([]byte, target.FlashSize),
		DeviceID:            target.DeviceIDN76E003,
		PID:                 0x2F50,
		CID:                 0xDA,
		MinResetPulseMicros: 1000,
	}
	for i := range c.Flash {
		c.Flash[i] = target.ErasedByte
	}
	for i := range c.Config {
		c.Config[i] = target.ErasedByte
	}
	for i := range c.UID {
		c.UID[i] = byte(0xA0 + i)
	}
	for i := range c.UCID {
		c.UCID[i] = byte(0xC0 + i)
	}
	for i := range c.dirs {
		c.dirs[i] = pgm.Input
	}
	return c
}

// Locked reports the CONFIG0 lock bit (0 = locked, as on silicon).
func (c *Chip) Locked() bool { return c.Config[0]&0x02 == 0 }

// Lock clears the lock bit.
func (c *Chip) Lock() { c.Config[0] &^= 0x02 }

// InProgramming reports whether the chip believes it is in ICP mode.
func (c *Chip) InProgramming() bool { return c.inIcp }

// Direction returns the host-configured direction of a pin, for asserting
// safe release behavior.
func (c *Chip) Direction(pin pgm.Pin) pgm.Direction { return c.dirs[pin] }

// Level returns the currently driven level of a pin.
func (c *Chip) Level(pin pgm.Pin) bool { return c.levels[pin] }

// Now returns the chip's virtual clock in microseconds.
func (c *Chip) Now() uint64 { return c.now }

// Open implements pgm.Provider.
func (c *Chip) Open() error {
	if c.OpenErr != nil {
		return c.OpenErr
	}
	c.opened = true
	return nil
}

// Close implements pgm.Provider.
func (c *Chip) Close() error {
	c.opened = false
	return nil
}

// Err implements pgm.Interface. The simulated lines never fault.
func (c *Chip) Err() error { return nil }

// SleepMicros advances the virtual clock.
func (c *Chip) SleepMicros(n uint32) { c.now += uint64(n) }

// SetDirection implements pgm.Interface.
func (c *Chip) SetDirection(pin pgm.Pin, dir pgm.Direction) {
	c.dirs[pin] = dir
}

// Read implements pgm.Interface. When the host holds DAT as an input and
// the chip is serving a response, the chip drives the line; otherwise the
// line reads back whatever is driven on it, or pulled-up high when nobody
// drives.
func (c *Chip) Read(pin pgm.Pin) bool {
	if pin == pgm.DAT && c.dirs[pgm.DAT] == pgm.Input {
		if c.inIcp && c.ph == phaseRead && c.outBits > 0 {
			return c.outShift&0x80 != 0
		}
		return true // pull-up, nobody driving
	}
	return c.levels[pin]
}

// Write implements pgm.Interface and is where the chip model advances.
func (c *Chip) Write(pin pgm.Pin, high bool) {
	if c.levels[pin] == high {
		return
	}
	c.levels[pin] = high

	switch pin {
	case pgm.RST:
		if high {
			c.enterReset()
		} else {
			c.leaveReset()
		}
	case pgm.CLK:
		if high {
			c.clockRise()
		} else {
			c.clockFall()
		}
	case pgm.Trigger:
		if high {
			c.trigHighAt = c.now
		} else {
			c.triggerFall()
		}
	}
}

// enterReset models the RST rising edge: execution stops, ICP mode is lost
// and the config bytes reload.
func (c *Chip) enterReset() {
	c.rstHighAt = c.now
	c.inIcp = false
	c.armed = false
	c.crashed = false
	c.exposed = false
	c.ph = phaseIdle
	c.inBits = 0
}

// leaveReset arms the entry detector if the pulse was wide enough and the
// boot was not crashed by a stray glitch.
func (c *Chip) leaveReset() {
	c.armed = !c.crashed && c.now-c.rstHighAt >= c.MinResetPulseMicros
	c.inBits = 0
}

// triggerFall evaluates the fault-injection pulse. Inside the configured
// window the protection check is skipped on the upcoming entry; outside it
// the boot is crashed and the entry detector disarmed.
func (c *Chip) triggerFall() {
	if c.GlitchWindowMin == 0 && c.GlitchWindowMax == 0 {
		return
	}
	dur := c.now - c.trigHighAt
	if dur >= c.GlitchWindowMin && dur <= c.GlitchWindowMax {
		c.exposed = true
	} else {
		c.armed = false
		c.crashed = true
	}
}

func (c *Chip) clockRise() {
	hostDriving := c.dirs[pgm.DAT] == pgm.Output
	if !hostDriving {
		return // host samples ahead of the rising edge; nothing to do
	}
	bit := uint32(0)
	if c.levels[pgm.DAT] {
		bit = 1
	}

	switch c.ph {
	case phaseIdle:
		c.inShift = c.inShift<<1 | bit
		c.inBits++
		if c.inBits == 24 {
			word := c.inShift & 0xFFFFFF
			c.inShift = 0
			c.inBits = 0
			c.frame(word)
		}
	case phaseWrite:
		c.writeBit(bit == 1)
	case phaseRead:
		if c.outBits == 0 {
			c.readAck(bit == 1)
		}
	}
}

func (c *Chip) clockFall() {
	if c.dirs[pgm.DAT] == pgm.Input && c.ph == phaseRead && c.outBits > 0 {
		c.outShift <<= 1
		c.outBits--
	}
}

// frame handles a completed 24-bit word.
func (c *Chip) frame(word uint32) {
	if !c.inIcp {
		if word == entryWord && c.armed {
			c.inIcp = true
			c.armed = false
		}
		return
	}
	if word == exitWord {
		c.inIcp = false
		c.exposed = false
		return
	}
	c.command(byte(word&0x3F), word>>6)
}

func (c *Chip) command(cmd byte, arg uint32) {
	switch cmd {
	case cmdReadDeviceID:
		if arg == 2 {
			c.serveQueue([]byte{byte(c.PID), byte(c.PID >> 8)})
		} else {
			c.serveQueue([]byte{byte(c.DeviceID), byte(c.DeviceID >> 8)})
		}
	case cmdReadCID:
		c.serveQueue([]byte{c.CID})
	case cmdReadUID:
		c.serveQueue([]byte{c.idByte(arg)})
	case cmdReadFlash:
		c.flashRead = true
		c.readQueue = nil
		c.rAddr = arg
		c.loadByte(c.cellRead(c.rAddr))
		c.rAddr++
		c.ph = phaseRead
	case cmdWriteFlash, cmdPageErase:
		c.beginWrite(cmd, arg)
	case cmdMassErase:
		if arg == massEraseKey {
			c.beginWrite(cmd, 0)
		} else {
			// wrong key: swallow the trailing dummy byte, do nothing
			c.beginWrite(0, 0)
		}
	}
}

func (c *Chip) idByte(arg uint32) byte {
	if arg >= ucidOffset {
		i := arg - ucidOffset
		if i < uint32(len(c.UCID)) {
			return c.UCID[i]
		}
		return target.ErasedByte
	}
	if arg < uint32(len(c.UID)) {
		return c.UID[arg]
	}
	return target.ErasedByte
}

func (c *Chip) serveQueue(q []byte) {
	c.flashRead = false
	c.readQueue = q
	c.readIdx = 0
	c.loadByte(q[0])
	c.readIdx = 1
	c.ph = phaseRead
}

func (c *Chip) loadByte(b byte) {
	c.outShift = b
	c.outBits = 8
}

// readAck handles the host's end bit after a served byte: 1 closes the
// command, 0 requests the next byte of the stream.
func (c *Chip) readAck(end bool) {
	if end {
		c.ph = phaseIdle
		c.readQueue = nil
		c.flashRead = false
		return
	}
	if c.flashRead {
		c.loadByte(c.cellRead(c.rAddr))
		c.rAddr++
		return
	}
	if c.readIdx < len(c.readQueue) {
		c.loadByte(c.readQueue[c.readIdx])
		c.readIdx++
		return
	}
	c.loadByte(target.ErasedByte)
}

func (c *Chip) beginWrite(cmd byte, addr uint32) {
	c.activeCmd = cmd
	c.wAddr = addr
	c.wShift = 0
	c.wBits = 0
	c.wStatus = StatusOK
	c.ph = phaseWrite
}

// writeBit consumes data bits in groups of nine: eight data bits then the
// end bit held through the programming pulse.
func (c *Chip) writeBit(bit bool) {
	c.wBits++
	if c.wBits <= 8 {
		c.wShift <<= 1
		if bit {
			c.wShift |= 1
		}
		return
	}
	// ninth bit: the end marker; the byte is committed on this edge
	b := byte(c.wShift)
	c.wShift = 0
	c.wBits = 0

	switch c.activeCmd {
	case cmdWriteFlash:
		c.program(c.wAddr, b)
		c.wAddr++
		if bit {
			c.serveQueue([]byte{c.wStatus})
		}
	case cmdPageErase:
		if bit {
			c.pageErase(c.wAddr)
			c.ph = phaseIdle
		}
	case cmdMassErase:
		if bit {
			c.massErase()
			c.ph = phaseIdle
		}
	default:
		if bit {
			c.ph = phaseIdle
		}
	}
}

// cellRead honors the read-protection: a locked chip serves 0xFF for the
// flash array unless a glitch exposed it; the config block is always
// readable (that is how the host learns the chip is locked at all).
func (c *Chip) cellRead(addr uint32) byte {
	if addr >= target.ConfigAddr && addr < target.ConfigAddr+target.ConfigLen {
		return c.Config[addr-target.ConfigAddr]
	}
	if addr < uint32(len(c.Flash)) {
		if c.Locked() && !c.exposed {
			return target.ErasedByte
		}
		return c.Flash[addr]
	}
	return target.ErasedByte
}

// program commits one byte. Flash programming can only clear bits; a
// destination that was not erased first fails the chip's own verify.
func (c *Chip) program(addr uint32, b byte) {
	if c.Locked() && !c.exposed {
		c.wStatus = StatusLocked
		return
	}
	var cell *byte
	switch {
	case addr >= target.ConfigAddr && addr < target.ConfigAddr+target.ConfigLen:
		cell = &c.Config[addr-target.ConfigAddr]
	case addr < uint32(len(c.Flash)):
		cell = &c.Flash[addr]
	default:
		c.wStatus = StatusNotErased
		return
	}
	*cell &= b
	if *cell != b && c.wStatus == StatusOK {
		c.wStatus = StatusNotErased
	}
}

func (c *Chip) pageErase(addr uint32) {
	if c.Locked() && !c.exposed {
		return
	}
	if addr >= target.ConfigAddr && addr < target.ConfigAddr+target.ConfigLen {
		for i := range c.Config {
			c.Config[i] = target.ErasedByte
		}
		return
	}
	base := target.PageBase(addr)
	for i := base; i < base+target.PageSize && i < uint32(len(c.Flash)); i++ {
		c.Flash[i] = target.ErasedByte
	}
}

// massErase wipes the array and the config block; this is the one operation
// a locked chip always allows, and it unlocks it.
func (c *Chip) massErase() {
	for i := range c.Flash {
		c.Flash[i] = target.ErasedByte
	}
	for i := range c.Config {
		c.Config[i] = target.ErasedByte
	}
}
