package icp

import "github.com/n76tools/icpflash/internal/pgm"

// codec serializes bits and bytes onto the DAT/CLK pair. Bits go out
// MSB-first; DAT must be settled before the CLK rising edge and held through
// the falling edge. All operations block for their full duration; there is
// no partial send.
type codec struct {
	io pgm.Interface
}

// sendBit drives one bit with the given half-period. DAT direction must
// already be output.
func (c *codec) sendBit(bit bool, halfPeriod uint32) {
	c.io.Write(pgm.DAT, bit)
	c.io.SleepMicros(halfPeriod)
	c.io.Write(pgm.CLK, true)
	c.io.SleepMicros(halfPeriod)
	c.io.Write(pgm.CLK, false)
}

// sendBits shifts out the low n bits of data, MSB-first.
func (c *codec) sendBits(data uint32, n int, halfPeriod uint32) {
	c.io.SetDirection(pgm.DAT, pgm.Output)
	for i := n - 1; i >= 0; i-- {
		c.sendBit((data>>uint(i))&1 == 1, halfPeriod)
	}
}

// sendByte shifts out one data byte at the regular bit rate.
func (c *codec) sendByte(b byte) {
	c.sendBits(uint32(b), 8, DefaultBitDelay)
}

// sendCommand frames cmd and arg into the 24-bit command word.
func (c *codec) sendCommand(cmd byte, arg uint32) {
	c.sendBits((arg<<6)|uint32(cmd), 24, DefaultBitDelay)
}

// sendEntryBits shifts out the programming-mode entry pattern.
func (c *codec) sendEntryBits() {
	c.sendBits(EntryBits, 24, EntryBitDelay)
}

// sendExitBits shifts out the programming-mode exit pattern.
func (c *codec) sendExitBits() {
	c.sendBits(ExitBits, 24, EntryBitDelay)
}

// readByte clocks in one response byte, sampling DAT ahead of each rising
// edge, then acknowledges with an end bit: 1 closes the command, 0 asks the
// target to stream the next byte.
func (c *codec) readByte(last bool) byte {
	c.io.SetDirection(pgm.DAT, pgm.Input)
	c.io.SleepMicros(DefaultBitDelay)

	var data byte
	for i := 7; i >= 0; i-- {
		c.io.SleepMicros(DefaultBitDelay)
		if c.io.Read(pgm.DAT) {
			data |= 1 << uint(i)
		}
		c.io.Write(pgm.CLK, true)
		c.io.SleepMicros(DefaultBitDelay)
		c.io.Write(pgm.CLK, false)
	}

	c.io.SetDirection(pgm.DAT, pgm.Output)
	c.io.SleepMicros(DefaultBitDelay)
	c.io.Write(pgm.DAT, last)
	c.io.SleepMicros(DefaultBitDelay)
	c.io.Write(pgm.CLK, true)
	c.io.SleepMicros(DefaultBitDelay)
	c.io.Write(pgm.CLK, false)
	c.io.SleepMicros(DefaultBitDelay)
	c.io.Write(pgm.DAT, false)

	return data
}

// writeByte shifts out one data byte followed by an end bit held through a
// programming pulse: holdBefore µs of setup, then holdClock µs with CLK
// high while the target commits the byte.
func (c *codec) writeByte(b byte, last bool, holdBefore, holdClock uint32) {
	c.sendBits(uint32(b), 8, DefaultBitDelay)

	c.io.Write(pgm.DAT, last)
	c.io.SleepMicros(holdBefore)
	c.io.Write(pgm.CLK, true)
	c.io.SleepMicros(holdClock)
	c.io.Write(pgm.DAT, false)
	c.io.Write(pgm.CLK, false)
}
