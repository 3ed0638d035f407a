package icp

import (
	"testing"

	"github.com/n76tools/icpflash/internal/pgm"
)

// busRecorder captures the DAT level at every CLK rising edge, which is
// when the target samples the line.
type busRecorder struct {
	datDir pgm.Direction
	dat    bool
	clk    bool
	bits   []bool
}

func (r *busRecorder) SetDirection(pin pgm.Pin, dir pgm.Direction) {
	if pin == pgm.DAT {
		r.datDir = dir
	}
}

func (r *busRecorder) Write(pin pgm.Pin, high bool) {
	switch pin {
	case pgm.DAT:
		r.dat = high
	case pgm.CLK:
		if high && !r.clk {
			r.bits = append(r.bits, r.dat)
		}
		r.clk = high
	}
}

func (r *busRecorder) Read(pin pgm.Pin) bool { return r.dat }
func (r *busRecorder) SleepMicros(n uint32)  {}
func (r *busRecorder) Err() error            { return nil }

func bitsToWord(bits []bool) uint32 {
	var w uint32
	for _, b := range bits {
		w <<= 1
		if b {
			w |= 1
		}
	}
	return w
}

func TestSendCommandFraming(t *testing.T) {
	tests := []struct {
		name string
		cmd  byte
		arg  uint32
		want uint32
	}{
		{"read flash at 0", CmdReadFlash, 0, 0x000000},
		{"read device id", CmdReadDeviceID, 0, 0x00000C},
		{"write flash at 0x100", CmdWriteFlash, 0x100, 0x004021},
		{"page erase at 0x4780", CmdPageErase, 0x4780, 0x11E022},
		{"mass erase key", CmdMassErase, MassEraseKey, 0xE96966},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &busRecorder{}
			c := codec{io: rec}
			c.sendCommand(tt.cmd, tt.arg)

			if len(rec.bits) != 24 {
				t.Fatalf("clocked %d bits, want 24", len(rec.bits))
			}
			if rec.datDir != pgm.Output {
				t.Error("DAT not switched to output for the command")
			}
			if got := bitsToWord(rec.bits); got != tt.want {
				t.Errorf("framed word = 0x%06X, want 0x%06X", got, tt.want)
			}
		})
	}
}

func TestSendBitLoopback(t *testing.T) {
	for _, bit := range []bool{false, true} {
		rec := &busRecorder{}
		c := codec{io: rec}
		c.io.SetDirection(pgm.DAT, pgm.Output)
		c.sendBit(bit, DefaultBitDelay)

		if got := c.io.Read(pgm.DAT); got != bit {
			t.Errorf("sent %v, read back %v", bit, got)
		}
		if len(rec.bits) != 1 || rec.bits[0] != bit {
			t.Errorf("bus clocked %v, want [%v]", rec.bits, bit)
		}
	}
}

func TestSendByteAllValues(t *testing.T) {
	for b := 0; b < 256; b++ {
		rec := &busRecorder{}
		c := codec{io: rec}
		c.sendByte(byte(b))

		if len(rec.bits) != 8 {
			t.Fatalf("0x%02X: clocked %d bits, want 8", b, len(rec.bits))
		}
		if got := byte(bitsToWord(rec.bits)); got != byte(b) {
			t.Errorf("sent 0x%02X, bus saw 0x%02X", b, got)
		}
	}
}

func TestSendEntryExitPatterns(t *testing.T) {
	rec := &busRecorder{}
	c := codec{io: rec}

	c.sendEntryBits()
	if got := bitsToWord(rec.bits); got != EntryBits {
		t.Errorf("entry pattern = 0x%06X, want 0x%06X", got, EntryBits)
	}

	rec.bits = nil
	c.sendExitBits()
	if got := bitsToWord(rec.bits); got != ExitBits {
		t.Errorf("exit pattern = 0x%06X, want 0x%06X", got, ExitBits)
	}
}

func TestWriteByteEndBit(t *testing.T) {
	tests := []struct {
		name string
		b    byte
		last bool
	}{
		{"continue", 0xA5, false},
		{"last", 0x5A, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &busRecorder{}
			c := codec{io: rec}
			c.writeByte(tt.b, tt.last, 20, 5)

			if len(rec.bits) != 9 {
				t.Fatalf("clocked %d bits, want 9", len(rec.bits))
			}
			if got := byte(bitsToWord(rec.bits[:8])); got != tt.b {
				t.Errorf("data bits = 0x%02X, want 0x%02X", got, tt.b)
			}
			if rec.bits[8] != tt.last {
				t.Errorf("end bit = %v, want %v", rec.bits[8], tt.last)
			}
			if rec.clk {
				t.Error("CLK left high after write")
			}
			if rec.dat {
				t.Error("DAT left high after write")
			}
		})
	}
}
