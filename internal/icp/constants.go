package icp

// ICP command words. A command frame is 24 bits shifted out MSB-first:
// (arg << 6) | cmd.
const (
	CmdReadFlash    = 0x00
	CmdReadUID      = 0x04
	CmdReadCID      = 0x0B
	CmdReadDeviceID = 0x0C
	CmdWriteFlash   = 0x21
	CmdPageErase    = 0x22
	CmdMassErase    = 0x26
)

// Fixed 24-bit patterns recognized by the target's ICP controller.
const (
	// EntryBits requests entry into programming mode.
	EntryBits = 0x5AA503
	// ExitBits requests leaving programming mode.
	ExitBits = 0x0F78F0
	// ResetSeq is toggled onto RST bit by bit during cold entry.
	ResetSeq = 0x9E1CB6
)

// MassEraseKey is the magic argument the mass erase command requires.
const MassEraseKey = 0x3A5A5

// Command layer sub-addressing.
const (
	// pidArg selects the product ID variant of the device-id command.
	pidArg = 2
	// ucidOffset is added to the byte index when reading the UCID.
	ucidOffset = 0x20
)

// Protocol timing, in microseconds. These are pulse widths, not tunables;
// the reentry/glitch delays that callers sweep live in Timing.
const (
	// DefaultBitDelay is the half-period of a regular command/data bit.
	DefaultBitDelay = 1
	// EntryBitDelay is the wider half-period used for entry/exit patterns.
	EntryBitDelay = 60
	// resetSeqStepMicros is the per-step hold during the cold reset pattern.
	resetSeqStepMicros = 10000
	// programTimeMicros is the per-byte programming pulse for flash writes.
	programTimeMicros = 20
	// pageEraseMicros is the page erase cycle time.
	pageEraseMicros = 5000
	// massEraseMicros is the full-array erase cycle time.
	massEraseMicros = 50000
)

// Fixed response lengths.
const (
	UIDLen           = 12
	UCIDLen          = 16
	GlitchCaptureLen = 5
)
