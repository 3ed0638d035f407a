package target

import (
	"fmt"
	"strings"
)

// BootSelect picks which ROM the MCU boots from after reset.
type BootSelect int

const (
	BootFromAPROM BootSelect = iota
	BootFromLDROM
)

func (b BootSelect) String() string {
	if b == BootFromLDROM {
		return "LDROM"
	}
	return "APROM"
}

// BODVoltage is the brown-out detection threshold.
type BODVoltage int

const (
	BODVoltage4v4 BODVoltage = iota
	BODVoltage3v7
	BODVoltage2v7
	BODVoltage2v2
)

func (v BODVoltage) String() string {
	switch v {
	case BODVoltage4v4:
		return "4.4V"
	case BODVoltage3v7:
		return "3.7V"
	case BODVoltage2v7:
		return "2.7V"
	default:
		return "2.2V"
	}
}

// WDTMode is the watchdog configuration from CONFIG4.
type WDTMode int

const (
	// WDTDisabled leaves the WDT usable as a general purpose timer.
	WDTDisabled WDTMode = iota
	// WDTEnabled runs the WDT as a reset timer, stopped in idle/power-down.
	WDTEnabled
	// WDTEnabledAlways keeps the WDT running in idle/power-down.
	WDTEnabledAlways
)

func (w WDTMode) String() string {
	switch w {
	case WDTDisabled:
		return "disabled"
	case WDTEnabled:
		return "enabled (stops in idle/power-down)"
	default:
		return "enabled (runs in idle/power-down)"
	}
}

// Config is the decoded view of the 5 CONFIG bytes at ConfigAddr.
//
// Bit conventions follow the datasheet: most flags are active-low in the raw
// bytes (an erased 0xFF block means unlocked, boot from APROM, everything
// off), so the decoded fields here read positively.
type Config struct {
	BootSelect          BootSelect
	LDROMSizeKB         int
	Locked              bool
	ResetPinEnabled     bool
	OCDEnabled          bool
	OCDPWMTristate      bool
	BrownoutDetect      bool
	BrownoutVoltage     BODVoltage
	BrownoutReset       bool
	BrownoutInhibitsIAP bool
	WDT                 WDTMode
}

// DefaultConfig is the configuration of an erased config block.
func DefaultConfig() Config {
	var cfg Config
	// UnmarshalBinary on all-0xFF cannot fail.
	_ = cfg.UnmarshalBinary([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	return cfg
}

// UnmarshalBinary decodes the raw config bytes.
func (c *Config) UnmarshalBinary(raw []byte) error {
	if len(raw) < ConfigLen {
		return fmt.Errorf("config block too short: %d bytes, want %d", len(raw), ConfigLen)
	}

	// CONFIG0
	c.BootSelect = BootFromAPROM
	if raw[0]&0x80 == 0 {
		c.BootSelect = BootFromLDROM
	}
	c.OCDPWMTristate = raw[0]&0x20 != 0
	c.OCDEnabled = raw[0]&0x10 == 0
	c.ResetPinEnabled = raw[0]&0x04 != 0
	c.Locked = raw[0]&0x02 == 0

	// CONFIG1: LDS selects the LDROM size, 7 = none, 6..4 = 1..3KB,
	// anything below 4 = the 4KB maximum.
	switch raw[1] & 0x07 {
	case 7:
		c.LDROMSizeKB = 0
	case 6:
		c.LDROMSizeKB = 1
	case 5:
		c.LDROMSizeKB = 2
	case 4:
		c.LDROMSizeKB = 3
	default:
		c.LDROMSizeKB = 4
	}

	// CONFIG2
	c.BrownoutDetect = raw[2]&0x80 != 0
	c.BrownoutVoltage = BODVoltage((raw[2] >> 4) & 0x03)
	c.BrownoutInhibitsIAP = raw[2]&0x08 != 0
	c.BrownoutReset = raw[2]&0x04 != 0

	// CONFIG3 carries no flags.

	// CONFIG4
	switch raw[4] >> 4 {
	case 0xF:
		c.WDT = WDTDisabled
	case 0x5:
		c.WDT = WDTEnabled
	default:
		c.WDT = WDTEnabledAlways
	}
	return nil
}

// MarshalBinary encodes the config back into the 5 raw bytes. Unknown and
// reserved bits are left at 1, matching the erased state.
func (c *Config) MarshalBinary() ([]byte, error) {
	raw := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

	if c.BootSelect == BootFromLDROM {
		raw[0] &^= 0x80
	}
	if !c.OCDPWMTristate {
		raw[0] &^= 0x20
	}
	if c.OCDEnabled {
		raw[0] &^= 0x10
	}
	if !c.ResetPinEnabled {
		raw[0] &^= 0x04
	}
	if c.Locked {
		raw[0] &^= 0x02
	}

	switch c.LDROMSizeKB {
	case 0:
		// LDS stays 7
	case 1:
		raw[1] = raw[1]&^0x07 | 6
	case 2:
		raw[1] = raw[1]&^0x07 | 5
	case 3:
		raw[1] = raw[1]&^0x07 | 4
	case 4:
		raw[1] = raw[1] &^ 0x07
	default:
		return nil, fmt.Errorf("invalid LDROM size: %d KB (max 4)", c.LDROMSizeKB)
	}

	if !c.BrownoutDetect {
		raw[2] &^= 0x80
	}
	raw[2] = raw[2]&^0x30 | byte(c.BrownoutVoltage)<<4
	if !c.BrownoutInhibitsIAP {
		raw[2] &^= 0x08
	}
	if !c.BrownoutReset {
		raw[2] &^= 0x04
	}

	switch c.WDT {
	case WDTDisabled:
		raw[4] = raw[4]&0x0F | 0xF0
	case WDTEnabled:
		raw[4] = raw[4]&0x0F | 0x50
	default:
		raw[4] = raw[4] & 0x0F
	}
	return raw, nil
}

// APROMSize returns the APROM size implied by the LDROM selection.
func (c *Config) APROMSize() int {
	return FlashSize - c.LDROMSizeKB*1024
}

// LDROMBase returns the flash address where the LDROM region starts, or
// FlashSize when no LDROM is configured.
func (c *Config) LDROMBase() uint32 {
	return uint32(FlashSize - c.LDROMSizeKB*1024)
}

// String renders the configuration in the style of the chip datasheet.
func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Boot select:       %s\n", c.BootSelect)
	fmt.Fprintf(&b, "LDROM size:        %d KB\n", c.LDROMSizeKB)
	fmt.Fprintf(&b, "APROM size:        %d bytes\n", c.APROMSize())
	if c.Locked {
		fmt.Fprintf(&b, "Security lock:     LOCKED\n")
	} else {
		fmt.Fprintf(&b, "Security lock:     unlocked\n")
	}
	fmt.Fprintf(&b, "P2.0/Nrst reset:   %s\n", enabled(c.ResetPinEnabled))
	fmt.Fprintf(&b, "On-chip debugger:  %s\n", enabled(c.OCDEnabled))
	fmt.Fprintf(&b, "Brown-out detect:  %s\n", enabled(c.BrownoutDetect))
	fmt.Fprintf(&b, "Brown-out voltage: %s\n", c.BrownoutVoltage)
	fmt.Fprintf(&b, "Brown-out reset:   %s\n", enabled(c.BrownoutReset))
	fmt.Fprintf(&b, "WDT:               %s", c.WDT)
	return b.String()
}

func enabled(v bool) string {
	if v {
		return "enabled"
	}
	return "disabled"
}
