package target

import (
	"bytes"
	"testing"
)

func TestChipName(t *testing.T) {
	tests := []struct {
		devid uint32
		want  string
	}{
		{0x3650, "N76E003"},
		{0xFFFF, "unknown (0xFFFF)"},
		{0x0000, "unknown (0x0000)"},
	}
	for _, tt := range tests {
		if got := ChipName(tt.devid); got != tt.want {
			t.Errorf("ChipName(0x%04X) = %q, want %q", tt.devid, got, tt.want)
		}
	}
}

func TestPageBase(t *testing.T) {
	tests := []struct {
		addr uint32
		want uint32
	}{
		{0, 0},
		{1, 0},
		{127, 0},
		{128, 128},
		{0x47FF, 0x4780},
	}
	for _, tt := range tests {
		if got := PageBase(tt.addr); got != tt.want {
			t.Errorf("PageBase(0x%X) = 0x%X, want 0x%X", tt.addr, got, tt.want)
		}
	}
}

func TestConfigUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want Config
	}{
		{
			name: "erased",
			raw:  []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
			want: Config{
				BootSelect:          BootFromAPROM,
				LDROMSizeKB:         0,
				Locked:              false,
				ResetPinEnabled:     true,
				OCDEnabled:          false,
				OCDPWMTristate:      true,
				BrownoutDetect:      true,
				BrownoutVoltage:     BODVoltage2v2,
				BrownoutReset:       true,
				BrownoutInhibitsIAP: true,
				WDT:                 WDTDisabled,
			},
		},
		{
			name: "locked ldrom boot",
			raw:  []byte{0x7D, 0xFC, 0xFF, 0xFF, 0xFF},
			want: Config{
				BootSelect:          BootFromLDROM,
				LDROMSizeKB:         3,
				Locked:              true,
				ResetPinEnabled:     true,
				OCDEnabled:          false,
				OCDPWMTristate:      true,
				BrownoutDetect:      true,
				BrownoutVoltage:     BODVoltage2v2,
				BrownoutReset:       true,
				BrownoutInhibitsIAP: true,
				WDT:                 WDTDisabled,
			},
		},
		{
			name: "ocd on wdt always",
			raw:  []byte{0xEF, 0xFF, 0x0B, 0xFF, 0x0F},
			want: Config{
				BootSelect:          BootFromAPROM,
				LDROMSizeKB:         0,
				Locked:              false,
				ResetPinEnabled:     true,
				OCDEnabled:          true,
				OCDPWMTristate:      true,
				BrownoutDetect:      false,
				BrownoutVoltage:     BODVoltage4v4,
				BrownoutReset:       false,
				BrownoutInhibitsIAP: true,
				WDT:                 WDTEnabledAlways,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Config
			if err := got.UnmarshalBinary(tt.raw); err != nil {
				t.Fatalf("UnmarshalBinary: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestConfigUnmarshalShort(t *testing.T) {
	var cfg Config
	if err := cfg.UnmarshalBinary([]byte{0xFF, 0xFF}); err == nil {
		t.Error("expected error for short config block")
	}
}

func TestConfigLDROMSizes(t *testing.T) {
	tests := []struct {
		lds  byte
		want int
	}{
		{7, 0},
		{6, 1},
		{5, 2},
		{4, 3},
		{3, 4},
		{0, 4},
	}
	for _, tt := range tests {
		var cfg Config
		raw := []byte{0xFF, 0xF8 | tt.lds, 0xFF, 0xFF, 0xFF}
		if err := cfg.UnmarshalBinary(raw); err != nil {
			t.Fatalf("UnmarshalBinary: %v", err)
		}
		if cfg.LDROMSizeKB != tt.want {
			t.Errorf("LDS=%d: LDROMSizeKB = %d, want %d", tt.lds, cfg.LDROMSizeKB, tt.want)
		}
		if got := cfg.APROMSize(); got != FlashSize-tt.want*1024 {
			t.Errorf("LDS=%d: APROMSize = %d, want %d", tt.lds, got, FlashSize-tt.want*1024)
		}
	}
}

func TestConfigRoundTrip(t *testing.T) {
	cfgs := []Config{
		DefaultConfig(),
		{
			BootSelect:          BootFromLDROM,
			LDROMSizeKB:         4,
			Locked:              true,
			ResetPinEnabled:     true,
			OCDPWMTristate:      true,
			BrownoutDetect:      true,
			BrownoutVoltage:     BODVoltage3v7,
			BrownoutReset:       true,
			BrownoutInhibitsIAP: true,
			WDT:                 WDTEnabled,
		},
		{
			OCDEnabled:      true,
			BrownoutVoltage: BODVoltage2v7,
			WDT:             WDTEnabledAlways,
		},
	}

	for i, cfg := range cfgs {
		raw, err := cfg.MarshalBinary()
		if err != nil {
			t.Fatalf("cfg %d: MarshalBinary: %v", i, err)
		}
		var back Config
		if err := back.UnmarshalBinary(raw); err != nil {
			t.Fatalf("cfg %d: UnmarshalBinary: %v", i, err)
		}
		if back != cfg {
			t.Errorf("cfg %d: round trip mismatch:\n got %+v\nwant %+v", i, back, cfg)
		}
	}
}

func TestConfigMarshalErased(t *testing.T) {
	cfg := DefaultConfig()
	raw, err := cfg.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	want := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	if !bytes.Equal(raw, want) {
		t.Errorf("default config marshals to % X, want % X", raw, want)
	}
}

func TestConfigMarshalInvalidLDROM(t *testing.T) {
	cfg := Config{LDROMSizeKB: 5}
	if _, err := cfg.MarshalBinary(); err == nil {
		t.Error("expected error for LDROM size over 4 KB")
	}
}
