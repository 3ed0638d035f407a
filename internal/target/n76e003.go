// Package target holds device constants and the CONFIG byte codec for the
// N76E003 family.
package target

import "fmt"

// N76E003 memory geometry and identifiers.
const (
	DeviceIDN76E003 = 0x3650

	APROMAddr    = 0x0
	FlashSize    = 18 * 1024
	PageSize     = 128
	LDROMMaxSize = 4 * 1024

	// The config block lives outside the flash array proper.
	ConfigAddr = 0x30000
	ConfigLen  = 5

	// Value of an erased flash cell.
	ErasedByte = 0xFF
)

// ChipName returns a human-readable name for a device ID.
func ChipName(devid uint32) string {
	switch devid {
	case DeviceIDN76E003:
		return "N76E003"
	default:
		return fmt.Sprintf("unknown (0x%04X)", devid)
	}
}

// PageBase returns the base address of the flash page containing addr.
func PageBase(addr uint32) uint32 {
	return addr &^ (PageSize - 1)
}
