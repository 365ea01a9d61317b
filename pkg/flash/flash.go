// Package flash defines the raw block-erasable memory the store runs on.
//
// A Device behaves like NOR flash: reads are plain byte copies, writes can
// only clear bits (each destination byte becomes old AND new), and an erase
// resets a whole sector to 0xFF.
package flash

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfRange is returned when an access falls outside the device
	ErrOutOfRange = errors.New("flash: address out of range")
	// ErrUnaligned is returned when an erase address is not sector aligned
	ErrUnaligned = errors.New("flash: erase address not sector aligned")
	// ErrPowerLoss is returned by simulated devices after a power cut
	ErrPowerLoss = errors.New("flash: power lost")
)

// Device is the contract the store consumes. All operations are synchronous.
type Device interface {
	// Read copies len(p) bytes starting at addr into p
	Read(addr uint32, p []byte) error
	// Write programs p at addr; every byte becomes old AND new
	Write(addr uint32, p []byte) error
	// Erase sets the sector starting at sectorAddr to 0xFF
	Erase(sectorAddr uint32) error
	// SectorSize returns the erase unit in bytes
	SectorSize() uint32
	// Size returns the total device size in bytes
	Size() uint32
}

// Op identifies a device operation for fault injection.
type Op int

const (
	OpRead Op = iota
	OpWrite
	OpErase
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpErase:
		return "erase"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

func checkRange(size, addr uint32, n int) error {
	if uint64(addr)+uint64(n) > uint64(size) {
		return fmt.Errorf("%w: 0x%08X+%d exceeds 0x%08X", ErrOutOfRange, addr, n, size)
	}
	return nil
}

func checkErase(size, sectorSize, addr uint32) error {
	if addr%sectorSize != 0 {
		return fmt.Errorf("%w: 0x%08X", ErrUnaligned, addr)
	}
	return checkRange(size, addr, int(sectorSize))
}

// program applies AND semantics of src onto dst and returns the number of
// bytes whose requested value needed a 0 bit raised back to 1.
func program(dst, src []byte) int {
	violations := 0
	for i, b := range src {
		final := dst[i] & b
		if final != b {
			violations++
		}
		dst[i] = final
	}
	return violations
}
