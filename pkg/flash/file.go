package flash

import (
	"errors"
	"fmt"
	"os"
)

// FileDevice keeps the flash image in a regular file so a simulated device
// survives process restarts.
type FileDevice struct {
	f          *os.File
	sectorSize uint32
	size       uint32
	violations int
}

// OpenFileDevice opens the image at path, creating an erased one when it
// does not exist. An existing image must match the requested geometry.
func OpenFileDevice(path string, sectorSize, sectorCount uint32) (*FileDevice, error) {
	size := sectorSize * sectorCount

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if errors.Is(err, os.ErrNotExist) {
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to create flash image: %w", err)
		}
		d := &FileDevice{f: f, sectorSize: sectorSize, size: size}
		for addr := uint32(0); addr < size; addr += sectorSize {
			if err := d.Erase(addr); err != nil {
				f.Close()
				return nil, err
			}
		}
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open flash image: %w", err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat flash image: %w", err)
	}
	if st.Size() != int64(size) {
		f.Close()
		return nil, fmt.Errorf("flash image %s is %d bytes, expected %d", path, st.Size(), size)
	}

	return &FileDevice{f: f, sectorSize: sectorSize, size: size}, nil
}

// SectorSize returns the erase unit in bytes
func (d *FileDevice) SectorSize() uint32 { return d.sectorSize }

// Size returns the total device size in bytes
func (d *FileDevice) Size() uint32 { return d.size }

// Read copies bytes out of the image
func (d *FileDevice) Read(addr uint32, p []byte) error {
	if err := checkRange(d.size, addr, len(p)); err != nil {
		return err
	}
	if _, err := d.f.ReadAt(p, int64(addr)); err != nil {
		return fmt.Errorf("flash read at 0x%08X: %w", addr, err)
	}
	return nil
}

// Write programs p at addr with AND semantics
func (d *FileDevice) Write(addr uint32, p []byte) error {
	if err := checkRange(d.size, addr, len(p)); err != nil {
		return err
	}
	cur := make([]byte, len(p))
	if _, err := d.f.ReadAt(cur, int64(addr)); err != nil {
		return fmt.Errorf("flash write at 0x%08X: %w", addr, err)
	}
	d.violations += program(cur, p)
	if _, err := d.f.WriteAt(cur, int64(addr)); err != nil {
		return fmt.Errorf("flash write at 0x%08X: %w", addr, err)
	}
	return nil
}

// Erase resets one sector to 0xFF
func (d *FileDevice) Erase(sectorAddr uint32) error {
	if err := checkErase(d.size, d.sectorSize, sectorAddr); err != nil {
		return err
	}
	blank := make([]byte, d.sectorSize)
	for i := range blank {
		blank[i] = 0xFF
	}
	if _, err := d.f.WriteAt(blank, int64(sectorAddr)); err != nil {
		return fmt.Errorf("flash erase at 0x%08X: %w", sectorAddr, err)
	}
	return nil
}

// Violations returns how many programmed bytes asked to raise a 0 bit
func (d *FileDevice) Violations() int { return d.violations }

// Close flushes and closes the image file
func (d *FileDevice) Close() error {
	if err := d.f.Sync(); err != nil {
		d.f.Close()
		return fmt.Errorf("failed to sync flash image: %w", err)
	}
	return d.f.Close()
}
