package flash

import "fmt"

// MemDevice is a RAM-backed Device used by tests and the simulator. It can
// simulate a power cut after a byte budget and inject per-operation errors.
type MemDevice struct {
	sectorSize uint32
	data       []byte

	violations int
	erases     []uint32

	// budget is the number of bytes that may still be programmed before the
	// simulated power cut; negative means unlimited
	budget  int
	powered bool

	injected map[Op]error
}

// NewMemDevice creates an erased device of sectorCount sectors
func NewMemDevice(sectorSize, sectorCount uint32) *MemDevice {
	d := &MemDevice{
		sectorSize: sectorSize,
		data:       make([]byte, sectorSize*sectorCount),
		erases:     make([]uint32, sectorCount),
		budget:     -1,
		powered:    true,
		injected:   make(map[Op]error),
	}
	for i := range d.data {
		d.data[i] = 0xFF
	}
	return d
}

// SectorSize returns the erase unit in bytes
func (d *MemDevice) SectorSize() uint32 { return d.sectorSize }

// Size returns the total device size in bytes
func (d *MemDevice) Size() uint32 { return uint32(len(d.data)) }

func (d *MemDevice) gate(op Op) error {
	if !d.powered {
		return fmt.Errorf("%s: %w", op, ErrPowerLoss)
	}
	if err := d.injected[op]; err != nil {
		return err
	}
	return nil
}

// Read copies bytes out of the device
func (d *MemDevice) Read(addr uint32, p []byte) error {
	if err := d.gate(OpRead); err != nil {
		return err
	}
	if err := checkRange(d.Size(), addr, len(p)); err != nil {
		return err
	}
	copy(p, d.data[addr:])
	return nil
}

// Write programs p at addr with AND semantics. Under a power-cut budget the
// write stops after the last affordable byte and the device goes dark.
func (d *MemDevice) Write(addr uint32, p []byte) error {
	if err := d.gate(OpWrite); err != nil {
		return err
	}
	if err := checkRange(d.Size(), addr, len(p)); err != nil {
		return err
	}

	n := len(p)
	cut := false
	if d.budget >= 0 && n > d.budget {
		n = d.budget
		cut = true
	}
	d.violations += program(d.data[addr:addr+uint32(n)], p[:n])
	if d.budget >= 0 {
		d.budget -= n
	}
	if cut {
		d.powered = false
		return fmt.Errorf("write at 0x%08X after %d of %d bytes: %w", addr, n, len(p), ErrPowerLoss)
	}
	return nil
}

// Erase resets one sector to 0xFF. An erase is atomic with respect to the
// power-cut budget and costs one unit of it.
func (d *MemDevice) Erase(sectorAddr uint32) error {
	if err := d.gate(OpErase); err != nil {
		return err
	}
	if err := checkErase(d.Size(), d.sectorSize, sectorAddr); err != nil {
		return err
	}
	if d.budget == 0 {
		d.powered = false
		return fmt.Errorf("erase at 0x%08X: %w", sectorAddr, ErrPowerLoss)
	}
	if d.budget > 0 {
		d.budget--
	}
	sector := d.data[sectorAddr : sectorAddr+d.sectorSize]
	for i := range sector {
		sector[i] = 0xFF
	}
	d.erases[sectorAddr/d.sectorSize]++
	return nil
}

// PowerCutAfter arms a power cut once n more bytes have been programmed
func (d *MemDevice) PowerCutAfter(n int) {
	d.budget = n
}

// PowerOn restores power and disarms any pending power cut
func (d *MemDevice) PowerOn() {
	d.powered = true
	d.budget = -1
}

// Powered reports whether the device still accepts operations
func (d *MemDevice) Powered() bool { return d.powered }

// InjectError makes every subsequent op of the given kind fail with err.
// A nil err clears the injection.
func (d *MemDevice) InjectError(op Op, err error) {
	if err == nil {
		delete(d.injected, op)
		return
	}
	d.injected[op] = err
}

// Violations returns how many programmed bytes asked for a 0 bit to be
// raised back to 1, which real flash cannot do without an erase
func (d *MemDevice) Violations() int { return d.violations }

// Erases returns the number of physical erases performed on a sector
func (d *MemDevice) Erases(sector int) uint32 { return d.erases[sector] }

// Peek returns a copy of n raw bytes at addr, bypassing power and faults
func (d *MemDevice) Peek(addr uint32, n int) []byte {
	out := make([]byte, n)
	copy(out, d.data[addr:])
	return out
}

// Poke overwrites raw bytes at addr without AND semantics. It models
// corruption and lets tests craft on-flash states directly.
func (d *MemDevice) Poke(addr uint32, p []byte) {
	copy(d.data[addr:], p)
}

// Snapshot copies the current image
func (d *MemDevice) Snapshot() []byte {
	out := make([]byte, len(d.data))
	copy(out, d.data)
	return out
}

// Restore replaces the image with img, which must match the device size
func (d *MemDevice) Restore(img []byte) {
	copy(d.data, img)
}
