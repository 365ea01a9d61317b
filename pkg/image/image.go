// Package image exports and imports raw flash images.
//
// An image file is the magic "NVSI", a uvarint length, a protobuf-encoded
// header and then the device contents compressed with the codec named in
// the header:
//
//	1 sector_size  varint
//	2 sector_count varint
//	3 codec        varint
//	4 raw_len      varint
//	5 raw_crc32    fixed32
package image

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/KevoDB/tinynvs/pkg/checksum"
	"github.com/KevoDB/tinynvs/pkg/flash"
)

var magic = []byte("NVSI")

const maxHeaderLen = 1 << 10

var (
	// ErrBadMagic is returned when the input is not an image file
	ErrBadMagic = errors.New("image: bad magic")
	// ErrGeometry is returned when the image does not fit the target device
	ErrGeometry = errors.New("image: geometry mismatch")
	// ErrCorrupt is returned when the header or body fails validation
	ErrCorrupt = errors.New("image: corrupt")
)

const (
	fieldSectorSize  protowire.Number = 1
	fieldSectorCount protowire.Number = 2
	fieldCodec       protowire.Number = 3
	fieldRawLen      protowire.Number = 4
	fieldRawCRC      protowire.Number = 5
)

// Header describes an image
type Header struct {
	SectorSize  uint32
	SectorCount uint32
	Codec       Codec
	RawLen      uint64
	RawCRC      uint32
}

func (h Header) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldSectorSize, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.SectorSize))
	b = protowire.AppendTag(b, fieldSectorCount, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.SectorCount))
	b = protowire.AppendTag(b, fieldCodec, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.Codec))
	b = protowire.AppendTag(b, fieldRawLen, protowire.VarintType)
	b = protowire.AppendVarint(b, h.RawLen)
	b = protowire.AppendTag(b, fieldRawCRC, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, h.RawCRC)
	return b
}

func unmarshalHeader(b []byte) (Header, error) {
	var h Header
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Header{}, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && num != fieldRawCRC:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Header{}, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldSectorSize:
				h.SectorSize = uint32(v)
			case fieldSectorCount:
				h.SectorCount = uint32(v)
			case fieldCodec:
				h.Codec = Codec(v)
			case fieldRawLen:
				h.RawLen = v
			}
		case typ == protowire.Fixed32Type && num == fieldRawCRC:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return Header{}, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
			}
			b = b[n:]
			h.RawCRC = v
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Header{}, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return h, nil
}

// Export writes the whole device to w
func Export(dev flash.Device, w io.Writer, codec Codec) (Header, error) {
	c, err := defaultCompressor()
	if err != nil {
		return Header{}, err
	}

	raw := make([]byte, dev.Size())
	for addr := uint32(0); addr < dev.Size(); addr += dev.SectorSize() {
		if err := dev.Read(addr, raw[addr:addr+dev.SectorSize()]); err != nil {
			return Header{}, fmt.Errorf("failed to read sector at 0x%X: %w", addr, err)
		}
	}

	body, err := c.compress(raw, codec)
	if err != nil {
		return Header{}, err
	}

	h := Header{
		SectorSize:  dev.SectorSize(),
		SectorCount: dev.Size() / dev.SectorSize(),
		Codec:       codec,
		RawLen:      uint64(len(raw)),
		RawCRC:      checksum.Compute(raw),
	}
	hdr := h.marshal()

	out := append([]byte(nil), magic...)
	out = protowire.AppendVarint(out, uint64(len(hdr)))
	out = append(out, hdr...)
	if _, err := w.Write(out); err != nil {
		return Header{}, fmt.Errorf("failed to write image header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return Header{}, fmt.Errorf("failed to write image body: %w", err)
	}
	return h, nil
}

// ReadHeader reads and validates the image header from r
func ReadHeader(r *bufio.Reader) (Header, error) {
	m := make([]byte, len(magic))
	if _, err := io.ReadFull(r, m); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrBadMagic, err)
	}
	if !bytes.Equal(m, magic) {
		return Header{}, ErrBadMagic
	}

	n, err := binary.ReadUvarint(r)
	if err != nil {
		return Header{}, fmt.Errorf("%w: header length: %v", ErrCorrupt, err)
	}
	if n > maxHeaderLen {
		return Header{}, fmt.Errorf("%w: header length %d", ErrCorrupt, n)
	}
	hdr := make([]byte, n)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return Header{}, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}

	h, err := unmarshalHeader(hdr)
	if err != nil {
		return Header{}, err
	}
	if h.SectorSize == 0 || h.RawLen != uint64(h.SectorSize)*uint64(h.SectorCount) {
		return Header{}, fmt.Errorf("%w: %d sectors of %d bytes cannot hold %d bytes",
			ErrCorrupt, h.SectorCount, h.SectorSize, h.RawLen)
	}
	return h, nil
}

// Import replaces the contents of dev with the image read from r. The
// image is fully validated before the device is touched.
func Import(r io.Reader, dev flash.Device) (Header, error) {
	c, err := defaultCompressor()
	if err != nil {
		return Header{}, err
	}

	br := bufio.NewReader(r)
	h, err := ReadHeader(br)
	if err != nil {
		return Header{}, err
	}
	if h.SectorSize != dev.SectorSize() || h.RawLen != uint64(dev.Size()) {
		return h, fmt.Errorf("%w: image is %d x %d bytes, device %d x %d bytes",
			ErrGeometry, h.SectorCount, h.SectorSize, dev.Size()/dev.SectorSize(), dev.SectorSize())
	}

	body, err := io.ReadAll(br)
	if err != nil {
		return h, fmt.Errorf("failed to read image body: %w", err)
	}
	raw, err := c.decompress(body, h.Codec)
	if err != nil {
		return h, err
	}
	if uint64(len(raw)) != h.RawLen {
		return h, fmt.Errorf("%w: body is %d bytes, header says %d", ErrCorrupt, len(raw), h.RawLen)
	}
	if crc := checksum.Compute(raw); crc != h.RawCRC {
		return h, fmt.Errorf("%w: crc 0x%08X, header says 0x%08X", ErrCorrupt, crc, h.RawCRC)
	}

	for addr := uint32(0); addr < dev.Size(); addr += dev.SectorSize() {
		if err := dev.Erase(addr); err != nil {
			return h, fmt.Errorf("failed to erase sector at 0x%X: %w", addr, err)
		}
		if err := program(dev, addr, raw[addr:addr+dev.SectorSize()]); err != nil {
			return h, err
		}
	}
	return h, nil
}

// program writes each run of non-erased bytes in data at base
func program(dev flash.Device, base uint32, data []byte) error {
	for i := 0; i < len(data); {
		if data[i] == 0xFF {
			i++
			continue
		}
		j := i
		for j < len(data) && data[j] != 0xFF {
			j++
		}
		if err := dev.Write(base+uint32(i), data[i:j]); err != nil {
			return fmt.Errorf("failed to program 0x%X: %w", base+uint32(i), err)
		}
		i = j
	}
	return nil
}
