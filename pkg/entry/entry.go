// Package entry implements the on-flash key-value record.
//
// An entry is a 12-byte header followed by the key, the value and zero
// padding up to a 4-byte boundary. The header is programmed after the
// payload, so a power cut mid-append leaves an Empty header that scanners
// treat as the end of the log.
package entry

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/KevoDB/tinynvs/pkg/checksum"
	"github.com/KevoDB/tinynvs/pkg/flash"
)

const (
	// Header layout
	// - key length (1 byte)
	// - type (1 byte, reserved)
	// - data length (2 bytes)
	// - CRC-32 of key then value (4 bytes)
	// - state (4 bytes)
	HeaderSize = 12

	// MaxKeyLen is bounded by the key length field
	MaxKeyLen = 0xFF
	// MaxDataLen is bounded by the data length field
	MaxDataLen = 0xFFFF

	stateOffset = 8
)

var (
	ErrSectorFull   = errors.New("entry: sector full")
	ErrCrcMismatch  = errors.New("entry: crc mismatch")
	ErrNotValid     = errors.New("entry: not valid")
	ErrTooLarge     = errors.New("entry: key or value exceeds header limits")
	ErrWrongSizeBuf = errors.New("entry: short header buffer")
)

// State is the in-memory entry state
type State int

const (
	StateEmpty State = iota
	StateValid
	StateDeleted
	StateUnknown
)

// Wire patterns; Empty -> Valid -> Deleted only clears bits
const (
	wireEmpty   uint32 = 0xFFFFFFFF
	wireValid   uint32 = 0xFFFF0000
	wireDeleted uint32 = 0x00000000
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "EMPTY"
	case StateValid:
		return "VALID"
	case StateDeleted:
		return "DELETED"
	default:
		return "UNKNOWN"
	}
}

// EncodeState maps a state to its on-flash pattern
func EncodeState(s State) (uint32, error) {
	switch s {
	case StateEmpty:
		return wireEmpty, nil
	case StateValid:
		return wireValid, nil
	case StateDeleted:
		return wireDeleted, nil
	default:
		return 0, fmt.Errorf("entry: state %s has no on-flash encoding", s)
	}
}

// DecodeState maps an on-flash pattern to a state
func DecodeState(v uint32) State {
	switch v {
	case wireEmpty:
		return StateEmpty
	case wireValid:
		return StateValid
	case wireDeleted:
		return StateDeleted
	default:
		return StateUnknown
	}
}

// Settle maps a torn state word to the last state it fully reached. State
// writes only clear bits, so that is the furthest state whose zero bits are
// all zero in v.
func Settle(v uint32) State {
	switch {
	case v == wireDeleted:
		return StateDeleted
	case v&^wireValid == 0:
		return StateValid
	default:
		return StateEmpty
	}
}

// Header is the decoded entry header
type Header struct {
	KeyLen  uint8
	Type    uint8
	DataLen uint16
	CRC     uint32
	State   State
	// Torn is set when the state word was caught mid-write and State
	// holds the settled value
	Torn bool
}

// Size returns the full on-flash footprint of this entry
func (h Header) Size() uint32 {
	return Size(int(h.KeyLen), int(h.DataLen))
}

// Encode serializes the header
func (h Header) Encode() ([]byte, error) {
	st, err := EncodeState(h.State)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, HeaderSize)
	buf[0] = h.KeyLen
	buf[1] = h.Type
	binary.LittleEndian.PutUint16(buf[2:4], h.DataLen)
	binary.LittleEndian.PutUint32(buf[4:8], h.CRC)
	binary.LittleEndian.PutUint32(buf[8:12], st)
	return buf, nil
}

// DecodeHeader parses a header
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrWrongSizeBuf
	}
	h := Header{
		KeyLen:  buf[0],
		Type:    buf[1],
		DataLen: binary.LittleEndian.Uint16(buf[2:4]),
		CRC:     binary.LittleEndian.Uint32(buf[4:8]),
	}
	raw := binary.LittleEndian.Uint32(buf[8:12])
	if h.State = DecodeState(raw); h.State == StateUnknown {
		h.State, h.Torn = Settle(raw), true
	}
	return h, nil
}

// Align4 rounds n up to a multiple of four
func Align4(n uint32) uint32 {
	return (n + 3) &^ 3
}

// Size returns header plus aligned payload for the given lengths
func Size(keyLen, dataLen int) uint32 {
	return HeaderSize + Align4(uint32(keyLen)+uint32(dataLen))
}

// Checksum returns the CRC-32 of key followed by value
func Checksum(key, value []byte) uint32 {
	s := checksum.Init()
	s = checksum.Update(s, key)
	s = checksum.Update(s, value)
	return checksum.Final(s)
}

// Append writes an entry at offset inside the sector at sectorAddr and
// returns the offset just past it. Nothing is written when the entry would
// cross the sector boundary.
func Append(dev flash.Device, sectorAddr, sectorSize, offset uint32, key, value []byte) (uint32, error) {
	if len(key) > MaxKeyLen || len(value) > MaxDataLen {
		return 0, ErrTooLarge
	}

	total := Size(len(key), len(value))
	if uint64(offset)+uint64(total) > uint64(sectorSize) {
		return 0, ErrSectorFull
	}

	hdr, err := Header{
		KeyLen:  uint8(len(key)),
		DataLen: uint16(len(value)),
		CRC:     Checksum(key, value),
		State:   StateValid,
	}.Encode()
	if err != nil {
		return 0, err
	}

	addr := sectorAddr + offset

	// key, value and zero padding first, header last
	body := make([]byte, total-HeaderSize)
	copy(body, key)
	copy(body[len(key):], value)
	if err := dev.Write(addr+HeaderSize, body); err != nil {
		return 0, fmt.Errorf("failed to write entry payload: %w", err)
	}
	if err := dev.Write(addr, hdr); err != nil {
		return 0, fmt.Errorf("failed to write entry header: %w", err)
	}

	return offset + total, nil
}

// ReadHeader reads the entry header at offset
func ReadHeader(dev flash.Device, sectorAddr, offset uint32) (Header, error) {
	buf := make([]byte, HeaderSize)
	if err := dev.Read(sectorAddr+offset, buf); err != nil {
		return Header{}, err
	}
	return DecodeHeader(buf)
}

// ReadPayload reads the key and value described by h and checks them
// against the stored CRC. On mismatch no data is returned.
func ReadPayload(dev flash.Device, sectorAddr, offset uint32, h Header) ([]byte, []byte, error) {
	payload := make([]byte, int(h.KeyLen)+int(h.DataLen))
	if err := dev.Read(sectorAddr+offset+HeaderSize, payload); err != nil {
		return nil, nil, err
	}
	key, value := payload[:h.KeyLen], payload[h.KeyLen:]
	if Checksum(key, value) != h.CRC {
		return nil, nil, ErrCrcMismatch
	}
	return key, value, nil
}

// ReadAndVerify reads a Valid entry and verifies its checksum
func ReadAndVerify(dev flash.Device, sectorAddr, offset uint32) (Header, []byte, []byte, error) {
	h, err := ReadHeader(dev, sectorAddr, offset)
	if err != nil {
		return Header{}, nil, nil, err
	}
	if h.State != StateValid {
		return h, nil, nil, fmt.Errorf("%w: state %s at offset %d", ErrNotValid, h.State, offset)
	}
	key, value, err := ReadPayload(dev, sectorAddr, offset, h)
	if err != nil {
		return h, nil, nil, err
	}
	return h, key, value, nil
}

// MarkDeleted programs only the state word of the entry at offset
func MarkDeleted(dev flash.Device, sectorAddr, offset uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], wireDeleted)
	return dev.Write(sectorAddr+offset+stateOffset, buf[:])
}
