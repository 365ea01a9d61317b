// Package sector encodes the 20-byte header at the start of every sector
// and performs the header-level flash operations: format and state change.
package sector

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/KevoDB/tinynvs/pkg/flash"
)

const (
	// Magic identifies a formatted sector ("TKV1" little endian)
	Magic uint32 = 0x31564B54

	// Header layout
	// - magic (4 bytes)
	// - erase count (4 bytes)
	// - state (4 bytes)
	// - seq id (4 bytes)
	// - reserved (4 bytes)
	HeaderSize = 20

	stateOffset = 8
	reserved    = 0xFFFFFFFF
)

var (
	ErrBadMagic = errors.New("sector: bad magic")
	ErrNoWire   = errors.New("sector: state has no on-flash encoding")
)

// State is the in-memory sector state. Its on-flash bit pattern is kept
// separate, see EncodeState and DecodeState.
type State int

const (
	// StateErased means no valid header: blank or torn format
	StateErased State = iota
	StateEmpty
	StateCopying
	StateUsed
	StateFull
	StateGarbage
	StateUnknown
)

// Wire patterns. Each transition in the lifecycle only clears bits:
// Empty -> Copying -> Used -> Full -> Garbage.
const (
	wireEmpty   uint32 = 0xFFFFFFFF
	wireCopying uint32 = 0xFFFFFF00
	wireUsed    uint32 = 0xFFFF0000
	wireFull    uint32 = 0x00FF0000
	wireGarbage uint32 = 0x00000000
)

func (s State) String() string {
	switch s {
	case StateErased:
		return "ERASED"
	case StateEmpty:
		return "EMPTY"
	case StateCopying:
		return "COPYING"
	case StateUsed:
		return "USED"
	case StateFull:
		return "FULL"
	case StateGarbage:
		return "GARBAGE"
	default:
		return "UNKNOWN"
	}
}

// Resident reports whether the sector holds authoritative-looking data
func (s State) Resident() bool {
	return s == StateUsed || s == StateFull
}

// EncodeState maps a state to its on-flash pattern
func EncodeState(s State) (uint32, error) {
	switch s {
	case StateEmpty:
		return wireEmpty, nil
	case StateCopying:
		return wireCopying, nil
	case StateUsed:
		return wireUsed, nil
	case StateFull:
		return wireFull, nil
	case StateGarbage:
		return wireGarbage, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrNoWire, s)
	}
}

// DecodeState maps an on-flash pattern to a state. Torn or foreign
// patterns decode to StateUnknown.
func DecodeState(v uint32) State {
	switch v {
	case wireEmpty:
		return StateEmpty
	case wireCopying:
		return StateCopying
	case wireUsed:
		return StateUsed
	case wireFull:
		return StateFull
	case wireGarbage:
		return StateGarbage
	default:
		return StateUnknown
	}
}

// Settle maps a torn state word to the last lifecycle state it fully
// reached: the furthest state whose zero bits are all zero in v.
func Settle(v uint32) State {
	for _, w := range []struct {
		s    State
		wire uint32
	}{
		{StateGarbage, wireGarbage},
		{StateFull, wireFull},
		{StateUsed, wireUsed},
		{StateCopying, wireCopying},
	} {
		if v&^w.wire == 0 {
			return w.s
		}
	}
	return StateEmpty
}

// Header is the decoded sector header
type Header struct {
	Magic      uint32
	EraseCount uint32
	State      State
	SeqID      uint32
	// Torn is set when the state word was caught mid-write
	Torn bool
}

// Valid reports whether the header carries the store magic
func (h Header) Valid() bool {
	return h.Magic == Magic
}

// Encode serializes the header
func (h Header) Encode() ([]byte, error) {
	st, err := EncodeState(h.State)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.EraseCount)
	binary.LittleEndian.PutUint32(buf[8:12], st)
	binary.LittleEndian.PutUint32(buf[12:16], h.SeqID)
	binary.LittleEndian.PutUint32(buf[16:20], reserved)
	return buf, nil
}

// Decode parses a header. A buffer without the magic yields StateErased.
func Decode(buf []byte) Header {
	h := Header{
		Magic:      binary.LittleEndian.Uint32(buf[0:4]),
		EraseCount: binary.LittleEndian.Uint32(buf[4:8]),
		SeqID:      binary.LittleEndian.Uint32(buf[12:16]),
	}
	if h.Magic != Magic {
		h.State = StateErased
		return h
	}
	raw := binary.LittleEndian.Uint32(buf[8:12])
	if h.State = DecodeState(raw); h.State == StateUnknown {
		h.State, h.Torn = Settle(raw), true
	}
	return h
}

// ReadHeader reads and decodes the header of the sector at addr
func ReadHeader(dev flash.Device, addr uint32) (Header, error) {
	buf := make([]byte, HeaderSize)
	if err := dev.Read(addr, buf); err != nil {
		return Header{}, err
	}
	return Decode(buf), nil
}

// Format erases the sector and writes a fresh header in the Empty state.
// The new erase count is eraseCount+1.
func Format(dev flash.Device, addr, eraseCount, seqID uint32) error {
	if err := dev.Erase(addr); err != nil {
		return err
	}
	buf, err := Header{
		Magic:      Magic,
		EraseCount: eraseCount + 1,
		State:      StateEmpty,
		SeqID:      seqID,
	}.Encode()
	if err != nil {
		return err
	}
	return dev.Write(addr, buf)
}

// SetState programs only the state word of the header
func SetState(dev flash.Device, addr uint32, s State) error {
	v, err := EncodeState(s)
	if err != nil {
		return err
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return dev.Write(addr+stateOffset, buf[:])
}
