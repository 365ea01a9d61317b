package service

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Message is implemented by every request and response of the store service
type Message interface {
	MarshalWire() []byte
	UnmarshalWire(b []byte) error
}

type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

func (f field) is(num protowire.Number, typ protowire.Type) bool {
	return f.num == num && f.typ == typ
}

// forEachField calls fn for every field in b. Unknown wire types are
// skipped before fn sees them.
func forEachField(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("malformed tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("malformed field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendVarint(b, num, protowire.EncodeBool(v))
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	return appendBytes(b, num, []byte(v))
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}

// SetRequest stores Value under Key
type SetRequest struct {
	Key   []byte
	Value []byte
}

func (m *SetRequest) MarshalWire() []byte {
	b := appendBytes(nil, 1, m.Key)
	return appendBytes(b, 2, m.Value)
}

func (m *SetRequest) UnmarshalWire(b []byte) error {
	return forEachField(b, func(f field) error {
		switch {
		case f.is(1, protowire.BytesType):
			m.Key = clone(f.bytes)
		case f.is(2, protowire.BytesType):
			m.Value = clone(f.bytes)
		}
		return nil
	})
}

type SetResponse struct{}

func (m *SetResponse) MarshalWire() []byte { return nil }

func (m *SetResponse) UnmarshalWire(b []byte) error {
	return forEachField(b, func(field) error { return nil })
}

type GetRequest struct {
	Key []byte
}

func (m *GetRequest) MarshalWire() []byte { return appendBytes(nil, 1, m.Key) }

func (m *GetRequest) UnmarshalWire(b []byte) error {
	return forEachField(b, func(f field) error {
		if f.is(1, protowire.BytesType) {
			m.Key = clone(f.bytes)
		}
		return nil
	})
}

type GetResponse struct {
	Value []byte
}

func (m *GetResponse) MarshalWire() []byte { return appendBytes(nil, 1, m.Value) }

func (m *GetResponse) UnmarshalWire(b []byte) error {
	return forEachField(b, func(f field) error {
		if f.is(1, protowire.BytesType) {
			m.Value = clone(f.bytes)
		}
		return nil
	})
}

type DeleteRequest struct {
	Key []byte
}

func (m *DeleteRequest) MarshalWire() []byte { return appendBytes(nil, 1, m.Key) }

func (m *DeleteRequest) UnmarshalWire(b []byte) error {
	return forEachField(b, func(f field) error {
		if f.is(1, protowire.BytesType) {
			m.Key = clone(f.bytes)
		}
		return nil
	})
}

type DeleteResponse struct{}

func (m *DeleteResponse) MarshalWire() []byte { return nil }

func (m *DeleteResponse) UnmarshalWire(b []byte) error {
	return forEachField(b, func(field) error { return nil })
}

type StatsRequest struct{}

func (m *StatsRequest) MarshalWire() []byte { return nil }

func (m *StatsRequest) UnmarshalWire(b []byte) error {
	return forEachField(b, func(field) error { return nil })
}

// SectorStatus is one row of the sector table
type SectorStatus struct {
	Index      uint32
	EraseCount uint32
	State      string
	Active     bool
}

func (m *SectorStatus) MarshalWire() []byte {
	b := appendVarint(nil, 1, uint64(m.Index))
	b = appendVarint(b, 2, uint64(m.EraseCount))
	b = appendString(b, 3, m.State)
	return appendBool(b, 4, m.Active)
}

func (m *SectorStatus) UnmarshalWire(b []byte) error {
	return forEachField(b, func(f field) error {
		switch {
		case f.is(1, protowire.VarintType):
			m.Index = uint32(f.varint)
		case f.is(2, protowire.VarintType):
			m.EraseCount = uint32(f.varint)
		case f.is(3, protowire.BytesType):
			m.State = string(f.bytes)
		case f.is(4, protowire.VarintType):
			m.Active = protowire.DecodeBool(f.varint)
		}
		return nil
	})
}

// OperationCount is the number of calls of one store operation
type OperationCount struct {
	Name  string
	Count uint64
}

func (m *OperationCount) MarshalWire() []byte {
	b := appendString(nil, 1, m.Name)
	return appendVarint(b, 2, m.Count)
}

func (m *OperationCount) UnmarshalWire(b []byte) error {
	return forEachField(b, func(f field) error {
		switch {
		case f.is(1, protowire.BytesType):
			m.Name = string(f.bytes)
		case f.is(2, protowire.VarintType):
			m.Count = f.varint
		}
		return nil
	})
}

// StatsResponse describes the layout of a remote store
type StatsResponse struct {
	ActiveSector uint32
	WriteOffset  uint32
	SeqID        uint32
	Keys         uint32
	Rotations    uint64
	Sectors      []*SectorStatus
	Operations   []*OperationCount
}

func (m *StatsResponse) MarshalWire() []byte {
	b := appendVarint(nil, 1, uint64(m.ActiveSector))
	b = appendVarint(b, 2, uint64(m.WriteOffset))
	b = appendVarint(b, 3, uint64(m.SeqID))
	b = appendVarint(b, 4, uint64(m.Keys))
	b = appendVarint(b, 5, m.Rotations)
	for _, s := range m.Sectors {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendBytes(b, s.MarshalWire())
	}
	for _, op := range m.Operations {
		b = protowire.AppendTag(b, 7, protowire.BytesType)
		b = protowire.AppendBytes(b, op.MarshalWire())
	}
	return b
}

func (m *StatsResponse) UnmarshalWire(b []byte) error {
	return forEachField(b, func(f field) error {
		switch {
		case f.is(1, protowire.VarintType):
			m.ActiveSector = uint32(f.varint)
		case f.is(2, protowire.VarintType):
			m.WriteOffset = uint32(f.varint)
		case f.is(3, protowire.VarintType):
			m.SeqID = uint32(f.varint)
		case f.is(4, protowire.VarintType):
			m.Keys = uint32(f.varint)
		case f.is(5, protowire.VarintType):
			m.Rotations = f.varint
		case f.is(6, protowire.BytesType):
			s := &SectorStatus{}
			if err := s.UnmarshalWire(f.bytes); err != nil {
				return fmt.Errorf("sector: %w", err)
			}
			m.Sectors = append(m.Sectors, s)
		case f.is(7, protowire.BytesType):
			op := &OperationCount{}
			if err := op.UnmarshalWire(f.bytes); err != nil {
				return fmt.Errorf("operation: %w", err)
			}
			m.Operations = append(m.Operations, op)
		}
		return nil
	})
}

type CheckWearLevelingRequest struct{}

func (m *CheckWearLevelingRequest) MarshalWire() []byte { return nil }

func (m *CheckWearLevelingRequest) UnmarshalWire(b []byte) error {
	return forEachField(b, func(field) error { return nil })
}

type CheckWearLevelingResponse struct {
	Reclaimed bool
}

func (m *CheckWearLevelingResponse) MarshalWire() []byte { return appendBool(nil, 1, m.Reclaimed) }

func (m *CheckWearLevelingResponse) UnmarshalWire(b []byte) error {
	return forEachField(b, func(f field) error {
		if f.is(1, protowire.VarintType) {
			m.Reclaimed = protowire.DecodeBool(f.varint)
		}
		return nil
	})
}

type RotateRequest struct{}

func (m *RotateRequest) MarshalWire() []byte { return nil }

func (m *RotateRequest) UnmarshalWire(b []byte) error {
	return forEachField(b, func(field) error { return nil })
}

type RotateResponse struct {
	ActiveSector uint32
	SeqID        uint32
}

func (m *RotateResponse) MarshalWire() []byte {
	b := appendVarint(nil, 1, uint64(m.ActiveSector))
	return appendVarint(b, 2, uint64(m.SeqID))
}

func (m *RotateResponse) UnmarshalWire(b []byte) error {
	return forEachField(b, func(f field) error {
		switch {
		case f.is(1, protowire.VarintType):
			m.ActiveSector = uint32(f.varint)
		case f.is(2, protowire.VarintType):
			m.SeqID = uint32(f.varint)
		}
		return nil
	})
}
