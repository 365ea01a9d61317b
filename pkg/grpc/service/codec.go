package service

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the content subtype the store service is served with
const CodecName = "nvs-wire"

// Codec marshals store service messages. It is registered with gRPC on
// import, so clients select it with grpc.CallContentSubtype(CodecName).
type Codec struct{}

func (Codec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(Message)
	if !ok {
		return nil, fmt.Errorf("%s: cannot marshal %T", CodecName, v)
	}
	return m.MarshalWire(), nil
}

func (Codec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(Message)
	if !ok {
		return fmt.Errorf("%s: cannot unmarshal into %T", CodecName, v)
	}
	if err := m.UnmarshalWire(data); err != nil {
		return fmt.Errorf("%s: %w", CodecName, err)
	}
	return nil
}

func (Codec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(Codec{})
}
