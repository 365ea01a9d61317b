package image

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
)

var (
	// ErrUnknownCodec is returned when an unsupported compression codec is specified
	ErrUnknownCodec = errors.New("unknown compression codec")

	// ErrInvalidCompressedData is returned when compressed data cannot be decompressed
	ErrInvalidCompressedData = errors.New("invalid compressed data")
)

// Codec selects how the raw flash image is compressed
type Codec uint8

const (
	CodecNone Codec = iota
	CodecZstd
	CodecSnappy
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZstd:
		return "zstd"
	case CodecSnappy:
		return "snappy"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// ParseCodec parses a codec name
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CodecNone, nil
	case "zstd":
		return CodecZstd, nil
	case "snappy":
		return CodecSnappy, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCodec, s)
	}
}

// compressor holds reusable zstd state
type compressor struct {
	mu  sync.Mutex
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newCompressor() (*compressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("failed to create ZSTD encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to create ZSTD decoder: %w", err)
	}
	return &compressor{enc: enc, dec: dec}, nil
}

var (
	sharedOnce sync.Once
	shared     *compressor
	sharedErr  error
)

func defaultCompressor() (*compressor, error) {
	sharedOnce.Do(func() { shared, sharedErr = newCompressor() })
	return shared, sharedErr
}

func (c *compressor) compress(data []byte, codec Codec) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch codec {
	case CodecNone:
		return data, nil
	case CodecZstd:
		return c.enc.EncodeAll(data, nil), nil
	case CodecSnappy:
		return snappy.Encode(nil, data), nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownCodec, codec)
	}
}

func (c *compressor) decompress(data []byte, codec Codec) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch codec {
	case CodecNone:
		return data, nil
	case CodecZstd:
		out, err := c.dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCompressedData, err)
		}
		return out, nil
	case CodecSnappy:
		out, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCompressedData, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownCodec, codec)
	}
}
