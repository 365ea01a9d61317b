package store

import (
	"errors"
	"fmt"

	"github.com/KevoDB/tinynvs/pkg/entry"
	"github.com/KevoDB/tinynvs/pkg/index"
)

var (
	// ErrStorageExhausted is returned when a value does not fit even after garbage collection
	ErrStorageExhausted = errors.New("storage exhausted")
	// ErrBufferTooSmall is returned when the caller's buffer cannot hold the value
	ErrBufferTooSmall = errors.New("buffer too small")
	// ErrKeyNotFound is returned when a key is not in the index
	ErrKeyNotFound = errors.New("key not found")
	// ErrHardwareIO wraps every error reported by the flash device
	ErrHardwareIO = errors.New("flash hardware error")
	// ErrInvalidArgument is returned for empty keys or values and mismatched geometry
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrKeyTooLong is returned when a key exceeds the configured limit
	ErrKeyTooLong = errors.New("key too long")
	// ErrValueTooLarge is returned when a value exceeds the configured limit
	ErrValueTooLarge = errors.New("value too large")
	// ErrClosed is returned when operations are performed on a closed store
	ErrClosed = errors.New("store is closed")

	ErrCrcMismatch = entry.ErrCrcMismatch
	ErrNotValid    = entry.ErrNotValid
	ErrIndexFull   = index.ErrIndexFull
)

func hwErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrHardwareIO, op, err)
}

// errorKind names an error for statistics and telemetry attributes
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrHardwareIO):
		return "hardware_io"
	case errors.Is(err, ErrCrcMismatch):
		return "crc_mismatch"
	case errors.Is(err, ErrNotValid):
		return "not_valid"
	case errors.Is(err, ErrStorageExhausted):
		return "storage_exhausted"
	case errors.Is(err, ErrIndexFull):
		return "index_full"
	case errors.Is(err, ErrKeyNotFound):
		return "key_not_found"
	case errors.Is(err, ErrBufferTooSmall):
		return "buffer_too_small"
	default:
		return "invalid_argument"
	}
}
