// Package store implements a log-structured key-value store on NOR flash.
//
// One sector is active at a time. Sets append entries to it and a RAM
// index maps each key to the offset of its newest entry. When the active
// sector fills, the live entries are copied into the least-worn free sector
// and the old one is erased. A Store has a single owner and no internal
// locking.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevoDB/tinynvs/pkg/common/log"
	"github.com/KevoDB/tinynvs/pkg/config"
	"github.com/KevoDB/tinynvs/pkg/entry"
	"github.com/KevoDB/tinynvs/pkg/flash"
	"github.com/KevoDB/tinynvs/pkg/index"
	"github.com/KevoDB/tinynvs/pkg/sector"
	"github.com/KevoDB/tinynvs/pkg/stats"
	"github.com/KevoDB/tinynvs/pkg/telemetry"
	"github.com/KevoDB/tinynvs/pkg/wear"
)

// SectorInfo describes one sector as the store sees it
type SectorInfo struct {
	Index      int
	Addr       uint32
	EraseCount uint32
	State      sector.State
	Active     bool
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger. The default is the package default logger.
func WithLogger(logger log.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithTelemetry routes store metrics and spans through tel
func WithTelemetry(tel telemetry.Telemetry) Option {
	return func(s *Store) {
		s.tel = tel
		s.metrics = NewMetrics(tel)
	}
}

// Store is a mounted key-value store
type Store struct {
	dev     flash.Device
	logger  log.Logger
	stats   *stats.AtomicCollector
	tel     telemetry.Telemetry
	metrics Metrics

	sectorSize  uint32
	sectorCount int
	baseAddr    uint32
	maxKeyLen   int
	maxValueLen int
	wlThreshold uint32
	wlInterval  int

	index *index.Index
	wear  *wear.Table

	// index offsets are relative to active
	active    int
	offset    uint32
	seq       uint32
	rotations int

	closed bool
}

// Open validates cfg against dev, recovers from any interrupted operation
// and mounts the authoritative sector. A blank device is formatted.
func Open(dev flash.Device, cfg *config.Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dev.SectorSize() != cfg.SectorSize {
		return nil, fmt.Errorf("%w: device sector size %d, config %d", ErrInvalidArgument, dev.SectorSize(), cfg.SectorSize)
	}
	if cfg.DeviceSize() > dev.Size() {
		return nil, fmt.Errorf("%w: store needs %d bytes, device has %d", ErrInvalidArgument, cfg.DeviceSize(), dev.Size())
	}

	s := &Store{
		dev:         dev,
		stats:       stats.NewAtomicCollector(),
		tel:         telemetry.NewNoop(),
		metrics:     NewMetrics(nil),
		sectorSize:  cfg.SectorSize,
		sectorCount: int(cfg.SectorCount),
		baseAddr:    cfg.BaseAddr,
		maxKeyLen:   cfg.MaxKeyLen,
		maxValueLen: cfg.MaxValueLen,
		wlThreshold: cfg.StaticWLThreshold,
		wlInterval:  cfg.StaticWLInterval,
		index:       index.New(cfg.MaxKeys, cfg.IndexBuckets),
		wear:        wear.NewTable(int(cfg.SectorCount)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.GetDefaultLogger().WithField("component", "nvs")
	}

	if err := s.recover(); err != nil {
		return nil, fmt.Errorf("failed to mount store: %w", err)
	}
	return s, nil
}

func (s *Store) sectorAddr(i int) uint32 {
	return s.baseAddr + uint32(i)*s.sectorSize
}

func (s *Store) activeAddr() uint32 {
	return s.sectorAddr(s.active)
}

func (s *Store) checkKey(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}
	if len(key) > s.maxKeyLen {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrKeyTooLong, len(key), s.maxKeyLen)
	}
	return nil
}

func (s *Store) observe(op stats.OperationType, start time.Time, bytes int, err error) {
	d := time.Since(start)
	s.stats.TrackOperationWithLatency(op, uint64(d.Nanoseconds()))
	if err != nil {
		s.stats.TrackError(errorKind(err))
	}
	s.metrics.RecordOperation(context.Background(), string(op), d, bytes, err)
}

// Set stores value under key, rotating the active sector once if it is full
func (s *Store) Set(key, value []byte) error {
	start := time.Now()
	err := s.set(key, value)
	s.observe(stats.OpSet, start, len(key)+len(value), err)
	return err
}

func (s *Store) set(key, value []byte) error {
	if s.closed {
		return ErrClosed
	}
	if err := s.checkKey(key); err != nil {
		return err
	}
	if len(value) == 0 {
		return fmt.Errorf("%w: empty value", ErrInvalidArgument)
	}
	if len(value) > s.maxValueLen {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrValueTooLarge, len(value), s.maxValueLen)
	}
	if s.index.Full() && !s.index.Has(key) {
		return ErrIndexFull
	}

	for attempt := 0; ; attempt++ {
		next, err := entry.Append(s.dev, s.activeAddr(), s.sectorSize, s.offset, key, value)
		if err == nil {
			if err := s.index.Update(key, s.offset); err != nil {
				return err
			}
			s.stats.TrackBytes(true, uint64(next-s.offset))
			s.offset = next
			return nil
		}
		if !errors.Is(err, entry.ErrSectorFull) {
			// the tail may hold a partial entry; never program over it
			s.offset = s.sectorSize
			s.logger.Error("append to sector %d failed: %v", s.active, err)
			return hwErr("append entry", err)
		}
		if attempt > 0 {
			return fmt.Errorf("%w: %d byte entry does not fit after garbage collection",
				ErrStorageExhausted, entry.Size(len(key), len(value)))
		}
		if err := s.rotate(); err != nil {
			return err
		}
	}
}

// Get copies the value of key into buf and returns its length. buf is left
// untouched on every error.
func (s *Store) Get(key, buf []byte) (int, error) {
	start := time.Now()
	value, err := s.read(key, len(buf))
	n := 0
	if err == nil {
		n = copy(buf, value)
	}
	s.observe(stats.OpGet, start, n, err)
	return n, err
}

// Value returns a copy of the value stored under key
func (s *Store) Value(key []byte) ([]byte, error) {
	start := time.Now()
	value, err := s.read(key, -1)
	s.observe(stats.OpGet, start, len(value), err)
	return value, err
}

// read returns a freshly read and verified value. A non-negative limit
// fails with ErrBufferTooSmall before the payload is read.
func (s *Store) read(key []byte, limit int) ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if err := s.checkKey(key); err != nil {
		return nil, err
	}

	off, ok := s.index.Find(key)
	if !ok {
		return nil, ErrKeyNotFound
	}

	h, err := entry.ReadHeader(s.dev, s.activeAddr(), off)
	if err != nil {
		return nil, hwErr("read entry header", err)
	}
	if h.State != entry.StateValid {
		return nil, fmt.Errorf("%w: key %q at offset %d is %s", ErrNotValid, key, off, h.State)
	}
	if limit >= 0 && int(h.DataLen) > limit {
		return nil, fmt.Errorf("%w: value is %d bytes, buffer %d", ErrBufferTooSmall, h.DataLen, limit)
	}

	_, value, err := entry.ReadPayload(s.dev, s.activeAddr(), off, h)
	if errors.Is(err, entry.ErrCrcMismatch) {
		s.logger.Warn("checksum mismatch for key %q at sector %d offset %d", key, s.active, off)
		s.metrics.RecordCorruption(context.Background(), s.active, "crc_mismatch")
		return nil, fmt.Errorf("key %q: %w", key, err)
	}
	if err != nil {
		return nil, hwErr("read entry payload", err)
	}
	s.stats.TrackBytes(false, uint64(h.Size()))
	return value, nil
}

// Delete marks the newest entry of key Deleted and drops it from the index
func (s *Store) Delete(key []byte) error {
	start := time.Now()
	err := s.delete(key)
	s.observe(stats.OpDelete, start, 0, err)
	return err
}

func (s *Store) delete(key []byte) error {
	if s.closed {
		return ErrClosed
	}
	if err := s.checkKey(key); err != nil {
		return err
	}
	off, ok := s.index.Find(key)
	if !ok {
		return ErrKeyNotFound
	}
	if err := entry.MarkDeleted(s.dev, s.activeAddr(), off); err != nil {
		return hwErr("mark entry deleted", err)
	}
	s.index.Remove(key)
	return nil
}

// Keys returns copies of every live key in log order
func (s *Store) Keys() [][]byte {
	entries := s.index.Entries()
	keys := make([][]byte, len(entries))
	for i, e := range entries {
		keys[i] = append([]byte(nil), e.Key...)
	}
	return keys
}

// Len returns the number of live keys
func (s *Store) Len() int { return s.index.Len() }

// ActiveSector returns the index of the active sector
func (s *Store) ActiveSector() int { return s.active }

// WriteOffset returns the next append offset inside the active sector
func (s *Store) WriteOffset() uint32 { return s.offset }

// SeqID returns the sequence id of the active sector
func (s *Store) SeqID() uint32 { return s.seq }

// Sectors returns the RAM view of every sector
func (s *Store) Sectors() []SectorInfo {
	out := make([]SectorInfo, 0, s.wear.Len())
	for _, sec := range s.wear.Sectors() {
		out = append(out, SectorInfo{
			Index:      sec.Index,
			Addr:       s.sectorAddr(sec.Index),
			EraseCount: sec.EraseCount,
			State:      sec.State,
			Active:     sec.Index == s.active,
		})
	}
	return out
}

// Recovery returns what the last mount found
func (s *Store) Recovery() stats.RecoveryReport {
	return s.stats.Recovery()
}

// GetStats returns operation statistics and the store's current layout
func (s *Store) GetStats() map[string]interface{} {
	out := s.stats.GetStats()
	out["active_sector"] = s.active
	out["write_offset"] = s.offset
	out["seq_id"] = s.seq
	out["keys"] = s.index.Len()
	out["index_capacity"] = s.index.Cap()
	out["sector_count"] = s.sectorCount
	out["rotations"] = s.rotations
	out["max_erase_count"] = s.wear.MaxEraseCount()

	counts := make([]uint32, s.wear.Len())
	for i, sec := range s.wear.Sectors() {
		counts[i] = sec.EraseCount
	}
	out["erase_counts"] = counts
	return out
}

// Close detaches the store. The device is left open.
func (s *Store) Close() error {
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	s.logger.Debug("store closed: active sector %d, offset %d, seq %d", s.active, s.offset, s.seq)
	return nil
}
