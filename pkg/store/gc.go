package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/KevoDB/tinynvs/pkg/entry"
	"github.com/KevoDB/tinynvs/pkg/sector"
	"github.com/KevoDB/tinynvs/pkg/stats"
)

// Rotate forces a garbage collection of the active sector into the
// least-worn free sector
func (s *Store) Rotate() error {
	if s.closed {
		return ErrClosed
	}
	return s.rotate()
}

// rotate retires the active sector and moves its live entries to the
// least-worn free sector
func (s *Store) rotate() error {
	src := s.active
	dst, ok := s.wear.LeastWornFree(src)
	if !ok {
		return fmt.Errorf("%w: no free sector", ErrStorageExhausted)
	}

	ctx, span := s.tel.StartSpan(context.Background(), "store.gc",
		attribute.Int("src", src),
		attribute.Int("dst", dst),
	)
	defer span.End()
	start := time.Now()

	if s.wear.Get(src).State != sector.StateFull {
		if err := sector.SetState(s.dev, s.sectorAddr(src), sector.StateFull); err != nil {
			s.offset = s.sectorSize
			return hwErr(fmt.Sprintf("mark sector %d full", src), err)
		}
		s.wear.SetState(src, sector.StateFull)
	}
	s.offset = s.sectorSize

	moved, err := s.collect(src, dst)
	d := time.Since(start)
	s.stats.TrackOperationWithLatency(stats.OpGC, uint64(d.Nanoseconds()))
	s.metrics.RecordGC(ctx, d, src, dst, moved, err)
	if err != nil {
		s.stats.TrackError(errorKind(err))
		span.RecordError(err)
		s.logger.Error("garbage collection %d -> %d aborted: %v", src, dst, err)
		return err
	}

	s.rotations++
	s.logger.Info("rotated sector %d -> %d (seq %d): %d live entries, offset %d",
		src, dst, s.seq, moved, s.offset)

	if s.wlInterval > 0 && s.rotations%s.wlInterval == 0 {
		if _, err := s.checkStaticWL(); err != nil {
			s.logger.Warn("static wear leveling after rotation failed: %v", err)
		}
	}
	return nil
}

type move struct {
	key    []byte
	offset uint32
}

// collect copies every indexed entry from src into a freshly formatted dst.
// The index, active sector and sequence id change only after dst is
// committed Used; any earlier failure leaves them untouched.
func (s *Store) collect(src, dst int) (int, error) {
	srcAddr, dstAddr := s.sectorAddr(src), s.sectorAddr(dst)
	nextSeq := s.seq + 1

	if err := s.formatSector(dst, nextSeq); err != nil {
		return 0, err
	}
	if err := sector.SetState(s.dev, dstAddr, sector.StateCopying); err != nil {
		return 0, hwErr(fmt.Sprintf("mark sector %d copying", dst), err)
	}
	s.wear.SetState(dst, sector.StateCopying)

	var staged []move
	var dropped [][]byte
	off := uint32(sector.HeaderSize)

	for _, e := range s.index.Entries() {
		_, key, value, err := entry.ReadAndVerify(s.dev, srcAddr, e.Offset)
		if errors.Is(err, entry.ErrCrcMismatch) || errors.Is(err, entry.ErrNotValid) {
			s.logger.Warn("dropping key %q from sector %d offset %d: %v", e.Key, src, e.Offset, err)
			s.metrics.RecordCorruption(context.Background(), src, errorKind(err))
			dropped = append(dropped, e.Key)
			continue
		}
		if err != nil {
			return 0, hwErr("read live entry", err)
		}

		next, err := entry.Append(s.dev, dstAddr, s.sectorSize, off, key, value)
		if errors.Is(err, entry.ErrSectorFull) {
			return 0, fmt.Errorf("%w: live data does not fit sector %d", ErrStorageExhausted, dst)
		}
		if err != nil {
			return 0, hwErr("copy live entry", err)
		}
		staged = append(staged, move{key: e.Key, offset: off})
		off = next
	}

	// commit point
	if err := sector.SetState(s.dev, dstAddr, sector.StateUsed); err != nil {
		return 0, hwErr(fmt.Sprintf("commit sector %d", dst), err)
	}
	s.wear.SetState(dst, sector.StateUsed)

	for _, key := range dropped {
		s.index.Remove(key)
	}
	for _, m := range staged {
		if err := s.index.Update(m.key, m.offset); err != nil {
			return 0, err
		}
	}
	s.seq = nextSeq
	s.active = dst
	s.offset = off

	// src now has a lower seq than dst and is erased at the next mount if this fails
	if err := s.eraseSector(src); err != nil {
		s.logger.Error("failed to erase retired sector %d: %v", src, err)
	}
	return len(staged), nil
}
