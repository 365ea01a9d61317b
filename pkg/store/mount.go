package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevoDB/tinynvs/pkg/entry"
	"github.com/KevoDB/tinynvs/pkg/sector"
	"github.com/KevoDB/tinynvs/pkg/stats"
)

// recover classifies every sector, erases the ones a crash left behind and
// mounts the newest resident sector
func (s *Store) recover() error {
	start := s.stats.StartRecovery()
	var report stats.RecoveryReport

	best := -1
	var bestSeq uint32
	var stale []int

	for i := 0; i < s.sectorCount; i++ {
		h, err := sector.ReadHeader(s.dev, s.sectorAddr(i))
		if err != nil {
			return hwErr(fmt.Sprintf("read header of sector %d", i), err)
		}
		report.SectorsScanned++

		if !h.Valid() {
			s.wear.SetState(i, sector.StateErased)
			continue
		}
		s.wear.SetEraseCount(i, h.EraseCount)
		s.wear.SetState(i, h.State)
		if h.Torn {
			s.logger.Warn("sector %d has a torn state word, treating it as %s", i, h.State)
		}

		switch h.State {
		case sector.StateCopying:
			report.InterruptedGCs++
			s.logger.Warn("interrupted garbage collection found in sector %d, erasing", i)
			if err := s.eraseSector(i); err != nil {
				return err
			}
		case sector.StateUsed, sector.StateFull:
			if best < 0 || h.SeqID > bestSeq {
				if best >= 0 {
					stale = append(stale, best)
				}
				best, bestSeq = i, h.SeqID
			} else {
				stale = append(stale, i)
			}
		case sector.StateGarbage:
			stale = append(stale, i)
		}
	}

	for _, i := range stale {
		report.StaleSectors++
		s.logger.Info("erasing stale sector %d", i)
		if err := s.eraseSector(i); err != nil {
			return err
		}
	}

	if best < 0 {
		s.logger.Info("no formatted sector found, formatting sector 0")
		if err := s.formatSector(0, 1); err != nil {
			return err
		}
		if err := sector.SetState(s.dev, s.sectorAddr(0), sector.StateUsed); err != nil {
			return hwErr("activate sector 0", err)
		}
		s.wear.SetState(0, sector.StateUsed)
		s.index.Clear()
		s.active, s.seq, s.offset = 0, 1, sector.HeaderSize
	} else {
		s.active, s.seq = best, bestSeq
		next, err := s.mount(best, &report)
		if err != nil {
			return err
		}
		s.offset = next
		if s.wear.Get(best).State == sector.StateFull {
			s.offset = s.sectorSize
		}
	}

	report.EntriesRecovered = uint64(s.index.Len())
	d := time.Since(start)
	s.stats.FinishRecovery(start, report)
	s.stats.TrackOperationWithLatency(stats.OpMount, uint64(d.Nanoseconds()))
	s.metrics.RecordRecovery(context.Background(), d, report)

	s.logger.Info("mounted sector %d (seq %d, offset %d): %d keys, %d corrupt entries, %d interrupted gc, %d stale sectors",
		s.active, s.seq, s.offset, report.EntriesRecovered, report.CorruptedEntries, report.InterruptedGCs, report.StaleSectors)
	return nil
}

// mount rebuilds the index from the log in sector i and returns the next
// append offset
func (s *Store) mount(i int, report *stats.RecoveryReport) (uint32, error) {
	s.index.Clear()
	addr := s.sectorAddr(i)
	off := uint32(sector.HeaderSize)

	for off+entry.HeaderSize <= s.sectorSize {
		h, err := entry.ReadHeader(s.dev, addr, off)
		if err != nil {
			return 0, hwErr("read entry header", err)
		}
		if h.State == entry.StateEmpty {
			break
		}

		next := off + h.Size()
		if next > s.sectorSize {
			report.CorruptedEntries++
			report.DirtyTail = true
			s.logger.Warn("entry at sector %d offset %d runs past the sector end", i, off)
			s.metrics.RecordCorruption(context.Background(), i, "overrun")
			return s.sectorSize, nil
		}

		switch h.State {
		case entry.StateValid:
			key, _, err := entry.ReadPayload(s.dev, addr, off, h)
			if errors.Is(err, entry.ErrCrcMismatch) {
				report.CorruptedEntries++
				s.logger.Warn("skipping corrupt entry at sector %d offset %d", i, off)
				s.metrics.RecordCorruption(context.Background(), i, "crc_mismatch")
				break
			}
			if err != nil {
				return 0, hwErr("read entry payload", err)
			}
			if err := s.index.Update(key, off); err != nil {
				return 0, fmt.Errorf("replay sector %d: %w", i, err)
			}

		case entry.StateDeleted:
			// an older Valid entry for the key may precede this one
			key, _, err := entry.ReadPayload(s.dev, addr, off, h)
			if err == nil {
				s.index.Remove(key)
			} else if !errors.Is(err, entry.ErrCrcMismatch) {
				return 0, hwErr("read entry payload", err)
			}
		}
		off = next
	}

	dirty, err := s.dirtyFrom(addr, off)
	if err != nil {
		return 0, err
	}
	if dirty {
		report.DirtyTail = true
		s.logger.Warn("sector %d has programmed bytes past offset %d, retiring its tail", i, off)
		return s.sectorSize, nil
	}
	return off, nil
}

// dirtyFrom reports whether any byte from off to the sector end has been
// programmed
func (s *Store) dirtyFrom(addr, off uint32) (bool, error) {
	var buf [256]byte
	for off < s.sectorSize {
		n := s.sectorSize - off
		if n > uint32(len(buf)) {
			n = uint32(len(buf))
		}
		if err := s.dev.Read(addr+off, buf[:n]); err != nil {
			return false, hwErr("scan sector tail", err)
		}
		for _, b := range buf[:n] {
			if b != 0xFF {
				return true, nil
			}
		}
		off += n
	}
	return false, nil
}

// eraseSector erases sector i and bumps its RAM erase count. The count is
// not persisted until the sector is formatted again.
func (s *Store) eraseSector(i int) error {
	if err := s.dev.Erase(s.sectorAddr(i)); err != nil {
		return hwErr(fmt.Sprintf("erase sector %d", i), err)
	}
	n := s.wear.Bump(i)
	s.wear.SetState(i, sector.StateErased)
	s.stats.TrackErase()
	s.logger.Debug("erased sector %d, erase count %d", i, n)
	return nil
}

// formatSector erases sector i and writes an Empty header carrying seq
func (s *Store) formatSector(i int, seq uint32) error {
	count := s.wear.Get(i).EraseCount
	if err := sector.Format(s.dev, s.sectorAddr(i), count, seq); err != nil {
		return hwErr(fmt.Sprintf("format sector %d", i), err)
	}
	s.wear.SetEraseCount(i, count+1)
	s.wear.SetState(i, sector.StateEmpty)
	s.stats.TrackErase()
	return nil
}
