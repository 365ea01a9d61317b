package store

import (
	"context"
	"time"

	"github.com/KevoDB/tinynvs/pkg/stats"
)

// CheckStaticWL reclaims a resident sector whose erase count trails the
// most-worn sector by more than the configured threshold. It reports
// whether a sector was reclaimed.
func (s *Store) CheckStaticWL() (bool, error) {
	if s.closed {
		return false, ErrClosed
	}
	return s.checkStaticWL()
}

// checkStaticWL erases the cold sector. Only the active sector is indexed,
// so a non-active resident sector holds nothing live and needs no copy.
// Once erased it is the least-worn free sector and the next rotation lands
// in it.
func (s *Store) checkStaticWL() (bool, error) {
	cold, spread, ok := s.wear.StaticCandidate(s.active, s.wlThreshold)
	if !ok {
		return false, nil
	}

	start := time.Now()
	s.logger.Info("static wear leveling: sector %d trails by %d erases, reclaiming", cold, spread)
	if err := s.eraseSector(cold); err != nil {
		s.stats.TrackError(errorKind(err))
		return false, err
	}
	s.stats.TrackOperationWithLatency(stats.OpStaticWL, uint64(time.Since(start).Nanoseconds()))
	s.metrics.RecordStaticWL(context.Background(), cold, spread)
	return true, nil
}
