// ABOUTME: Store telemetry: operation latency, garbage collection, corruption, recovery and wear leveling
// ABOUTME: A nil Telemetry yields a no-op implementation

package store

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/KevoDB/tinynvs/pkg/stats"
	"github.com/KevoDB/tinynvs/pkg/telemetry"
)

// Metrics records store telemetry.
type Metrics interface {
	// RecordOperation records a Set, Get or Delete.
	RecordOperation(ctx context.Context, op string, duration time.Duration, bytes int, err error)

	// RecordGC records one sector rotation.
	RecordGC(ctx context.Context, duration time.Duration, src, dst int, moved int, err error)

	// RecordCorruption records an entry dropped for a failed checksum or torn write.
	RecordCorruption(ctx context.Context, sectorIdx int, reason string)

	// RecordRecovery records the outcome of a mount.
	RecordRecovery(ctx context.Context, duration time.Duration, report stats.RecoveryReport)

	// RecordStaticWL records a static wear-leveling reclaim.
	RecordStaticWL(ctx context.Context, sectorIdx int, spread uint32)
}

type storeMetrics struct {
	tel telemetry.Telemetry
}

// NewMetrics creates store metrics backed by tel.
func NewMetrics(tel telemetry.Telemetry) Metrics {
	if tel == nil {
		return noopMetrics{}
	}
	return &storeMetrics{tel: tel}
}

func status(err error) string {
	if err != nil {
		return telemetry.StatusError
	}
	return telemetry.StatusSuccess
}

func (m *storeMetrics) RecordOperation(ctx context.Context, op string, duration time.Duration, bytes int, err error) {
	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStore),
		attribute.String(telemetry.AttrOperationType, op),
		attribute.String(telemetry.AttrStatus, status(err)),
	}
	if err != nil {
		attrs = append(attrs, attribute.String(telemetry.AttrErrorType, errorKind(err)))
	}

	m.tel.RecordHistogram(ctx, "tinynvs.store.operation.duration", duration.Seconds(), attrs...)
	m.tel.RecordCounter(ctx, "tinynvs.store.operations.total", 1, attrs...)
	if bytes > 0 && err == nil {
		telemetry.RecordBytes(ctx, m.tel, "tinynvs.store.operation.bytes", int64(bytes),
			attribute.String(telemetry.AttrOperationType, op),
		)
	}
}

func (m *storeMetrics) RecordGC(ctx context.Context, duration time.Duration, src, dst int, moved int, err error) {
	m.tel.RecordHistogram(ctx, "tinynvs.store.gc.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentStore),
		attribute.String(telemetry.AttrStatus, status(err)),
	)
	m.tel.RecordCounter(ctx, "tinynvs.store.gc.entries_moved", int64(moved),
		attribute.Int("src", src),
		attribute.Int("dst", dst),
	)
}

func (m *storeMetrics) RecordCorruption(ctx context.Context, sectorIdx int, reason string) {
	m.tel.RecordCounter(ctx, "tinynvs.store.corruption.total", 1,
		attribute.Int(telemetry.AttrSector, sectorIdx),
		attribute.String(telemetry.AttrReason, reason),
	)
}

func (m *storeMetrics) RecordRecovery(ctx context.Context, duration time.Duration, report stats.RecoveryReport) {
	m.tel.RecordHistogram(ctx, "tinynvs.store.recovery.duration", duration.Seconds(),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeMount),
	)
	m.tel.RecordCounter(ctx, "tinynvs.store.recovery.entries", int64(report.EntriesRecovered))
	m.tel.RecordCounter(ctx, "tinynvs.store.recovery.interrupted_gc", int64(report.InterruptedGCs))
	m.tel.RecordCounter(ctx, "tinynvs.store.recovery.stale_sectors", int64(report.StaleSectors))
}

func (m *storeMetrics) RecordStaticWL(ctx context.Context, sectorIdx int, spread uint32) {
	m.tel.RecordCounter(ctx, "tinynvs.store.static_wl.total", 1,
		attribute.Int(telemetry.AttrSector, sectorIdx),
		attribute.Int64("spread", int64(spread)),
	)
}

type noopMetrics struct{}

func (noopMetrics) RecordOperation(context.Context, string, time.Duration, int, error) {}
func (noopMetrics) RecordGC(context.Context, time.Duration, int, int, int, error) {}
func (noopMetrics) RecordCorruption(context.Context, int, string) {}
func (noopMetrics) RecordRecovery(context.Context, time.Duration, stats.RecoveryReport) {}
func (noopMetrics) RecordStaticWL(context.Context, int, uint32) {}
