package stats

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// OperationType defines the type of operation being tracked
type OperationType string

const (
	OpSet      OperationType = "set"
	OpGet      OperationType = "get"
	OpDelete   OperationType = "delete"
	OpMount    OperationType = "mount"
	OpGC       OperationType = "gc"
	OpStaticWL OperationType = "static_wl"
)

// RecoveryReport summarises what a mount found on flash
type RecoveryReport struct {
	SectorsScanned   uint64
	EntriesRecovered uint64
	CorruptedEntries uint64
	InterruptedGCs   uint64
	StaleSectors     uint64
	DirtyTail        bool
}

// AtomicCollector collects statistics with atomic counters
type AtomicCollector struct {
	counts   map[OperationType]*atomic.Uint64
	countsMu sync.RWMutex

	lastOpTime   map[OperationType]time.Time
	lastOpTimeMu sync.RWMutex

	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
	erases       atomic.Uint64

	errors   map[string]*atomic.Uint64
	errorsMu sync.RWMutex

	recovery   RecoveryReport
	recoveryNs int64
	recoveryMu sync.RWMutex

	latencies   map[OperationType]*LatencyTracker
	latenciesMu sync.RWMutex
}

// LatencyTracker maintains running statistics about operation latencies
type LatencyTracker struct {
	count atomic.Uint64
	sum   atomic.Uint64
	max   atomic.Uint64
	min   atomic.Uint64 // zero until the first sample
}

// NewAtomicCollector creates a new statistics collector
func NewAtomicCollector() *AtomicCollector {
	return &AtomicCollector{
		counts:     make(map[OperationType]*atomic.Uint64),
		lastOpTime: make(map[OperationType]time.Time),
		errors:     make(map[string]*atomic.Uint64),
		latencies:  make(map[OperationType]*LatencyTracker),
	}
}

// TrackOperation increments the counter for the specified operation type
func (c *AtomicCollector) TrackOperation(op OperationType) {
	c.getOrCreateCounter(op).Add(1)

	c.lastOpTimeMu.Lock()
	c.lastOpTime[op] = time.Now()
	c.lastOpTimeMu.Unlock()
}

// TrackOperationWithLatency tracks an operation and its latency
func (c *AtomicCollector) TrackOperationWithLatency(op OperationType, latencyNs uint64) {
	c.TrackOperation(op)

	tracker := c.getOrCreateLatencyTracker(op)
	tracker.count.Add(1)
	tracker.sum.Add(latencyNs)

	for {
		current := tracker.max.Load()
		if latencyNs <= current || tracker.max.CompareAndSwap(current, latencyNs) {
			break
		}
	}
	for {
		current := tracker.min.Load()
		if current != 0 && latencyNs >= current {
			break
		}
		if tracker.min.CompareAndSwap(current, latencyNs) {
			break
		}
	}
}

// TrackError increments the counter for the specified error type
func (c *AtomicCollector) TrackError(errorType string) {
	c.errorsMu.RLock()
	counter, exists := c.errors[errorType]
	c.errorsMu.RUnlock()

	if !exists {
		c.errorsMu.Lock()
		if counter, exists = c.errors[errorType]; !exists {
			counter = &atomic.Uint64{}
			c.errors[errorType] = counter
		}
		c.errorsMu.Unlock()
	}

	counter.Add(1)
}

// TrackBytes adds to the read or program byte counter
func (c *AtomicCollector) TrackBytes(isWrite bool, bytes uint64) {
	if isWrite {
		c.bytesWritten.Add(bytes)
	} else {
		c.bytesRead.Add(bytes)
	}
}

// TrackErase counts one sector erase
func (c *AtomicCollector) TrackErase() {
	c.erases.Add(1)
}

// StartRecovery resets recovery statistics
func (c *AtomicCollector) StartRecovery() time.Time {
	c.recoveryMu.Lock()
	c.recovery = RecoveryReport{}
	c.recoveryNs = 0
	c.recoveryMu.Unlock()
	return time.Now()
}

// FinishRecovery stores the outcome of a mount
func (c *AtomicCollector) FinishRecovery(startTime time.Time, report RecoveryReport) {
	c.recoveryMu.Lock()
	c.recovery = report
	c.recoveryNs = time.Since(startTime).Nanoseconds()
	c.recoveryMu.Unlock()
}

// Recovery returns the report of the last mount
func (c *AtomicCollector) Recovery() RecoveryReport {
	c.recoveryMu.RLock()
	defer c.recoveryMu.RUnlock()
	return c.recovery
}

// GetStats returns all statistics as a map
func (c *AtomicCollector) GetStats() map[string]interface{} {
	stats := make(map[string]interface{})

	c.countsMu.RLock()
	for op, counter := range c.counts {
		stats[string(op)+"_ops"] = counter.Load()
	}
	c.countsMu.RUnlock()

	c.lastOpTimeMu.RLock()
	for op, timestamp := range c.lastOpTime {
		stats["last_"+string(op)+"_time"] = timestamp.UnixNano()
	}
	c.lastOpTimeMu.RUnlock()

	stats["total_bytes_read"] = c.bytesRead.Load()
	stats["total_bytes_written"] = c.bytesWritten.Load()
	stats["erase_count"] = c.erases.Load()

	c.errorsMu.RLock()
	errorStats := make(map[string]uint64, len(c.errors))
	for errType, counter := range c.errors {
		errorStats[errType] = counter.Load()
	}
	c.errorsMu.RUnlock()
	stats["errors"] = errorStats

	c.recoveryMu.RLock()
	recovery := map[string]interface{}{
		"sectors_scanned":   c.recovery.SectorsScanned,
		"entries_recovered": c.recovery.EntriesRecovered,
		"corrupted_entries": c.recovery.CorruptedEntries,
		"interrupted_gcs":   c.recovery.InterruptedGCs,
		"stale_sectors":     c.recovery.StaleSectors,
		"dirty_tail":        c.recovery.DirtyTail,
	}
	if c.recoveryNs > 0 {
		recovery["duration_us"] = c.recoveryNs / int64(time.Microsecond)
	}
	c.recoveryMu.RUnlock()
	stats["recovery"] = recovery

	c.latenciesMu.RLock()
	for op, tracker := range c.latencies {
		count := tracker.count.Load()
		if count == 0 {
			continue
		}
		latencyStats := map[string]interface{}{
			"count":  count,
			"avg_ns": tracker.sum.Load() / count,
		}
		if min := tracker.min.Load(); min != 0 {
			latencyStats["min_ns"] = min
		}
		if max := tracker.max.Load(); max != 0 {
			latencyStats["max_ns"] = max
		}
		stats[string(op)+"_latency"] = latencyStats
	}
	c.latenciesMu.RUnlock()

	return stats
}

// GetStatsFiltered returns statistics filtered by prefix
func (c *AtomicCollector) GetStatsFiltered(prefix string) map[string]interface{} {
	filtered := make(map[string]interface{})
	for key, value := range c.GetStats() {
		if strings.HasPrefix(key, prefix) {
			filtered[key] = value
		}
	}
	return filtered
}

func (c *AtomicCollector) getOrCreateCounter(op OperationType) *atomic.Uint64 {
	c.countsMu.RLock()
	counter, exists := c.counts[op]
	c.countsMu.RUnlock()

	if !exists {
		c.countsMu.Lock()
		if counter, exists = c.counts[op]; !exists {
			counter = &atomic.Uint64{}
			c.counts[op] = counter
		}
		c.countsMu.Unlock()
	}

	return counter
}

func (c *AtomicCollector) getOrCreateLatencyTracker(op OperationType) *LatencyTracker {
	c.latenciesMu.RLock()
	tracker, exists := c.latencies[op]
	c.latenciesMu.RUnlock()

	if !exists {
		c.latenciesMu.Lock()
		if tracker, exists = c.latencies[op]; !exists {
			tracker = &LatencyTracker{}
			c.latencies[op] = tracker
		}
		c.latenciesMu.Unlock()
	}

	return tracker
}
