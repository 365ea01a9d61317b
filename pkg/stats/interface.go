package stats

import "time"

// Provider defines the interface for components that provide statistics
type Provider interface {
	// GetStats returns all statistics
	GetStats() map[string]interface{}

	// GetStatsFiltered returns statistics filtered by prefix
	GetStatsFiltered(prefix string) map[string]interface{}
}

// Collector interface defines methods for collecting statistics
type Collector interface {
	Provider

	// TrackOperation records a single operation
	TrackOperation(op OperationType)

	// TrackOperationWithLatency records an operation with its latency
	TrackOperationWithLatency(op OperationType, latencyNs uint64)

	// TrackError increments the counter for the specified error type
	TrackError(errorType string)

	// TrackBytes adds to the flash read or program byte counter
	TrackBytes(isWrite bool, bytes uint64)

	// TrackErase counts one sector erase
	TrackErase()

	// StartRecovery resets recovery statistics and returns the start time
	StartRecovery() time.Time

	// FinishRecovery stores the outcome of a mount
	FinishRecovery(startTime time.Time, report RecoveryReport)
}

// Ensure AtomicCollector implements the Collector interface
var _ Collector = (*AtomicCollector)(nil)
