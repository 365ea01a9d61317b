package stats

import (
	"sync"
	"testing"
	"time"
)

func TestCollector_TrackOperation(t *testing.T) {
	collector := NewAtomicCollector()

	collector.TrackOperation(OpSet)
	collector.TrackOperation(OpSet)
	collector.TrackOperation(OpGet)

	stats := collector.GetStats()

	if stats["set_ops"].(uint64) != 2 {
		t.Errorf("Expected 2 set operations, got %v", stats["set_ops"])
	}
	if stats["get_ops"].(uint64) != 1 {
		t.Errorf("Expected 1 get operation, got %v", stats["get_ops"])
	}
	if _, exists := stats["last_set_time"]; !exists {
		t.Errorf("Expected last_set_time to exist in stats")
	}
}

func TestCollector_TrackOperationWithLatency(t *testing.T) {
	collector := NewAtomicCollector()

	collector.TrackOperationWithLatency(OpGet, 200)
	collector.TrackOperationWithLatency(OpGet, 100)
	collector.TrackOperationWithLatency(OpGet, 300)

	latencyStats, ok := collector.GetStats()["get_latency"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected get_latency to be a map")
	}
	if count := latencyStats["count"].(uint64); count != 3 {
		t.Errorf("Expected 3 latency records, got %v", count)
	}
	if avg := latencyStats["avg_ns"].(uint64); avg != 200 {
		t.Errorf("Expected average latency 200ns, got %v", avg)
	}
	if min := latencyStats["min_ns"].(uint64); min != 100 {
		t.Errorf("Expected min latency 100ns, got %v", min)
	}
	if max := latencyStats["max_ns"].(uint64); max != 300 {
		t.Errorf("Expected max latency 300ns, got %v", max)
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	collector := NewAtomicCollector()
	const goroutines = 8
	const ops = 500

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < ops; j++ {
				collector.TrackOperation(OpSet)
				collector.TrackError("crc_mismatch")
				collector.TrackBytes(true, 4)
			}
		}()
	}
	wg.Wait()

	stats := collector.GetStats()
	if got := stats["set_ops"].(uint64); got != goroutines*ops {
		t.Errorf("Expected %d set ops, got %d", goroutines*ops, got)
	}
	if got := stats["errors"].(map[string]uint64)["crc_mismatch"]; got != goroutines*ops {
		t.Errorf("Expected %d errors, got %d", goroutines*ops, got)
	}
	if got := stats["total_bytes_written"].(uint64); got != goroutines*ops*4 {
		t.Errorf("Expected %d bytes, got %d", goroutines*ops*4, got)
	}
}

func TestCollector_Recovery(t *testing.T) {
	collector := NewAtomicCollector()
	start := collector.StartRecovery()
	time.Sleep(time.Millisecond)
	collector.FinishRecovery(start, RecoveryReport{
		SectorsScanned:   4,
		EntriesRecovered: 12,
		CorruptedEntries: 1,
		InterruptedGCs:   1,
	})

	recovery := collector.GetStats()["recovery"].(map[string]interface{})
	if recovery["entries_recovered"].(uint64) != 12 {
		t.Errorf("Expected 12 recovered entries, got %v", recovery["entries_recovered"])
	}
	if recovery["interrupted_gcs"].(uint64) != 1 {
		t.Errorf("Expected 1 interrupted gc, got %v", recovery["interrupted_gcs"])
	}
	if _, ok := recovery["duration_us"]; !ok {
		t.Errorf("Expected recovery duration to be reported")
	}
	if collector.Recovery().SectorsScanned != 4 {
		t.Errorf("Expected 4 scanned sectors, got %d", collector.Recovery().SectorsScanned)
	}
}

func TestCollector_GetStatsFiltered(t *testing.T) {
	collector := NewAtomicCollector()
	collector.TrackOperation(OpGC)
	collector.TrackOperation(OpGet)
	collector.TrackErase()

	filtered := collector.GetStatsFiltered("gc")
	if _, ok := filtered["gc_ops"]; !ok {
		t.Errorf("Expected gc_ops in filtered stats")
	}
	if _, ok := filtered["get_ops"]; ok {
		t.Errorf("Did not expect get_ops in filtered stats")
	}
	if collector.GetStats()["erase_count"].(uint64) != 1 {
		t.Errorf("Expected 1 erase")
	}
}
