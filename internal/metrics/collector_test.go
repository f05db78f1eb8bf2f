package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestCollector_CountsRuns(t *testing.T) {
	c := NewCollector()

	c.RunStarted()
	c.RunStarted()
	c.RunStarted()
	c.RunCompleted(8, 2*time.Second)
	c.RunFailed("stream")

	snap := c.Snapshot()
	if snap["runs_started"] != int64(3) {
		t.Errorf("runs_started = %v, want 3", snap["runs_started"])
	}
	if snap["runs_completed"] != int64(1) {
		t.Errorf("runs_completed = %v, want 1", snap["runs_completed"])
	}
	if snap["runs_failed"] != int64(1) {
		t.Errorf("runs_failed = %v, want 1", snap["runs_failed"])
	}
	if snap["runs_active"] != int64(1) {
		t.Errorf("runs_active = %v, want 1", snap["runs_active"])
	}
	if snap["slides_generated"] != int64(8) {
		t.Errorf("slides_generated = %v, want 8", snap["slides_generated"])
	}
}

func TestCollector_DurationAggregates(t *testing.T) {
	c := NewCollector()

	c.RunCompleted(4, 2*time.Second)
	c.RunCompleted(4, 6*time.Second)
	c.RunCompleted(4, 4*time.Second)

	snap := c.Snapshot()
	if snap["avg_duration_ms"] != int64(4000) {
		t.Errorf("avg_duration_ms = %v, want 4000", snap["avg_duration_ms"])
	}
	if snap["min_duration_ms"] != int64(2000) {
		t.Errorf("min_duration_ms = %v, want 2000", snap["min_duration_ms"])
	}
	if snap["max_duration_ms"] != int64(6000) {
		t.Errorf("max_duration_ms = %v, want 6000", snap["max_duration_ms"])
	}
}

func TestCollector_FailuresByStage(t *testing.T) {
	c := NewCollector()

	c.RunFailed("outline")
	c.RunFailed("stream")
	c.RunFailed("stream")
	c.RunFailed("")

	snap := c.Snapshot()
	stages, ok := snap["failures_by_stage"].(map[string]int64)
	if !ok {
		t.Fatalf("failures_by_stage has type %T", snap["failures_by_stage"])
	}
	if stages["outline"] != 1 || stages["stream"] != 2 || stages["unknown"] != 1 {
		t.Errorf("unexpected stage counts: %v", stages)
	}

	// Mutating the snapshot must not touch the collector.
	stages["stream"] = 99
	snap2 := c.Snapshot()
	if snap2["failures_by_stage"].(map[string]int64)["stream"] != 2 {
		t.Error("snapshot map should be a copy")
	}
}

func TestCollector_EmptySnapshot(t *testing.T) {
	c := NewCollector()

	snap := c.Snapshot()
	if snap["runs_started"] != int64(0) {
		t.Errorf("runs_started = %v, want 0", snap["runs_started"])
	}
	if snap["avg_duration_ms"] != int64(0) {
		t.Errorf("avg_duration_ms = %v, want 0", snap["avg_duration_ms"])
	}
	if _, ok := snap["uptime_ms"].(int64); !ok {
		t.Error("expected uptime_ms in snapshot")
	}
}

func TestCollector_ConcurrentUpdates(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.RunStarted()
				c.RunCompleted(1, time.Millisecond)
			}
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	if snap["runs_started"] != int64(1000) {
		t.Errorf("runs_started = %v, want 1000", snap["runs_started"])
	}
	if snap["runs_completed"] != int64(1000) {
		t.Errorf("runs_completed = %v, want 1000", snap["runs_completed"])
	}
}
