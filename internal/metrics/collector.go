package metrics

import (
	"sync"
	"time"
)

// Collector tracks generation activity for the current process. Durable
// per-run stats live in the database; this covers what changed since startup.
type Collector struct {
	mu sync.Mutex

	started time.Time

	runsStarted   int64
	runsCompleted int64
	runsFailed    int64

	failuresByStage map[string]int64

	slidesGenerated int64
	totalDurationMS int64
	minDurationMS   int64
	maxDurationMS   int64
}

func NewCollector() *Collector {
	return &Collector{
		started:         time.Now().UTC(),
		failuresByStage: make(map[string]int64),
	}
}

func (c *Collector) RunStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runsStarted++
}

// RunCompleted records a successful run and folds its duration into the
// min/avg/max aggregates.
func (c *Collector) RunCompleted(slideCount int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.runsCompleted++
	c.slidesGenerated += int64(slideCount)

	ms := duration.Milliseconds()
	c.totalDurationMS += ms
	if c.minDurationMS == 0 || ms < c.minDurationMS {
		c.minDurationMS = ms
	}
	if ms > c.maxDurationMS {
		c.maxDurationMS = ms
	}
}

func (c *Collector) RunFailed(stage string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.runsFailed++
	if stage == "" {
		stage = "unknown"
	}
	c.failuresByStage[stage]++
}

// Snapshot returns the current counters. The returned map is safe to hold
// after the call.
func (c *Collector) Snapshot() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	stages := make(map[string]int64, len(c.failuresByStage))
	for k, v := range c.failuresByStage {
		stages[k] = v
	}

	var avg int64
	if c.runsCompleted > 0 {
		avg = c.totalDurationMS / c.runsCompleted
	}

	return map[string]any{
		"uptime_ms":         time.Since(c.started).Milliseconds(),
		"runs_started":      c.runsStarted,
		"runs_completed":    c.runsCompleted,
		"runs_failed":       c.runsFailed,
		"runs_active":       c.runsStarted - c.runsCompleted - c.runsFailed,
		"failures_by_stage": stages,
		"slides_generated":  c.slidesGenerated,
		"avg_duration_ms":   avg,
		"min_duration_ms":   c.minDurationMS,
		"max_duration_ms":   c.maxDurationMS,
	}
}
