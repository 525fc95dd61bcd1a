package coordinator

import (
	"log/slog"
	"sync"
	"time"
)

// RunStats are the counters of one full resynchronization pass.
type RunStats struct {
	Expected  int           `json:"expected"`
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Buffered  int           `json:"buffered"`
	Complete  bool          `json:"complete"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// runCounters guards RunStats. Increments and the completion check happen
// under one lock so the summary is logged exactly once per pass.
type runCounters struct {
	mu     sync.Mutex
	gen    uint64
	stats  RunStats
	logger *slog.Logger
}

// reset starts a new pass and returns its generation. Records carrying an
// older generation are ignored.
func (r *runCounters) reset(expected int) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gen++
	r.stats = RunStats{Expected: expected, StartedAt: time.Now()}
	if expected == 0 {
		r.complete()
	}
	return r.gen
}

func (r *runCounters) record(gen uint64, outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if gen != r.gen || r.stats.Complete {
		return
	}

	r.stats.Attempted++
	switch outcome {
	case Delivered:
		r.stats.Succeeded++
	case Queued:
		r.stats.Buffered++
	case Failed:
		r.stats.Failed++
		r.stats.Buffered++
	case Dropped:
		r.stats.Failed++
	}

	if r.stats.Attempted == r.stats.Expected {
		r.complete()
	}
}

// complete must be called with mu held.
func (r *runCounters) complete() {
	r.stats.Complete = true
	r.stats.Duration = time.Since(r.stats.StartedAt)

	logger := r.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Full resynchronization finished",
		"expected", r.stats.Expected,
		"attempted", r.stats.Attempted,
		"succeeded", r.stats.Succeeded,
		"failed", r.stats.Failed,
		"buffered", r.stats.Buffered,
		"duration", r.stats.Duration)
}

func (r *runCounters) snapshot() RunStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
