package cognition

import (
	"sync"
	"time"
)

// Governor is a sliding-window token bucket bounding non-urgent think
// cycles. Urgent cycles never consult it.
type Governor struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	calls  []time.Time
}

// NewGovernor returns a Governor allowing limit calls per window.
func NewGovernor(limit int, window time.Duration) *Governor {
	if limit <= 0 {
		limit = 15
	}
	if window <= 0 {
		window = 300 * time.Second
	}
	return &Governor{limit: limit, window: window}
}

// Allow records a non-urgent call attempt at now and reports whether it may
// proceed. Rejected attempts are not recorded against the window.
func (g *Governor) Allow(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := now.Add(-g.window)
	kept := g.calls[:0]
	for _, t := range g.calls {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	g.calls = kept

	if len(g.calls) >= g.limit {
		return false
	}
	g.calls = append(g.calls, now)
	return true
}
