// Package health tracks per-gateway circuit-breaker state: healthy,
// unhealthy, or open (temporarily excluded from selection).
package health

import (
	"sync"
	"time"

	"github.com/ar-io/wayfinder-router/lru"
)

// State is one of the three circuit-breaker states.
type State string

const (
	Healthy   State = "healthy"
	Unhealthy State = "unhealthy"
	Open      State = "open"
)

type record struct {
	state       State
	failures    int
	lastChecked time.Time
	openUntil   time.Time
}

// Size satisfies lru.Sized; health records are fixed-size, so every record
// counts for one towards the entry-count bound.
func (record) Size() int64 { return 1 }

// Tracker is the gateway-health circuit breaker (spec §4.4). It is bounded
// by maxEntries, evicting the least-recently-checked gateway once full.
type Tracker struct {
	mu        sync.Mutex
	records   *lru.Cache[string, record]
	threshold int
	resetAfter time.Duration
}

// NewTracker creates a tracker that opens a gateway's circuit after
// threshold consecutive failures, re-closing (to Unhealthy, not Healthy)
// resetAfter later.
func NewTracker(threshold int, resetAfter time.Duration, maxEntries int) *Tracker {
	if threshold <= 0 {
		threshold = 5
	}
	return &Tracker{
		records:    lru.New[string, record](maxEntries, 0, nil),
		threshold:  threshold,
		resetAfter: resetAfter,
	}
}

// RecordFailure registers a failed request against gateway g.
func (t *Tracker) RecordFailure(g string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, _ := t.records.Peek(g)
	r.failures++
	r.lastChecked = time.Now()
	if r.failures >= t.threshold && r.state != Open {
		r.state = Open
		r.openUntil = time.Now().Add(t.resetAfter)
	} else if r.state != Open {
		r.state = Unhealthy
	}
	t.records.Set(g, r)
}

// MarkHealthy clears g's failure count and circuit state. Per spec §9(i),
// this clears only the circuit breaker, not the temperature tracker's
// separate latency/success window.
func (t *Tracker) MarkHealthy(g string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, _ := t.records.Peek(g)
	r.failures = 0
	r.state = Healthy
	r.openUntil = time.Time{}
	r.lastChecked = time.Now()
	t.records.Set(g, r)
}

// IsSelectable reports whether g may currently be chosen for routing: it is
// selectable unless its circuit is open and the reset deadline hasn't
// passed. A circuit that reopens past its deadline is lazily demoted to
// Unhealthy so the caller must still observe one more success before the
// gateway is considered fully healthy again.
func (t *Tracker) IsSelectable(g string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records.Peek(g)
	if !ok {
		return true // unknown gateways are innocent until proven otherwise
	}
	if r.state != Open {
		return true
	}
	if time.Now().Before(r.openUntil) {
		return false
	}
	r.state = Unhealthy
	t.records.Set(g, r)
	return true
}

// State returns the current state for g, defaulting to Healthy for an
// unknown gateway.
func (t *Tracker) State(g string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records.Peek(g)
	if !ok {
		return Healthy
	}
	return r.state
}
