// Package temperature implements the sliding-window performance tracker
// (spec §4.5): a 1-100 score per gateway blending recent success rate,
// recent latency, and ping latency, used for weighted gateway selection.
package temperature

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"
)

const (
	defaultScore   = 50.0
	successWeight  = 28.0
	latencyWeight  = 0.7
	pingWeight     = 0.5
	minScore       = 1.0
	maxScore       = 100.0
	pingStaleAfter = 8 * time.Hour
	maxLatencySamples = 100
)

type record struct {
	latencies  []uint32 // ring-style bounded slice, oldest-first
	successes  uint64
	failures   uint64
	lastUpdated time.Time

	pingLatencyMs uint32
	pingUpdatedAt time.Time
	hasPing       bool
}

// Tracker is the per-gateway sliding-window temperature tracker.
type Tracker struct {
	mu          sync.Mutex
	records     map[string]*record
	window      time.Duration
	maxGateways int
	lastPrune   time.Time
}

// New creates a Tracker with the given sliding window (default 5 minutes if
// zero) and maximum tracked gateway count (default 500 if zero).
func New(window time.Duration, maxGateways int) *Tracker {
	if window <= 0 {
		window = 5 * time.Minute
	}
	if maxGateways <= 0 {
		maxGateways = 500
	}
	return &Tracker{
		records:     make(map[string]*record),
		window:      window,
		maxGateways: maxGateways,
	}
}

func (t *Tracker) getOrCreate(g string) *record {
	r, ok := t.records[g]
	if !ok {
		r = &record{}
		t.records[g] = r
	}
	if !r.lastUpdated.IsZero() && time.Since(r.lastUpdated) > t.window {
		r.latencies = nil
		r.successes = 0
		r.failures = 0
	}
	return r
}

// RecordSuccess records a successful request's latency.
func (t *Tracker) RecordSuccess(g string, latencyMs uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.getOrCreate(g)
	r.successes++
	r.latencies = append(r.latencies, latencyMs)
	if len(r.latencies) > maxLatencySamples {
		r.latencies = r.latencies[len(r.latencies)-maxLatencySamples:]
	}
	r.lastUpdated = time.Now()
	t.pruneLocked()
}

// RecordFailure records a failed request.
func (t *Tracker) RecordFailure(g string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.getOrCreate(g)
	r.failures++
	r.lastUpdated = time.Now()
	t.pruneLocked()
}

// RecordPing records a background probe's latency.
func (t *Tracker) RecordPing(g string, latencyMs uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.getOrCreate(g)
	r.pingLatencyMs = latencyMs
	r.pingUpdatedAt = time.Now()
	r.hasPing = true
	t.pruneLocked()
}

// latencyBonus implements the lb(x) function from spec §4.5.
func latencyBonus(ms float64) float64 {
	switch {
	case ms < 100:
		return 30
	case ms < 250:
		return 15
	case ms < 500:
		return 0
	case ms < 1000:
		return -15
	default:
		return -30
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func mean(xs []uint32) (float64, bool) {
	if len(xs) == 0 {
		return 0, false
	}
	var sum uint64
	for _, x := range xs {
		sum += uint64(x)
	}
	return float64(sum) / float64(len(xs)), true
}

// Score computes the current 1-100 score for g. An untracked gateway
// returns the default score.
func (t *Tracker) Score(g string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scoreLocked(g)
}

func (t *Tracker) scoreLocked(g string) float64 {
	r, ok := t.records[g]
	if !ok {
		return defaultScore
	}

	score := defaultScore

	total := r.successes + r.failures
	if total > 0 {
		successRate := float64(r.successes) / float64(total)
		score += (successRate - 0.5) * successWeight
	}

	if avg, ok := mean(r.latencies); ok {
		score += latencyBonus(avg) * latencyWeight
	}

	if r.hasPing && time.Since(r.pingUpdatedAt) <= pingStaleAfter {
		score += latencyBonus(float64(r.pingLatencyMs)) * pingWeight
	}

	return clamp(score, minScore, maxScore)
}

// AllScores returns the current score for every tracked gateway among
// candidates; untracked candidates get the default score.
func (t *Tracker) AllScores(candidates []string) map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		out[c] = t.scoreLocked(c)
	}
	return out
}

// AvgLatency returns the mean of g's recent latency samples, or false if
// there are none.
func (t *Tracker) AvgLatency(g string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[g]
	if !ok {
		return 0, false
	}
	return mean(r.latencies)
}

// SelectWeighted draws one candidate with probability proportional to its
// score. Empty candidates is an error (returns false); a singleton returns
// deterministically.
func (t *Tracker) SelectWeighted(candidates []string) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	if len(candidates) == 1 {
		return candidates[0], true
	}

	t.mu.Lock()
	scores := make([]float64, len(candidates))
	var total float64
	for i, c := range candidates {
		scores[i] = t.scoreLocked(c)
		total += scores[i]
	}
	t.mu.Unlock()

	if total <= 0 {
		return candidates[rand.Intn(len(candidates))], true
	}

	u := rand.Float64() * total
	for i, s := range scores {
		u -= s
		if u <= 0 {
			return candidates[i], true
		}
	}
	return candidates[len(candidates)-1], true
}

// Percentile computes the p-th percentile (0-100) of g's recent latency
// samples using ceiling-index convention. Requires at least 5 samples.
func (t *Tracker) Percentile(g string, p float64) (float64, bool) {
	t.mu.Lock()
	r, ok := t.records[g]
	var samples []uint32
	if ok {
		samples = append(samples, r.latencies...)
	}
	t.mu.Unlock()

	if len(samples) < 5 {
		return 0, false
	}
	sorted := append([]uint32(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(math.Ceil(clamp(float64(len(sorted))*p/100.0, 1, float64(len(sorted)))))
	return float64(sorted[idx-1]), true
}

// pruneLocked runs opportunistic garbage collection at most once per window:
// drop records untouched for 2x the window, then if still over budget drop
// the oldest by lastUpdated. Caller must hold t.mu.
func (t *Tracker) pruneLocked() {
	now := time.Now()
	if !t.lastPrune.IsZero() && now.Sub(t.lastPrune) < t.window {
		return
	}
	t.lastPrune = now

	for g, r := range t.records {
		if now.Sub(r.lastUpdated) > 2*t.window {
			delete(t.records, g)
		}
	}

	if len(t.records) <= t.maxGateways {
		return
	}

	type kv struct {
		key string
		at  time.Time
	}
	all := make([]kv, 0, len(t.records))
	for g, r := range t.records {
		all = append(all, kv{g, r.lastUpdated})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })

	excess := len(t.records) - t.maxGateways
	for i := 0; i < excess; i++ {
		delete(t.records, all[i].key)
	}
}
