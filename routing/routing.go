// Package routing implements the pluggable gateway-selection strategies
// (spec §4.6): fastest, random, round-robin, and temperature-weighted.
package routing

import (
	"fmt"
	"math/rand"
	"sort"
	"sync/atomic"

	"github.com/ar-io/wayfinder-router/health"
	"github.com/ar-io/wayfinder-router/temperature"
)

// Strategy names, matching config.RoutingStrategy values.
const (
	Fastest     = "fastest"
	Random      = "random"
	RoundRobin  = "round-robin"
	Temperature = "temperature"
)

// ErrNoHealthyGateways is returned when every candidate is circuit-open.
var ErrNoHealthyGateways = fmt.Errorf("no healthy gateways available")

// Selector picks one gateway URL from a candidate set.
type Selector interface {
	Select(candidates []string) (string, error)
}

// selectable filters candidates down to those whose circuit is closed.
func selectable(candidates []string, h *health.Tracker) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if h.IsSelectable(c) {
			out = append(out, c)
		}
	}
	return out
}

// FastestSelector picks the selectable candidate with the lowest average
// recent latency; unknown latency sorts last. Ties break by URL sort, and
// it does not weight by success rate (spec §9(ii)).
type FastestSelector struct {
	Health      *health.Tracker
	Temperature *temperature.Tracker
}

func (s *FastestSelector) Select(candidates []string) (string, error) {
	survivors := selectable(candidates, s.Health)
	if len(survivors) == 0 {
		return "", ErrNoHealthyGateways
	}
	sort.Slice(survivors, func(i, j int) bool {
		li, oki := s.Temperature.AvgLatency(survivors[i])
		lj, okj := s.Temperature.AvgLatency(survivors[j])
		if !oki {
			li = 1<<31 - 1
		}
		if !okj {
			lj = 1<<31 - 1
		}
		if li != lj {
			return li < lj
		}
		return survivors[i] < survivors[j]
	})
	return survivors[0], nil
}

// RandomSelector picks uniformly among selectable candidates.
type RandomSelector struct {
	Health *health.Tracker
}

func (s *RandomSelector) Select(candidates []string) (string, error) {
	survivors := selectable(candidates, s.Health)
	if len(survivors) == 0 {
		return "", ErrNoHealthyGateways
	}
	return survivors[rand.Intn(len(survivors))], nil
}

// RoundRobinSelector cycles through selectable candidates using a shared
// monotonic counter, so multiple Selector instances within one process
// still advance a single rotation.
type RoundRobinSelector struct {
	Health  *health.Tracker
	counter *uint64
}

// NewRoundRobinSelector creates a selector sharing counter with any other
// selector constructed from the same counter pointer.
func NewRoundRobinSelector(h *health.Tracker, counter *uint64) *RoundRobinSelector {
	if counter == nil {
		counter = new(uint64)
	}
	return &RoundRobinSelector{Health: h, counter: counter}
}

func (s *RoundRobinSelector) Select(candidates []string) (string, error) {
	survivors := selectable(candidates, s.Health)
	if len(survivors) == 0 {
		return "", ErrNoHealthyGateways
	}
	sort.Strings(survivors) // stable ordering so "contiguous window" guarantees hold
	n := atomic.AddUint64(s.counter, 1) - 1
	return survivors[int(n%uint64(len(survivors)))], nil
}

// TemperatureSelector picks among selectable candidates with probability
// proportional to their temperature score.
type TemperatureSelector struct {
	Health      *health.Tracker
	Temperature *temperature.Tracker
}

func (s *TemperatureSelector) Select(candidates []string) (string, error) {
	survivors := selectable(candidates, s.Health)
	if len(survivors) == 0 {
		return "", ErrNoHealthyGateways
	}
	g, ok := s.Temperature.SelectWeighted(survivors)
	if !ok {
		return "", ErrNoHealthyGateways
	}
	return g, nil
}

// New builds the Selector for a configured strategy name.
func New(strategy string, h *health.Tracker, temp *temperature.Tracker, counter *uint64) (Selector, error) {
	switch strategy {
	case Fastest:
		return &FastestSelector{Health: h, Temperature: temp}, nil
	case Random:
		return &RandomSelector{Health: h}, nil
	case RoundRobin:
		return NewRoundRobinSelector(h, counter), nil
	case Temperature:
		return &TemperatureSelector{Health: h, Temperature: temp}, nil
	default:
		return nil, fmt.Errorf("unknown routing strategy %q", strategy)
	}
}
