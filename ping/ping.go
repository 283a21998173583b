// Package ping runs the background gateway-probing service (spec §4.7):
// periodically sample a random subset of gateways and feed the results into
// the health and temperature trackers.
package ping

import (
	"context"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ar-io/wayfinder-router/gateway"
	"github.com/ar-io/wayfinder-router/health"
	"github.com/ar-io/wayfinder-router/temperature"
)

// Config tunes the ping service's cadence and sampling.
type Config struct {
	Interval    time.Duration
	SampleCount int
	Concurrency int
	Timeout     time.Duration
}

// Service is a best-effort background prober: a failed round is logged and
// simply retried on the next tick, never treated as fatal.
type Service struct {
	registry    *gateway.Registry
	health      *health.Tracker
	temperature *temperature.Tracker
	client      *http.Client
	logger      zerolog.Logger
	cfg         Config

	mu      sync.Mutex
	running bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates the ping service. cfg.Interval must be positive (Start's
// ticker panics otherwise); no minimum is enforced, so tests can run fast
// rounds.
func New(registry *gateway.Registry, h *health.Tracker, t *temperature.Tracker, client *http.Client, logger zerolog.Logger, cfg Config) *Service {
	if cfg.SampleCount <= 0 {
		cfg.SampleCount = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &Service{
		registry:    registry,
		health:      h,
		temperature: t,
		client:      client,
		logger:      logger.With().Str("component", "ping").Logger(),
		cfg:         cfg,
		done:        make(chan struct{}),
	}
}

// Start begins the background ping loop, running an initial round
// immediately.
func (s *Service) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.logger.Info().Dur("interval", s.cfg.Interval).Int("sample_count", s.cfg.SampleCount).Msg("starting ping service")
	go s.loop(ctx)
}

// Stop halts the loop and waits for the current round (if any) to finish.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
	s.logger.Info().Msg("ping service stopped")
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.done)

	s.round(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.round(ctx)
		}
	}
}

// round runs one sampling pass. Overlapping rounds are deduped: if a round
// is already in flight, the tick is skipped rather than queued.
func (s *Service) round(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Debug().Msg("skipping ping round: previous round still in flight")
		return
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	gateways := s.registry.RoutingGateways()
	if len(gateways) == 0 {
		s.logger.Warn().Msg("ping round found no gateways")
		return
	}
	sample := sampleGateways(gateways, s.cfg.SampleCount)

	sem := make(chan struct{}, s.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, g := range sample {
		wg.Add(1)
		sem <- struct{}{}
		go func(g gateway.Gateway) {
			defer wg.Done()
			defer func() { <-sem }()
			s.probe(ctx, g)
		}(g)
	}
	wg.Wait()
}

func (s *Service) probe(ctx context.Context, g gateway.Gateway) {
	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, g.URL+"/ar-io/info", nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("gateway", g.URL).Msg("failed to build ping request")
		return
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.health.RecordFailure(g.URL)
		s.temperature.RecordFailure(g.URL)
		s.logger.Debug().Err(err).Str("gateway", g.URL).Msg("ping failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.health.MarkHealthy(g.URL)
		s.temperature.RecordPing(g.URL, uint32(latency.Milliseconds()))
	} else {
		s.health.RecordFailure(g.URL)
		s.temperature.RecordFailure(g.URL)
	}
}

// sampleGateways performs a partial Fisher-Yates shuffle to uniformly pick
// up to n gateways without shuffling (and allocating for) the whole slice.
func sampleGateways(gateways []gateway.Gateway, n int) []gateway.Gateway {
	if n >= len(gateways) {
		n = len(gateways)
	}
	pool := make([]gateway.Gateway, len(gateways))
	copy(pool, gateways)

	for i := 0; i < n; i++ {
		j := i + rand.Intn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:n]
}
