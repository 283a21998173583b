package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Provider supplies the router with the current set of routing and
// verification gateways. Implementations refresh on their own cadence;
// callers should treat the returned slices as an immutable snapshot.
type Provider interface {
	RoutingGateways(ctx context.Context) ([]Gateway, error)
	VerificationGateways(ctx context.Context) ([]Gateway, error)
}

// StaticProvider serves a fixed, configuration-supplied gateway set. It is
// the default provider for local runs and tests.
type StaticProvider struct {
	mu            sync.RWMutex
	routing       []Gateway
	verification  []Gateway
}

// NewStaticProvider builds a provider from lists of gateway URLs.
// Verification gateways are always marked Trusted.
func NewStaticProvider(routingURLs, verificationURLs []string) (*StaticProvider, error) {
	routing, err := parseGateways(routingURLs, false)
	if err != nil {
		return nil, fmt.Errorf("routing gateways: %w", err)
	}
	verification, err := parseGateways(verificationURLs, true)
	if err != nil {
		return nil, fmt.Errorf("verification gateways: %w", err)
	}
	return &StaticProvider{routing: routing, verification: verification}, nil
}

func parseGateways(urls []string, trusted bool) ([]Gateway, error) {
	gateways := make([]Gateway, 0, len(urls))
	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		host := raw
		if i := strings.Index(raw, "://"); i >= 0 {
			host = raw[i+3:]
		}
		host = strings.TrimSuffix(host, "/")
		gateways = append(gateways, Gateway{URL: strings.TrimSuffix(raw, "/"), Host: host, Trusted: trusted})
	}
	if len(gateways) == 0 {
		return nil, fmt.Errorf("no gateways configured")
	}
	return gateways, nil
}

func (s *StaticProvider) RoutingGateways(ctx context.Context) ([]Gateway, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Gateway, len(s.routing))
	copy(out, s.routing)
	return out, nil
}

func (s *StaticProvider) VerificationGateways(ctx context.Context) ([]Gateway, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Gateway, len(s.verification))
	copy(out, s.verification)
	return out, nil
}

// Replace swaps the gateway lists, used by callers that refresh the static
// set out of band (e.g. a SIGHUP reload).
func (s *StaticProvider) Replace(routing, verification []Gateway) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routing = routing
	s.verification = verification
}

// Registry is a thin, cached facade over a Provider: it refreshes the
// gateway lists on a ticker so hot-path callers never block on network I/O
// to learn the current set.
type Registry struct {
	mu           sync.RWMutex
	provider     Provider
	routing      []Gateway
	verification []Gateway
	refreshEvery time.Duration
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewRegistry wraps provider with a periodic refresh cache. An initial
// synchronous refresh is performed so the registry is immediately usable.
func NewRegistry(ctx context.Context, provider Provider, refreshEvery time.Duration) (*Registry, error) {
	if refreshEvery <= 0 {
		refreshEvery = time.Minute
	}
	r := &Registry{provider: provider, refreshEvery: refreshEvery, done: make(chan struct{})}
	if err := r.refresh(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) refresh(ctx context.Context) error {
	routing, err := r.provider.RoutingGateways(ctx)
	if err != nil {
		return err
	}
	verification, err := r.provider.VerificationGateways(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.routing = routing
	r.verification = verification
	r.mu.Unlock()
	return nil
}

// Start begins the background refresh loop.
func (r *Registry) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.loop(ctx)
}

// Stop halts the background refresh loop and waits for it to exit.
func (r *Registry) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
}

func (r *Registry) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.refreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.refresh(ctx) // best effort: keep serving the stale snapshot on error
		}
	}
}

// RoutingGateways returns the last-refreshed routing gateway snapshot.
func (r *Registry) RoutingGateways() []Gateway {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Gateway, len(r.routing))
	copy(out, r.routing)
	return out
}

// VerificationGateways returns the last-refreshed verification gateway
// snapshot.
func (r *Registry) VerificationGateways() []Gateway {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Gateway, len(r.verification))
	copy(out, r.verification)
	return out
}
