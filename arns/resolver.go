// Package arns implements the ArNS consensus resolver (spec §4.8): a
// cache-then-dedupe-then-fanout-HEAD procedure that never arbitrates a
// mismatch between trusted gateways.
package arns

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ar-io/wayfinder-router/dedupe"
	"github.com/ar-io/wayfinder-router/gateway"
)

// ErrResolutionFailed means fewer than the consensus threshold of trusted
// gateways returned a resolution.
var ErrResolutionFailed = errors.New("arns resolution failed")

// ErrConsensusMismatch means trusted gateways disagreed on the resolved
// txid. This is never arbitrated: a mismatch is treated as evidence of
// compromise, not a tie to break.
var ErrConsensusMismatch = errors.New("arns consensus mismatch")

// Resolution is a cached ArNS lookup result.
type Resolution struct {
	TxID       string
	TTL        time.Duration
	ResolvedAt time.Time
	ProcessID  string
}

func (r Resolution) expired(now time.Time) bool {
	return now.Sub(r.ResolvedAt) >= r.TTL
}

const defaultTTL = 5 * time.Minute

// Resolver resolves ArNS names to content txids via a quorum of trusted
// verification gateways.
type Resolver struct {
	registry  *gateway.Registry
	client    *http.Client
	threshold int
	timeout   time.Duration
	logger    zerolog.Logger

	mu    sync.RWMutex
	cache map[string]Resolution

	dedupe dedupe.Group[Resolution]

	mirror MirrorStore // optional, nil disables
}

// MirrorStore optionally write-throughs resolutions to a shared backing
// store (e.g. Redis) so a fleet of router instances converges after a
// restart instead of re-running consensus from cold.
type MirrorStore interface {
	Get(ctx context.Context, name string) (Resolution, bool)
	Set(ctx context.Context, name string, r Resolution)
}

// New creates a Resolver. threshold must be >= 2 (enforced by config.Validate
// at boot, not re-checked here).
func New(registry *gateway.Registry, client *http.Client, threshold int, timeout time.Duration, logger zerolog.Logger, mirror MirrorStore) *Resolver {
	return &Resolver{
		registry:  registry,
		client:    client,
		threshold: threshold,
		timeout:   timeout,
		logger:    logger.With().Str("component", "arns_resolver").Logger(),
		cache:     make(map[string]Resolution),
		mirror:    mirror,
	}
}

// Resolve looks up name (already expected lower-cased by the caller's
// ingress normalization, but normalized again here defensively).
func (r *Resolver) Resolve(ctx context.Context, name string) (Resolution, error) {
	name = strings.ToLower(name)

	if res, ok := r.cacheGet(name); ok {
		return res, nil
	}

	return r.dedupe.Do(name, func() (Resolution, error) {
		// Re-check: another caller's dedupe wait may have just populated this.
		if res, ok := r.cacheGet(name); ok {
			return res, nil
		}
		return r.consensusResolve(ctx, name)
	})
}

func (r *Resolver) cacheGet(name string) (Resolution, bool) {
	r.mu.RLock()
	res, ok := r.cache[name]
	r.mu.RUnlock()
	if ok && !res.expired(time.Now()) {
		return res, true
	}
	if r.mirror != nil {
		if res, ok := r.mirror.Get(context.Background(), name); ok && !res.expired(time.Now()) {
			r.cacheSet(name, res)
			return res, true
		}
	}
	return Resolution{}, false
}

func (r *Resolver) cacheSet(name string, res Resolution) {
	r.mu.Lock()
	r.cache[name] = res
	r.mu.Unlock()
	if r.mirror != nil {
		r.mirror.Set(context.Background(), name, res)
	}
}

type headResult struct {
	gatewayURL string
	resolvedID string
	ttlSeconds int
	processID  string
	err        error
}

func (r *Resolver) consensusResolve(ctx context.Context, name string) (Resolution, error) {
	verifiers, err := r.verificationGateways(ctx)
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}

	results := make([]headResult, len(verifiers))
	var wg sync.WaitGroup
	for i, g := range verifiers {
		wg.Add(1)
		go func(i int, g gateway.Gateway) {
			defer wg.Done()
			results[i] = r.headResolve(ctx, g, name)
		}(i, g)
	}
	wg.Wait()

	var ok []headResult
	for _, res := range results {
		if res.err == nil && res.resolvedID != "" {
			ok = append(ok, res)
		}
	}

	if len(ok) < r.threshold {
		return Resolution{}, fmt.Errorf("%w: only %d of %d trusted gateways answered (need %d)",
			ErrResolutionFailed, len(ok), len(verifiers), r.threshold)
	}

	distinct := make(map[string]bool)
	for _, res := range ok {
		distinct[res.resolvedID] = true
	}
	if len(distinct) > 1 {
		r.logger.Error().Str("name", name).Int("distinct_ids", len(distinct)).Msg("arns consensus mismatch")
		return Resolution{}, fmt.Errorf("%w for %q", ErrConsensusMismatch, name)
	}

	minTTL := -1
	for _, res := range ok {
		if res.ttlSeconds > 0 && (minTTL == -1 || res.ttlSeconds < minTTL) {
			minTTL = res.ttlSeconds
		}
	}
	ttl := defaultTTL
	if minTTL > 0 {
		ttl = time.Duration(minTTL) * time.Second
	}

	resolution := Resolution{
		TxID:       ok[0].resolvedID,
		TTL:        ttl,
		ResolvedAt: time.Now(),
		ProcessID:  ok[0].processID,
	}
	r.cacheSet(name, resolution)
	return resolution, nil
}

func (r *Resolver) headResolve(ctx context.Context, g gateway.Gateway, name string) headResult {
	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	url := fmt.Sprintf("https://%s.%s/", name, g.Host)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, url, nil)
	if err != nil {
		return headResult{gatewayURL: g.URL, err: err}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return headResult{gatewayURL: g.URL, err: err}
	}
	defer resp.Body.Close()

	ttl, _ := strconv.Atoi(resp.Header.Get("x-arns-ttl-seconds"))
	return headResult{
		gatewayURL: g.URL,
		resolvedID: resp.Header.Get("x-arns-resolved-id"),
		ttlSeconds: ttl,
		processID:  resp.Header.Get("x-arns-resolved-process-id"),
	}
}

func (r *Resolver) verificationGateways(ctx context.Context) ([]gateway.Gateway, error) {
	gws := r.registry.VerificationGateways()
	if len(gws) == 0 {
		return nil, fmt.Errorf("no verification gateways configured")
	}
	return gws, nil
}

// Invalidate removes the in-memory cached resolution. A configured mirror
// store is not cleared, so the next Resolve may still be answered from it
// until that entry's TTL expires; without a mirror, the next Resolve runs
// consensus again.
func (r *Resolver) Invalidate(name string) {
	name = strings.ToLower(name)
	r.mu.Lock()
	delete(r.cache, name)
	r.mu.Unlock()
}
