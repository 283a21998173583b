// Package content implements the fetch-with-failover pipeline (spec §4.10)
// and the streaming digest verifier (spec §4.11).
package content

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ar-io/wayfinder-router/gateway"
	"github.com/ar-io/wayfinder-router/health"
	"github.com/ar-io/wayfinder-router/httpclient"
	"github.com/ar-io/wayfinder-router/routing"
	"github.com/ar-io/wayfinder-router/temperature"
)

// ErrNoHealthyGateways is surfaced when every attempt exhausts the retry
// budget without a usable gateway.
var ErrNoHealthyGateways = routing.ErrNoHealthyGateways

// forwardedRequestHeaders is the allowlist of inbound headers relayed
// upstream; everything else is dropped rather than blindly forwarded.
var forwardedRequestHeaders = []string{
	"accept", "accept-encoding", "accept-language", "range", "if-none-match", "if-modified-since",
}

// Result is one successful (or retryable-failed) fetch attempt's raw
// response, prior to verification.
type Result struct {
	Response   *http.Response
	GatewayURL string
	Latency    time.Duration
}

// Fetcher selects a gateway, builds the request URL, and fetches bytes with
// retry-on-different-gateway failover.
type Fetcher struct {
	pool          *httpclient.Pool
	registry      *gateway.Registry
	health        *health.Tracker
	temperature   *temperature.Tracker
	selector      routing.Selector
	sticky        routing.StickyPicker
	retryAttempts int
	requestTimeout time.Duration
}

// NewFetcher wires the fetcher's dependencies.
func NewFetcher(pool *httpclient.Pool, registry *gateway.Registry, h *health.Tracker, temp *temperature.Tracker, selector routing.Selector, retryAttempts int, requestTimeout time.Duration) *Fetcher {
	if retryAttempts <= 0 {
		retryAttempts = 3
	}
	return &Fetcher{
		pool:           pool,
		registry:       registry,
		health:         h,
		temperature:    temp,
		selector:       selector,
		retryAttempts:  retryAttempts,
		requestTimeout: requestTimeout,
	}
}

func isLocalHost(host string) bool {
	h := host
	if i := strings.Index(h, ":"); i >= 0 {
		h = h[:i]
	}
	return h == "localhost" || h == "127.0.0.1"
}

// BuildURL constructs the upstream URL for a gateway serving txid/arns name
// at path, following the local-host path-based vs. remote sandbox/ArNS
// subdomain rules. Exported so the request pipeline can build a redirect
// target in route mode without fetching through it.
func BuildURL(gatewayURL, identifier, path string, isArNS bool) (string, error) {
	u := strings.TrimSuffix(gatewayURL, "/")
	host := u
	if i := strings.Index(u, "://"); i >= 0 {
		host = u[i+3:]
	}
	scheme := "https"
	if i := strings.Index(gatewayURL, "://"); i >= 0 {
		scheme = gatewayURL[:i]
	}

	if !strings.HasPrefix(path, "/") && path != "" {
		path = "/" + path
	}

	if isLocalHost(host) {
		return fmt.Sprintf("%s/%s%s", u, identifier, path), nil
	}

	if isArNS {
		return fmt.Sprintf("%s://%s.%s%s", scheme, identifier, host, path), nil
	}
	return fmt.Sprintf("%s://%s.%s%s", scheme, gateway.Sandbox(identifier), host, path), nil
}

// FetchOpts carries the per-request context shared by txid and ArNS fetches.
type FetchOpts struct {
	Path           string
	InboundHeaders http.Header
	TraceID        string
	// StickyKey, if non-empty, is rendezvous-hashed to pick the preferred
	// first-attempt gateway for this request's retry burst (spec §4.6).
	StickyKey string
}

// FetchByTxID fetches the content address txid/path with retry-on-failure.
func (f *Fetcher) FetchByTxID(opts FetchOpts, txid string) (*Result, error) {
	return f.fetch(opts, txid, false)
}

// FetchByArNS fetches name/path (already resolved to a txid by the caller
// for verification purposes, but the request URL uses the ArNS subdomain).
func (f *Fetcher) FetchByArNS(opts FetchOpts, name string) (*Result, error) {
	return f.fetch(opts, name, true)
}

func (f *Fetcher) fetch(opts FetchOpts, identifier string, isArNS bool) (*Result, error) {
	candidates := make([]string, 0)
	for _, g := range f.registry.RoutingGateways() {
		candidates = append(candidates, g.URL)
	}
	if len(candidates) == 0 {
		return nil, ErrNoHealthyGateways
	}

	tried := make(map[string]bool)
	var lastErr error

	for attempt := 0; attempt < f.retryAttempts; attempt++ {
		remaining := make([]string, 0, len(candidates))
		for _, c := range candidates {
			if !tried[c] {
				remaining = append(remaining, c)
			}
		}
		if len(remaining) == 0 {
			break
		}

		var chosen string
		var err error
		if attempt == 0 && opts.StickyKey != "" {
			live := make([]string, 0, len(remaining))
			for _, c := range remaining {
				if f.health.IsSelectable(c) {
					live = append(live, c)
				}
			}
			if sticky, ok := f.sticky.Pick(opts.StickyKey, live); ok {
				chosen = sticky
			}
		}
		if chosen == "" {
			chosen, err = f.selector.Select(remaining)
			if err != nil {
				lastErr = err
				break
			}
		}
		tried[chosen] = true

		result, err := f.attempt(opts, identifier, isArNS, chosen)
		if err != nil {
			f.health.RecordFailure(chosen)
			f.temperature.RecordFailure(chosen)
			lastErr = err
			continue
		}
		if result.Response.StatusCode >= 500 {
			f.health.RecordFailure(chosen)
			f.temperature.RecordFailure(chosen)
			result.Response.Body.Close()
			lastErr = fmt.Errorf("gateway %s returned %d", chosen, result.Response.StatusCode)
			continue
		}
		f.health.MarkHealthy(chosen)
		f.temperature.RecordSuccess(chosen, uint32(result.Latency.Milliseconds()))
		return result, nil
	}

	if lastErr == nil || errors.Is(lastErr, ErrNoHealthyGateways) {
		return nil, ErrNoHealthyGateways
	}
	return nil, fmt.Errorf("%w: %w", ErrNoHealthyGateways, lastErr)
}

func (f *Fetcher) attempt(opts FetchOpts, identifier string, isArNS bool, gatewayURL string) (*Result, error) {
	url, err := BuildURL(gatewayURL, identifier, opts.Path, isArNS)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	for _, h := range forwardedRequestHeaders {
		if v := opts.InboundHeaders.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}
	req.Header.Set("x-ar-io-component", "wayfinder-router")
	if opts.TraceID != "" {
		req.Header.Set("x-ar-io-trace-id", opts.TraceID)
	}

	host := gatewayURL
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	client := f.pool.GetClient(host, f.requestTimeout)

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return nil, err
	}

	return &Result{Response: resp, GatewayURL: gatewayURL, Latency: latency}, nil
}
