// Package httpclient provides a shared, per-origin connection-pooled HTTP
// client with configurable redirect handling and request metrics.
package httpclient

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// RedirectPolicy controls how the pooled client handles 3xx responses.
type RedirectPolicy int

const (
	// RedirectFollow follows redirects using the standard HTTP semantics:
	// 301/302 rewrite a POST to GET, 303 always rewrites to GET, and
	// 307/308 preserve the original method and body.
	RedirectFollow RedirectPolicy = iota
	// RedirectManual returns the first redirect response without following it.
	RedirectManual
	// RedirectError treats any redirect as an error.
	RedirectError
)

// PoolConfig holds connection pool configuration for one origin.
type PoolConfig struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	MaxConnsPerHost       int
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	DialTimeout           time.Duration
	KeepAlive             time.Duration
	ResponseHeaderTimeout time.Duration
	ExpectContinueTimeout time.Duration
	DisableCompression    bool
	MaxRedirects          int
	Redirect              RedirectPolicy
}

// DefaultPoolConfig returns production-grade pool defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		DialTimeout:           10 * time.Second,
		KeepAlive:             30 * time.Second,
		ResponseHeaderTimeout: 0, // governed by context deadline per request
		ExpectContinueTimeout: 1 * time.Second,
		DisableCompression:    false,
		MaxRedirects:          10,
		Redirect:              RedirectFollow,
	}
}

// Metrics tracks connection pool utilization metrics, keyed by origin.
type Metrics struct {
	ActiveRequests sync.Map // map[string]*int64
	TotalRequests  sync.Map // map[string]*int64
	TotalErrors    sync.Map // map[string]*int64
	ConnectionReuses sync.Map // map[string]*int64
}

// Pool manages shared HTTP transports and clients, one pair per origin
// ("scheme://authority"), so repeated requests to the same gateway reuse
// warm connections instead of each caller creating its own transport.
type Pool struct {
	mu         sync.RWMutex
	transports map[string]*http.Transport
	clients    map[string]*http.Client
	configs    map[string]PoolConfig
	defaults   PoolConfig
	metrics    *Metrics
}

// New creates a connection pool using defaults for any origin without an
// explicit Configure call.
func New(defaults PoolConfig) *Pool {
	return &Pool{
		transports: make(map[string]*http.Transport),
		clients:    make(map[string]*http.Client),
		configs:    make(map[string]PoolConfig),
		defaults:   defaults,
		metrics:    &Metrics{},
	}
}

// Configure sets a custom pool configuration for a specific origin.
func (p *Pool) Configure(origin string, cfg PoolConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configs[origin] = cfg
	delete(p.transports, origin)
	delete(p.clients, origin)
}

// GetTransport returns the shared transport for an origin, creating one on
// first access.
func (p *Pool) GetTransport(origin string) *http.Transport {
	p.mu.RLock()
	if t, ok := p.transports[origin]; ok {
		p.mu.RUnlock()
		return t
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.transports[origin]; ok {
		return t
	}
	cfg := p.configFor(origin)
	t := p.createTransport(cfg)
	p.transports[origin] = t
	return t
}

// GetClient returns a shared client for an origin with the given per-request
// timeout and the origin's configured redirect policy.
func (p *Pool) GetClient(origin string, timeout time.Duration) *http.Client {
	p.mu.RLock()
	c, ok := p.clients[origin]
	p.mu.RUnlock()
	if !ok {
		p.mu.Lock()
		c, ok = p.clients[origin]
		if !ok {
			c = p.newClientLocked(origin, timeout)
		}
		p.mu.Unlock()
	}

	// The cached client carries the timeout of the call that created it; a
	// caller asking for another timeout gets a copy sharing its transport.
	if c.Timeout != timeout {
		cc := *c
		cc.Timeout = timeout
		return &cc
	}
	return c
}

func (p *Pool) newClientLocked(origin string, timeout time.Duration) *http.Client {
	cfg := p.configFor(origin)
	transport := p.createTransport(cfg)
	p.transports[origin] = transport

	client := &http.Client{
		Transport: &metricsRoundTripper{
			inner:   transport,
			origin:  origin,
			metrics: p.metrics,
		},
		Timeout:       timeout,
		CheckRedirect: checkRedirect(cfg),
	}
	p.clients[origin] = client
	return client
}

func checkRedirect(cfg PoolConfig) func(*http.Request, []*http.Request) error {
	switch cfg.Redirect {
	case RedirectManual:
		return func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	case RedirectError:
		return func(req *http.Request, _ []*http.Request) error {
			return fmt.Errorf("redirect to %s refused by redirect policy", req.URL)
		}
	default:
		max := cfg.MaxRedirects
		if max <= 0 {
			max = 10
		}
		return func(req *http.Request, via []*http.Request) error {
			if len(via) >= max {
				return http.ErrUseLastResponse
			}
			return nil
		}
	}
}

// Metrics returns a snapshot of the pool's per-origin counters.
func (p *Pool) Metrics() map[string]map[string]int64 {
	result := make(map[string]map[string]int64)

	collect := func(store *sync.Map, field string) {
		store.Range(func(key, value interface{}) bool {
			name := key.(string)
			if _, ok := result[name]; !ok {
				result[name] = make(map[string]int64)
			}
			result[name][field] = atomic.LoadInt64(value.(*int64))
			return true
		})
	}
	collect(&p.metrics.TotalRequests, "total_requests")
	collect(&p.metrics.TotalErrors, "total_errors")
	collect(&p.metrics.ActiveRequests, "active_requests")
	collect(&p.metrics.ConnectionReuses, "connection_reuses")
	return result
}

// Close gracefully closes all idle connections across every origin.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.transports {
		t.CloseIdleConnections()
	}
}

func (p *Pool) configFor(origin string) PoolConfig {
	if cfg, ok := p.configs[origin]; ok {
		return cfg
	}
	return p.defaults
}

func (p *Pool) createTransport(cfg PoolConfig) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: cfg.KeepAlive,
	}

	return &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: cfg.ExpectContinueTimeout,
		DisableCompression:    cfg.DisableCompression,
		ForceAttemptHTTP2:     true,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

type metricsRoundTripper struct {
	inner   http.RoundTripper
	origin  string
	metrics *Metrics
}

func (m *metricsRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	active := m.counter(&m.metrics.ActiveRequests)
	atomic.AddInt64(active, 1)
	defer atomic.AddInt64(active, -1)

	atomic.AddInt64(m.counter(&m.metrics.TotalRequests), 1)

	resp, err := m.inner.RoundTrip(req)
	if err != nil {
		atomic.AddInt64(m.counter(&m.metrics.TotalErrors), 1)
		return nil, err
	}
	if !resp.Close {
		atomic.AddInt64(m.counter(&m.metrics.ConnectionReuses), 1)
	}
	return resp, nil
}

func (m *metricsRoundTripper) counter(store *sync.Map) *int64 {
	if val, ok := store.Load(m.origin); ok {
		return val.(*int64)
	}
	counter := new(int64)
	actual, _ := store.LoadOrStore(m.origin, counter)
	return actual.(*int64)
}
