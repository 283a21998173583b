package router

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ar-io/wayfinder-router/arns"
	"github.com/ar-io/wayfinder-router/cache"
	"github.com/ar-io/wayfinder-router/config"
	"github.com/ar-io/wayfinder-router/content"
	"github.com/ar-io/wayfinder-router/gateway"
	"github.com/ar-io/wayfinder-router/handler"
	"github.com/ar-io/wayfinder-router/health"
	"github.com/ar-io/wayfinder-router/httpclient"
	"github.com/ar-io/wayfinder-router/manifest"
	"github.com/ar-io/wayfinder-router/routing"
	"github.com/ar-io/wayfinder-router/temperature"
	"github.com/ar-io/wayfinder-router/tracker"
)

func testSetup(t *testing.T, adminToken string) http.Handler {
	t.Helper()

	cfg := &config.Config{
		Addr:                    "127.0.0.1:0",
		Env:                     "test",
		BaseDomain:              "arweave.dev",
		ConsensusThreshold:      2,
		VerificationGatewayURLs: []string{"https://a.example", "https://b.example"},
		Strategy:                config.StrategyRandom,
		GatewaySource:           config.GatewaySourceStatic,
		Mode:                    config.ModeProxy,
		RequestTimeout:          5_000_000_000,
		MaxBodyBytes:            1 << 20,
		AdminAuthToken:          adminToken,
	}

	log := zerolog.New(io.Discard).With().Timestamp().Logger()

	provider, err := gateway.NewStaticProvider([]string{"https://a.example"}, cfg.VerificationGatewayURLs)
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	registry, err := gateway.NewRegistry(context.Background(), provider, 0)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	healthTracker := health.NewTracker(5, 0, 100)
	tempTracker := temperature.New(0, 100)
	var counter uint64
	selector, err := routing.New(string(cfg.Strategy), healthTracker, tempTracker, &counter)
	if err != nil {
		t.Fatalf("selector: %v", err)
	}

	pool := httpclient.New(httpclient.DefaultPoolConfig())
	fetcher := content.NewFetcher(pool, registry, healthTracker, tempTracker, selector, 1, cfg.RequestTimeout)
	digestFetcher := content.NewHTTPDigestFetcher(pool, cfg.RequestTimeout)
	manifests := manifest.NewCache()
	verifier := content.NewVerifier(registry, digestFetcher, manifests, func(ctx context.Context, txid string) (*manifest.Manifest, error) {
		return nil, manifest.ErrNotFound
	})

	resolver := arns.New(registry, http.DefaultClient, cfg.ConsensusThreshold, cfg.RequestTimeout, log, nil)

	contentCache, err := cache.New(cache.Config{
		MemoryMaxBytes: 1 << 20,
		DiskEnabled:    false,
	}, log)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}

	reqTracker := tracker.New()

	h := handler.New(cfg, log, registry, selector, resolver, manifests, fetcher, verifier, contentCache, reqTracker)
	return New(cfg, log, h)
}

func TestWayfinderHealthzRequiresNoTokenWhenUnset(t *testing.T) {
	r := testSetup(t, "")

	req := httptest.NewRequest(http.MethodGet, "/wayfinder/healthz", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	if rw.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for /wayfinder/healthz, got %d", rw.Result().StatusCode)
	}
}

func TestWayfinderRejectsMissingAdminToken(t *testing.T) {
	r := testSetup(t, "supersecret")

	req := httptest.NewRequest(http.MethodGet, "/wayfinder/stats", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	if rw.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for /wayfinder/stats without a token, got %d", rw.Result().StatusCode)
	}
}

func TestWayfinderAcceptsValidAdminToken(t *testing.T) {
	r := testSetup(t, "supersecret")

	req := httptest.NewRequest(http.MethodGet, "/wayfinder/info", nil)
	req.Header.Set("Authorization", "Bearer supersecret")
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	if rw.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for /wayfinder/info with valid token, got %d", rw.Result().StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	r := testSetup(t, "")

	req := httptest.NewRequest(http.MethodOptions, "/wayfinder/healthz", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	if rw.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatal("expected CORS Allow-Origin header on preflight response")
	}
}

func TestSecurityHeaders(t *testing.T) {
	r := testSetup(t, "")

	req := httptest.NewRequest(http.MethodGet, "/wayfinder/healthz", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	headers := []string{"X-Content-Type-Options", "X-Frame-Options", "Referrer-Policy"}
	for _, name := range headers {
		if rw.Header().Get(name) == "" {
			t.Errorf("expected security header %s to be set", name)
		}
	}
}

func TestFaviconReturnsNoContent(t *testing.T) {
	r := testSetup(t, "")

	req := httptest.NewRequest(http.MethodGet, "/favicon.ico", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	if rw.Result().StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 for favicon, got %d", rw.Result().StatusCode)
	}
}
