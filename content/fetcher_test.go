package content

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ar-io/wayfinder-router/gateway"
	"github.com/ar-io/wayfinder-router/health"
	"github.com/ar-io/wayfinder-router/httpclient"
	"github.com/ar-io/wayfinder-router/routing"
	"github.com/ar-io/wayfinder-router/temperature"
)

func newTestFetcher(t *testing.T, urls []string) (*Fetcher, *health.Tracker) {
	t.Helper()
	sp, err := gateway.NewStaticProvider(urls, urls)
	if err != nil {
		t.Fatalf("static provider: %v", err)
	}
	reg, err := gateway.NewRegistry(context.Background(), sp, time.Hour)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	h := health.NewTracker(3, time.Minute, 100)
	temp := temperature.New(time.Minute, 100)
	sel := &routing.RandomSelector{Health: h}

	pool := httpclient.New(httpclient.DefaultPoolConfig())
	return NewFetcher(pool, reg, h, temp, sel, 3, 2*time.Second), h
}

func TestFetchByTxIDReturnsFirstHealthyGatewayResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-ar-io-data-id", "TX123")
		w.WriteHeader(200)
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, []string{srv.URL})
	res, err := f.FetchByTxID(FetchOpts{InboundHeaders: http.Header{}}, "TX123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer res.Response.Body.Close()
	if res.GatewayURL != srv.URL {
		t.Fatalf("expected gateway %s, got %s", srv.URL, res.GatewayURL)
	}
}

// firstSelector always picks the first remaining candidate, so the order the
// gateways were configured in decides which one is tried first.
type firstSelector struct{}

func (firstSelector) Select(candidates []string) (string, error) { return candidates[0], nil }

func TestFetchFailsOverToNextGatewayOn5xx(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(502)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	}))
	defer good.Close()

	f, h := newTestFetcher(t, []string{bad.URL, good.URL})
	f.selector = firstSelector{}
	res, err := f.FetchByTxID(FetchOpts{InboundHeaders: http.Header{}}, "TX123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer res.Response.Body.Close()
	if res.GatewayURL != good.URL {
		t.Fatalf("expected failover to %s, got %s", good.URL, res.GatewayURL)
	}
	if h.State(bad.URL) == health.Healthy {
		t.Fatalf("expected bad gateway to be marked unhealthy")
	}
}

func TestRepeated5xxTripsCircuitBreaker(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(502)
	}))
	defer bad.Close()

	f, h := newTestFetcher(t, []string{bad.URL})

	// newTestFetcher's tracker has threshold 3: three separate fetches
	// against a gateway that only ever returns 5xx must accumulate three
	// consecutive failures and trip the breaker, not reset to 0 on each
	// attempt's transport-level success before the status code is checked.
	for i := 0; i < 3; i++ {
		if _, err := f.FetchByTxID(FetchOpts{InboundHeaders: http.Header{}}, "TX123"); err == nil {
			t.Fatalf("expected error from a gateway that only returns 502")
		}
	}
	if h.State(bad.URL) != health.Open {
		t.Fatalf("expected circuit breaker to trip to Open after repeated 5xx, got %s", h.State(bad.URL))
	}
}

func TestFetchReturnsNoHealthyGatewaysWhenAllFail(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(503)
	}))
	defer bad.Close()

	f, _ := newTestFetcher(t, []string{bad.URL})
	_, err := f.FetchByTxID(FetchOpts{InboundHeaders: http.Header{}}, "TX123")
	if err == nil {
		t.Fatalf("expected an error when every gateway fails")
	}
}

func TestBuildURLUsesSandboxSubdomainForRemoteTxID(t *testing.T) {
	got, err := BuildURL("https://arweave.net", "TX123", "/foo", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "https://" + gateway.Sandbox("TX123") + ".arweave.net/foo"
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestBuildURLUsesArNSSubdomainForNames(t *testing.T) {
	got, err := BuildURL("https://arweave.net", "mysite", "/foo", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "https://mysite.arweave.net/foo" {
		t.Fatalf("unexpected url: %s", got)
	}
}

func TestBuildURLUsesPathBasedRoutingForLocalhost(t *testing.T) {
	got, err := BuildURL("http://localhost:1984", "TX123", "/foo", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "http://localhost:1984/TX123/foo" {
		t.Fatalf("unexpected url: %s", got)
	}
}
