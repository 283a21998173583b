package arns

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ar-io/wayfinder-router/gateway"
)

// fakeTransport answers HEAD requests based on which configured gateway
// host the request's subdomain was built from, without any real network
// I/O, so consensus logic can be tested deterministically.
type fakeTransport struct {
	responses map[string]http.Header // gateway host -> headers to return
	fail      map[string]bool
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	host := req.URL.Host
	for gwHost, hdrs := range f.responses {
		if strings.HasSuffix(host, gwHost) {
			if f.fail[gwHost] {
				return nil, &net404Error{}
			}
			resp := &http.Response{
				StatusCode: 200,
				Header:     hdrs,
				Body:       http.NoBody,
			}
			return resp, nil
		}
	}
	return &http.Response{StatusCode: 404, Header: http.Header{}, Body: http.NoBody}, nil
}

type net404Error struct{}

func (*net404Error) Error() string { return "simulated transport failure" }

func newRegistry(t *testing.T, hosts []string) *gateway.Registry {
	urls := make([]string, len(hosts))
	for i, h := range hosts {
		urls[i] = "https://" + h
	}
	sp, err := gateway.NewStaticProvider(urls, urls)
	if err != nil {
		t.Fatalf("static provider: %v", err)
	}
	reg, err := gateway.NewRegistry(context.Background(), sp, time.Hour)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func TestResolveAgreesOnConsensus(t *testing.T) {
	hosts := []string{"gw1.example", "gw2.example", "gw3.example"}
	reg := newRegistry(t, hosts)

	hdr := http.Header{}
	hdr.Set("x-arns-resolved-id", "TX1")
	hdr.Set("x-arns-ttl-seconds", "60")

	ft := &fakeTransport{responses: map[string]http.Header{
		"gw1.example": hdr, "gw2.example": hdr, "gw3.example": hdr,
	}}
	client := &http.Client{Transport: ft}

	r := New(reg, client, 2, time.Second, zerolog.Nop(), nil)
	res, err := r.Resolve(context.Background(), "mysite")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TxID != "TX1" {
		t.Fatalf("expected TX1, got %s", res.TxID)
	}
	if res.TTL != 60*time.Second {
		t.Fatalf("expected 60s ttl, got %v", res.TTL)
	}
}

func TestResolveFailsOnMismatchWithoutArbitration(t *testing.T) {
	hosts := []string{"gw1.example", "gw2.example", "gw3.example"}
	reg := newRegistry(t, hosts)

	hdrA := http.Header{}
	hdrA.Set("x-arns-resolved-id", "TX1")
	hdrB := http.Header{}
	hdrB.Set("x-arns-resolved-id", "TX2")

	ft := &fakeTransport{responses: map[string]http.Header{
		"gw1.example": hdrA, "gw2.example": hdrA, "gw3.example": hdrB,
	}}
	client := &http.Client{Transport: ft}

	r := New(reg, client, 2, time.Second, zerolog.Nop(), nil)
	_, err := r.Resolve(context.Background(), "mysite")
	if err == nil {
		t.Fatalf("expected consensus mismatch error")
	}
}

func TestResolveFailsBelowThreshold(t *testing.T) {
	hosts := []string{"gw1.example", "gw2.example", "gw3.example"}
	reg := newRegistry(t, hosts)

	hdr := http.Header{}
	hdr.Set("x-arns-resolved-id", "TX1")

	ft := &fakeTransport{
		responses: map[string]http.Header{"gw1.example": hdr, "gw2.example": hdr, "gw3.example": hdr},
		fail:      map[string]bool{"gw2.example": true, "gw3.example": true},
	}
	client := &http.Client{Transport: ft}

	r := New(reg, client, 2, time.Second, zerolog.Nop(), nil)
	_, err := r.Resolve(context.Background(), "mysite")
	if err == nil {
		t.Fatalf("expected resolution-failed error below threshold")
	}
}

func TestResolveCachesResult(t *testing.T) {
	hosts := []string{"gw1.example", "gw2.example"}
	reg := newRegistry(t, hosts)

	calls := 0
	hdr := http.Header{}
	hdr.Set("x-arns-resolved-id", "TX1")
	ft := &countingTransport{inner: &fakeTransport{responses: map[string]http.Header{
		"gw1.example": hdr, "gw2.example": hdr,
	}}, calls: &calls}
	client := &http.Client{Transport: ft}

	r := New(reg, client, 2, time.Second, zerolog.Nop(), nil)
	if _, err := r.Resolve(context.Background(), "mysite"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	firstCalls := calls
	if _, err := r.Resolve(context.Background(), "mysite"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != firstCalls {
		t.Fatalf("expected cache hit to avoid new HEAD calls, went from %d to %d", firstCalls, calls)
	}
}

type countingTransport struct {
	inner http.RoundTripper
	calls *int
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	*c.calls++
	return c.inner.RoundTrip(req)
}
