package content

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ar-io/wayfinder-router/httpclient"
)

// HTTPDigestFetcher issues a HEAD request to a verification gateway and
// reads its reported content digest from the x-ar-io-digest header. No
// fallback probe is made: a gateway that does not report a digest header
// cannot participate in the quorum for that request.
type HTTPDigestFetcher struct {
	pool    *httpclient.Pool
	timeout time.Duration
}

// NewHTTPDigestFetcher wires a digest fetcher against the shared connection
// pool used for routed fetches.
func NewHTTPDigestFetcher(pool *httpclient.Pool, timeout time.Duration) *HTTPDigestFetcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPDigestFetcher{pool: pool, timeout: timeout}
}

// FetchDigest implements DigestFetcher.
func (h *HTTPDigestFetcher) FetchDigest(ctx context.Context, gatewayURL, txid string) (string, error) {
	url := strings.TrimSuffix(gatewayURL, "/") + "/" + txid

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("x-ar-io-component", "wayfinder-router")

	host := gatewayURL
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	client := h.pool.GetClient(host, h.timeout)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("gateway %s returned %d for digest probe", gatewayURL, resp.StatusCode)
	}

	digest := resp.Header.Get("x-ar-io-digest")
	if digest == "" {
		return "", fmt.Errorf("gateway %s did not report a digest", gatewayURL)
	}
	return digest, nil
}
