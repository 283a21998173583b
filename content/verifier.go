package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/ar-io/wayfinder-router/gateway"
	"github.com/ar-io/wayfinder-router/manifest"
)

// ErrVerificationFailed means the fetched bytes' digest matched none of the
// trusted gateways' reported digests.
var ErrVerificationFailed = errors.New("content verification failed")

// ErrManifestPathMismatch is a subtype of ErrVerificationFailed: the
// gateway's x-ar-io-data-id disagreed with the manifest's own mapping for
// the requested path.
var ErrManifestPathMismatch = fmt.Errorf("%w: manifest path mismatch", ErrVerificationFailed)

// DigestFetcher retrieves the trusted digest for a content txid from one
// verification gateway. HTTPDigestFetcher implements it with a HEAD probe
// over the same httpclient.Pool the routing Fetcher uses.
type DigestFetcher interface {
	FetchDigest(ctx context.Context, gatewayURL, txid string) (digestHex string, err error)
}

// Verifier implements the manifest-aware, trusted-quorum digest check
// (spec §4.11).
type Verifier struct {
	registry      RegistryLister
	digestFetcher DigestFetcher
	manifests     *manifest.Cache
	manifestFetch func(ctx context.Context, manifestTxID string) (*manifest.Manifest, error)

	// SkipQuorum bypasses the trusted-digest check when verification is
	// disabled by configuration. Manifest path resolution still runs, so
	// routing stays correct; only the trust guarantee is dropped.
	SkipQuorum bool
}

// RegistryLister is the subset of gateway.Registry the verifier needs.
type RegistryLister interface {
	VerificationGateways() []gateway.Gateway
}

// NewVerifier wires the verifier. manifestFetch resolves and parses a
// manifest body (fetching+verifying it as ordinary content); it is supplied
// by the caller (the request pipeline) to avoid an import cycle between
// content and manifest-fetching.
func NewVerifier(registry RegistryLister, digestFetcher DigestFetcher, manifests *manifest.Cache, manifestFetch func(ctx context.Context, manifestTxID string) (*manifest.Manifest, error)) *Verifier {
	return &Verifier{registry: registry, digestFetcher: digestFetcher, manifests: manifests, manifestFetch: manifestFetch}
}

// VerifyOutcome is the result of a completed verification pass.
type VerifyOutcome struct {
	Data           []byte
	Digest         string
	VerifiedBy     []string
	ContentTxID    string // resolved content txid, possibly via a manifest
	ManifestTxID   string // the manifest document's own txid, set only when IsManifestPath
	IsManifestPath bool
}

// Verify buffers resp's body as received, resolves manifest indirection if
// present, and checks the buffered digest against the trusted
// verification-gateway quorum. It never returns partial bytes: a failed
// check returns no data at all. requestPath is the sub-path that was
// requested under requestedTxID (empty for a bare txid/ArNS-root request),
// used to resolve the manifest's own path mapping when indirection applies.
//
// Verify does not decompress a content-encoded body before hashing. The
// fetcher only forwards the client's accept-encoding header upstream, so in
// practice Go's transport transparently decodes gzip responses whenever the
// client didn't set that header itself; a client that does forward its own
// accept-encoding can receive a gateway response still encoded, in which
// case the digest is computed over the encoded bytes and
// filterUpstreamHeaders drops Content-Encoding from the cached/served
// response while still forwarding the upstream Content-Length.
func (v *Verifier) Verify(ctx context.Context, resp *http.Response, requestedTxID, requestPath string) (*VerifyOutcome, error) {
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<30)) // 1 GiB streaming ceiling
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	dataID := resp.Header.Get("x-ar-io-data-id")
	resolvedID := resp.Header.Get("x-arns-resolved-id")

	contentTxID := requestedTxID
	manifestTxID := ""
	isManifestPath := false

	switch {
	case resolvedID != "" && dataID != "" && resolvedID != dataID:
		isManifestPath = true
	case dataID != "" && dataID != requestedTxID:
		isManifestPath = true
	}

	if isManifestPath {
		manifestTxID = requestedTxID
		if resolvedID != "" {
			manifestTxID = resolvedID
		}
		m, ok := v.manifests.Get(manifestTxID)
		if !ok {
			fetched, err := v.manifestFetch(ctx, manifestTxID)
			if err != nil {
				return nil, fmt.Errorf("%w: manifest fetch failed: %v", ErrVerificationFailed, err)
			}
			v.manifests.Put(fetched)
			m = fetched
		}
		resolvedContentID, _, err := m.Resolve(requestPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
		}
		if resolvedContentID != dataID {
			return nil, ErrManifestPathMismatch
		}
		contentTxID = dataID
	}

	digest := sha256.Sum256(data)
	digestHex := hex.EncodeToString(digest[:])

	verifiedBy, err := v.checkQuorum(ctx, contentTxID, digestHex)
	if err != nil {
		return nil, err
	}

	return &VerifyOutcome{
		Data:           data,
		Digest:         digestHex,
		VerifiedBy:     verifiedBy,
		ContentTxID:    contentTxID,
		ManifestTxID:   manifestTxID,
		IsManifestPath: isManifestPath,
	}, nil
}

func (v *Verifier) checkQuorum(ctx context.Context, txid, digestHex string) ([]string, error) {
	if v.SkipQuorum {
		return nil, nil
	}

	verifiers := v.registry.VerificationGateways()
	if len(verifiers) == 0 {
		return nil, fmt.Errorf("%w: no verification gateways configured", ErrVerificationFailed)
	}

	type digestResult struct {
		gatewayURL string
		digest     string
		err        error
	}
	results := make([]digestResult, len(verifiers))
	var wg sync.WaitGroup
	for i, g := range verifiers {
		wg.Add(1)
		go func(i int, g gateway.Gateway) {
			defer wg.Done()
			d, err := v.digestFetcher.FetchDigest(ctx, g.URL, txid)
			results[i] = digestResult{gatewayURL: g.URL, digest: d, err: err}
		}(i, g)
	}
	wg.Wait()

	var verifiedBy []string
	for _, r := range results {
		if r.err == nil && r.digest == digestHex {
			verifiedBy = append(verifiedBy, r.gatewayURL)
		}
	}
	if len(verifiedBy) == 0 {
		return nil, ErrVerificationFailed
	}
	return verifiedBy, nil
}
