package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ar-io/wayfinder-router/cache"
	"github.com/ar-io/wayfinder-router/config"
	"github.com/ar-io/wayfinder-router/content"
	"github.com/ar-io/wayfinder-router/gateway"
)

// responseHeaderAllowlist is forwarded verbatim from a cached or freshly
// verified entry's captured upstream headers, beyond the x-wayfinder-*
// headers the handler sets itself.
var responseHeaderAllowlist = []string{
	"Content-Type", "Content-Length", "Cache-Control", "Expires", "Last-Modified", "ETag",
}

// fetchResult bundles a verified outcome with the gateway that served it,
// the shared unit of work behind the single-flight dedupe key.
type fetchResult struct {
	entry            *cache.Entry
	verificationTime time.Duration
}

// serveArNS resolves name via the ArNS resolver and continues as a txid
// request against the resolved content address.
func (h *Handler) serveArNS(w http.ResponseWriter, r *http.Request, name, path string, mode config.RequestMode) {
	name = gateway.NormalizeArNSName(name)
	resolution, err := h.resolver.Resolve(r.Context(), name)
	if err != nil {
		status, errType := statusForErr(err)
		writeError(w, status, errType, err.Error())
		return
	}
	h.serveByTxIDNamed(w, r, resolution.TxID, path, mode, name)
}

// serveByTxID serves content addressed directly by txid (no ArNS name
// involved in this request).
func (h *Handler) serveByTxID(w http.ResponseWriter, r *http.Request, txid, path string, mode config.RequestMode) {
	h.serveByTxIDNamed(w, r, txid, path, mode, "")
}

// serveByTxIDNamed is the shared core: rootID is the content address the
// request was made against (the bare txid, or the ArNS-resolved root
// txid); arnsName is set only when the request arrived via an ArNS name,
// so the upstream fetch can use the ArNS-aware URL form.
func (h *Handler) serveByTxIDNamed(w http.ResponseWriter, r *http.Request, rootID, path string, mode config.RequestMode, arnsName string) {
	if mode == config.ModeRoute {
		h.serveRoute(w, r, rootID, path, arnsName)
		return
	}
	h.serveProxy(w, r, rootID, path, arnsName)
}

// serveRoute implements route mode: pick a gateway and redirect the client
// to it directly, without the router fetching or verifying anything.
func (h *Handler) serveRoute(w http.ResponseWriter, r *http.Request, rootID, path, arnsName string) {
	candidates := make([]string, 0)
	for _, g := range h.registry.RoutingGateways() {
		candidates = append(candidates, g.URL)
	}
	if len(candidates) == 0 {
		writeError(w, http.StatusServiceUnavailable, "no_healthy_gateways", "no routing gateways available")
		return
	}
	chosen, err := h.selector.Select(candidates)
	if err != nil {
		status, errType := statusForErr(err)
		writeError(w, status, errType, err.Error())
		return
	}

	identifier := rootID
	isArNS := arnsName != ""
	if isArNS {
		identifier = arnsName
	}
	target, err := content.BuildURL(chosen, identifier, path, isArNS)
	if err != nil {
		writeError(w, http.StatusBadGateway, "gateway_error", err.Error())
		return
	}

	w.Header().Set("x-wayfinder-mode", "route")
	w.Header().Set("x-wayfinder-routed-via", chosen)
	http.Redirect(w, r, target, http.StatusFound)
}

// serveProxy implements proxy mode: fetch, verify, cache, and stream the
// verified bytes back to the client with the x-wayfinder-* headers set.
func (h *Handler) serveProxy(w http.ResponseWriter, r *http.Request, rootID, path, arnsName string) {
	if entry, ok := h.precheckCache(rootID, path); ok {
		writeContentResponse(w, entry, true, 0)
		return
	}

	dedupeKey := rootID + "\x00" + path
	result, err := h.inflight.Do(dedupeKey, func() (*fetchResult, error) {
		return h.fetchVerifyAndCache(r, rootID, path, arnsName)
	})
	if err != nil {
		status, errType := statusForErr(err)
		writeError(w, status, errType, err.Error())
		return
	}

	writeContentResponse(w, result.entry, false, result.verificationTime)
}

// precheckCache looks up the content cache before issuing any network
// fetch. A direct (rootID, path) hit covers the common bare-txid/ArNS-root
// case; for a path known (from a previously cached manifest) to resolve to
// a distinct content txid, the cache is also checked under that resolved
// id, since verified entries are always stored keyed by their own true
// content txid and an empty path.
func (h *Handler) precheckCache(rootID, path string) (*cache.Entry, bool) {
	if entry, ok := h.cache.Get(rootID, ""); ok && (path == "" || path == "/") {
		return entry, true
	}
	if m, ok := h.manifests.Get(rootID); ok {
		if contentTxID, _, err := m.Resolve(path); err == nil {
			if entry, ok := h.cache.Get(contentTxID, ""); ok {
				return entry, true
			}
		}
	}
	return nil, false
}

// fetchVerifyAndCache runs one fetch-then-verify-then-cache pass. It is the
// function run (at most once concurrently per dedupe key) behind the
// single-flight group.
func (h *Handler) fetchVerifyAndCache(r *http.Request, rootID, path, arnsName string) (*fetchResult, error) {
	opts := content.FetchOpts{
		Path:           path,
		InboundHeaders: r.Header,
		TraceID:        r.Header.Get("x-ar-io-trace-id"),
		StickyKey:      rootID + "\x00" + path,
	}

	var fetched *content.Result
	var err error
	if arnsName != "" {
		fetched, err = h.fetcher.FetchByArNS(opts, arnsName)
	} else {
		fetched, err = h.fetcher.FetchByTxID(opts, rootID)
	}
	if err != nil {
		return nil, err
	}

	verifyStart := time.Now()
	outcome, err := h.verifier.Verify(r.Context(), fetched.Response, rootID, path)
	if err != nil {
		return nil, err
	}
	verificationTime := time.Since(verifyStart)

	entry := &cache.Entry{
		ContentType:  fetched.Response.Header.Get("Content-Type"),
		Data:         outcome.Data,
		Headers:      filterUpstreamHeaders(fetched.Response.Header),
		Digest:       outcome.Digest,
		VerifiedBy:   outcome.VerifiedBy,
		VerifiedAt:   time.Now(),
		ContentTxID:  outcome.ContentTxID,
		ManifestTxID: outcome.ManifestTxID,
		GatewayURL:   fetched.GatewayURL,
	}
	h.cache.Set(outcome.ContentTxID, "", entry)

	return &fetchResult{entry: entry, verificationTime: verificationTime}, nil
}

// filterUpstreamHeaders keeps the standard content/caching headers and
// every x-ar-io-*/x-arns-* header, dropping everything else (in
// particular set-cookie and x-powered-by, per the upstream gateway
// contract).
func filterUpstreamHeaders(src http.Header) http.Header {
	out := make(http.Header)
	for _, name := range responseHeaderAllowlist {
		if v := src.Get(name); v != "" {
			out.Set(name, v)
		}
	}
	for name, values := range src {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, "x-ar-io-") || strings.HasPrefix(lower, "x-arns-") {
			for _, v := range values {
				out.Add(name, v)
			}
		}
	}
	return out
}

// writeContentResponse writes a verified cache entry to the client,
// setting the response headers spec §6 requires.
func writeContentResponse(w http.ResponseWriter, entry *cache.Entry, cached bool, verificationTime time.Duration) {
	for name, values := range entry.Headers {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	if entry.ContentType != "" {
		w.Header().Set("Content-Type", entry.ContentType)
	}

	w.Header().Set("x-wayfinder-mode", "proxy")
	w.Header().Set("x-wayfinder-verified", strconv.FormatBool(len(entry.VerifiedBy) > 0))
	if entry.GatewayURL != "" {
		w.Header().Set("x-wayfinder-routed-via", entry.GatewayURL)
	}
	w.Header().Set("x-wayfinder-txid", entry.ContentTxID)
	if len(entry.VerifiedBy) > 0 {
		w.Header().Set("x-wayfinder-verified-by", strings.Join(entry.VerifiedBy, ","))
	}
	w.Header().Set("x-wayfinder-verification-time-ms", strconv.FormatInt(verificationTime.Milliseconds(), 10))
	w.Header().Set("x-wayfinder-cached", strconv.FormatBool(cached))
	if entry.ManifestTxID != "" {
		w.Header().Set("x-wayfinder-manifest-txid", entry.ManifestTxID)
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(entry.Data)
}
