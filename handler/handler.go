// Package handler implements the request pipeline (spec §2, §6): host and
// path classification, ArNS resolution, manifest-aware fetch and
// verification, and the /wayfinder administrative surface.
package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ar-io/wayfinder-router/arns"
	"github.com/ar-io/wayfinder-router/cache"
	"github.com/ar-io/wayfinder-router/config"
	"github.com/ar-io/wayfinder-router/content"
	"github.com/ar-io/wayfinder-router/dedupe"
	"github.com/ar-io/wayfinder-router/gateway"
	"github.com/ar-io/wayfinder-router/manifest"
	"github.com/ar-io/wayfinder-router/routing"
	"github.com/ar-io/wayfinder-router/tracker"
)

// Handler wires every component the request pipeline touches.
type Handler struct {
	cfg      *config.Config
	logger   zerolog.Logger
	registry *gateway.Registry
	selector routing.Selector
	resolver *arns.Resolver
	manifests *manifest.Cache
	fetcher  *content.Fetcher
	verifier *content.Verifier
	cache    *cache.Cache
	tracker  *tracker.Tracker
	inflight dedupe.Group[*fetchResult]

	startedAt time.Time
}

// New builds a Handler from its fully-constructed dependencies.
func New(cfg *config.Config, logger zerolog.Logger, registry *gateway.Registry, selector routing.Selector, resolver *arns.Resolver, manifests *manifest.Cache, fetcher *content.Fetcher, verifier *content.Verifier, contentCache *cache.Cache, reqTracker *tracker.Tracker) *Handler {
	return &Handler{
		cfg:       cfg,
		logger:    logger.With().Str("component", "handler").Logger(),
		registry:  registry,
		selector:  selector,
		resolver:  resolver,
		manifests: manifests,
		fetcher:   fetcher,
		verifier:  verifier,
		cache:     contentCache,
		tracker:   reqTracker,
		startedAt: time.Now(),
	}
}

// ServeContent is the catch-all entry point mounted at "/*": it classifies
// the request by Host and dispatches to the ArNS, sandbox, root-host, or
// plain path-based handling per spec §6.
func (h *Handler) ServeContent(w http.ResponseWriter, r *http.Request) {
	if !h.tracker.Increment() {
		writeError(w, http.StatusServiceUnavailable, "draining", "router is shutting down")
		return
	}
	defer h.tracker.Decrement()

	mode := h.resolveMode(r)
	host := stripPort(r.Host)

	switch {
	case host == h.cfg.BaseDomain:
		h.serveRootHost(w, r, mode)
	case strings.HasSuffix(host, "."+h.cfg.BaseDomain):
		label := strings.TrimSuffix(host, "."+h.cfg.BaseDomain)
		if strings.Contains(label, ".") {
			writeError(w, http.StatusBadRequest, "invalid_host", "subdomain label may not contain '.'")
			return
		}
		h.serveSubdomain(w, r, label, mode)
	default:
		h.servePathBased(w, r, mode)
	}
}

func stripPort(host string) string {
	if i := strings.LastIndex(host, ":"); i >= 0 {
		return host[:i]
	}
	return host
}

func (h *Handler) resolveMode(r *http.Request) config.RequestMode {
	mode := h.cfg.Mode
	if h.cfg.AllowModeOverride {
		if v := r.URL.Query().Get("mode"); v != "" {
			switch config.RequestMode(v) {
			case config.ModeProxy, config.ModeRoute:
				mode = config.RequestMode(v)
			}
		}
	}
	return mode
}

// serveSubdomain handles a request to "<label>.<base-domain>": label is
// either a valid ArNS name or a sandbox digest of a txid path-prefixed on
// the request path.
func (h *Handler) serveSubdomain(w http.ResponseWriter, r *http.Request, label string, mode config.RequestMode) {
	if gateway.IsValidArNSName(label) {
		if h.cfg.RestrictToRootHost {
			writeRestrictedNotFound(w)
			return
		}
		h.serveArNS(w, r, label, r.URL.Path, mode)
		return
	}

	if h.cfg.RestrictToRootHost {
		writeRestrictedNotFound(w)
		return
	}

	txid, rest := splitFirstSegment(r.URL.Path)
	if txid == "" || !gateway.IsTxID(txid) {
		writeError(w, http.StatusNotFound, "not_found", "no content address in request path")
		return
	}
	if !gateway.ValidateSandbox(label, txid) {
		writeError(w, http.StatusBadRequest, "sandbox_mismatch", "sandbox subdomain does not match txid")
		return
	}
	h.serveByTxID(w, r, txid, rest, mode)
}

// servePathBased handles requests that arrived on neither the base domain
// nor one of its subdomains (a bare txid+path not yet redirected to its
// sandbox, or local path-based access during development).
func (h *Handler) servePathBased(w http.ResponseWriter, r *http.Request, mode config.RequestMode) {
	txid, rest := splitFirstSegment(r.URL.Path)
	if txid == "" || !gateway.IsTxID(txid) {
		writeError(w, http.StatusNotFound, "not_found", "no content address in request path")
		return
	}
	if h.cfg.RestrictToRootHost {
		writeRestrictedNotFound(w)
		return
	}
	target := "https://" + gateway.Sandbox(txid) + "." + h.cfg.BaseDomain + "/" + txid + rest
	http.Redirect(w, r, target, http.StatusFound)
}

// serveRootHost handles "GET /" on the bare base domain: it serves
// root_host_content, auto-detecting whether it names a txid or an ArNS name.
func (h *Handler) serveRootHost(w http.ResponseWriter, r *http.Request, mode config.RequestMode) {
	if h.cfg.RootHostContent == "" {
		writeError(w, http.StatusNotFound, "not_found", "no root host content configured")
		return
	}
	if gateway.IsTxID(h.cfg.RootHostContent) {
		h.serveByTxID(w, r, h.cfg.RootHostContent, "", mode)
		return
	}
	h.serveArNS(w, r, h.cfg.RootHostContent, "", mode)
}

func writeRestrictedNotFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "restricted_to_root_host", "this router only serves its configured root host content")
}

// splitFirstSegment splits a URL path into its first "/"-delimited segment
// and the remainder (including the separating slash, possibly empty).
func splitFirstSegment(path string) (first, rest string) {
	p := strings.TrimPrefix(path, "/")
	if p == "" {
		return "", ""
	}
	i := strings.Index(p, "/")
	if i < 0 {
		return p, ""
	}
	return p[:i], p[i:]
}
