package handler

import (
	"encoding/json"
	"net/http"
	"time"
)

// Healthz reports liveness: 200 unless the router is draining for
// shutdown, in which case it reports 503 so a load balancer stops sending
// new traffic.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.tracker.IsDraining() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "draining"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// Info reports static deployment info: mode, base domain, and the
// configured gateway counts.
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":                 h.cfg.Mode,
		"base_domain":          h.cfg.BaseDomain,
		"strategy":             h.cfg.Strategy,
		"verification_enabled": h.cfg.VerificationEnabled,
		"routing_gateways":     len(h.registry.RoutingGateways()),
		"verification_gateways": len(h.registry.VerificationGateways()),
		"uptime_seconds":       int(time.Since(h.startedAt).Seconds()),
	})
}

// Stats reports live counters: cache performance and in-flight requests.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"cache":         h.cache.Stats(),
		"in_flight":     h.tracker.InFlight(),
		"draining":      h.tracker.IsDraining(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
