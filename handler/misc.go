package handler

import (
	"io"
	"net/http"
)

// Favicon answers the reserved /favicon.ico path with a bare 204 rather
// than running it through the content pipeline.
func (h *Handler) Favicon(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// Graphql optionally proxies /graphql to the first available routing
// gateway, for deployments that want ArNS/AR.IO GraphQL queries served
// through the same host. It is a plain reverse proxy: no verification
// applies to GraphQL responses.
func (h *Handler) Graphql(w http.ResponseWriter, r *http.Request) {
	candidates := h.registry.RoutingGateways()
	if len(candidates) == 0 {
		writeError(w, http.StatusServiceUnavailable, "no_healthy_gateways", "no routing gateways available")
		return
	}

	upstream := candidates[0].URL + "/graphql"
	req, err := http.NewRequestWithContext(r.Context(), r.Method, upstream, r.Body)
	if err != nil {
		writeError(w, http.StatusBadGateway, "gateway_error", err.Error())
		return
	}
	req.Header.Set("Content-Type", r.Header.Get("Content-Type"))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		writeError(w, http.StatusBadGateway, "gateway_error", err.Error())
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", resp.Header.Get("Content-Type"))
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}
