package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ar-io/wayfinder-router/arns"
	"github.com/ar-io/wayfinder-router/content"
	"github.com/ar-io/wayfinder-router/manifest"
)

// errorResponse is the JSON envelope written for every non-2xx pipeline
// outcome: {"error":{"type":"...","message":"..."}}.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Type: errType, Message: message}})
}

// statusForErr maps a pipeline error to the HTTP status and error-type tag
// it surfaces to the client.
func statusForErr(err error) (int, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, arns.ErrResolutionFailed):
		return http.StatusNotFound, "arns_resolution_failed"
	case errors.Is(err, arns.ErrConsensusMismatch):
		return http.StatusBadGateway, "arns_consensus_mismatch"
	case errors.Is(err, content.ErrManifestPathMismatch):
		return http.StatusBadGateway, "manifest_path_mismatch"
	case errors.Is(err, content.ErrVerificationFailed):
		return http.StatusBadGateway, "verification_failed"
	case errors.Is(err, manifest.ErrNotFound):
		return http.StatusNotFound, "manifest_not_found"
	case errors.Is(err, content.ErrNoHealthyGateways):
		return http.StatusServiceUnavailable, "no_healthy_gateways"
	default:
		return http.StatusBadGateway, "gateway_error"
	}
}
