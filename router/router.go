package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/ar-io/wayfinder-router/config"
	"github.com/ar-io/wayfinder-router/handler"
	gwmw "github.com/ar-io/wayfinder-router/middleware"
)

// New returns a configured chi Router with the full middleware chain and
// every route spec §6 names mounted.
func New(cfg *config.Config, appLogger zerolog.Logger, h *handler.Handler) http.Handler {
	r := chi.NewRouter()

	// --- Middleware chain (order matters) ---
	r.Use(gwmw.CORSMiddleware([]string{"*"}))
	r.Use(gwmw.SecurityHeadersMiddleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(mwRequestLogger(appLogger))
	r.Use(mwMaxBodySize(cfg.MaxBodyBytes))

	headerNorm := gwmw.NewHeaderNormalization(appLogger)
	r.Use(headerNorm.Handler)

	timeoutMW := gwmw.NewTimeoutMiddleware(appLogger, cfg)
	r.Use(timeoutMW.Handler)

	// Reserved paths bypass the content pipeline entirely.
	r.Get("/favicon.ico", h.Favicon)
	r.HandleFunc("/graphql", h.Graphql)

	adminAuth := gwmw.NewAdminAuthMiddleware(appLogger, cfg.AdminAuthToken)
	r.Route("/wayfinder", func(r chi.Router) {
		r.Use(adminAuth.Handler)
		r.Get("/healthz", h.Healthz)
		r.Get("/info", h.Info)
		r.Get("/stats", h.Stats)
	})

	// Everything else is the content pipeline: host classification decides
	// whether this is an ArNS subdomain, a sandboxed txid, the root host,
	// or a plain path-based request.
	r.Get("/*", h.ServeContent)

	return r
}

// mwMaxBodySize returns middleware that limits the request body size. Read
// once at boot, not per-request.
func mwMaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 1 * 1024 * 1024
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > 0 && r.ContentLength > maxBytes {
				http.Error(w, `{"error":{"type":"request_too_large","message":"request body too large"}}`, http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func mwRequestLogger(appLogger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			dur := time.Since(start)
			reqID := chimw.GetReqID(r.Context())
			appLogger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("host", r.Host).
				Str("req_id", reqID).
				Int("status", rw.Status()).
				Dur("duration", dur).
				Msg("request completed")
		})
	}
}
