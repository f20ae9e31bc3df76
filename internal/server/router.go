package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kestrelsec/kestrel-correlate/internal/config"
)

// NewRouter constructs a ServeMux with correlation API routes
// registered. Mutating endpoints sit behind bearer auth when a secret
// is configured; read endpoints and health stay open.
func NewRouter(h *Handler, auth config.AuthConfig) http.Handler {
	mux := http.NewServeMux()

	guard := func(method string, fn http.HandlerFunc) http.Handler {
		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != method {
				writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", method+" required")
				return
			}
			fn(w, r)
		})
		return BearerAuth(auth.JWTSecret, auth.Issuer, inner)
	}

	// Correlation API
	mux.Handle("/api/v1/events", guard(http.MethodPost, h.handleSubmitEvent))
	mux.Handle("/api/v1/feedback", guard(http.MethodPost, h.handleFeedback))
	mux.HandleFunc("/api/v1/verdicts", h.handleRecentVerdicts)
	mux.HandleFunc("/api/v1/rules", h.handleRules)
	mux.HandleFunc("/api/v1/stats", h.handleStats)

	// Health endpoints
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/readyz", h.handleHealth)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	return RequestID(mux)
}
