package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/kestrelsec/kestrel-correlate/internal/behavioral"
	"github.com/kestrelsec/kestrel-correlate/internal/emit"
	"github.com/kestrelsec/kestrel-correlate/internal/graph"
	"github.com/kestrelsec/kestrel-correlate/internal/intake"
	"github.com/kestrelsec/kestrel-correlate/internal/logging"
	"github.com/kestrelsec/kestrel-correlate/internal/metrics"
	"github.com/kestrelsec/kestrel-correlate/internal/model"
	"github.com/kestrelsec/kestrel-correlate/internal/orchestrator"
	"github.com/kestrelsec/kestrel-correlate/internal/rules"
)

// Handler exposes the correlation pipeline over HTTP for operators and
// for sources that push events directly instead of via NATS.
type Handler struct {
	orch      *orchestrator.Orchestrator
	emitter   *emit.Emitter
	baselines *behavioral.Store
	graph     *graph.Store
	registry  *rules.Registry
	startedAt time.Time
	log       *logging.Logger
}

func NewHandler(orch *orchestrator.Orchestrator, emitter *emit.Emitter, baselines *behavioral.Store, graphStore *graph.Store, registry *rules.Registry, log *logging.Logger) *Handler {
	return &Handler{
		orch:      orch,
		emitter:   emitter,
		baselines: baselines,
		graph:     graphStore,
		registry:  registry,
		startedAt: time.Now().UTC(),
		log:       log,
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSubmitEvent accepts a single normalized event and enqueues it
// for correlation. Returns 202 on acceptance; the verdict is emitted
// asynchronously.
func (h *Handler) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	var event model.NormalizedEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	err := h.orch.Submit(r.Context(), &event)
	switch {
	case err == nil:
		metrics.EventsReceived.WithLabelValues("http", "accepted").Inc()
		writeJSON(w, http.StatusAccepted, map[string]string{"event_id": event.ID, "status": "accepted"})
	case errors.Is(err, intake.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, orchestrator.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, "queue_full", "correlation queue is full, retry later")
	default:
		h.log.ErrorContext(r.Context(), "failed to submit event", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to submit event")
	}
}

// handleFeedback records an analyst disposition against a verdict.
func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var fb model.Feedback
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if err := h.orch.ApplyFeedback(r.Context(), &fb); err != nil {
		writeError(w, http.StatusBadRequest, "feedback_rejected", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

func (h *Handler) handleRecentVerdicts(w http.ResponseWriter, r *http.Request) {
	verdicts := h.emitter.Recent()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"verdicts": verdicts,
		"count":    len(verdicts),
	})
}

func (h *Handler) handleRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": h.registry.All(),
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	verdicts, recommendations := h.emitter.Counts()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds":    int64(time.Since(h.startedAt).Seconds()),
		"baselines_tracked": h.baselines.Len(),
		"graph_entities":    h.graph.EntityCount(),
		"graph_edges":       h.graph.EdgeCount(),
		"rules_loaded":      h.registry.Len(),
		"verdicts_emitted":  verdicts,
		"recommendations":   recommendations,
	})
}
