package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"sentinela/domain/entity"
	"sentinela/domain/repository"
	"sentinela/orchestrator"
)

// Sessioner is the engine surface the HTTP layer needs.
type Sessioner interface {
	Execute(ctx context.Context, payload map[string]any) (*entity.Outcome, error)
	Resume(ctx context.Context, sessionID string, decision entity.Decision) (*entity.Outcome, error)
}

type WebhookHandler struct {
	engine Sessioner
	repo   repository.Repository
}

func NewWebhookHandler(engine Sessioner, repo repository.Repository) *WebhookHandler {
	return &WebhookHandler{engine: engine, repo: repo}
}

func (h *WebhookHandler) Router() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", h.handleWebhook)
	mux.HandleFunc("POST /resume", h.handleResume)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	return mux
}

func (h *WebhookHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON payload"})
		return
	}

	outcome, err := h.engine.Execute(r.Context(), payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeOutcome(w, outcome)
}

type resumeRequest struct {
	SessionID string `json:"session_id"`
	Decision  string `json:"decision"`
}

func (h *WebhookHandler) handleResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON payload"})
		return
	}
	if req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "session_id is required"})
		return
	}

	outcome, err := h.engine.Resume(r.Context(), req.SessionID, entity.Decision(req.Decision))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeOutcome(w, outcome)
}

func (h *WebhookHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	// reachability probe against the store, cheap single-key lookup
	_, err := h.repo.FindCheckpoint(r.Context(), "healthz")
	if err != nil && !errors.Is(err, repository.ErrCheckpointNotFound) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *WebhookHandler) writeOutcome(w http.ResponseWriter, outcome *entity.Outcome) {
	status := http.StatusOK
	if outcome.Status == entity.OutcomePendingApproval {
		status = http.StatusAccepted
	}
	writeJSON(w, status, outcome)
}

// writeError maps the engine taxonomy onto HTTP statuses. Internal causes
// never leak to the caller, they stay in the logs and the audit trail.
func (h *WebhookHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
	case errors.Is(err, orchestrator.ErrSessionPending):
		writeJSON(w, http.StatusConflict, map[string]any{"error": "incident has a pending approval"})
	case errors.Is(err, orchestrator.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "session not found"})
	default:
		slog.Error("Failed to process event", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "processing error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", slog.Any("err", err))
	}
}
