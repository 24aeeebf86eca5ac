// Package api provides HTTP handlers for the trip assistant API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/avezina/tripd/internal/assistant"
	"github.com/avezina/tripd/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Handler exposes the assistant over HTTP.
type Handler struct {
	asst *assistant.Assistant
}

// NewHandler creates a new Handler.
func NewHandler(asst *assistant.Assistant) *Handler {
	return &Handler{asst: asst}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes registers assistant routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.Chat)
		r.Get("/state", h.State)
		r.Get("/profile", h.Profile)
		r.Post("/reset", h.Reset)
		r.Post("/purge", h.Purge)
	})
	r.Get("/health", h.HealthCheck)
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
}

// Chat runs one conversational turn. A missing session_id starts a new
// session; the generated ID is echoed back for subsequent turns.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		Error(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	out, err := h.asst.Chat(r.Context(), req.SessionID, req.UserID, req.Message)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSlot) {
			Error(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("chat turn failed", "session_id", req.SessionID, "error", err)
		Error(w, http.StatusInternalServerError, "chat turn failed")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"session_id": req.SessionID,
		"turn":       out,
	})
}

// State returns the session debug snapshot.
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		Error(w, http.StatusBadRequest, "session_id is required")
		return
	}

	st, err := h.asst.InspectState(sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			Error(w, http.StatusNotFound, "session not found")
			return
		}
		Error(w, http.StatusInternalServerError, "state lookup failed")
		return
	}
	JSON(w, http.StatusOK, st)
}

// Profile returns the user's stored preference records.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		Error(w, http.StatusBadRequest, "user_id is required")
		return
	}

	recs, err := h.asst.InspectProfile(r.Context(), userID)
	if err != nil {
		slog.Error("profile read failed", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "profile read failed")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":     userID,
		"preferences": recs,
	})
}

type resetRequest struct {
	SessionID string `json:"session_id"`
}

// Reset clears one session's conversational state.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		Error(w, http.StatusBadRequest, "session_id is required")
		return
	}
	h.asst.ClearSession(req.SessionID)
	JSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

type purgeRequest struct {
	Scope string `json:"scope"`
	Token string `json:"token"`
}

// Purge irreversibly deletes stored preferences for a user, or for everyone
// with scope "all". Gated by the admin token.
func (h *Handler) Purge(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Scope == "" {
		Error(w, http.StatusBadRequest, "scope is required")
		return
	}

	if err := h.asst.Purge(r.Context(), req.Scope, req.Token); err != nil {
		switch {
		case errors.Is(err, domain.ErrUnauthorized):
			Error(w, http.StatusForbidden, "invalid admin token")
		default:
			slog.Error("purge failed", "scope", req.Scope, "error", err)
			Error(w, http.StatusInternalServerError, "purge failed")
		}
		return
	}
	slog.Info("preferences purged", "scope", req.Scope)
	JSON(w, http.StatusOK, map[string]string{"status": "purged", "scope": req.Scope})
}

// HealthCheck reports service health plus any degraded components.
func (h *Handler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	degraded := h.asst.Health()
	status := "ok"
	if len(degraded) > 0 {
		status = "degraded"
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":   status,
		"degraded": degraded,
	})
}
