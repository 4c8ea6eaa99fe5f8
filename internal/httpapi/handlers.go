package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/duet-canvas/internal/hub"
	"github.com/DoyleJ11/duet-canvas/internal/lobby"
)

type createResponse struct {
	JoinCode string `json:"join_code"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// CreateSession registers a fresh session and answers with its join code.
func CreateSession(h *hub.Hub, status int, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		created, err := h.Create(r.Context())
		if err != nil {
			log.Error("creating session", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to create session"})
			return
		}
		writeJSON(w, status, createResponse{JoinCode: created.Code})
	}
}

func StartGame(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		if !hub.ValidCode(code) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "Session not found"})
			return
		}
		lb, err := h.Lookup(r.Context(), code)
		if errors.Is(err, hub.ErrSessionNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "Session not found"})
			return
		}
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "registry unavailable"})
			return
		}

		done := make(chan struct{}, 1)
		if err := lb.Send(r.Context(), lobby.Start{Reply: done}); err != nil {
			log.Warn("starting game", zap.String("code", code), zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "session unavailable"})
			return
		}
		select {
		case <-done:
		case <-lb.Done():
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "session unavailable"})
			return
		case <-r.Context().Done():
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
	}
}

func Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "duet canvas backend"})
}

// Healthz answers 200 with the live session count while the registry runs.
func Healthz(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := h.Count(r.Context())
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "registry unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": n})
	}
}
