package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ReadinessCheck reports whether the backing store can serve a dispatch cycle.
type ReadinessCheck func(ctx context.Context) error

// HealthHandler answers /health-check/{action}: "ping" is liveness, "ready" checks the store.
type HealthHandler struct {
	ready ReadinessCheck
}

func NewHealthHandler(ready ReadinessCheck) *HealthHandler { return &HealthHandler{ready: ready} }

func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	switch chi.URLParam(r, "action") {
	case "ping":
		writeJSON(w, http.StatusOK, MessageEnvelope{Message: "pong"})
	case "ready":
		if h.ready != nil {
			if err := h.ready(r.Context()); err != nil {
				slog.Warn("readiness check failed", "err", err)
				writeError(w, http.StatusServiceUnavailable, "store unavailable")
				return
			}
		}
		writeJSON(w, http.StatusOK, MessageEnvelope{Message: "ready"})
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}
