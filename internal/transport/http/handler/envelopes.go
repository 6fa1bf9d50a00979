package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/push-dispatcher/internal/domain"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
}

// CycleEnvelope wraps an on-demand dispatch cycle. Failures use MessageEnvelope.
type CycleEnvelope struct {
	Summary *domain.CycleSummary `json:"summary"`
}

// RetentionEnvelope wraps an on-demand retention cleanup.
type RetentionEnvelope struct {
	Summary *domain.RetentionSummary `json:"summary"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg, ErrorCode: status})
}

// httpError maps domain sentinels onto status codes. Unknown errors are 500 and their
// text is not leaked.
func httpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrConfiguration):
		writeError(w, http.StatusServiceUnavailable, "push transport not configured")
	case errors.Is(err, domain.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
