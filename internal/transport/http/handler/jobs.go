package handler

import (
	"encoding/json"
	"net/http"

	"github.com/push-dispatcher/internal/application/dispatch"
	"github.com/push-dispatcher/internal/application/retention"
	"github.com/push-dispatcher/internal/pkg/validate"
)

// TestSendRequest is the body of POST /v1/notifications/test.
type TestSendRequest struct {
	RecipientID string `json:"recipient_id" validate:"required"`
	Title       string `json:"title" validate:"required,max=200"`
	Body        string `json:"body" validate:"required,max=2000"`
}

// JobsHandler exposes the engine's entry points to operators.
type JobsHandler struct {
	dispatch  dispatch.Service
	retention retention.Service
}

func NewJobsHandler(d dispatch.Service, r retention.Service) *JobsHandler {
	return &JobsHandler{dispatch: d, retention: r}
}

func (h *JobsHandler) SendTest(w http.ResponseWriter, r *http.Request) {
	var req TestSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	res, err := h.dispatch.SendTest(r.Context(), req.RecipientID, req.Title, req.Body)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *JobsHandler) RunDispatch(w http.ResponseWriter, r *http.Request) {
	summary, err := h.dispatch.RunDispatchCycle(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CycleEnvelope{Summary: summary})
}

func (h *JobsHandler) RunRetention(w http.ResponseWriter, r *http.Request) {
	summary, err := h.retention.RunRetentionCleanup(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RetentionEnvelope{Summary: summary})
}
