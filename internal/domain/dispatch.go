package domain

import (
	"errors"
	"time"
)

// TokenResponse is the transport's verdict for one token of a multicast send.
type TokenResponse struct {
	Token   string
	Success bool
	Err     error
}

// MulticastResult aggregates one multicast send. Responses are in token order.
type MulticastResult struct {
	SuccessCount int
	FailureCount int
	Responses    []TokenResponse
}

// EndpointOutcome is the per-endpoint part of a DispatchResult.
type EndpointOutcome struct {
	EndpointID string `json:"endpoint_id"`
	Token      string `json:"-"`
	Success    bool   `json:"success"`
	Err        error  `json:"-"`
}

// DispatchResult is the outcome of fanning out one notification. It lives for one cycle only.
type DispatchResult struct {
	NotificationID string
	Delivered      bool
	// Vacuous is set when the recipient had no active endpoints and nothing was sent.
	Vacuous   bool
	Endpoints []EndpointOutcome
	Err       error
}

// InvalidTokens returns the tokens the transport rejected as invalid.
func (r *DispatchResult) InvalidTokens() []string {
	var tokens []string
	for _, e := range r.Endpoints {
		if !e.Success && errors.Is(e.Err, ErrEndpointInvalid) {
			tokens = append(tokens, e.Token)
		}
	}
	return tokens
}

// CycleSummary is the structured result of one dispatch cycle.
type CycleSummary struct {
	CycleID         string        `json:"cycle_id"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration_ns"`
	Fetched         int           `json:"fetched"`
	Recipients      int           `json:"recipients"`
	Delivered       int           `json:"delivered"`
	Vacuous         int           `json:"vacuous"`
	Failed          int           `json:"failed"`
	Deactivated     int           `json:"deactivated"`
	RecipientErrors int           `json:"recipient_errors"`
	Skipped         bool          `json:"skipped"`
}

// RetentionSummary is the structured result of one retention cleanup.
type RetentionSummary struct {
	Cutoff   time.Time     `json:"cutoff"`
	Deleted  int           `json:"deleted"`
	Duration time.Duration `json:"duration_ns"`
}

// TestSendResult is returned by the ad-hoc test send.
type TestSendResult struct {
	Success            bool   `json:"success"`
	Message            string `json:"message"`
	DeliveredEndpoints int    `json:"delivered_endpoints"`
	TotalEndpoints     int    `json:"total_endpoints"`
}
