package domain

import "errors"

// Sentinel errors for domain-level error discrimination.
// Infrastructure wraps these around driver errors so the dispatch engine and the
// HTTP handlers can decide scope and status codes without knowing the backend.
var (
	ErrBadRequest = errors.New("bad request")

	// ErrStoreUnavailable means a notification or endpoint store call failed.
	// A fetch failure aborts the cycle; a resolve failure only affects one recipient.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrTransportFailure means a whole multicast call failed. Scoped to one notification.
	ErrTransportFailure = errors.New("transport failure")
	// ErrEndpointInvalid marks a single token the transport rejected as unusable.
	ErrEndpointInvalid = errors.New("endpoint invalid")
	// ErrConfiguration means the push transport is not configured.
	ErrConfiguration = errors.New("configuration error")
)
