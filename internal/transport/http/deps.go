package http

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/push-dispatcher/internal/application/dispatch"
	"github.com/push-dispatcher/internal/application/retention"
	"github.com/push-dispatcher/internal/infrastructure/metrics"
	"github.com/push-dispatcher/internal/transport/http/handler"
	appmiddleware "github.com/push-dispatcher/internal/transport/http/middleware"
)

// Deps holds everything the operator router needs.
type Deps struct {
	Dispatch  dispatch.Service
	Retention retention.Service
	// JWT may be nil when no public key is configured; authenticated routes then answer 401.
	JWT      appmiddleware.TokenVerifier
	Metrics  *metrics.Recorder
	Gatherer prometheus.Gatherer
	// Ready backs /v1/health-check/ready; nil always reports ready.
	Ready handler.ReadinessCheck
}
