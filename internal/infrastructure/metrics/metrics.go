// Package metrics exports dispatch and retention results as Prometheus series.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/push-dispatcher/internal/domain"
)

// Recorder owns the collectors. One is built in main and registered once.
type Recorder struct {
	Cycles            *prometheus.CounterVec
	Notifications     *prometheus.CounterVec
	Deactivated       prometheus.Counter
	RecipientErrors   prometheus.Counter
	CycleDuration     prometheus.Histogram
	RetentionDeleted  prometheus.Counter
	RetentionDuration prometheus.Histogram
	RequestCount      *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
}

func New() *Recorder {
	return &Recorder{
		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatcher_cycles_total",
				Help: "Dispatch cycles run, by outcome",
			},
			[]string{"outcome"},
		),
		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatcher_notifications_total",
				Help: "Notifications handled by dispatch cycles, by result",
			},
			[]string{"result"},
		),
		Deactivated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatcher_endpoints_deactivated_total",
			Help: "Delivery endpoints switched to inactive after the transport rejected them",
		}),
		RecipientErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatcher_recipient_errors_total",
			Help: "Recipients whose notifications were left due by a resolve error or panic",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispatcher_cycle_duration_seconds",
			Help:    "Wall time of dispatch cycles",
			Buckets: prometheus.DefBuckets,
		}),
		RetentionDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatcher_retention_deleted_total",
			Help: "Sent notifications removed by retention cleanup",
		}),
		RetentionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispatcher_retention_duration_seconds",
			Help:    "Wall time of retention cleanups",
			Buckets: prometheus.DefBuckets,
		}),
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatcher_http_requests_total",
				Help: "Total number of admin HTTP requests",
			},
			[]string{"path", "method", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dispatcher_http_request_duration_seconds",
				Help:    "Histogram of admin response durations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),
	}
}

// MustRegister registers every collector with reg.
func (r *Recorder) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		r.Cycles, r.Notifications, r.Deactivated, r.RecipientErrors, r.CycleDuration,
		r.RetentionDeleted, r.RetentionDuration, r.RequestCount, r.RequestDuration,
	)
}

func (r *Recorder) ObserveDispatch(s domain.CycleSummary) {
	if s.Skipped {
		r.Cycles.WithLabelValues("skipped").Inc()
		return
	}
	r.Cycles.WithLabelValues("completed").Inc()
	r.Notifications.WithLabelValues("fetched").Add(float64(s.Fetched))
	r.Notifications.WithLabelValues("delivered").Add(float64(s.Delivered - s.Vacuous))
	r.Notifications.WithLabelValues("vacuous").Add(float64(s.Vacuous))
	r.Notifications.WithLabelValues("failed").Add(float64(s.Failed))
	r.Deactivated.Add(float64(s.Deactivated))
	r.RecipientErrors.Add(float64(s.RecipientErrors))
	r.CycleDuration.Observe(s.Duration.Seconds())
}

// ObserveDispatchError counts a cycle that aborted before fan-out.
func (r *Recorder) ObserveDispatchError() {
	r.Cycles.WithLabelValues("aborted").Inc()
}

func (r *Recorder) ObserveRetention(s domain.RetentionSummary) {
	r.RetentionDeleted.Add(float64(s.Deleted))
	r.RetentionDuration.Observe(s.Duration.Seconds())
}

// Middleware records request count and latency keyed by the matched chi route pattern.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		path := req.URL.Path
		if rctx := chi.RouteContext(req.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		r.RequestCount.WithLabelValues(path, req.Method, strconv.Itoa(status)).Inc()
		r.RequestDuration.WithLabelValues(path, req.Method).Observe(time.Since(start).Seconds())
	})
}
