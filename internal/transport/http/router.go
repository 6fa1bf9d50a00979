package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/push-dispatcher/internal/config"
	jwtinfra "github.com/push-dispatcher/internal/infrastructure/jwt"
	"github.com/push-dispatcher/internal/transport/http/handler"
	appmiddleware "github.com/push-dispatcher/internal/transport/http/middleware"
)

// NewRouter builds the operator router. ctx bounds the rate limiter's cleanup loop.
func NewRouter(ctx context.Context, cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	if cfg.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// 1 request/second, burst of 5: every test send is a real push.
	testSendRL := appmiddleware.NewRateLimiter(ctx, rate.Limit(1), 5)

	healthH := handler.NewHealthHandler(deps.Ready)
	jobsH := handler.NewJobsHandler(deps.Dispatch, deps.Retention)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health-check/{action}", healthH.Ping)

		r.Group(func(r chi.Router) {
			r.Use(appmiddleware.Auth(deps.JWT))
			r.Use(appmiddleware.RequireRole(jwtinfra.RoleAdmin))

			r.With(testSendRL.Limit).Post("/notifications/test", jobsH.SendTest)
			r.Post("/jobs/dispatch", jobsH.RunDispatch)
			r.Post("/jobs/retention", jobsH.RunRetention)
		})
	})

	return r
}
