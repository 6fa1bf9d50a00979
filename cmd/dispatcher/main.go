package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/push-dispatcher/internal/application/dispatch"
	"github.com/push-dispatcher/internal/application/retention"
	"github.com/push-dispatcher/internal/application/scheduler"
	"github.com/push-dispatcher/internal/config"
	"github.com/push-dispatcher/internal/infrastructure/dynamo"
	jwtinfra "github.com/push-dispatcher/internal/infrastructure/jwt"
	"github.com/push-dispatcher/internal/infrastructure/metrics"
	"github.com/push-dispatcher/internal/infrastructure/postgres"
	"github.com/push-dispatcher/internal/infrastructure/sns"
	"github.com/push-dispatcher/internal/pkg/logger"
	transporthttp "github.com/push-dispatcher/internal/transport/http"
)

// notificationStore is what both the dispatch and retention services need from the backend.
type notificationStore interface {
	dispatch.NotificationStore
	retention.NotificationStore
}

type stores struct {
	notifications notificationStore
	endpoints     dispatch.EndpointStore
	ping          func(ctx context.Context) error
	close         func()
}

func main() {
	mint := flag.Bool("mint-token", false, "sign an operator token with JWT_PRIVATE_KEY_PATH, print it and exit")
	subject := flag.String("subject", "", "token subject (with -mint-token)")
	role := flag.String("role", jwtinfra.RoleAdmin, "token role (with -mint-token)")
	flag.Parse()

	envErr := godotenv.Load()

	cfg := config.Load()
	log := logger.New(cfg.LogLevel)
	if envErr != nil {
		log.Info("no .env file found, reading from environment")
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	if *mint {
		p, err := jwtinfra.NewProvider(cfg)
		if err == nil {
			err = mintToken(os.Stdout, p, *subject, *role)
		}
		if err != nil {
			log.Error("mint token", "err", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Error("store not available", "driver", cfg.StoreDriver, "err", err)
		os.Exit(1)
	}
	defer st.close()

	// Push transport (optional: without it cycles are skipped, rows stay pending).
	var sender dispatch.Sender
	if s, err := sns.NewSender(ctx, cfg); err == nil {
		sender = s
	} else {
		log.Warn("push transport not available", "err", err)
	}

	rec := metrics.New()
	rec.MustRegister(prometheus.DefaultRegisterer)

	dispatchSvc := dispatch.NewService(dispatch.ServiceDeps{
		Notifications: st.notifications,
		Endpoints:     st.endpoints,
		Sender:        sender,
		Logger:        log.With("component", "dispatch"),
		Observer:      rec,
		BatchSize:     cfg.DispatchBatchSize,
		Backoff:       dispatch.Backoff{Base: cfg.RetryBackoffBase, Max: cfg.RetryBackoffMax},
	})
	retentionSvc := retention.NewService(retention.ServiceDeps{
		Notifications: st.notifications,
		Logger:        log.With("component", "retention"),
		Observer:      rec,
		Window:        cfg.RetentionWindow,
	})

	// JWT verifier (optional: without it the admin routes answer 401).
	deps := &transporthttp.Deps{
		Dispatch:  dispatchSvc,
		Retention: retentionSvc,
		Metrics:   rec,
		Gatherer:  prometheus.DefaultGatherer,
		Ready:     st.ping,
	}
	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		deps.JWT = p
	} else {
		log.Warn("JWT provider not available", "err", err)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AdminPort),
		Handler:      transporthttp.NewRouter(ctx, cfg, deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var wg sync.WaitGroup
	if cfg.SchedulerEnabled {
		sched := scheduler.New([]scheduler.Job{
			{
				Name:     "dispatch",
				Interval: cfg.DispatchInterval,
				Run: func(ctx context.Context) error {
					_, err := dispatchSvc.RunDispatchCycle(ctx)
					return err
				},
			},
			{
				Name:     "retention",
				Interval: cfg.RetentionInterval,
				Run: func(ctx context.Context) error {
					_, err := retentionSvc.RunRetentionCleanup(ctx)
					return err
				},
			},
		}, scheduler.WithRunOnStart(cfg.RunOnStart), scheduler.WithLogger(log.With("component", "scheduler")))
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.Start(ctx)
		}()
	} else {
		log.Info("scheduler disabled, jobs run only on demand")
	}

	go func() {
		log.Info("admin server starting", "port", cfg.AdminPort, "env", cfg.AppEnv, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", "err", err)
	}
	wg.Wait()
	log.Info("stopped")
}

func openStores(ctx context.Context, cfg *config.Config, log *slog.Logger) (*stores, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("postgres store ready")
		return &stores{
			notifications: postgres.NewNotificationRepo(pool),
			endpoints:     postgres.NewEndpointRepo(pool),
			ping:          pool.Ping,
			close:         pool.Close,
		}, nil
	default:
		client, err := dynamo.NewClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		dynamo.Bootstrap(ctx, client, cfg.DynamoTables)
		log.Info("dynamo store ready", "notifications", cfg.DynamoTables.Notifications, "endpoints", cfg.DynamoTables.Endpoints)
		ping := func(ctx context.Context) error {
			return dynamo.Ping(ctx, client, cfg.DynamoTables.Notifications, cfg.DynamoTables.Endpoints)
		}
		return &stores{
			notifications: dynamo.NewNotificationRepo(client, cfg.DynamoTables.Notifications),
			endpoints:     dynamo.NewEndpointRepo(client, cfg.DynamoTables.Endpoints),
			ping:          ping,
			close:         func() {},
		}, nil
	}
}
