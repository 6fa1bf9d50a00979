package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/push-dispatcher/internal/domain"
)

const DefaultWindow = 30 * 24 * time.Hour

type NotificationStore interface {
	BatchDeleteSentBefore(ctx context.Context, cutoff time.Time) (int, error)
}

type Observer interface {
	ObserveRetention(s domain.RetentionSummary)
}

type Service interface {
	RunRetentionCleanup(ctx context.Context) (*domain.RetentionSummary, error)
}

type ServiceDeps struct {
	Notifications NotificationStore
	Logger        *slog.Logger
	Observer      Observer
	Window        time.Duration
	Now           func() time.Time
}

type service struct {
	notifications NotificationStore
	log           *slog.Logger
	observer      Observer
	window        time.Duration
	now           func() time.Time
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		notifications: deps.Notifications,
		log:           deps.Logger,
		observer:      deps.Observer,
		window:        deps.Window,
		now:           deps.Now,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.window <= 0 {
		s.window = DefaultWindow
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// RunRetentionCleanup permanently deletes sent notifications whose sent_at is older
// than the retention window. Unsent rows are never touched.
func (s *service) RunRetentionCleanup(ctx context.Context) (*domain.RetentionSummary, error) {
	started := s.now()
	summary := &domain.RetentionSummary{Cutoff: started.Add(-s.window).UTC()}

	deleted, err := s.notifications.BatchDeleteSentBefore(ctx, summary.Cutoff)
	summary.Deleted = deleted
	summary.Duration = s.now().Sub(started)
	if err != nil {
		s.log.Error("retention cleanup failed", "cutoff", summary.Cutoff, "deleted", deleted, "err", err)
		return nil, err
	}

	s.log.Info("retention cleanup finished",
		"cutoff", summary.Cutoff,
		"deleted", summary.Deleted,
		"duration", summary.Duration,
	)
	if s.observer != nil {
		s.observer.ObserveRetention(*summary)
	}
	return summary, nil
}
