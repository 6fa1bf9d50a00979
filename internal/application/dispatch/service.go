package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/push-dispatcher/internal/domain"
	"github.com/push-dispatcher/internal/pkg/id"
	"github.com/push-dispatcher/internal/pkg/payload"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchSize = 50

	msgNoEndpoints  = "recipient has no active endpoints"
	msgNoneAccepted = "no endpoint accepted the message"
)

type NotificationStore interface {
	FetchDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledNotification, error)
	BatchMarkSent(ctx context.Context, ids []string, sentAt time.Time) error
	BatchRecordFailures(ctx context.Context, failures []domain.DeliveryFailure) error
}

type EndpointStore interface {
	FetchActive(ctx context.Context, recipientID string) ([]domain.DeliveryEndpoint, error)
	BatchDeactivate(ctx context.Context, tokens []string) (int, error)
}

// Sender is the multicast push transport.
type Sender interface {
	SendMulticast(ctx context.Context, tokens []string, m payload.Message) (*domain.MulticastResult, error)
}

// Observer receives every cycle outcome, typically to export metrics.
type Observer interface {
	ObserveDispatch(s domain.CycleSummary)
	ObserveDispatchError()
}

type Service interface {
	RunDispatchCycle(ctx context.Context) (*domain.CycleSummary, error)
	SendTest(ctx context.Context, recipientID, title, body string) (*domain.TestSendResult, error)
}

// ServiceDeps is built once at startup. A nil Sender means the push transport is not
// configured: every cycle is skipped and SendTest fails with domain.ErrConfiguration.
type ServiceDeps struct {
	Notifications NotificationStore
	Endpoints     EndpointStore
	Sender        Sender
	Logger        *slog.Logger
	Observer      Observer
	BatchSize     int
	Backoff       Backoff
	Now           func() time.Time
}

type service struct {
	notifications NotificationStore
	endpoints     EndpointStore
	sender        Sender
	log           *slog.Logger
	observer      Observer
	batchSize     int
	backoff       Backoff
	now           func() time.Time

	configWarning sync.Once
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		notifications: deps.Notifications,
		endpoints:     deps.Endpoints,
		sender:        deps.Sender,
		log:           deps.Logger,
		observer:      deps.Observer,
		batchSize:     deps.BatchSize,
		backoff:       deps.Backoff,
		now:           deps.Now,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.batchSize <= 0 {
		s.batchSize = DefaultBatchSize
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// recipientOutcome is what one recipient's goroutine hands back to the cycle.
type recipientOutcome struct {
	recipientID   string
	notifications []domain.ScheduledNotification
	results       []domain.DispatchResult
	err           error
}

func (s *service) RunDispatchCycle(ctx context.Context) (*domain.CycleSummary, error) {
	started := s.now().UTC()
	summary := &domain.CycleSummary{CycleID: id.NewAt(started), StartedAt: started}
	log := s.log.With("cycle_id", summary.CycleID)

	if s.sender == nil {
		s.configWarning.Do(func() {
			log.Error("push transport not configured, dispatch cycles will be skipped", "err", domain.ErrConfiguration)
		})
		summary.Skipped = true
		s.finish(log, summary)
		return summary, nil
	}

	due, err := s.notifications.FetchDue(ctx, started, s.batchSize)
	if err != nil {
		log.Error("fetch due notifications failed, cycle aborted", "err", err)
		s.observeError()
		return nil, err
	}
	summary.Fetched = len(due)
	if len(due) == 0 {
		s.finish(log, summary)
		return summary, nil
	}

	groups := GroupByRecipient(due)
	summary.Recipients = len(groups)
	outcomes := s.fanOut(ctx, log, groups)

	var (
		delivered []string
		invalid   []string
		failures  []domain.DeliveryFailure
	)
	failedAt := s.now().UTC()
	for _, o := range outcomes {
		if o.err != nil {
			summary.RecipientErrors++
			summary.Failed += len(o.notifications)
			log.Warn("recipient skipped, notifications stay due",
				"recipient_id", o.recipientID, "notifications", len(o.notifications), "err", o.err)
			for _, n := range o.notifications {
				failures = append(failures, s.failure(n, o.err.Error(), failedAt))
			}
			continue
		}
		for i, r := range o.results {
			invalid = append(invalid, r.InvalidTokens()...)
			if r.Delivered {
				delivered = append(delivered, r.NotificationID)
				summary.Delivered++
				if r.Vacuous {
					summary.Vacuous++
				}
				continue
			}
			summary.Failed++
			reason := msgNoneAccepted
			if r.Err != nil {
				reason = r.Err.Error()
			}
			failures = append(failures, s.failure(o.notifications[i], reason, failedAt))
		}
	}

	if len(invalid) > 0 {
		slices.Sort(invalid)
		invalid = slices.Compact(invalid)
		n, err := s.endpoints.BatchDeactivate(ctx, invalid)
		if err != nil {
			log.Error("deactivate invalid endpoints failed", "tokens", len(invalid), "err", err)
		}
		summary.Deactivated = n
	}

	if len(delivered) > 0 {
		if err := s.notifications.BatchMarkSent(ctx, delivered, s.now().UTC()); err != nil {
			log.Error("mark notifications sent failed, they will be dispatched again",
				"notifications", len(delivered), "err", err)
			s.observeError()
			return nil, err
		}
	}

	if len(failures) > 0 {
		if err := s.notifications.BatchRecordFailures(ctx, failures); err != nil {
			log.Warn("record delivery failures failed", "notifications", len(failures), "err", err)
		}
	}

	s.finish(log, summary)
	return summary, nil
}

// fanOut processes every recipient concurrently. Goroutines never return errors, so one
// recipient cannot cancel or block another.
func (s *service) fanOut(ctx context.Context, log *slog.Logger, groups map[string][]domain.ScheduledNotification) []recipientOutcome {
	recipients := slices.Sorted(maps.Keys(groups))
	outcomes := make([]recipientOutcome, len(recipients))
	var g errgroup.Group
	for i, rid := range recipients {
		g.Go(func() error {
			outcomes[i] = s.dispatchRecipient(ctx, log, rid, groups[rid])
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (s *service) dispatchRecipient(ctx context.Context, log *slog.Logger, recipientID string, ns []domain.ScheduledNotification) (out recipientOutcome) {
	out = recipientOutcome{recipientID: recipientID, notifications: ns}
	defer func() {
		if r := recover(); r != nil {
			out.results = nil
			out.err = fmt.Errorf("panic while dispatching: %v", r)
		}
	}()

	eps, err := s.endpoints.FetchActive(ctx, recipientID)
	if err != nil {
		out.err = err
		return out
	}
	out.results = s.deliver(ctx, log, ns, eps)
	return out
}

// deliver sends each notification to eps, one multicast per notification.
// With no endpoints every notification is vacuously delivered.
func (s *service) deliver(ctx context.Context, log *slog.Logger, ns []domain.ScheduledNotification, eps []domain.DeliveryEndpoint) []domain.DispatchResult {
	results := make([]domain.DispatchResult, len(ns))
	if len(eps) == 0 {
		for i, n := range ns {
			results[i] = domain.DispatchResult{NotificationID: n.NotificationID, Delivered: true, Vacuous: true}
		}
		return results
	}

	tokens := make([]string, 0, len(eps))
	for _, e := range eps {
		if !slices.Contains(tokens, e.Token) {
			tokens = append(tokens, e.Token)
		}
	}

	for i, n := range ns {
		results[i] = s.sendOne(ctx, log, n, tokens, eps)
	}
	return results
}

// sendOne multicasts n. A panic fails only n; results already collected for the
// recipient's other notifications are kept.
func (s *service) sendOne(ctx context.Context, log *slog.Logger, n domain.ScheduledNotification, tokens []string, eps []domain.DeliveryEndpoint) (r domain.DispatchResult) {
	r = domain.DispatchResult{NotificationID: n.NotificationID}
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("panic while sending notification, it stays due",
				"notification_id", n.NotificationID, "recipient_id", n.RecipientID, "panic", rec)
			r = domain.DispatchResult{NotificationID: n.NotificationID, Err: fmt.Errorf("panic while sending: %v", rec)}
		}
	}()

	res, err := s.sender.SendMulticast(ctx, tokens, payload.Build(n))
	if err != nil {
		log.Warn("multicast send failed, notification stays due",
			"notification_id", n.NotificationID, "recipient_id", n.RecipientID, "err", err)
		r.Err = err
		return r
	}
	byToken := make(map[string]domain.TokenResponse, len(res.Responses))
	for _, tr := range res.Responses {
		byToken[tr.Token] = tr
	}
	for _, e := range eps {
		tr := byToken[e.Token]
		r.Endpoints = append(r.Endpoints, domain.EndpointOutcome{
			EndpointID: e.EndpointID,
			Token:      e.Token,
			Success:    tr.Success,
			Err:        tr.Err,
		})
		if !tr.Success && tr.Err != nil {
			log.Debug("endpoint rejected notification",
				"notification_id", n.NotificationID, "endpoint_id", e.EndpointID, "err", tr.Err)
		}
	}
	r.Delivered = res.SuccessCount > 0
	return r
}

func (s *service) failure(n domain.ScheduledNotification, reason string, at time.Time) domain.DeliveryFailure {
	attempts := n.Attempts + 1
	return domain.DeliveryFailure{
		NotificationID: n.NotificationID,
		Attempts:       attempts,
		NextAttemptAt:  s.backoff.Next(at, attempts),
		LastError:      reason,
	}
}

func (s *service) finish(log *slog.Logger, summary *domain.CycleSummary) {
	summary.Duration = s.now().Sub(summary.StartedAt)
	log.Info("dispatch cycle finished",
		"skipped", summary.Skipped,
		"fetched", summary.Fetched,
		"recipients", summary.Recipients,
		"delivered", summary.Delivered,
		"vacuous", summary.Vacuous,
		"failed", summary.Failed,
		"deactivated", summary.Deactivated,
		"recipient_errors", summary.RecipientErrors,
		"duration", summary.Duration,
	)
	if s.observer != nil {
		s.observer.ObserveDispatch(*summary)
	}
}

func (s *service) observeError() {
	if s.observer != nil {
		s.observer.ObserveDispatchError()
	}
}

// SendTest pushes a synthetic, non-persisted test notification to the recipient's active
// endpoints and deactivates any the transport rejects.
func (s *service) SendTest(ctx context.Context, recipientID, title, body string) (*domain.TestSendResult, error) {
	if strings.TrimSpace(recipientID) == "" {
		return nil, fmt.Errorf("send test notification: %w: recipient id is empty", domain.ErrBadRequest)
	}
	if s.sender == nil {
		return nil, fmt.Errorf("send test notification: %w", domain.ErrConfiguration)
	}
	eps, err := s.endpoints.FetchActive(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	if len(eps) == 0 {
		return &domain.TestSendResult{Success: false, Message: msgNoEndpoints}, nil
	}

	now := s.now().UTC()
	n := domain.ScheduledNotification{
		NotificationID: id.NewAt(now),
		RecipientID:    recipientID,
		Kind:           domain.KindTest,
		Title:          title,
		Body:           body,
		ScheduledFor:   now,
	}
	log := s.log.With("recipient_id", recipientID, "notification_id", n.NotificationID)
	r := s.deliver(ctx, log, []domain.ScheduledNotification{n}, eps)[0]

	if invalid := r.InvalidTokens(); len(invalid) > 0 {
		if _, err := s.endpoints.BatchDeactivate(ctx, invalid); err != nil {
			log.Error("deactivate invalid endpoints failed", "tokens", len(invalid), "err", err)
		}
	}

	out := &domain.TestSendResult{Success: r.Delivered, TotalEndpoints: len(eps)}
	for _, e := range r.Endpoints {
		if e.Success {
			out.DeliveredEndpoints++
		}
	}
	switch {
	case r.Err != nil:
		out.Message = r.Err.Error()
	case r.Delivered:
		out.Message = fmt.Sprintf("delivered to %d of %d endpoints", out.DeliveredEndpoints, out.TotalEndpoints)
	default:
		out.Message = msgNoneAccepted
	}
	log.Info("test notification sent", "success", out.Success, "delivered_endpoints", out.DeliveredEndpoints)
	return out, nil
}
