package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/push-dispatcher/internal/domain"
	"github.com/push-dispatcher/internal/pkg/payload"
	"github.com/stretchr/testify/mock"
)

var t0 = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memStore is an in-memory notification and endpoint store with the same update
// semantics as the real backends.
type memStore struct {
	mu            sync.Mutex
	notifications map[string]*domain.ScheduledNotification
	endpoints     map[string]*domain.DeliveryEndpoint

	fetchErr      error
	markErr       error
	resolveErr    map[string]error
	panicOn       string
	markCalls     int
	deactivations [][]string
}

func newMemStore() *memStore {
	return &memStore{
		notifications: map[string]*domain.ScheduledNotification{},
		endpoints:     map[string]*domain.DeliveryEndpoint{},
		resolveErr:    map[string]error{},
	}
}

func (m *memStore) addNotification(id, recipient string, scheduledFor time.Time) {
	m.notifications[id] = &domain.ScheduledNotification{
		NotificationID: id,
		RecipientID:    recipient,
		Kind:           domain.KindTaskReminder,
		Title:          "Reminder " + id,
		Body:           "body",
		ScheduledFor:   scheduledFor,
	}
}

func (m *memStore) addEndpoint(id, recipient, token string, active bool) {
	m.endpoints[id] = &domain.DeliveryEndpoint{
		EndpointID:  id,
		RecipientID: recipient,
		Token:       token,
		Platform:    domain.PlatformAndroid,
		IsActive:    active,
	}
}

func (m *memStore) notification(id string) domain.ScheduledNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.notifications[id]
}

func (m *memStore) endpoint(id string) domain.DeliveryEndpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.endpoints[id]
}

func (m *memStore) FetchDue(_ context.Context, now time.Time, limit int) ([]domain.ScheduledNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	var due []domain.ScheduledNotification
	for _, n := range m.notifications {
		if n.IsDue(now) {
			due = append(due, *n)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledFor.Equal(due[j].ScheduledFor) {
			return due[i].ScheduledFor.Before(due[j].ScheduledFor)
		}
		return due[i].NotificationID < due[j].NotificationID
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *memStore) BatchMarkSent(_ context.Context, ids []string, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markCalls++
	if m.markErr != nil {
		return m.markErr
	}
	for _, id := range ids {
		n, ok := m.notifications[id]
		if !ok || n.IsSent {
			continue
		}
		at := sentAt
		n.IsSent = true
		n.SentAt = &at
	}
	return nil
}

func (m *memStore) BatchRecordFailures(_ context.Context, failures []domain.DeliveryFailure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range failures {
		n, ok := m.notifications[f.NotificationID]
		if !ok || n.IsSent {
			continue
		}
		n.Attempts = f.Attempts
		n.LastError = f.LastError
		if f.NextAttemptAt != nil {
			n.NextAttemptAt = f.NextAttemptAt
		}
	}
	return nil
}

func (m *memStore) FetchActive(_ context.Context, recipientID string) ([]domain.DeliveryEndpoint, error) {
	if recipientID == m.panicOn {
		panic("endpoint lookup exploded")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.resolveErr[recipientID]; err != nil {
		return nil, err
	}
	var eps []domain.DeliveryEndpoint
	for _, e := range m.endpoints {
		if e.RecipientID == recipientID && e.IsActive {
			eps = append(eps, *e)
		}
	}
	sort.Slice(eps, func(i, j int) bool { return eps[i].EndpointID < eps[j].EndpointID })
	return eps, nil
}

func (m *memStore) BatchDeactivate(_ context.Context, tokens []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deactivations = append(m.deactivations, tokens)
	changed := 0
	for _, e := range m.endpoints {
		for _, tok := range tokens {
			if e.Token == tok && e.IsActive {
				e.IsActive = false
				changed++
			}
		}
	}
	return changed, nil
}

type sendCall struct {
	tokens []string
	msg    payload.Message
}

// scriptedSender answers per token. Tokens without a script succeed.
type scriptedSender struct {
	mu       sync.Mutex
	calls    []sendCall
	tokenErr map[string]error
	callErr  map[string]error
	panicOn  string
	// panicFor panics on the multicast for this notification id.
	panicFor string
}

func newScriptedSender() *scriptedSender {
	return &scriptedSender{tokenErr: map[string]error{}, callErr: map[string]error{}}
}

func (s *scriptedSender) SendMulticast(_ context.Context, tokens []string, m payload.Message) (*domain.MulticastResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, sendCall{tokens: append([]string(nil), tokens...), msg: m})
	s.mu.Unlock()

	if m.NotificationID != "" && m.NotificationID == s.panicFor {
		panic("payload exploded")
	}
	for _, tok := range tokens {
		if tok == s.panicOn {
			panic("transport exploded")
		}
	}
	if err := s.callErr[m.NotificationID]; err != nil {
		return nil, err
	}
	res := &domain.MulticastResult{}
	for _, tok := range tokens {
		tr := domain.TokenResponse{Token: tok, Success: true}
		if err := s.tokenErr[tok]; err != nil {
			tr = domain.TokenResponse{Token: tok, Err: err}
			res.FailureCount++
		} else {
			res.SuccessCount++
		}
		res.Responses = append(res.Responses, tr)
	}
	return res, nil
}

func (s *scriptedSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *scriptedSender) callFor(notificationID string) (sendCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c.msg.NotificationID == notificationID {
			return c, true
		}
	}
	return sendCall{}, false
}

var (
	errInvalid   = fmt.Errorf("%w: EndpointDisabled", domain.ErrEndpointInvalid)
	errTransient = errors.New("throttled")
)

type mockObserver struct{ mock.Mock }

func (m *mockObserver) ObserveDispatch(s domain.CycleSummary) { m.Called(s) }
func (m *mockObserver) ObserveDispatchError()                 { m.Called() }
