package dispatch

import (
	"math"
	"time"

	"github.com/push-dispatcher/internal/domain"
)

// GroupByRecipient partitions a batch by recipient_id. Within each recipient the
// batch order is kept.
func GroupByRecipient(batch []domain.ScheduledNotification) map[string][]domain.ScheduledNotification {
	groups := make(map[string][]domain.ScheduledNotification)
	for _, n := range batch {
		groups[n.RecipientID] = append(groups[n.RecipientID], n)
	}
	return groups
}

// Backoff computes when a failing notification becomes eligible again.
// A zero Base disables backoff: the notification is retried on every tick.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Next returns now + Base*2^(attempts-1), capped at Max, or nil when backoff is off.
func (b Backoff) Next(now time.Time, attempts int) *time.Time {
	if b.Base <= 0 || attempts <= 0 {
		return nil
	}
	d := b.Base
	for i := 1; i < attempts; i++ {
		if (b.Max > 0 && d >= b.Max) || d > math.MaxInt64/2 {
			break
		}
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	t := now.Add(d)
	return &t
}
