package domain

import "time"

// Kind classifies a scheduled notification. The set is open: producers may
// introduce kinds the engine has never seen.
type Kind string

const (
	KindTaskReminder  Kind = "task_reminder"
	KindEventReminder Kind = "event_reminder"
	KindHabitReminder Kind = "habit_reminder"
	KindDailySummary  Kind = "daily_summary"
	KindTest          Kind = "test"
)

// ScheduledNotification is a push message owned by one recipient and due at ScheduledFor.
// IsSent and SentAt always move together: IsSent == (SentAt != nil).
type ScheduledNotification struct {
	NotificationID string     `json:"id" dynamodbav:"notification_id"`
	RecipientID    string     `json:"recipient_id" dynamodbav:"recipient_id"`
	RelatedItemID  *string    `json:"related_item_id,omitempty" dynamodbav:"related_item_id,omitempty"`
	Kind           Kind       `json:"kind" dynamodbav:"kind"`
	Title          string     `json:"title" dynamodbav:"title"`
	Body           string     `json:"body" dynamodbav:"body"`
	ScheduledFor   time.Time  `json:"scheduled_for" dynamodbav:"scheduled_for"`
	SentAt         *time.Time `json:"sent_at" dynamodbav:"sent_at,omitempty"`
	IsSent         bool       `json:"is_sent" dynamodbav:"is_sent"`
	Attempts       int        `json:"attempts" dynamodbav:"attempts"`
	NextAttemptAt  *time.Time `json:"next_attempt_at,omitempty" dynamodbav:"next_attempt_at,omitempty"`
	LastError      string     `json:"last_error,omitempty" dynamodbav:"last_error,omitempty"`
}

// IsDue reports whether the notification should be picked up by a cycle running at now.
func (n *ScheduledNotification) IsDue(now time.Time) bool {
	if n.IsSent || n.ScheduledFor.After(now) {
		return false
	}
	return n.NextAttemptAt == nil || !n.NextAttemptAt.After(now)
}

// DeliveryFailure is the bookkeeping written for a notification that stayed Due after a cycle.
type DeliveryFailure struct {
	NotificationID string
	Attempts       int
	NextAttemptAt  *time.Time
	LastError      string
}
