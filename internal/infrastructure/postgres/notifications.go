package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/push-dispatcher/internal/domain"
)

type NotificationRepo struct {
	db DB
}

func NewNotificationRepo(db DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

func (r *NotificationRepo) Put(ctx context.Context, n *domain.ScheduledNotification) error {
	const query = `
		INSERT INTO ` + tableNotifications + ` (id, recipient_id, related_item_id, kind, title, body,
			scheduled_for, sent_at, is_sent, attempts, next_attempt_at, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.Exec(ctx, query, n.NotificationID, n.RecipientID, n.RelatedItemID, string(n.Kind),
		n.Title, n.Body, n.ScheduledFor, n.SentAt, n.IsSent, n.Attempts, n.NextAttemptAt, n.LastError)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *NotificationRepo) FetchDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledNotification, error) {
	const query = `
		SELECT id, recipient_id, related_item_id, kind, title, body,
			scheduled_for, sent_at, is_sent, attempts, next_attempt_at, last_error
		FROM ` + tableNotifications + `
		WHERE NOT is_sent
			AND scheduled_for <= $1
			AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
		ORDER BY scheduled_for
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due notifications: %w: %w", domain.ErrStoreUnavailable, err)
	}
	due, err := pgx.CollectRows(rows, scanNotification)
	if err != nil {
		return nil, fmt.Errorf("scan due notifications: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return due, nil
}

func scanNotification(row pgx.CollectableRow) (domain.ScheduledNotification, error) {
	var (
		n    domain.ScheduledNotification
		kind string
	)
	err := row.Scan(&n.NotificationID, &n.RecipientID, &n.RelatedItemID, &kind, &n.Title, &n.Body,
		&n.ScheduledFor, &n.SentAt, &n.IsSent, &n.Attempts, &n.NextAttemptAt, &n.LastError)
	n.Kind = domain.Kind(kind)
	return n, err
}

// BatchMarkSent flags ids as sent in one statement. Rows already sent keep their sent_at.
func (r *NotificationRepo) BatchMarkSent(ctx context.Context, ids []string, sentAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `
		UPDATE ` + tableNotifications + `
		SET is_sent = TRUE, sent_at = $2
		WHERE id = ANY($1) AND NOT is_sent
	`
	if _, err := r.db.Exec(ctx, query, ids, sentAt); err != nil {
		return fmt.Errorf("mark notifications sent: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *NotificationRepo) BatchRecordFailures(ctx context.Context, failures []domain.DeliveryFailure) error {
	if len(failures) == 0 {
		return nil
	}
	const query = `
		UPDATE ` + tableNotifications + `
		SET attempts = $2, last_error = $3, next_attempt_at = COALESCE($4, next_attempt_at)
		WHERE id = $1 AND NOT is_sent
	`
	b := &pgx.Batch{}
	for _, f := range failures {
		b.Queue(query, f.NotificationID, f.Attempts, f.LastError, f.NextAttemptAt)
	}
	br := r.db.SendBatch(ctx, b)
	defer br.Close()
	for range failures {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("record delivery failures: %w: %w", domain.ErrStoreUnavailable, err)
		}
	}
	return nil
}

func (r *NotificationRepo) BatchDeleteSentBefore(ctx context.Context, cutoff time.Time) (int, error) {
	const query = `
		DELETE FROM ` + tableNotifications + `
		WHERE is_sent AND sent_at < $1
	`
	tag, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired notifications: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}
