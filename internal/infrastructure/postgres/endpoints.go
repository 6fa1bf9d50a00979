package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/push-dispatcher/internal/domain"
)

type EndpointRepo struct {
	db  DB
	now func() time.Time
}

func NewEndpointRepo(db DB) *EndpointRepo {
	return &EndpointRepo{db: db, now: time.Now}
}

func (r *EndpointRepo) Put(ctx context.Context, e *domain.DeliveryEndpoint) error {
	const query = `
		INSERT INTO ` + tableEndpoints + ` (id, recipient_id, token, platform, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query, e.EndpointID, e.RecipientID, e.Token, string(e.Platform),
		e.IsActive, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert endpoint: %w", err)
	}
	return nil
}

func (r *EndpointRepo) FetchActive(ctx context.Context, recipientID string) ([]domain.DeliveryEndpoint, error) {
	const query = `
		SELECT id, recipient_id, token, platform, is_active, created_at, updated_at
		FROM ` + tableEndpoints + `
		WHERE recipient_id = $1 AND is_active
	`
	rows, err := r.db.Query(ctx, query, recipientID)
	if err != nil {
		return nil, fmt.Errorf("query active endpoints: %w: %w", domain.ErrStoreUnavailable, err)
	}
	eps, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.DeliveryEndpoint, error) {
		var (
			e        domain.DeliveryEndpoint
			platform string
		)
		err := row.Scan(&e.EndpointID, &e.RecipientID, &e.Token, &platform, &e.IsActive, &e.CreatedAt, &e.UpdatedAt)
		e.Platform = domain.Platform(platform)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan endpoints: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return eps, nil
}

// BatchDeactivate switches every active endpoint holding one of tokens to inactive.
func (r *EndpointRepo) BatchDeactivate(ctx context.Context, tokens []string) (int, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	const query = `
		UPDATE ` + tableEndpoints + `
		SET is_active = FALSE, updated_at = $2
		WHERE token = ANY($1) AND is_active
	`
	tag, err := r.db.Exec(ctx, query, tokens, r.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("deactivate endpoints: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}
