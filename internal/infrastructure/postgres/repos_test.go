package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/push-dispatcher/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	execs   []execCall
	batches []*pgx.Batch
	tag     pgconn.CommandTag
	err     error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	return f.tag, f.err
}

func (f *fakeDB) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, f.err
}

func (f *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	f.batches = append(f.batches, b)
	return &fakeBatchResults{err: f.err}
}

type fakeBatchResults struct {
	err    error
	closed bool
}

func (b *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("UPDATE 1"), b.err
}
func (b *fakeBatchResults) Query() (pgx.Rows, error) { return nil, b.err }
func (b *fakeBatchResults) QueryRow() pgx.Row        { return nil }
func (b *fakeBatchResults) Close() error {
	b.closed = true
	return nil
}

var now = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func TestMigrate_AppliesEveryStatement(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, Migrate(context.Background(), db))
	assert.Len(t, db.execs, len(schema))
}

func TestMigrate_StopsOnError(t *testing.T) {
	db := &fakeDB{err: errors.New("permission denied")}
	err := Migrate(context.Background(), db)
	assert.ErrorContains(t, err, "permission denied")
	assert.Len(t, db.execs, 1)
}

func TestBatchMarkSent_SingleStatementSkipsAlreadySent(t *testing.T) {
	db := &fakeDB{tag: pgconn.NewCommandTag("UPDATE 2")}
	repo := NewNotificationRepo(db)

	require.NoError(t, repo.BatchMarkSent(context.Background(), []string{"n1", "n2"}, now))

	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0].sql, "NOT is_sent")
	assert.Equal(t, []any{[]string{"n1", "n2"}, now}, db.execs[0].args)
}

func TestBatchMarkSent_EmptyIsNoop(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, NewNotificationRepo(db).BatchMarkSent(context.Background(), nil, now))
	assert.Empty(t, db.execs)
}

func TestBatchMarkSent_WrapsStoreError(t *testing.T) {
	db := &fakeDB{err: errors.New("conn refused")}
	err := NewNotificationRepo(db).BatchMarkSent(context.Background(), []string{"n1"}, now)
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))
}

func TestFetchDue_WrapsStoreError(t *testing.T) {
	db := &fakeDB{err: errors.New("conn refused")}
	_, err := NewNotificationRepo(db).FetchDue(context.Background(), now, 50)
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))
}

func TestBatchRecordFailures_QueuesOneUpdatePerFailure(t *testing.T) {
	db := &fakeDB{}
	repo := NewNotificationRepo(db)
	next := now.Add(time.Minute)

	err := repo.BatchRecordFailures(context.Background(), []domain.DeliveryFailure{
		{NotificationID: "n1", Attempts: 1, LastError: "transport failure", NextAttemptAt: &next},
		{NotificationID: "n2", Attempts: 4, LastError: "no endpoint accepted"},
	})

	require.NoError(t, err)
	require.Len(t, db.batches, 1)
	assert.Equal(t, 2, db.batches[0].Len())
	q := db.batches[0].QueuedQueries[0]
	assert.Equal(t, []any{"n1", 1, "transport failure", &next}, q.Arguments)
}

func TestBatchDeleteSentBefore_ReturnsRowsAffected(t *testing.T) {
	db := &fakeDB{tag: pgconn.NewCommandTag("DELETE 7")}
	cutoff := now.Add(-30 * 24 * time.Hour)

	n, err := NewNotificationRepo(db).BatchDeleteSentBefore(context.Background(), cutoff)

	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, []any{cutoff}, db.execs[0].args)
}

func TestBatchDeactivate_ReturnsChangedCount(t *testing.T) {
	db := &fakeDB{tag: pgconn.NewCommandTag("UPDATE 1")}
	repo := NewEndpointRepo(db)
	repo.now = func() time.Time { return now }

	n, err := repo.BatchDeactivate(context.Background(), []string{"tok-a", "tok-b"})

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, db.execs[0].sql, "AND is_active")
	assert.Equal(t, []any{[]string{"tok-a", "tok-b"}, now}, db.execs[0].args)
}

func TestBatchDeactivate_EmptyIsNoop(t *testing.T) {
	db := &fakeDB{}
	n, err := NewEndpointRepo(db).BatchDeactivate(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, db.execs)
}
