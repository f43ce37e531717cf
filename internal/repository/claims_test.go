package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0         = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	errBroker  = errors.New("broker down")
	selectDue  = `SELECT id, attempt_count FROM delivery_jobs (.+) FOR UPDATE SKIP LOCKED`
	selectPend = `SELECT id, tenant_id, event_type, payload, status, created_at FROM outbox_events (.+) FOR UPDATE SKIP LOCKED`
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return sqlx.NewDb(db, "mysql"), mock
}

func pendingRows(ids ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "tenant_id", "event_type", "payload", "status", "created_at"})
	for _, id := range ids {
		rows.AddRow(id, "tenant-1", "order.created", []byte(`{"id":"`+id+`"}`), "PENDING", t0)
	}
	return rows
}

func TestClaimPendingPublishErrorRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery(selectPend).WithArgs("PENDING", 10).WillReturnRows(pendingRows("e1", "e2"))
	mock.ExpectRollback()

	var published []string
	n, err := NewOutboxRepository(db).ClaimPending(context.Background(), 10, func(_ context.Context, evt model.OutboxEvent) error {
		published = append(published, evt.ID)
		return errBroker
	})

	assert.ErrorIs(t, err, errBroker)
	assert.Zero(t, n)
	assert.Equal(t, []string{"e1"}, published)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimPendingMarksEachPublishedEvent(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery(selectPend).WillReturnRows(pendingRows("e1", "e2"))
	mock.ExpectExec(`UPDATE outbox_events SET status = \? WHERE id = \?`).
		WithArgs("ENQUEUED", "e1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE outbox_events SET status = \? WHERE id = \?`).
		WithArgs("ENQUEUED", "e2").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var published []string
	n, err := NewOutboxRepository(db).ClaimPending(context.Background(), 10, func(_ context.Context, evt model.OutboxEvent) error {
		published = append(published, evt.ID)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"e1", "e2"}, published)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimDuePublishErrorRollsBackBatch(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery(selectDue).WithArgs("PENDING", t0, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "attempt_count"}).AddRow("j1", 1).AddRow("j2", 3))
	mock.ExpectExec(`UPDATE delivery_jobs SET status = \?, updated_at = \? WHERE id = \?`).
		WithArgs("IN_PROGRESS", t0, "j1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	calls := 0
	n, err := NewJobsRepository(db).ClaimDue(context.Background(), t0, 0, func(_ context.Context, msg model.RetryMessage) error {
		calls++
		if msg.JobID == "j2" {
			return errBroker
		}
		return nil
	})

	assert.ErrorIs(t, err, errBroker)
	assert.Zero(t, n)
	assert.Equal(t, 2, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimDuePublishesAttemptCount(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery(selectDue).
		WillReturnRows(sqlmock.NewRows([]string{"id", "attempt_count"}).AddRow("j1", 2))
	mock.ExpectExec(`UPDATE delivery_jobs SET status`).
		WithArgs("IN_PROGRESS", t0, "j1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var got []model.RetryMessage
	n, err := NewJobsRepository(db).ClaimDue(context.Background(), t0, 10, func(_ context.Context, msg model.RetryMessage) error {
		got = append(got, msg)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []model.RetryMessage{{JobID: "j1", Attempt: 2}}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimAttemptOnlyOneWinner(t *testing.T) {
	db, mock := newMockDB(t)
	claim := `UPDATE delivery_jobs SET attempt_count = attempt_count \+ 1, updated_at = \? WHERE id = \? AND status = \? AND attempt_count = \?`
	mock.ExpectExec(claim).WithArgs(t0, "j1", "IN_PROGRESS", 2).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(claim).WithArgs(t0, "j1", "IN_PROGRESS", 2).WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewJobsRepository(db)
	won, err := repo.ClaimAttempt(context.Background(), "j1", 2, t0)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.ClaimAttempt(context.Background(), "j1", 2, t0)
	require.NoError(t, err)
	assert.False(t, won)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplayKeepsDeadLetters(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM delivery_jobs j JOIN webhook_endpoints e (.+) FOR UPDATE`).
		WithArgs("j1", "t1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "endpoint_id", "outbox_event_id", "status", "next_attempt_at", "attempt_count", "created_at", "updated_at",
		}).AddRow("j1", "ep1", "e1", "DLQ", nil, 5, t0, t0))
	mock.ExpectExec(`UPDATE delivery_jobs SET status = \?, attempt_count = 0`).
		WithArgs("PENDING", t0, t0, "j1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	job, err := NewJobsRepository(db).Replay(context.Background(), "t1", "j1", t0)
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, job.Status)
	assert.Zero(t, job.AttemptCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDedupeInsertReportsExistingMarker(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT IGNORE INTO delivered_dedupe`).
		WithArgs("ep1", "e1", t0).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	inserted, err := NewDedupeRepository(db).Insert(context.Background(), nil, "ep1", "e1", t0)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
