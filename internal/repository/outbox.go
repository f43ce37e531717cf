package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// PublishEventFunc hands one claimed event to the broker.
type PublishEventFunc func(ctx context.Context, evt model.OutboxEvent) error

// OutboxRepository defines persistence methods for the outbox_events table.
type OutboxRepository interface {
	// Insert writes a single outbox event. If tx is nil, it will open/commit
	// an internal transaction; otherwise it uses the given tx.
	Insert(ctx context.Context, tx *sqlx.Tx, evt model.OutboxEvent) error
	Get(ctx context.Context, id string) (*model.OutboxEvent, error)
	ClaimPending(ctx context.Context, limit int, publish PublishEventFunc) (int, error)
}

// OutboxRepositoryImpl is a sqlx-backed implementation.
type OutboxRepositoryImpl struct {
	db *sqlx.DB
}

// NewOutboxRepository constructs an OutboxRepositoryImpl.
func NewOutboxRepository(db *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: db}
}

var _ OutboxRepository = (*OutboxRepositoryImpl)(nil)

const outboxColumns = `id, tenant_id, event_type, payload, status, created_at`

// Insert adds a PENDING event row; the outbox dispatcher publishes it later.
func (r *OutboxRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, evt model.OutboxEvent) error {
	const q = `
		INSERT INTO outbox_events (id, tenant_id, event_type, payload, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			evt.ID, evt.TenantID, evt.EventType, []byte(evt.Payload), evt.Status.String(), evt.CreatedAt,
		)
		return err
	})
}

func (r *OutboxRepositoryImpl) Get(ctx context.Context, id string) (*model.OutboxEvent, error) {
	var evt model.OutboxEvent
	err := r.db.GetContext(ctx, &evt, `SELECT `+outboxColumns+` FROM outbox_events WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &evt, nil
}

// ClaimPending locks up to limit PENDING events (oldest first, skipping rows
// locked by other dispatchers), publishes each and marks it ENQUEUED in the
// same transaction. Any publish failure rolls the whole batch back, so the
// events stay PENDING and are retried on the next tick.
func (r *OutboxRepositoryImpl) ClaimPending(ctx context.Context, limit int, publish PublishEventFunc) (int, error) {
	if limit <= 0 {
		limit = 50
	}

	var n int
	err := withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		var events []model.OutboxEvent
		if err := tx.SelectContext(ctx, &events, `
			SELECT `+outboxColumns+`
			  FROM outbox_events
			 WHERE status = ?
			 ORDER BY created_at ASC
			 LIMIT ?
			   FOR UPDATE SKIP LOCKED
		`, model.EventPending.String(), limit); err != nil {
			return fmt.Errorf("select pending events: %w", err)
		}

		for _, evt := range events {
			if err := publish(ctx, evt); err != nil {
				return fmt.Errorf("publish event %s: %w", evt.ID, err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE outbox_events SET status = ? WHERE id = ?`,
				model.EventEnqueued.String(), evt.ID,
			); err != nil {
				return fmt.Errorf("mark event %s enqueued: %w", evt.ID, err)
			}
		}
		n = len(events)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
