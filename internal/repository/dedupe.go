package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// DedupeRepository records which (endpoint, event) pairs were delivered.
type DedupeRepository interface {
	Exists(ctx context.Context, endpointID, eventID string) (bool, error)
	Insert(ctx context.Context, tx *sqlx.Tx, endpointID, eventID string, at time.Time) (bool, error)
}

type DedupeRepositoryImpl struct {
	db *sqlx.DB
}

func NewDedupeRepository(db *sqlx.DB) *DedupeRepositoryImpl {
	return &DedupeRepositoryImpl{db: db}
}

var _ DedupeRepository = (*DedupeRepositoryImpl)(nil)

func (r *DedupeRepositoryImpl) Exists(ctx context.Context, endpointID, eventID string) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM delivered_dedupe WHERE endpoint_id = ? AND outbox_event_id = ?
	`, endpointID, eventID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Insert adds the marker; it reports false when the marker already existed.
func (r *DedupeRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, endpointID, eventID string, at time.Time) (bool, error) {
	var inserted bool
	err := withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT IGNORE INTO delivered_dedupe (endpoint_id, outbox_event_id, delivered_at)
			VALUES (?, ?, ?)
		`, endpointID, eventID, at)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n == 1
		return nil
	})
	return inserted, err
}
