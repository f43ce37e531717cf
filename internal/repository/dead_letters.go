package repository

import (
	"context"

	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

type DeadLettersRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, dl model.DeadLetter) error
	ListByJob(ctx context.Context, jobID string) ([]model.DeadLetter, error)
}

type DeadLettersRepositoryImpl struct {
	db *sqlx.DB
}

func NewDeadLettersRepository(db *sqlx.DB) *DeadLettersRepositoryImpl {
	return &DeadLettersRepositoryImpl{db: db}
}

var _ DeadLettersRepository = (*DeadLettersRepositoryImpl)(nil)

// Insert appends a dead letter. Earlier rows of the same job are kept.
func (r *DeadLettersRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, dl model.DeadLetter) error {
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO dead_letters (id, delivery_job_id, reason, created_at)
			VALUES (?, ?, ?, ?)
		`, dl.ID, dl.DeliveryJobID, dl.Reason, dl.CreatedAt)
		return err
	})
}

// ListByJob returns the job's dead letters, oldest first.
func (r *DeadLettersRepositoryImpl) ListByJob(ctx context.Context, jobID string) ([]model.DeadLetter, error) {
	dls := []model.DeadLetter{}
	err := r.db.SelectContext(ctx, &dls, `
		SELECT id, delivery_job_id, reason, created_at
		  FROM dead_letters
		 WHERE delivery_job_id = ?
		 ORDER BY created_at ASC, id ASC
	`, jobID)
	if err != nil {
		return nil, err
	}
	return dls, nil
}
