package repository

import (
	"context"

	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// AttemptsRepository is the append-only log of delivery attempts.
type AttemptsRepository interface {
	Insert(ctx context.Context, a *model.DeliveryAttempt) error
	ListByJob(ctx context.Context, jobID string, limit int) ([]model.DeliveryAttempt, error)
}

type AttemptsRepositoryImpl struct {
	db *sqlx.DB
}

func NewAttemptsRepository(db *sqlx.DB) *AttemptsRepositoryImpl {
	return &AttemptsRepositoryImpl{db: db}
}

var _ AttemptsRepository = (*AttemptsRepositoryImpl)(nil)

func (r *AttemptsRepositoryImpl) Insert(ctx context.Context, a *model.DeliveryAttempt) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO delivery_attempts
		    (id, delivery_job_id, attempt_no, http_status, error_type, duration_ms, response_snippet, created_at)
		VALUES
		    (:id, :delivery_job_id, :attempt_no, :http_status, :error_type, :duration_ms, :response_snippet, :created_at)
	`, a)
	return err
}

func (r *AttemptsRepositoryImpl) ListByJob(ctx context.Context, jobID string, limit int) ([]model.DeliveryAttempt, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var rows []model.DeliveryAttempt
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, delivery_job_id, attempt_no, http_status, error_type, duration_ms, response_snippet, created_at
		  FROM delivery_attempts
		 WHERE delivery_job_id = ?
		 ORDER BY created_at ASC, attempt_no ASC
		 LIMIT ?
	`, jobID, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
