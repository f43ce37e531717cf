package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// CHAttemptsRepository stores the attempt analytics copy in ClickHouse.
type CHAttemptsRepository interface {
	InsertBatch(ctx context.Context, attempts []model.DeliveryAttempt) error
	ListByJob(ctx context.Context, jobID string, limit int) ([]model.DeliveryAttempt, error)
}

type chAttemptsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHAttemptsRepository(ch *sqlx.DB) CHAttemptsRepository {
	return &chAttemptsRepository{ch: ch}
}

// chAttempt mirrors the ClickHouse column types.
type chAttempt struct {
	ID              string    `db:"id"`
	DeliveryJobID   string    `db:"delivery_job_id"`
	EndpointID      string    `db:"endpoint_id"`
	AttemptNo       uint32    `db:"attempt_no"`
	HTTPStatus      *int32    `db:"http_status"`
	ErrorType       *string   `db:"error_type"`
	DurationMs      int64     `db:"duration_ms"`
	ResponseSnippet *string   `db:"response_snippet"`
	CreatedAt       time.Time `db:"created_at"`
}

// InsertBatch sends the rows as one native batch (prepare inside a tx).
func (r *chAttemptsRepository) InsertBatch(ctx context.Context, attempts []model.DeliveryAttempt) error {
	if len(attempts) == 0 {
		return nil
	}

	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO delivery_attempts
		    (id, delivery_job_id, endpoint_id, attempt_no, http_status, error_type, duration_ms, response_snippet, created_at)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	for _, a := range attempts {
		var status *int32
		if a.HTTPStatus != nil {
			s := int32(*a.HTTPStatus)
			status = &s
		}
		if _, err := stmt.ExecContext(ctx,
			a.ID, a.DeliveryJobID, a.EndpointID, uint32(a.AttemptNo), status,
			a.ErrorType, a.DurationMs, a.ResponseSnippet, a.CreatedAt,
		); err != nil {
			return fmt.Errorf("append attempt %s: %w", a.ID, err)
		}
	}
	return tx.Commit()
}

func (r *chAttemptsRepository) ListByJob(ctx context.Context, jobID string, limit int) ([]model.DeliveryAttempt, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var rows []chAttempt
	if err := r.ch.SelectContext(ctx, &rows, `
		SELECT id, delivery_job_id, endpoint_id, attempt_no, http_status, error_type,
		       duration_ms, response_snippet, created_at
		FROM delivery_attempts
		WHERE delivery_job_id = ?
		ORDER BY created_at ASC, attempt_no ASC
		LIMIT ?
	`, jobID, limit); err != nil {
		return nil, err
	}

	out := make([]model.DeliveryAttempt, 0, len(rows))
	for _, row := range rows {
		a := model.DeliveryAttempt{
			ID:              row.ID,
			DeliveryJobID:   row.DeliveryJobID,
			EndpointID:      row.EndpointID,
			AttemptNo:       int(row.AttemptNo),
			ErrorType:       row.ErrorType,
			DurationMs:      row.DurationMs,
			ResponseSnippet: row.ResponseSnippet,
			CreatedAt:       row.CreatedAt,
		}
		if row.HTTPStatus != nil {
			s := int(*row.HTTPStatus)
			a.HTTPStatus = &s
		}
		out = append(out, a)
	}
	return out, nil
}
