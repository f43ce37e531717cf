package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// PublishJobFunc hands one claimed job to the retry topic.
type PublishJobFunc func(ctx context.Context, msg model.RetryMessage) error

// JobsRepository defines persistence for the delivery_jobs table.
type JobsRepository interface {
	Create(ctx context.Context, tx *sqlx.Tx, job *model.DeliveryJob) error
	Get(ctx context.Context, id string) (*model.DeliveryJob, error)
	Update(ctx context.Context, tx *sqlx.Tx, job *model.DeliveryJob) error
	CountInProgress(ctx context.Context, endpointID string) (int, error)

	ClaimDue(ctx context.Context, now time.Time, limit int, publish PublishJobFunc) (int, error)
	ClaimAttempt(ctx context.Context, jobID string, attempt int, now time.Time) (bool, error)
	ReclaimStale(ctx context.Context, olderThan, now time.Time) (int64, error)

	Replay(ctx context.Context, tenantID, jobID string, now time.Time) (*model.DeliveryJob, error)
	CountByStatus(ctx context.Context, tenantID string) (map[model.JobStatus]int, error)
}

type JobsRepositoryImpl struct {
	db *sqlx.DB
}

func NewJobsRepository(db *sqlx.DB) *JobsRepositoryImpl {
	return &JobsRepositoryImpl{db: db}
}

var _ JobsRepository = (*JobsRepositoryImpl)(nil)

const jobColumns = `id, endpoint_id, outbox_event_id, status, next_attempt_at, attempt_count, created_at, updated_at`

// Create inserts a job. The unique (endpoint_id, outbox_event_id) key turns a
// second job for the same pair into ErrDuplicateJob.
func (r *JobsRepositoryImpl) Create(ctx context.Context, tx *sqlx.Tx, job *model.DeliveryJob) error {
	const q = `
		INSERT INTO delivery_jobs
		    (id, endpoint_id, outbox_event_id, status, next_attempt_at, attempt_count, created_at, updated_at)
		VALUES
		    (?,  ?,           ?,               ?,      ?,               ?,             ?,          ?)
	`
	err := withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			job.ID, job.EndpointID, job.OutboxEventID, job.Status.String(),
			job.NextAttemptAt, job.AttemptCount, job.CreatedAt, job.UpdatedAt,
		)
		return err
	})
	if isDuplicateEntry(err) {
		return ErrDuplicateJob
	}
	return err
}

func (r *JobsRepositoryImpl) Get(ctx context.Context, id string) (*model.DeliveryJob, error) {
	var job model.DeliveryJob
	err := r.db.GetContext(ctx, &job, `SELECT `+jobColumns+` FROM delivery_jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Update writes status, schedule and attempt count, stamping updated_at.
func (r *JobsRepositoryImpl) Update(ctx context.Context, tx *sqlx.Tx, job *model.DeliveryJob) error {
	job.UpdatedAt = time.Now().UTC()
	const q = `
		UPDATE delivery_jobs
		   SET status = ?, next_attempt_at = ?, attempt_count = ?, updated_at = ?
		 WHERE id = ?
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			job.Status.String(), job.NextAttemptAt, job.AttemptCount, job.UpdatedAt, job.ID,
		)
		return err
	})
}

func (r *JobsRepositoryImpl) CountInProgress(ctx context.Context, endpointID string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM delivery_jobs WHERE endpoint_id = ? AND status = ?`,
		endpointID, model.JobInProgress.String(),
	)
	return n, err
}

// ClaimDue locks up to limit PENDING jobs whose next_attempt_at has passed,
// publishes each id with its attempt count and flips the job to IN_PROGRESS within the same
// transaction. A publish failure rolls the batch back.
func (r *JobsRepositoryImpl) ClaimDue(ctx context.Context, now time.Time, limit int, publish PublishJobFunc) (int, error) {
	if limit <= 0 {
		limit = 50
	}

	var n int
	err := withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		var due []model.RetryMessage
		if err := tx.SelectContext(ctx, &due, `
			SELECT id, attempt_count
			  FROM delivery_jobs
			 WHERE status = ? AND next_attempt_at <= ?
			 ORDER BY next_attempt_at ASC
			 LIMIT ?
			   FOR UPDATE SKIP LOCKED
		`, model.JobPending.String(), now, limit); err != nil {
			return fmt.Errorf("select due jobs: %w", err)
		}

		for _, msg := range due {
			if err := publish(ctx, msg); err != nil {
				return fmt.Errorf("publish job %s: %w", msg.JobID, err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE delivery_jobs SET status = ?, updated_at = ? WHERE id = ?`,
				model.JobInProgress.String(), now, msg.JobID,
			); err != nil {
				return fmt.Errorf("mark job %s in progress: %w", msg.JobID, err)
			}
		}
		n = len(due)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ClaimAttempt bumps the attempt count of an IN_PROGRESS job from attempt to
// attempt+1. Only one caller per (job, attempt) gets true.
func (r *JobsRepositoryImpl) ClaimAttempt(ctx context.Context, jobID string, attempt int, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE delivery_jobs
		   SET attempt_count = attempt_count + 1, updated_at = ?
		 WHERE id = ? AND status = ? AND attempt_count = ?
	`, now, jobID, model.JobInProgress.String(), attempt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReclaimStale returns IN_PROGRESS jobs untouched since olderThan to PENDING,
// due immediately. It recovers jobs whose attempt or retry message was lost.
func (r *JobsRepositoryImpl) ReclaimStale(ctx context.Context, olderThan, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE delivery_jobs
		   SET status = ?, next_attempt_at = ?, updated_at = ?
		 WHERE status = ? AND updated_at < ?
	`, model.JobPending.String(), now, now, model.JobInProgress.String(), olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Replay moves a DLQ job of the tenant back to PENDING with a fresh attempt
// budget. Its dead letters stay as history.
func (r *JobsRepositoryImpl) Replay(ctx context.Context, tenantID, jobID string, now time.Time) (*model.DeliveryJob, error) {
	var job model.DeliveryJob
	err := withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &job, `
			SELECT j.id, j.endpoint_id, j.outbox_event_id, j.status, j.next_attempt_at,
			       j.attempt_count, j.created_at, j.updated_at
			  FROM delivery_jobs j
			  JOIN webhook_endpoints e ON e.id = j.endpoint_id
			 WHERE j.id = ? AND e.tenant_id = ?
			   FOR UPDATE
		`, jobID, tenantID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if job.Status != model.JobDLQ {
			return ErrNotDLQ
		}

		job.Status = model.JobPending
		job.AttemptCount = 0
		job.NextAttemptAt = &now
		job.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			UPDATE delivery_jobs
			   SET status = ?, attempt_count = 0, next_attempt_at = ?, updated_at = ?
			 WHERE id = ?
		`, job.Status.String(), now, now, job.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// CountByStatus aggregates the tenant's jobs per status.
func (r *JobsRepositoryImpl) CountByStatus(ctx context.Context, tenantID string) (map[model.JobStatus]int, error) {
	var rows []struct {
		Status model.JobStatus `db:"status"`
		N      int             `db:"n"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT j.status AS status, COUNT(*) AS n
		  FROM delivery_jobs j
		  JOIN webhook_endpoints e ON e.id = j.endpoint_id
		 WHERE e.tenant_id = ?
		 GROUP BY j.status
	`, tenantID)
	if err != nil {
		return nil, err
	}
	out := make(map[model.JobStatus]int, len(rows))
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}
