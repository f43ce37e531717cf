package repository

import (
	"context"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmehdipour/webhook-gateway/internal/util"
	"github.com/jmoiron/sqlx"
)

// DeliveryStore bundles the MySQL repositories the delivery engine and the
// dispatchers work against.
type DeliveryStore struct {
	db          *sqlx.DB
	Outbox      *OutboxRepositoryImpl
	Endpoints   *EndpointsRepositoryImpl
	Jobs        *JobsRepositoryImpl
	Attempts    *AttemptsRepositoryImpl
	Dedupe      *DedupeRepositoryImpl
	DeadLetters *DeadLettersRepositoryImpl
}

func NewDeliveryStore(db *sqlx.DB) *DeliveryStore {
	return &DeliveryStore{
		db:          db,
		Outbox:      NewOutboxRepository(db),
		Endpoints:   NewEndpointsRepository(db),
		Jobs:        NewJobsRepository(db),
		Attempts:    NewAttemptsRepository(db),
		Dedupe:      NewDedupeRepository(db),
		DeadLetters: NewDeadLettersRepository(db),
	}
}

func (s *DeliveryStore) ActiveEndpoints(ctx context.Context, tenantID string) ([]model.Endpoint, error) {
	return s.Endpoints.ListActive(ctx, tenantID)
}

func (s *DeliveryStore) GetEndpoint(ctx context.Context, id string) (*model.Endpoint, error) {
	return s.Endpoints.Get(ctx, id)
}

func (s *DeliveryStore) GetEvent(ctx context.Context, id string) (*model.OutboxEvent, error) {
	return s.Outbox.Get(ctx, id)
}

func (s *DeliveryStore) GetJob(ctx context.Context, id string) (*model.DeliveryJob, error) {
	return s.Jobs.Get(ctx, id)
}

func (s *DeliveryStore) DedupeExists(ctx context.Context, endpointID, eventID string) (bool, error) {
	return s.Dedupe.Exists(ctx, endpointID, eventID)
}

func (s *DeliveryStore) CountInProgress(ctx context.Context, endpointID string) (int, error) {
	return s.Jobs.CountInProgress(ctx, endpointID)
}

func (s *DeliveryStore) CreateJob(ctx context.Context, job *model.DeliveryJob) error {
	return s.Jobs.Create(ctx, nil, job)
}

func (s *DeliveryStore) UpdateJob(ctx context.Context, job *model.DeliveryJob) error {
	return s.Jobs.Update(ctx, nil, job)
}

func (s *DeliveryStore) InsertAttempt(ctx context.Context, a *model.DeliveryAttempt) error {
	return s.Attempts.Insert(ctx, a)
}

func (s *DeliveryStore) UpdateBreaker(ctx context.Context, endpointID string, fn func(ep *model.Endpoint) bool) (*model.Endpoint, error) {
	return s.Endpoints.UpdateBreaker(ctx, endpointID, fn)
}

// CompleteJob marks the job SUCCEEDED and writes the dedupe marker atomically.
func (s *DeliveryStore) CompleteJob(ctx context.Context, job *model.DeliveryJob) (bool, error) {
	var inserted bool
	err := withTx(ctx, s.db, nil, func(tx *sqlx.Tx) error {
		if err := s.Jobs.Update(ctx, tx, job); err != nil {
			return err
		}
		var err error
		inserted, err = s.Dedupe.Insert(ctx, tx, job.EndpointID, job.OutboxEventID, job.UpdatedAt)
		return err
	})
	return inserted, err
}

// DeadLetterJob marks the job DLQ and appends a dead letter atomically.
func (s *DeliveryStore) DeadLetterJob(ctx context.Context, job *model.DeliveryJob, reason string) error {
	return withTx(ctx, s.db, nil, func(tx *sqlx.Tx) error {
		if err := s.Jobs.Update(ctx, tx, job); err != nil {
			return err
		}
		return s.DeadLetters.Insert(ctx, tx, model.DeadLetter{
			ID:            util.NewID(),
			DeliveryJobID: job.ID,
			Reason:        reason,
			CreatedAt:     time.Now().UTC(),
		})
	})
}

func (s *DeliveryStore) ClaimPendingEvents(ctx context.Context, limit int, publish PublishEventFunc) (int, error) {
	return s.Outbox.ClaimPending(ctx, limit, publish)
}

func (s *DeliveryStore) ClaimDueJobs(ctx context.Context, now time.Time, limit int, publish PublishJobFunc) (int, error) {
	return s.Jobs.ClaimDue(ctx, now, limit, publish)
}

func (s *DeliveryStore) ClaimAttempt(ctx context.Context, jobID string, attempt int, now time.Time) (bool, error) {
	return s.Jobs.ClaimAttempt(ctx, jobID, attempt, now)
}

func (s *DeliveryStore) ListDeadLetters(ctx context.Context, jobID string) ([]model.DeadLetter, error) {
	return s.DeadLetters.ListByJob(ctx, jobID)
}

func (s *DeliveryStore) ReclaimStale(ctx context.Context, olderThan, now time.Time) (int64, error) {
	return s.Jobs.ReclaimStale(ctx, olderThan, now)
}

func (s *DeliveryStore) Replay(ctx context.Context, tenantID, jobID string, now time.Time) (*model.DeliveryJob, error) {
	return s.Jobs.Replay(ctx, tenantID, jobID, now)
}

func (s *DeliveryStore) CountByStatus(ctx context.Context, tenantID string) (map[model.JobStatus]int, error) {
	return s.Jobs.CountByStatus(ctx, tenantID)
}
