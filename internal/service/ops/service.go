package ops

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
)

// JobStore is the job persistence the operator endpoints need.
type JobStore interface {
	GetJob(ctx context.Context, id string) (*model.DeliveryJob, error)
	GetEndpoint(ctx context.Context, id string) (*model.Endpoint, error)
	Replay(ctx context.Context, tenantID, jobID string, now time.Time) (*model.DeliveryJob, error)
	CountByStatus(ctx context.Context, tenantID string) (map[model.JobStatus]int, error)
	ListDeadLetters(ctx context.Context, jobID string) ([]model.DeadLetter, error)
}

// DeadLetterView is a job with every dead letter it has accumulated.
type DeadLetterView struct {
	Job         *model.DeliveryJob `json:"job"`
	DeadLetters []model.DeadLetter `json:"dead_letters"`
}

// AttemptLister lists a job's attempts (ClickHouse or MySQL).
type AttemptLister interface {
	ListByJob(ctx context.Context, jobID string, limit int) ([]model.DeliveryAttempt, error)
}

type Service struct {
	jobs     JobStore
	attempts AttemptLister
	now      func() time.Time
}

func New(jobs JobStore, attempts AttemptLister) *Service {
	return &Service{jobs: jobs, attempts: attempts, now: time.Now}
}

// Replay returns a DLQ job to PENDING, due now. repository.ErrNotFound when
// the job does not exist for the tenant, repository.ErrNotDLQ when it is not
// dead-lettered.
func (s *Service) Replay(ctx context.Context, tenantID, jobID string) (*model.DeliveryJob, error) {
	return s.jobs.Replay(ctx, tenantID, jobID, s.now().UTC())
}

// Stats counts the tenant's jobs per status; every status is present.
func (s *Service) Stats(ctx context.Context, tenantID string) (map[model.JobStatus]int, error) {
	counts, err := s.jobs.CountByStatus(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := map[model.JobStatus]int{
		model.JobPending:    0,
		model.JobInProgress: 0,
		model.JobSucceeded:  0,
		model.JobFailed:     0,
		model.JobDLQ:        0,
	}
	for st, n := range counts {
		out[st] = n
	}
	return out, nil
}

// Attempts lists the attempts of one of the tenant's jobs.
func (s *Service) Attempts(ctx context.Context, tenantID, jobID string, limit int) ([]model.DeliveryAttempt, error) {
	if _, err := s.tenantJob(ctx, tenantID, jobID); err != nil {
		return nil, err
	}
	return s.attempts.ListByJob(ctx, jobID, limit)
}

// DeadLetter returns one of the tenant's jobs with its dead-letter history,
// oldest first. Replayed jobs keep the rows of earlier DLQ transitions.
func (s *Service) DeadLetter(ctx context.Context, tenantID, jobID string) (*DeadLetterView, error) {
	job, err := s.tenantJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	dls, err := s.jobs.ListDeadLetters(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	return &DeadLetterView{Job: job, DeadLetters: dls}, nil
}

// tenantJob loads a job and hides it (repository.ErrNotFound) from other tenants.
func (s *Service) tenantJob(ctx context.Context, tenantID, jobID string) (*model.DeliveryJob, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	ep, err := s.jobs.GetEndpoint(ctx, job.EndpointID)
	if err != nil {
		return nil, fmt.Errorf("load endpoint: %w", err)
	}
	if ep.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	return job, nil
}
