package delivery

import (
	"context"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/model"
)

// Store is the persistence the delivery engine needs. The MySQL
// implementation lives in repository; tests use repository/memory.
type Store interface {
	ActiveEndpoints(ctx context.Context, tenantID string) ([]model.Endpoint, error)
	GetEndpoint(ctx context.Context, id string) (*model.Endpoint, error)
	GetEvent(ctx context.Context, id string) (*model.OutboxEvent, error)
	GetJob(ctx context.Context, id string) (*model.DeliveryJob, error)

	DedupeExists(ctx context.Context, endpointID, eventID string) (bool, error)
	CountInProgress(ctx context.Context, endpointID string) (int, error)

	// CreateJob inserts a job; repository.ErrDuplicateJob when the
	// (endpoint, event) pair already has one.
	CreateJob(ctx context.Context, job *model.DeliveryJob) error
	UpdateJob(ctx context.Context, job *model.DeliveryJob) error
	InsertAttempt(ctx context.Context, a *model.DeliveryAttempt) error

	// UpdateBreaker locks the endpoint row, applies fn and persists the
	// breaker fields when fn returns true. It returns the row as written.
	UpdateBreaker(ctx context.Context, endpointID string, fn func(ep *model.Endpoint) bool) (*model.Endpoint, error)

	// CompleteJob marks the job SUCCEEDED and inserts the dedupe marker in one
	// transaction. inserted is false when the marker already existed.
	CompleteJob(ctx context.Context, job *model.DeliveryJob) (inserted bool, err error)

	// DeadLetterJob marks the job DLQ and appends a dead letter in one transaction.
	DeadLetterJob(ctx context.Context, job *model.DeliveryJob, reason string) error

	// ClaimAttempt moves an IN_PROGRESS job from attempt to attempt+1 and
	// reports whether this caller won the attempt.
	ClaimAttempt(ctx context.Context, jobID string, attempt int, now time.Time) (bool, error)
}
