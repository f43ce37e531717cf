package ops

import (
	"context"
	"testing"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
	"github.com/jmehdipour/webhook-gateway/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

func newStore(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	store.PutEndpoint(model.Endpoint{ID: "ep1", TenantID: "t1", Status: model.EndpointActive})
	store.PutEndpoint(model.Endpoint{ID: "ep2", TenantID: "t2", Status: model.EndpointActive})

	for _, job := range []model.DeliveryJob{
		{ID: "j1", EndpointID: "ep1", OutboxEventID: "e1", Status: model.JobDLQ, AttemptCount: 5},
		{ID: "j2", EndpointID: "ep1", OutboxEventID: "e2", Status: model.JobFailed, AttemptCount: 1},
		{ID: "j3", EndpointID: "ep2", OutboxEventID: "e1", Status: model.JobSucceeded, AttemptCount: 1},
	} {
		job.CreatedAt, job.UpdatedAt = t0, t0
		require.NoError(t, store.CreateJob(ctx, &job))
	}
	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.NoError(t, store.DeadLetterJob(ctx, job, "max attempts (5) reached, last error: 500"))
	require.NoError(t, store.InsertAttempt(ctx, &model.DeliveryAttempt{ID: "a1", DeliveryJobID: "j3", AttemptNo: 1}))
	return store
}

func newService(store *memory.Store) *Service {
	svc := New(store, store)
	svc.now = func() time.Time { return t0.Add(time.Hour) }
	return svc
}

func TestReplayResetsDeadLetteredJob(t *testing.T) {
	store := newStore(t)
	require.Len(t, store.DeadLetters(), 1)

	job, err := newService(store).Replay(context.Background(), "t1", "j1")
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, job.Status)
	assert.Zero(t, job.AttemptCount)
	require.NotNil(t, job.NextAttemptAt)
	assert.Equal(t, t0.Add(time.Hour), *job.NextAttemptAt)
	assert.Len(t, store.DeadLetters(), 1)
}

func TestDeadLettersKeptAcrossReplays(t *testing.T) {
	store := newStore(t)
	svc := newService(store)
	ctx := context.Background()

	job, err := svc.Replay(ctx, "t1", "j1")
	require.NoError(t, err)

	job.Status = model.JobDLQ
	job.AttemptCount = 5
	job.NextAttemptAt = nil
	require.NoError(t, store.DeadLetterJob(ctx, job, "max attempts reached: 5, last error: HTTP 503"))

	view, err := svc.DeadLetter(ctx, "t1", "j1")
	require.NoError(t, err)
	assert.Equal(t, model.JobDLQ, view.Job.Status)
	require.Len(t, view.DeadLetters, 2)
	assert.Equal(t, "max attempts (5) reached, last error: 500", view.DeadLetters[0].Reason)
	assert.Equal(t, "max attempts reached: 5, last error: HTTP 503", view.DeadLetters[1].Reason)
	assert.NotEqual(t, view.DeadLetters[0].ID, view.DeadLetters[1].ID)
}

func TestDeadLetterScopedToTenant(t *testing.T) {
	svc := newService(newStore(t))
	ctx := context.Background()

	_, err := svc.DeadLetter(ctx, "t2", "j1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	view, err := svc.DeadLetter(ctx, "t1", "j2")
	require.NoError(t, err)
	assert.Empty(t, view.DeadLetters)
}

func TestReplayErrors(t *testing.T) {
	svc := newService(newStore(t))
	ctx := context.Background()

	_, err := svc.Replay(ctx, "t1", "j2")
	assert.ErrorIs(t, err, repository.ErrNotDLQ)

	_, err = svc.Replay(ctx, "t2", "j1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = svc.Replay(ctx, "t1", "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestStatsListsEveryStatus(t *testing.T) {
	stats, err := newService(newStore(t)).Stats(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, map[model.JobStatus]int{
		model.JobPending:    0,
		model.JobInProgress: 0,
		model.JobSucceeded:  0,
		model.JobFailed:     1,
		model.JobDLQ:        1,
	}, stats)
}

func TestAttemptsScopedToTenant(t *testing.T) {
	svc := newService(newStore(t))
	ctx := context.Background()

	attempts, err := svc.Attempts(ctx, "t2", "j3", 50)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, "a1", attempts[0].ID)

	_, err = svc.Attempts(ctx, "t1", "j3", 50)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
