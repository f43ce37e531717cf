package dispatcher_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/broker"
	"github.com/jmehdipour/webhook-gateway/internal/dispatcher"
	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmehdipour/webhook-gateway/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func putEvent(store *memory.Store, id, tenant string, at time.Time) {
	store.PutEvent(model.OutboxEvent{
		ID:        id,
		TenantID:  tenant,
		EventType: "order.created",
		Payload:   json.RawMessage(`{"id":"` + id + `"}`),
		Status:    model.EventPending,
		CreatedAt: at,
	})
}

func TestOutboxPublishesOldestFirstKeyedByTenant(t *testing.T) {
	store := memory.New()
	mem := broker.NewMemory(16)
	putEvent(store, "e2", "tenant-b", t0.Add(time.Second))
	putEvent(store, "e1", "tenant-a", t0)
	putEvent(store, "e3", "tenant-a", t0.Add(2*time.Second))

	n, err := dispatcher.NewOutbox(store, mem, "webhook.events", 2).Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	c := mem.Consumer("webhook.events")
	for _, want := range []struct{ id, key string }{{"e1", "tenant-a"}, {"e2", "tenant-b"}} {
		msg, err := c.Fetch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want.key, string(msg.Key))

		var evt model.EventMessage
		require.NoError(t, json.Unmarshal(msg.Value, &evt))
		assert.Equal(t, want.id, evt.ID)
		assert.Equal(t, `{"id":"`+want.id+`"}`, evt.Payload)
	}

	for id, status := range map[string]model.EventStatus{
		"e1": model.EventEnqueued,
		"e2": model.EventEnqueued,
		"e3": model.EventPending,
	} {
		evt, err := store.GetEvent(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, status, evt.Status, id)
	}
}

func TestOutboxPublishFailureKeepsEventsPending(t *testing.T) {
	store := memory.New()
	mem := broker.NewMemory(16)
	putEvent(store, "e1", "tenant-a", t0)

	mem.FailNext(errors.New("broker down"))
	_, err := dispatcher.NewOutbox(store, mem, "webhook.events", 10).Tick(context.Background())
	require.Error(t, err)

	evt, err := store.GetEvent(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, model.EventPending, evt.Status)

	n, err := dispatcher.NewOutbox(store, mem, "webhook.events", 10).Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func putJob(t *testing.T, store *memory.Store, id string, status model.JobStatus, next *time.Time, updated time.Time) {
	t.Helper()
	require.NoError(t, store.CreateJob(context.Background(), &model.DeliveryJob{
		ID:            id,
		EndpointID:    "ep-" + id,
		OutboxEventID: "evt",
		Status:        status,
		NextAttemptAt: next,
		CreatedAt:     updated,
		UpdatedAt:     updated,
	}))
}

func TestRetryClaimsOnlyDueJobs(t *testing.T) {
	store := memory.New()
	mem := broker.NewMemory(16)
	past, future := t0.Add(-time.Second), t0.Add(time.Minute)
	putJob(t, store, "due", model.JobPending, &past, t0)
	putJob(t, store, "later", model.JobPending, &future, t0)
	putJob(t, store, "done", model.JobSucceeded, nil, t0)

	n, err := dispatcher.NewRetry(store, mem, "webhook.jobs.retry", 10).
		WithClock(func() time.Time { return t0 }).
		Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msg, err := mem.Consumer("webhook.jobs.retry").Fetch(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"job_id":"due","attempt":0}`, string(msg.Value))

	job, err := store.GetJob(context.Background(), "due")
	require.NoError(t, err)
	assert.Equal(t, model.JobInProgress, job.Status)

	job, err = store.GetJob(context.Background(), "later")
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, job.Status)
}

func TestReclaimerResetsStaleInProgressJobs(t *testing.T) {
	store := memory.New()
	putJob(t, store, "stale", model.JobInProgress, nil, t0.Add(-11*time.Minute))
	putJob(t, store, "fresh", model.JobInProgress, nil, t0.Add(-time.Minute))

	n, err := dispatcher.NewReclaimer(store, 10*time.Minute, nil).
		WithClock(func() time.Time { return t0 }).
		Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := store.GetJob(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, job.Status)
	require.NotNil(t, job.NextAttemptAt)
	assert.Equal(t, t0, *job.NextAttemptAt)

	job, err = store.GetJob(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, model.JobInProgress, job.Status)
}

func TestDispatcherDrainsFullBatchesAndStops(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	tick := func(context.Context) (int, error) {
		switch calls.Add(1) {
		case 1, 2:
			return 5, nil // full batch, run again immediately
		default:
			cancel()
			return 0, nil
		}
	}

	done := make(chan error, 1)
	go func() { done <- dispatcher.NewDispatcher("test", time.Hour, 5, tick, nil).Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
	assert.EqualValues(t, 3, calls.Load())
}
