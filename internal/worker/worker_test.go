package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/broker"
	"github.com/jmehdipour/webhook-gateway/internal/delivery"
	"github.com/jmehdipour/webhook-gateway/internal/dispatcher"
	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmehdipour/webhook-gateway/internal/repository/memory"
	"github.com/jmehdipour/webhook-gateway/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	eventsTopic  = "webhook.events"
	retriesTopic = "webhook.jobs.retry"
)

func runInBackground(t *testing.T, run func(ctx context.Context) error) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func seed(t *testing.T, url string) (*memory.Store, model.OutboxEvent) {
	t.Helper()
	store := memory.New()
	store.PutEndpoint(model.Endpoint{
		ID:       "ep1",
		TenantID: "tenant-1",
		URL:      url,
		Secret:   "s3cret",
		Status:   model.EndpointActive,
		EndpointSettings: model.EndpointSettings{
			MaxAttempts: 3, TimeoutMs: 1000, ConcurrencyLimit: 5, CircuitBreakerThreshold: 5,
		},
	})
	evt := model.OutboxEvent{
		ID:        "evt1",
		TenantID:  "tenant-1",
		EventType: "user.signed_up",
		Payload:   json.RawMessage(`{"user":"u1"}`),
		Status:    model.EventEnqueued,
		CreatedAt: time.Now().UTC(),
	}
	store.PutEvent(evt)
	return store, evt
}

func TestEventConsumerDeliversAndCommits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	store, evt := seed(t, srv.URL)
	exec := delivery.NewExecutor(store, delivery.ExecutorConfig{Workers: 2}, nil)
	adm := delivery.NewAdmission(store, exec, 0, nil)

	mem := broker.NewMemory(8)
	b, err := json.Marshal(model.NewEventMessage(evt))
	require.NoError(t, err)
	require.NoError(t, mem.Publish(context.Background(), eventsTopic, []byte(evt.TenantID), b))
	require.NoError(t, mem.Publish(context.Background(), eventsTopic, nil, []byte("{not json")))

	runInBackground(t, worker.NewEventConsumer(mem.Consumer(eventsTopic), adm, nil).Run)

	require.Eventually(t, func() bool { return mem.Committed(eventsTopic) == 2 }, 3*time.Second, 10*time.Millisecond)

	jobs := store.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, model.JobSucceeded, jobs[0].Status)
	assert.Equal(t, 1, store.DedupeCount())
}

func TestOutboxToEndpointKeepsPayloadBytes(t *testing.T) {
	raw := `{"html": "<b>a & b</b>",  "n": 1}`

	var mu sync.Mutex
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		body = b
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	store, evt := seed(t, srv.URL)
	evt.Payload = json.RawMessage(raw)
	evt.Status = model.EventPending
	store.PutEvent(evt)

	mem := broker.NewMemory(8)
	n, err := dispatcher.NewOutbox(store, mem, eventsTopic, 10).Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	exec := delivery.NewExecutor(store, delivery.ExecutorConfig{Workers: 1}, nil)
	adm := delivery.NewAdmission(store, exec, 0, nil)
	runInBackground(t, worker.NewEventConsumer(mem.Consumer(eventsTopic), adm, nil).Run)

	require.Eventually(t, func() bool { return mem.Committed(eventsTopic) == 1 }, 3*time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, raw, string(body))
}

type flakyProcessor struct {
	mu    sync.Mutex
	calls int
}

func (f *flakyProcessor) Process(context.Context, *model.OutboxEvent) (map[string]delivery.Gate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls == 1 {
		return nil, errors.New("db unavailable")
	}
	return map[string]delivery.Gate{}, nil
}

func TestEventConsumerRetriesFailedFanOutBeforeCommit(t *testing.T) {
	mem := broker.NewMemory(8)
	require.NoError(t, mem.Publish(context.Background(), eventsTopic, nil, []byte(`{"id":"e1","tenant_id":"t1"}`)))

	proc := &flakyProcessor{}
	w := worker.NewEventConsumer(mem.Consumer(eventsTopic), proc, nil)
	w.RetryWait = 10 * time.Millisecond
	runInBackground(t, w.Run)

	require.Eventually(t, func() bool { return mem.Committed(eventsTopic) == 1 }, 3*time.Second, 10*time.Millisecond)
	proc.mu.Lock()
	defer proc.mu.Unlock()
	assert.Equal(t, 2, proc.calls)
}

type recordingResumer struct {
	mu   sync.Mutex
	msgs []model.RetryMessage
}

func (r *recordingResumer) Resume(_ context.Context, msg model.RetryMessage) (delivery.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return delivery.OutcomeSucceeded, nil
}

func TestRetryConsumerResumesJobs(t *testing.T) {
	mem := broker.NewMemory(8)
	for _, v := range []string{`{"job_id":"j1","attempt":1}`, `{"job_id":""}`, `{"job_id":"j2","attempt":3}`} {
		require.NoError(t, mem.Publish(context.Background(), retriesTopic, nil, []byte(v)))
	}

	res := &recordingResumer{}
	runInBackground(t, worker.NewRetryConsumer(mem.Consumer(retriesTopic), res, 2, nil).Run)

	require.Eventually(t, func() bool { return mem.Committed(retriesTopic) == 3 }, 3*time.Second, 10*time.Millisecond)
	res.mu.Lock()
	defer res.mu.Unlock()
	assert.ElementsMatch(t, []model.RetryMessage{{JobID: "j1", Attempt: 1}, {JobID: "j2", Attempt: 3}}, res.msgs)
}

func TestRetryConsumerSkipsFinishedJob(t *testing.T) {
	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	store, evt := seed(t, srv.URL)
	now := time.Now().UTC()
	require.NoError(t, store.CreateJob(context.Background(), &model.DeliveryJob{
		ID: "j1", EndpointID: "ep1", OutboxEventID: evt.ID,
		Status: model.JobSucceeded, AttemptCount: 1, CreatedAt: now, UpdatedAt: now,
	}))
	exec := delivery.NewExecutor(store, delivery.ExecutorConfig{Workers: 1}, nil)

	mem := broker.NewMemory(8)
	require.NoError(t, mem.Publish(context.Background(), retriesTopic, nil, []byte(`{"job_id":"j1","attempt":1}`)))
	runInBackground(t, worker.NewRetryConsumer(mem.Consumer(retriesTopic), exec, 1, nil).Run)

	require.Eventually(t, func() bool { return mem.Committed(retriesTopic) == 1 }, 3*time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, hits)
	assert.Empty(t, store.Attempts())
}

type batchRecorder struct {
	mu      sync.Mutex
	batches [][]model.DeliveryAttempt
}

func (b *batchRecorder) InsertBatch(_ context.Context, attempts []model.DeliveryAttempt) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches = append(b.batches, append([]model.DeliveryAttempt(nil), attempts...))
	return nil
}

func (b *batchRecorder) rows() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, batch := range b.batches {
		n += len(batch)
	}
	return n
}

func TestAttemptExporterFlushesBySize(t *testing.T) {
	rec := &batchRecorder{}
	exp := worker.NewAttemptExporter(rec, 2, time.Hour, nil)
	runInBackground(t, exp.Run)

	exp.Export(model.DeliveryAttempt{ID: "a1"})
	exp.Export(model.DeliveryAttempt{ID: "a2"})

	require.Eventually(t, func() bool { return rec.rows() == 2 }, 2*time.Second, 10*time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.batches, 1)
	assert.Equal(t, "a1", rec.batches[0][0].ID)
}

func TestAttemptExporterFlushesOnShutdown(t *testing.T) {
	rec := &batchRecorder{}
	exp := worker.NewAttemptExporter(rec, 100, time.Hour, nil)
	cancel := runInBackground(t, exp.Run)

	exp.Export(model.DeliveryAttempt{ID: "a1"})
	cancel()

	require.Eventually(t, func() bool { return rec.rows() == 1 }, 2*time.Second, 10*time.Millisecond)
}
