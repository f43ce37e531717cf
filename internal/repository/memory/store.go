// Package memory is an in-process store with the same semantics as the MySQL
// repositories. Tests and local experiments run the delivery engine on it.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
	"github.com/jmehdipour/webhook-gateway/internal/util"
)

type pairKey struct {
	endpointID string
	eventID    string
}

type Store struct {
	mu          sync.Mutex
	tenants     map[string]model.Tenant
	endpoints   map[string]model.Endpoint
	events      map[string]model.OutboxEvent
	jobs        map[string]model.DeliveryJob
	pairs       map[pairKey]string
	attempts    []model.DeliveryAttempt
	dedupe      map[pairKey]model.DeliveredDedupe
	deadLetters []model.DeadLetter
}

func New() *Store {
	return &Store{
		tenants:     map[string]model.Tenant{},
		endpoints:   map[string]model.Endpoint{},
		events:      map[string]model.OutboxEvent{},
		jobs:        map[string]model.DeliveryJob{},
		pairs:       map[pairKey]string{},
		dedupe:      map[pairKey]model.DeliveredDedupe{},
	}
}

// ---- seeding ----

func (s *Store) PutTenant(t model.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
}

// GetByAPIKey returns nil, nil for an unknown key, like the MySQL repository.
func (s *Store) GetByAPIKey(_ context.Context, apiKey string) (*model.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tenants {
		if t.APIKey == apiKey {
			return &t, nil
		}
	}
	return nil, nil
}

func (s *Store) Insert(_ context.Context, t model.Tenant) error {
	s.PutTenant(t)
	return nil
}

func (s *Store) PutEndpoint(ep model.Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[ep.ID] = ep
}

func (s *Store) PutEvent(evt model.OutboxEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[evt.ID] = evt
}

// ---- delivery.Store ----

func (s *Store) ActiveEndpoints(_ context.Context, tenantID string) ([]model.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Endpoint
	for _, ep := range s.endpoints {
		if ep.TenantID == tenantID && ep.Status == model.EndpointActive {
			out = append(out, ep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetEndpoint(_ context.Context, id string) (*model.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &ep, nil
}

func (s *Store) GetEvent(_ context.Context, id string) (*model.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evt, ok := s.events[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &evt, nil
}

func (s *Store) GetJob(_ context.Context, id string) (*model.DeliveryJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &job, nil
}

func (s *Store) DedupeExists(_ context.Context, endpointID, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dedupe[pairKey{endpointID, eventID}]
	return ok, nil
}

func (s *Store) CountInProgress(_ context.Context, endpointID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, job := range s.jobs {
		if job.EndpointID == endpointID && job.Status == model.JobInProgress {
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateJob(_ context.Context, job *model.DeliveryJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{job.EndpointID, job.OutboxEventID}
	if _, ok := s.pairs[key]; ok {
		return repository.ErrDuplicateJob
	}
	s.pairs[key] = job.ID
	s.jobs[job.ID] = *job
	return nil
}

func (s *Store) UpdateJob(_ context.Context, job *model.DeliveryJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateJobLocked(job)
}

func (s *Store) updateJobLocked(job *model.DeliveryJob) error {
	if _, ok := s.jobs[job.ID]; !ok {
		return repository.ErrNotFound
	}
	job.UpdatedAt = time.Now().UTC()
	s.jobs[job.ID] = *job
	return nil
}

func (s *Store) InsertAttempt(_ context.Context, a *model.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, *a)
	return nil
}

func (s *Store) UpdateBreaker(_ context.Context, endpointID string, fn func(ep *model.Endpoint) bool) (*model.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.endpoints[endpointID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	row := ep
	if fn(&row) {
		// only the breaker columns are written back
		ep.ConsecutiveFailures = row.ConsecutiveFailures
		ep.NextAvailableAt = row.NextAvailableAt
		ep.FailureReason = row.FailureReason
		s.endpoints[endpointID] = ep
	}
	return &row, nil
}

func (s *Store) CompleteJob(_ context.Context, job *model.DeliveryJob) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.updateJobLocked(job); err != nil {
		return false, err
	}
	key := pairKey{job.EndpointID, job.OutboxEventID}
	if _, ok := s.dedupe[key]; ok {
		return false, nil
	}
	s.dedupe[key] = model.DeliveredDedupe{
		EndpointID:    job.EndpointID,
		OutboxEventID: job.OutboxEventID,
		DeliveredAt:   job.UpdatedAt,
	}
	return true, nil
}

func (s *Store) DeadLetterJob(_ context.Context, job *model.DeliveryJob, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.updateJobLocked(job); err != nil {
		return err
	}
	s.deadLetters = append(s.deadLetters, model.DeadLetter{
		ID:            util.NewID(),
		DeliveryJobID: job.ID,
		Reason:        reason,
		CreatedAt:     job.UpdatedAt,
	})
	return nil
}

// ---- dispatchers ----

// ClaimPendingEvents mirrors the skip-locked claim: events are published
// oldest first and marked ENQUEUED; the first publish error leaves the whole
// batch PENDING.
func (s *Store) ClaimPendingEvents(ctx context.Context, limit int, publish repository.PublishEventFunc) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var batch []model.OutboxEvent
	for _, evt := range s.events {
		if evt.Status == model.EventPending {
			batch = append(batch, evt)
		}
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].CreatedAt.Before(batch[j].CreatedAt) })
	if limit > 0 && len(batch) > limit {
		batch = batch[:limit]
	}

	for _, evt := range batch {
		if err := publish(ctx, evt); err != nil {
			return 0, err
		}
	}
	for _, evt := range batch {
		evt.Status = model.EventEnqueued
		s.events[evt.ID] = evt
	}
	return len(batch), nil
}

func (s *Store) ClaimDueJobs(ctx context.Context, now time.Time, limit int, publish repository.PublishJobFunc) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []model.DeliveryJob
	for _, job := range s.jobs {
		if job.Status == model.JobPending && job.NextAttemptAt != nil && !job.NextAttemptAt.After(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(*due[j].NextAttemptAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	for _, job := range due {
		if err := publish(ctx, model.RetryMessage{JobID: job.ID, Attempt: job.AttemptCount}); err != nil {
			return 0, err
		}
	}
	for _, job := range due {
		job.Status = model.JobInProgress
		job.UpdatedAt = now
		s.jobs[job.ID] = job
	}
	return len(due), nil
}

func (s *Store) ClaimAttempt(_ context.Context, jobID string, attempt int, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.Status != model.JobInProgress || job.AttemptCount != attempt {
		return false, nil
	}
	job.AttemptCount++
	job.UpdatedAt = now
	s.jobs[jobID] = job
	return true, nil
}

func (s *Store) ReclaimStale(_ context.Context, olderThan, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, job := range s.jobs {
		if job.Status == model.JobInProgress && job.UpdatedAt.Before(olderThan) {
			at := now
			job.Status = model.JobPending
			job.NextAttemptAt = &at
			job.UpdatedAt = now
			s.jobs[id] = job
			n++
		}
	}
	return n, nil
}

// ---- ops ----

func (s *Store) Replay(_ context.Context, tenantID, jobID string, now time.Time) (*model.DeliveryJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || s.endpoints[job.EndpointID].TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	if job.Status != model.JobDLQ {
		return nil, repository.ErrNotDLQ
	}
	at := now
	job.Status = model.JobPending
	job.AttemptCount = 0
	job.NextAttemptAt = &at
	job.UpdatedAt = now
	s.jobs[jobID] = job
	return &job, nil
}

// ListDeadLetters returns the job's dead letters in insertion order.
func (s *Store) ListDeadLetters(_ context.Context, jobID string) ([]model.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []model.DeadLetter{}
	for _, dl := range s.deadLetters {
		if dl.DeliveryJobID == jobID {
			out = append(out, dl)
		}
	}
	return out, nil
}

func (s *Store) CountByStatus(_ context.Context, tenantID string) (map[model.JobStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[model.JobStatus]int{}
	for _, job := range s.jobs {
		if s.endpoints[job.EndpointID].TenantID == tenantID {
			out[job.Status]++
		}
	}
	return out, nil
}

func (s *Store) ListByJob(_ context.Context, jobID string, limit int) ([]model.DeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.DeliveryAttempt
	for _, a := range s.attempts {
		if a.DeliveryJobID == jobID {
			out = append(out, a)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- inspection ----

// Jobs returns every job, ordered by id.
func (s *Store) Jobs() []model.DeliveryJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.DeliveryJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Attempts() []model.DeliveryAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.DeliveryAttempt(nil), s.attempts...)
}

func (s *Store) DedupeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dedupe)
}

func (s *Store) DeadLetters() []model.DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.DeadLetter(nil), s.deadLetters...)
}
