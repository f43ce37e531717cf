package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/internal/metrics"
	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
	"github.com/jmehdipour/webhook-gateway/internal/util"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Gate names the admission decision taken for one endpoint.
type Gate string

const (
	GateDelivered   Gate = "delivered"   // dedupe marker present
	GateBreaker     Gate = "breaker"     // deferred until the breaker may close
	GateConcurrency Gate = "concurrency" // deferred by the concurrency limit
	GateExecuted    Gate = "executed"
	GateDuplicate   Gate = "duplicate" // pair already has a job
)

// Admission fans an event out to its tenant's active endpoints.
type Admission struct {
	store              Store
	exec               *Executor
	concurrencyBackoff time.Duration
	log                *zap.Logger
	now                func() time.Time
}

// NewAdmission builds the fan-out; concurrencyBackoff defaults to 10s.
func NewAdmission(store Store, exec *Executor, concurrencyBackoff time.Duration, log *zap.Logger) *Admission {
	if concurrencyBackoff <= 0 {
		concurrencyBackoff = 10 * time.Second
	}
	return &Admission{
		store:              store,
		exec:               exec,
		concurrencyBackoff: concurrencyBackoff,
		log:                logger.OrNop(log),
		now:                time.Now,
	}
}

// WithClock overrides the clock (tests).
func (a *Admission) WithClock(now func() time.Time) *Admission {
	a.now = now
	return a
}

// Process evaluates every active endpoint of the event's tenant
// independently. It returns the gate taken per endpoint id; the error joins
// the storage failures of individual endpoints.
func (a *Admission) Process(ctx context.Context, evt *model.OutboxEvent) (map[string]Gate, error) {
	endpoints, err := a.store.ActiveEndpoints(ctx, evt.TenantID)
	if err != nil {
		return nil, fmt.Errorf("active endpoints for tenant %s: %w", evt.TenantID, err)
	}
	if len(endpoints) == 0 {
		a.log.Info("no active endpoints", zap.String("tenant_id", evt.TenantID), zap.String("event_id", evt.ID))
		return map[string]Gate{}, nil
	}

	gates := make([]Gate, len(endpoints))
	errs := make([]error, len(endpoints))

	var g errgroup.Group
	for i := range endpoints {
		ep := &endpoints[i]
		g.Go(func() error {
			gates[i], errs[i] = a.admit(ctx, evt, ep)
			if errs[i] != nil {
				errs[i] = fmt.Errorf("endpoint %s: %w", ep.ID, errs[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]Gate, len(endpoints))
	for i, ep := range endpoints {
		if gates[i] != "" {
			out[ep.ID] = gates[i]
		}
	}
	return out, errors.Join(errs...)
}

func (a *Admission) admit(ctx context.Context, evt *model.OutboxEvent, ep *model.Endpoint) (Gate, error) {
	log := a.log.With(zap.String("event_id", evt.ID), zap.String("endpoint_id", ep.ID))

	delivered, err := a.store.DedupeExists(ctx, ep.ID, evt.ID)
	if err != nil {
		return "", fmt.Errorf("dedupe check: %w", err)
	}
	if delivered {
		log.Info("already delivered")
		return GateDelivered, nil
	}

	now := a.now()
	if ep.BreakerOpen(now) {
		log.Warn("circuit breaker open, deferring", zap.Timep("next_available_at", ep.NextAvailableAt))
		return a.schedule(ctx, evt, ep, *ep.NextAvailableAt, GateBreaker)
	}

	inFlight, err := a.store.CountInProgress(ctx, ep.ID)
	if err != nil {
		return "", fmt.Errorf("count in progress: %w", err)
	}
	if limit := a.exec.settings(ep).ConcurrencyLimit; inFlight >= limit {
		log.Info("concurrency limit reached, deferring",
			zap.Int("in_progress", inFlight), zap.Int("limit", limit))
		return a.schedule(ctx, evt, ep, now.Add(a.concurrencyBackoff), GateConcurrency)
	}

	job := &model.DeliveryJob{
		ID:            util.NewID(),
		EndpointID:    ep.ID,
		OutboxEventID: evt.ID,
		Status:        model.JobInProgress,
		AttemptCount:  0,
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
	}
	if err := a.store.CreateJob(ctx, job); err != nil {
		if errors.Is(err, repository.ErrDuplicateJob) {
			log.Info("job already exists for pair")
			return GateDuplicate, nil
		}
		return "", fmt.Errorf("create job: %w", err)
	}

	if _, err := a.exec.Attempt(ctx, job, ep, evt); err != nil {
		return GateExecuted, err
	}
	return GateExecuted, nil
}

func (a *Admission) schedule(ctx context.Context, evt *model.OutboxEvent, ep *model.Endpoint, at time.Time, gate Gate) (Gate, error) {
	now := a.now().UTC()
	at = at.UTC()
	job := &model.DeliveryJob{
		ID:            util.NewID(),
		EndpointID:    ep.ID,
		OutboxEventID: evt.ID,
		Status:        model.JobPending,
		NextAttemptAt: &at,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := a.store.CreateJob(ctx, job); err != nil {
		if errors.Is(err, repository.ErrDuplicateJob) {
			return GateDuplicate, nil
		}
		return "", fmt.Errorf("create deferred job: %w", err)
	}
	metrics.FanoutDeferredTotal.WithLabelValues(string(gate)).Inc()
	return gate, nil
}
