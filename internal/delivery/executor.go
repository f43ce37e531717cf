package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/internal/metrics"
	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmehdipour/webhook-gateway/internal/signature"
	"github.com/jmehdipour/webhook-gateway/internal/util"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Request headers sent with every delivery.
const (
	HeaderEvent     = "X-Webhook-Event"
	HeaderID        = "X-Webhook-Id"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderSignature = "X-Webhook-Signature"

	DefaultUserAgent = "WebhookGateway/1.0"

	maxResponseRead = 4 << 10
)

// Outcome is the job transition produced by one attempt.
type Outcome string

const (
	OutcomeSucceeded    Outcome = "succeeded"
	OutcomeRetry        Outcome = "retry"
	OutcomeFailed       Outcome = "failed"
	OutcomeDeadLettered Outcome = "dlq"
	OutcomeSkipped      Outcome = "skipped"
)

// AttemptSink receives a copy of every recorded attempt (analytics export).
// Export must not block.
type AttemptSink interface {
	Export(a model.DeliveryAttempt)
}

type ExecutorConfig struct {
	Workers         int           // concurrent outbound HTTP calls
	BreakerCooldown time.Duration // default 5m
	UserAgent       string
	Backoff         Backoff

	// Defaults fill endpoint settings stored as zero.
	Defaults model.EndpointSettings
}

// DefaultEndpointSettings: 5 attempts, 5s timeout, 10 in flight, breaker at 5.
var DefaultEndpointSettings = model.EndpointSettings{
	MaxAttempts:             5,
	TimeoutMs:               5000,
	ConcurrencyLimit:        10,
	CircuitBreakerThreshold: DefaultBreakerThreshold,
}

// Executor performs one HTTP attempt for a job and drives the job and
// endpoint state transitions that follow from it.
type Executor struct {
	store  Store
	client *http.Client
	slots  *semaphore.Weighted
	sink   AttemptSink
	cfg    ExecutorConfig
	log    *zap.Logger
	now    func() time.Time
}

// NewExecutor builds an executor with sane defaults.
func NewExecutor(store Store, cfg ExecutorConfig, log *zap.Logger) *Executor {
	if cfg.Workers <= 0 {
		cfg.Workers = 64
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 5 * time.Minute
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Backoff.Base <= 0 && cfg.Backoff.Max <= 0 && cfg.Backoff.Jitter == 0 {
		cfg.Backoff = DefaultBackoff()
	}
	cfg.Defaults = cfg.Defaults.WithDefaults(DefaultEndpointSettings)

	return &Executor{
		store:  store,
		client: &http.Client{CheckRedirect: noRedirect},
		slots:  semaphore.NewWeighted(int64(cfg.Workers)),
		cfg:    cfg,
		log:    logger.OrNop(log),
		now:    time.Now,
	}
}

// noRedirect hands the 3xx back to the caller instead of following it.
func noRedirect(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

// settings returns the endpoint's settings with zero values defaulted.
func (e *Executor) settings(ep *model.Endpoint) model.EndpointSettings {
	return ep.EndpointSettings.WithDefaults(e.cfg.Defaults)
}

// WithSink attaches an analytics sink.
func (e *Executor) WithSink(s AttemptSink) *Executor {
	e.sink = s
	return e
}

// WithClock overrides the clock (tests).
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

// WithHTTPClient overrides the outbound client. A 3xx is a failed delivery,
// so a client without a redirect policy gets one that never follows.
func (e *Executor) WithHTTPClient(c *http.Client) *Executor {
	if c.CheckRedirect == nil {
		cp := *c
		cp.CheckRedirect = noRedirect
		c = &cp
	}
	e.client = c
	return e
}

type sendResult struct {
	status   int
	err      error
	snippet  string
	duration time.Duration
}

// Attempt runs one delivery attempt. HTTP and network failures never surface
// as errors; the returned error reports persistence failures only.
func (e *Executor) Attempt(ctx context.Context, job *model.DeliveryJob, ep *model.Endpoint, evt *model.OutboxEvent) (Outcome, error) {
	if err := e.slots.Acquire(ctx, 1); err != nil {
		return "", err
	}
	job.AttemptCount++
	return e.run(ctx, job, ep, evt)
}

// run sends the attempt numbered job.AttemptCount and releases the slot the
// caller acquired.
func (e *Executor) run(ctx context.Context, job *model.DeliveryJob, ep *model.Endpoint, evt *model.OutboxEvent) (Outcome, error) {
	res := e.send(ctx, ep, evt)
	e.slots.Release(1)

	success := res.err == nil && res.status >= 200 && res.status < 300
	var kind ErrorKind
	if !success {
		kind = Classify(res.status, res.err)
	}

	log := e.log.With(
		zap.String("job_id", job.ID),
		zap.String("endpoint_id", ep.ID),
		zap.String("event_id", evt.ID),
		zap.Int("attempt", job.AttemptCount),
		zap.Int("status", res.status),
	)

	attemptErr := e.recordAttempt(ctx, job, ep, res, kind)
	if attemptErr != nil {
		log.Error("record attempt failed", zap.Error(attemptErr))
	}

	var (
		outcome Outcome
		err     error
	)
	if success {
		outcome, err = e.onSuccess(ctx, job, ep, log)
	} else {
		outcome, err = e.onFailure(ctx, job, ep, res, kind, log)
	}

	metrics.DeliveriesTotal.WithLabelValues(string(outcome)).Inc()
	metrics.DeliveryDuration.WithLabelValues(string(outcome)).Observe(res.duration.Seconds())

	return outcome, errors.Join(attemptErr, err)
}

func (e *Executor) send(ctx context.Context, ep *model.Endpoint, evt *model.OutboxEvent) sendResult {
	timeout := e.settings(ep).Timeout()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ts := e.now().UnixMilli()
	payload := []byte(evt.Payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return sendResult{err: fmt.Errorf("create request: %w", err), snippet: model.Snippet(err.Error())}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", e.cfg.UserAgent)
	req.Header.Set(HeaderEvent, evt.EventType)
	req.Header.Set(HeaderID, evt.ID)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, signature.Sign(ep.Secret, ts, payload))

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return sendResult{err: err, snippet: model.Snippet(err.Error()), duration: time.Since(start)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseRead))
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return sendResult{
		status:   resp.StatusCode,
		snippet:  model.Snippet(string(body)),
		duration: time.Since(start),
	}
}

func (e *Executor) recordAttempt(ctx context.Context, job *model.DeliveryJob, ep *model.Endpoint, res sendResult, kind ErrorKind) error {
	a := model.DeliveryAttempt{
		ID:            util.NewID(),
		DeliveryJobID: job.ID,
		EndpointID:    ep.ID,
		AttemptNo:     job.AttemptCount,
		DurationMs:    res.duration.Milliseconds(),
		CreatedAt:     e.now().UTC(),
	}
	if res.status != 0 {
		st := res.status
		a.HTTPStatus = &st
	}
	if kind != "" {
		k := kind.String()
		a.ErrorType = &k
	}
	if res.snippet != "" {
		s := res.snippet
		a.ResponseSnippet = &s
	}

	if err := e.store.InsertAttempt(ctx, &a); err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	if e.sink != nil {
		e.sink.Export(a)
	}
	return nil
}

func (e *Executor) onSuccess(ctx context.Context, job *model.DeliveryJob, ep *model.Endpoint, log *zap.Logger) (Outcome, error) {
	var errs []error
	if ep.ConsecutiveFailures > 0 || ep.NextAvailableAt != nil {
		updated, err := e.store.UpdateBreaker(ctx, ep.ID, resetBreaker)
		if err != nil {
			errs = append(errs, fmt.Errorf("reset breaker: %w", err))
		} else {
			*ep = *updated
		}
	}

	job.Status = model.JobSucceeded
	job.NextAttemptAt = nil
	inserted, err := e.store.CompleteJob(ctx, job)
	if err != nil {
		errs = append(errs, fmt.Errorf("complete job: %w", err))
	} else if !inserted {
		log.Warn("dedupe marker already present")
	}

	log.Info("delivery succeeded")
	return OutcomeSucceeded, errors.Join(errs...)
}

func (e *Executor) onFailure(ctx context.Context, job *model.DeliveryJob, ep *model.Endpoint, res sendResult, kind ErrorKind, log *zap.Logger) (Outcome, error) {
	now := e.now()
	lastErr := describe(res)
	log = log.With(zap.String("error_kind", kind.String()))

	var (
		errs   []error
		opened bool
	)
	updated, err := e.store.UpdateBreaker(ctx, ep.ID, func(row *model.Endpoint) bool {
		row.EndpointSettings = e.settings(row)
		opened = recordFailure(row, now, e.cfg.BreakerCooldown, lastErr)
		return true
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("record endpoint failure: %w", err))
	} else {
		*ep = *updated
	}
	if opened {
		metrics.BreakerOpenTotal.Inc()
		log.Error("circuit breaker opened",
			zap.Int("consecutive_failures", ep.ConsecutiveFailures),
			zap.Timep("next_available_at", ep.NextAvailableAt))
	}

	var outcome Outcome
	switch {
	case !CanRetry(res.status, res.err):
		outcome = OutcomeFailed
		job.Status = model.JobFailed
		job.NextAttemptAt = nil
		if err := e.store.UpdateJob(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("mark failed: %w", err))
		}
		log.Warn("non-retryable failure, job failed")

	case job.AttemptCount >= e.settings(ep).MaxAttempts:
		outcome = OutcomeDeadLettered
		job.Status = model.JobDLQ
		job.NextAttemptAt = nil
		reason := fmt.Sprintf("max attempts reached: %d, last error: %s", job.AttemptCount, lastErr)
		if err := e.store.DeadLetterJob(ctx, job, reason); err != nil {
			errs = append(errs, fmt.Errorf("dead-letter job: %w", err))
		}
		log.Warn("attempts exhausted, job dead-lettered")

	default:
		outcome = OutcomeRetry
		delay := e.cfg.Backoff.Delay(job.AttemptCount)
		next := now.Add(delay).UTC()
		job.Status = model.JobPending
		job.NextAttemptAt = &next
		if err := e.store.UpdateJob(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("schedule retry: %w", err))
		}
		log.Info("retry scheduled", zap.Duration("delay", delay), zap.Time("next_attempt_at", next))
	}

	return outcome, errors.Join(errs...)
}

// Resume re-executes a job claimed by the retry dispatcher. The attempt is
// claimed by bumping the stored attempt count from msg.Attempt, so a
// redelivered or duplicated retry message never sends a second request.
func (e *Executor) Resume(ctx context.Context, msg model.RetryMessage) (Outcome, error) {
	log := e.log.With(zap.String("job_id", msg.JobID), zap.Int("attempt", msg.Attempt))

	job, err := e.store.GetJob(ctx, msg.JobID)
	if err != nil {
		return "", fmt.Errorf("load job %s: %w", msg.JobID, err)
	}
	if job.Status != model.JobInProgress || job.AttemptCount != msg.Attempt {
		log.Debug("retry skipped", zap.String("status", job.Status.String()), zap.Int("attempt_count", job.AttemptCount))
		return OutcomeSkipped, nil
	}

	ep, err := e.store.GetEndpoint(ctx, job.EndpointID)
	if err != nil {
		return "", fmt.Errorf("load endpoint %s: %w", job.EndpointID, err)
	}
	evt, err := e.store.GetEvent(ctx, job.OutboxEventID)
	if err != nil {
		return "", fmt.Errorf("load event %s: %w", job.OutboxEventID, err)
	}

	if err := e.slots.Acquire(ctx, 1); err != nil {
		return "", err
	}
	won, err := e.store.ClaimAttempt(ctx, job.ID, msg.Attempt, e.now().UTC())
	if err != nil {
		e.slots.Release(1)
		return "", fmt.Errorf("claim attempt %s: %w", job.ID, err)
	}
	if !won {
		e.slots.Release(1)
		log.Debug("retry skipped, attempt already claimed")
		return OutcomeSkipped, nil
	}
	job.AttemptCount = msg.Attempt + 1
	return e.run(ctx, job, ep, evt)
}

func describe(res sendResult) string {
	if res.err != nil {
		return res.err.Error()
	}
	return "HTTP " + strconv.Itoa(res.status)
}
