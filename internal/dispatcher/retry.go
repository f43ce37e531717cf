package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/broker"
	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/internal/metrics"
	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
	"go.uber.org/zap"
)

// JobClaimer claims due PENDING jobs and recovers stale IN_PROGRESS ones.
type JobClaimer interface {
	ClaimDueJobs(ctx context.Context, now time.Time, limit int, publish repository.PublishJobFunc) (int, error)
	ReclaimStale(ctx context.Context, olderThan, now time.Time) (int64, error)
}

// Retry publishes due jobs to the retry topic and flips them to IN_PROGRESS.
type Retry struct {
	store JobClaimer
	pub   broker.Publisher
	topic string
	batch int
	now   func() time.Time
}

func NewRetry(store JobClaimer, pub broker.Publisher, topic string, batch int) *Retry {
	if batch <= 0 {
		batch = 50
	}
	return &Retry{store: store, pub: pub, topic: topic, batch: batch, now: time.Now}
}

func (r *Retry) WithClock(now func() time.Time) *Retry {
	r.now = now
	return r
}

func (r *Retry) Batch() int { return r.batch }

func (r *Retry) Tick(ctx context.Context) (int, error) {
	n, err := r.store.ClaimDueJobs(ctx, r.now().UTC(), r.batch, func(ctx context.Context, msg model.RetryMessage) error {
		b, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		return r.pub.Publish(ctx, r.topic, nil, b)
	})
	if err != nil {
		return 0, err
	}
	metrics.RetryDispatchedTotal.Add(float64(n))
	return n, nil
}

// Reclaimer returns IN_PROGRESS jobs idle for longer than the visibility
// timeout to PENDING. It covers a crash between claim and attempt and a lost
// retry message.
type Reclaimer struct {
	store      JobClaimer
	visibility time.Duration
	log        *zap.Logger
	now        func() time.Time
}

func NewReclaimer(store JobClaimer, visibility time.Duration, log *zap.Logger) *Reclaimer {
	if visibility <= 0 {
		visibility = 10 * time.Minute
	}
	return &Reclaimer{store: store, visibility: visibility, log: logger.OrNop(log), now: time.Now}
}

func (r *Reclaimer) WithClock(now func() time.Time) *Reclaimer {
	r.now = now
	return r
}

func (r *Reclaimer) Tick(ctx context.Context) (int, error) {
	now := r.now().UTC()
	n, err := r.store.ReclaimStale(ctx, now.Add(-r.visibility), now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.JobsReclaimedTotal.Add(float64(n))
		r.log.Warn("reclaimed stale jobs", zap.Int64("count", n), zap.Duration("visibility", r.visibility))
	}
	return int(n), nil
}
