package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/broker"
	"github.com/jmehdipour/webhook-gateway/internal/delivery"
	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
	"go.uber.org/zap"
)

// JobResumer executes a claimed job.
type JobResumer interface {
	Resume(ctx context.Context, msg model.RetryMessage) (delivery.Outcome, error)
}

// RetryConsumer fetches retry messages and runs them on Workers processors.
// Commits may complete out of order; a job whose message is lost stays
// IN_PROGRESS until the reclaimer returns it to PENDING.
type RetryConsumer struct {
	Consumer broker.Consumer
	Executor JobResumer
	Workers  int
	Log      *zap.Logger
}

func NewRetryConsumer(c broker.Consumer, exec JobResumer, workers int, log *zap.Logger) *RetryConsumer {
	if workers <= 0 {
		workers = 16
	}
	return &RetryConsumer{Consumer: c, Executor: exec, Workers: workers, Log: logger.OrNop(log)}
}

// Run blocks until ctx is cancelled and in-flight jobs finished.
func (w *RetryConsumer) Run(ctx context.Context) error {
	msgCh := make(chan broker.Message, w.Workers*2)

	// Fetcher goroutine
	go func() {
		defer close(msgCh)
		for {
			m, err := w.Consumer.Fetch(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, broker.ErrClosed) {
					return
				}
				w.Log.Warn("fetch failed", zap.Error(err))
				sleep(ctx, 200*time.Millisecond)
				continue
			}
			select {
			case msgCh <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	w.Log.Info("retry consumer started", zap.Int("workers", w.Workers))

	var wg sync.WaitGroup
	for i := 0; i < w.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range msgCh {
				w.processOne(ctx, m)
			}
		}()
	}
	wg.Wait()

	w.Log.Info("retry consumer stopped")
	return nil
}

func (w *RetryConsumer) processOne(ctx context.Context, m broker.Message) {
	var msg model.RetryMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil || msg.JobID == "" {
		w.Log.Error("bad retry message, skipping", zap.Error(err), zap.ByteString("value", truncate(m.Value)))
		w.commit(ctx, m)
		return
	}

	outcome, err := w.Executor.Resume(ctx, msg)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		w.Log.Warn("retry for unknown job", zap.String("job_id", msg.JobID), zap.Error(err))
	case err != nil:
		// the job stays IN_PROGRESS; the reclaimer picks it up
		w.Log.Error("retry failed", zap.String("job_id", msg.JobID), zap.Error(err))
	default:
		w.Log.Debug("retry done", zap.String("job_id", msg.JobID), zap.String("outcome", string(outcome)))
	}
	if ctx.Err() != nil {
		return
	}
	w.commit(ctx, m)
}

func (w *RetryConsumer) commit(ctx context.Context, m broker.Message) {
	if err := w.Consumer.Commit(ctx, m); err != nil {
		w.Log.Warn("commit failed", zap.Error(err))
	}
}
