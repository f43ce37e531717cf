package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/broker"
	"github.com/jmehdipour/webhook-gateway/internal/delivery"
	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/internal/model"
	"go.uber.org/zap"
)

// EventProcessor is the fan-out run for every consumed event.
type EventProcessor interface {
	Process(ctx context.Context, evt *model.OutboxEvent) (map[string]delivery.Gate, error)
}

// EventConsumer fetches outbox events from the events topic, fans each one
// out to the tenant's endpoints and commits once the fan-out finished.
// Delivery is at-least-once; dedupe and the unique job key make replays
// harmless.
type EventConsumer struct {
	Consumer  broker.Consumer
	Admission EventProcessor
	Log       *zap.Logger

	// RetryWait is the pause before re-processing an event whose fan-out
	// hit a storage error.
	RetryWait time.Duration
}

func NewEventConsumer(c broker.Consumer, adm EventProcessor, log *zap.Logger) *EventConsumer {
	return &EventConsumer{
		Consumer:  c,
		Admission: adm,
		Log:       logger.OrNop(log),
		RetryWait: time.Second,
	}
}

// Run blocks until ctx is cancelled.
func (w *EventConsumer) Run(ctx context.Context) error {
	w.Log.Info("event consumer started")
	for {
		m, err := w.Consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.Log.Info("event consumer stopped")
				return nil
			}
			if errors.Is(err, broker.ErrClosed) {
				return err
			}
			w.Log.Warn("fetch failed", zap.Error(err))
			sleep(ctx, 200*time.Millisecond)
			continue
		}
		w.handle(ctx, m)
	}
}

func (w *EventConsumer) handle(ctx context.Context, m broker.Message) {
	var msg model.EventMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil || msg.ID == "" || msg.TenantID == "" {
		// poison → commit, skip
		w.Log.Error("bad event message, skipping", zap.Error(err), zap.ByteString("value", truncate(m.Value)))
		w.commit(ctx, m)
		return
	}

	evt := msg.Event()
	log := w.Log.With(zap.String("event_id", evt.ID), zap.String("tenant_id", evt.TenantID))
	for {
		gates, err := w.Admission.Process(ctx, &evt)
		if err == nil {
			log.Debug("event processed", zap.Int("endpoints", len(gates)))
			break
		}
		if ctx.Err() != nil {
			return // not committed; redelivered after restart
		}
		log.Error("fan-out failed, retrying event", zap.Error(err))
		sleep(ctx, w.RetryWait)
	}
	w.commit(ctx, m)
}

func (w *EventConsumer) commit(ctx context.Context, m broker.Message) {
	if err := w.Consumer.Commit(ctx, m); err != nil {
		w.Log.Warn("commit failed", zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func truncate(b []byte) []byte {
	if len(b) > 256 {
		return b[:256]
	}
	return b
}
