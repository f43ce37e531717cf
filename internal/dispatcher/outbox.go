package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmehdipour/webhook-gateway/internal/broker"
	"github.com/jmehdipour/webhook-gateway/internal/metrics"
	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
)

// EventClaimer claims PENDING outbox events under row locks.
type EventClaimer interface {
	ClaimPendingEvents(ctx context.Context, limit int, publish repository.PublishEventFunc) (int, error)
}

// Outbox publishes PENDING outbox events to the events topic, keyed by
// tenant so a tenant's events stay on one partition.
type Outbox struct {
	store EventClaimer
	pub   broker.Publisher
	topic string
	batch int
}

func NewOutbox(store EventClaimer, pub broker.Publisher, topic string, batch int) *Outbox {
	if batch <= 0 {
		batch = 50
	}
	return &Outbox{store: store, pub: pub, topic: topic, batch: batch}
}

func (o *Outbox) Batch() int { return o.batch }

// Tick claims and publishes one batch. On a publish error nothing in the
// batch is marked ENQUEUED.
func (o *Outbox) Tick(ctx context.Context) (int, error) {
	n, err := o.store.ClaimPendingEvents(ctx, o.batch, func(ctx context.Context, evt model.OutboxEvent) error {
		b, err := json.Marshal(model.NewEventMessage(evt))
		if err != nil {
			return fmt.Errorf("encode event %s: %w", evt.ID, err)
		}
		return o.pub.Publish(ctx, o.topic, []byte(evt.TenantID), b)
	})
	if err != nil {
		return 0, err
	}
	metrics.OutboxPublishedTotal.Add(float64(n))
	return n, nil
}
