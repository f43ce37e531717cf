package kafka

import (
	"context"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/broker"
	"github.com/segmentio/kafka-go"
)

// Producer writes to any topic; messages with the same key land on the same
// partition.
type Producer struct {
	w *kafka.Writer
}

var _ broker.Publisher = (*Producer)(nil)

func NewProducerFromConfig(c Config) *Producer {
	wt := c.WriteTimeout
	if wt <= 0 {
		wt = 10 * time.Second
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(c.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           wt,
		BatchTimeout:           5 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &Producer{w: w}
}

// Publish writes synchronously and returns once all in-sync replicas acked.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	return p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	})
}

func (p *Producer) Close() error { return p.w.Close() }
