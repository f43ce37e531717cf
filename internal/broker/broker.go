// Package broker is the transport seam between the dispatchers and the
// consumers. Kafka and RabbitMQ implement it; Memory serves tests.
package broker

import (
	"context"
	"errors"
)

// ErrClosed is returned by Fetch after Close.
var ErrClosed = errors.New("broker: closed")

// Message is one fetched record. Key is the partition key (tenant id for
// events, empty for retries).
type Message struct {
	Topic string
	Key   []byte
	Value []byte

	ack func(ctx context.Context) error
}

// NewMessage builds a message whose Commit runs ack.
func NewMessage(topic string, key, value []byte, ack func(ctx context.Context) error) Message {
	return Message{Topic: topic, Key: key, Value: value, ack: ack}
}

// Publisher writes records to a topic. Publish returns only after the broker
// accepted the record.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
	Close() error
}

// Consumer reads one topic with manual commits.
type Consumer interface {
	Fetch(ctx context.Context) (Message, error)
	Commit(ctx context.Context, m Message) error
	Close() error
}

// Ack acknowledges m; drivers call it from their Commit.
func Ack(ctx context.Context, m Message) error {
	if m.ack == nil {
		return nil
	}
	return m.ack(ctx)
}
