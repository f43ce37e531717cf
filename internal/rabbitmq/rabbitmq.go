// Package rabbitmq is the alternative broker driver: a durable topic
// exchange with one durable queue per topic, bound by the topic name.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/broker"
	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultConfirmTimeout = 5 * time.Second

var (
	ErrNacked         = errors.New("rabbitmq: publish nacked by broker")
	ErrConfirmTimeout = errors.New("rabbitmq: confirmation timed out")
)

type Config struct {
	URL            string
	Exchange       string
	Topics         []string // queues declared and bound at startup
	Prefetch       int
	ConfirmTimeout time.Duration
}

// Declare creates the exchange and one queue per topic. Safe to repeat.
func Declare(ch *amqp.Channel, exchange string, topics []string) error {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	for _, t := range topics {
		if _, err := ch.QueueDeclare(t, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", t, err)
		}
		if err := ch.QueueBind(t, t, exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", t, err)
		}
	}
	return nil
}

// Publisher publishes persistent messages and waits for the broker confirm
// of each one.
type Publisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	timeout  time.Duration

	mu sync.Mutex
}

var _ broker.Publisher = (*Publisher)(nil)

func NewPublisher(c Config) (*Publisher, error) {
	conn, err := amqp.Dial(c.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := Declare(ch, c.Exchange, c.Topics); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}

	timeout := c.ConfirmTimeout
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	return &Publisher{
		conn:     conn,
		ch:       ch,
		exchange: c.Exchange,
		timeout:  timeout,
	}, nil
}

func (p *Publisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, topic, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: string(key),
		Timestamp:     time.Now().UTC(),
		Body:          value,
	})
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	wctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	acked, err := dc.WaitContext(wctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return ErrConfirmTimeout
		}
		return err
	}
	if !acked {
		return ErrNacked
	}
	return nil
}

func (p *Publisher) Close() error {
	_ = p.ch.Close()
	return p.conn.Close()
}

// Consumer reads one queue with manual acks; Commit acks the delivery.
type Consumer struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	deliveries <-chan amqp.Delivery
}

var _ broker.Consumer = (*Consumer)(nil)

func NewConsumer(c Config, topic string) (*Consumer, error) {
	conn, err := amqp.Dial(c.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := Declare(ch, c.Exchange, []string{topic}); err != nil {
		_ = conn.Close()
		return nil, err
	}

	prefetch := c.Prefetch
	if prefetch <= 0 {
		prefetch = 64
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(topic, "", false, false, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("consume %s: %w", topic, err)
	}
	return &Consumer{conn: conn, ch: ch, deliveries: deliveries}, nil
}

func (c *Consumer) Fetch(ctx context.Context) (broker.Message, error) {
	select {
	case d, ok := <-c.deliveries:
		if !ok {
			return broker.Message{}, broker.ErrClosed
		}
		return broker.NewMessage(d.RoutingKey, []byte(d.CorrelationId), d.Body, func(context.Context) error {
			return d.Ack(false)
		}), nil
	case <-ctx.Done():
		return broker.Message{}, ctx.Err()
	}
}

func (c *Consumer) Commit(ctx context.Context, m broker.Message) error {
	return broker.Ack(ctx, m)
}

func (c *Consumer) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}
