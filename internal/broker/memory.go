package broker

import (
	"context"
	"sync"
)

// Memory is an in-process broker: one buffered queue per topic, commits are
// counted. It backs the dispatcher and worker tests.
type Memory struct {
	mu        sync.Mutex
	topics    map[string]chan Message
	buffer    int
	committed map[string]int
	failNext  error
}

func NewMemory(buffer int) *Memory {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Memory{
		topics:    map[string]chan Message{},
		buffer:    buffer,
		committed: map[string]int{},
	}
}

func (m *Memory) queue(topic string) chan Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.topics[topic]
	if !ok {
		q = make(chan Message, m.buffer)
		m.topics[topic] = q
	}
	return q
}

// FailNext makes the next Publish return err.
func (m *Memory) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

func (m *Memory) Publish(ctx context.Context, topic string, key, value []byte) error {
	m.mu.Lock()
	if err := m.failNext; err != nil {
		m.failNext = nil
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	msg := NewMessage(topic, append([]byte(nil), key...), append([]byte(nil), value...), func(context.Context) error {
		m.mu.Lock()
		m.committed[topic]++
		m.mu.Unlock()
		return nil
	})
	select {
	case m.queue(topic) <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued, unfetched messages on topic.
func (m *Memory) Pending(topic string) int {
	return len(m.queue(topic))
}

// Committed returns the number of commits on topic.
func (m *Memory) Committed(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed[topic]
}

func (m *Memory) Close() error { return nil }

// Consumer returns a consumer of topic. Consumers of one topic compete for messages.
func (m *Memory) Consumer(topic string) Consumer {
	return &memoryConsumer{q: m.queue(topic)}
}

type memoryConsumer struct {
	q chan Message
}

func (c *memoryConsumer) Fetch(ctx context.Context) (Message, error) {
	select {
	case msg := <-c.q:
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (c *memoryConsumer) Commit(ctx context.Context, m Message) error { return Ack(ctx, m) }

func (c *memoryConsumer) Close() error { return nil }
