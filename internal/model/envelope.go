package model

import (
	"encoding/json"
	"time"
)

// RetryMessage is the payload published to the retry topic. Attempt is the
// job's attempt count at claim time; a consumer only runs the job while the
// stored count still matches.
type RetryMessage struct {
	JobID   string `db:"id"            json:"job_id"`
	Attempt int    `db:"attempt_count" json:"attempt"`
}

// EventMessage is the events-topic form of an outbox event. Payload travels
// as a JSON string so the consumer gets back the exact bytes the producer
// stored.
type EventMessage struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	EventType string    `json:"event_type"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

func NewEventMessage(evt OutboxEvent) EventMessage {
	return EventMessage{
		ID:        evt.ID,
		TenantID:  evt.TenantID,
		EventType: evt.EventType,
		Payload:   string(evt.Payload),
		CreatedAt: evt.CreatedAt,
	}
}

// Event rebuilds the outbox event carried by the message.
func (m EventMessage) Event() OutboxEvent {
	return OutboxEvent{
		ID:        m.ID,
		TenantID:  m.TenantID,
		EventType: m.EventType,
		Payload:   json.RawMessage(m.Payload),
		Status:    EventEnqueued,
		CreatedAt: m.CreatedAt,
	}
}
