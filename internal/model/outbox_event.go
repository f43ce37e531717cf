package model

import (
	"encoding/json"
	"time"
)

type EventStatus string

const (
	EventPending  EventStatus = "PENDING"
	EventEnqueued EventStatus = "ENQUEUED"
)

func (s EventStatus) String() string { return string(s) }

// OutboxEvent is a tenant-scoped event waiting to be (or already) published
// to the events topic. It travels on the topic as an EventMessage.
type OutboxEvent struct {
	ID        string          `db:"id"         json:"id"`
	TenantID  string          `db:"tenant_id"  json:"tenant_id"`
	EventType string          `db:"event_type" json:"event_type"`
	Payload   json.RawMessage `db:"payload"    json:"payload"`
	Status    EventStatus     `db:"status"     json:"status"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}
