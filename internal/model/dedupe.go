package model

import "time"

// DeliveredDedupe marks an (endpoint, event) pair as delivered.
type DeliveredDedupe struct {
	EndpointID    string    `db:"endpoint_id"`
	OutboxEventID string    `db:"outbox_event_id"`
	DeliveredAt   time.Time `db:"delivered_at"`
}
