package model

import "time"

// DeadLetter records one DLQ transition of a job. Rows are never updated or
// deleted, so a replayed job that fails again gets a second row.
type DeadLetter struct {
	ID            string    `db:"id"              json:"id"`
	DeliveryJobID string    `db:"delivery_job_id" json:"delivery_job_id"`
	Reason        string    `db:"reason"          json:"reason"`
	CreatedAt     time.Time `db:"created_at"      json:"created_at"`
}
