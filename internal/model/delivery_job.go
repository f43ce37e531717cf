package model

import "time"

type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobInProgress JobStatus = "IN_PROGRESS"
	JobSucceeded  JobStatus = "SUCCEEDED"
	JobFailed     JobStatus = "FAILED"
	JobDLQ        JobStatus = "DLQ"
)

func (s JobStatus) String() string { return string(s) }

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobDLQ
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobInProgress, JobSucceeded, JobFailed, JobDLQ:
		return true
	}
	return false
}

// DeliveryJob is the attempt series for one (endpoint, event) pair.
type DeliveryJob struct {
	ID            string     `db:"id"               json:"id"`
	EndpointID    string     `db:"endpoint_id"      json:"endpoint_id"`
	OutboxEventID string     `db:"outbox_event_id"  json:"outbox_event_id"`
	Status        JobStatus  `db:"status"           json:"status"`
	NextAttemptAt *time.Time `db:"next_attempt_at"  json:"next_attempt_at,omitempty"`
	AttemptCount  int        `db:"attempt_count"    json:"attempt_count"`
	CreatedAt     time.Time  `db:"created_at"       json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"       json:"updated_at"`
}
