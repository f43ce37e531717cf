package model

import "time"

// SnippetLimit caps the stored response body / error text of an attempt.
const SnippetLimit = 200

// DeliveryAttempt is the append-only record of one HTTP try.
type DeliveryAttempt struct {
	ID              string    `db:"id"               json:"id"`
	DeliveryJobID   string    `db:"delivery_job_id"  json:"delivery_job_id"`
	EndpointID      string    `db:"-"                json:"endpoint_id,omitempty"`
	AttemptNo       int       `db:"attempt_no"       json:"attempt_no"`
	HTTPStatus      *int      `db:"http_status"      json:"http_status,omitempty"`
	ErrorType       *string   `db:"error_type"       json:"error_type,omitempty"`
	DurationMs      int64     `db:"duration_ms"      json:"duration_ms"`
	ResponseSnippet *string   `db:"response_snippet" json:"response_snippet,omitempty"`
	CreatedAt       time.Time `db:"created_at"       json:"created_at"`
}

// Snippet truncates s to SnippetLimit runes.
func Snippet(s string) string {
	r := []rune(s)
	if len(r) <= SnippetLimit {
		return s
	}
	return string(r[:SnippetLimit])
}
