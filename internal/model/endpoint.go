package model

import "time"

type EndpointStatus string

const (
	EndpointActive EndpointStatus = "ACTIVE"
	EndpointPaused EndpointStatus = "PAUSED"
)

func (s EndpointStatus) String() string { return string(s) }

// EndpointSettings is the per-endpoint delivery configuration.
type EndpointSettings struct {
	MaxAttempts             int   `db:"max_attempts"`
	TimeoutMs               int64 `db:"timeout_ms"`
	ConcurrencyLimit        int   `db:"concurrency_limit"`
	CircuitBreakerThreshold int   `db:"circuit_breaker_threshold"`
}

// Timeout returns the HTTP timeout for one delivery attempt.
func (s EndpointSettings) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// WithDefaults fills every zero setting from d.
func (s EndpointSettings) WithDefaults(d EndpointSettings) EndpointSettings {
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = d.MaxAttempts
	}
	if s.TimeoutMs <= 0 {
		s.TimeoutMs = d.TimeoutMs
	}
	if s.ConcurrencyLimit <= 0 {
		s.ConcurrencyLimit = d.ConcurrencyLimit
	}
	if s.CircuitBreakerThreshold <= 0 {
		s.CircuitBreakerThreshold = d.CircuitBreakerThreshold
	}
	return s
}

// Endpoint is a tenant-owned webhook target. The breaker fields
// (ConsecutiveFailures, NextAvailableAt, FailureReason) are written only by
// the delivery engine.
type Endpoint struct {
	ID       string         `db:"id"`
	TenantID string         `db:"tenant_id"`
	Name     string         `db:"name"`
	URL      string         `db:"url"`
	Secret   string         `db:"secret"`
	Status   EndpointStatus `db:"status"`

	EndpointSettings

	ConsecutiveFailures int        `db:"consecutive_failures"`
	NextAvailableAt     *time.Time `db:"next_available_at"`
	FailureReason       *string    `db:"failure_reason"`
	CreatedAt           time.Time  `db:"created_at"`
}

// BreakerOpen reports whether the endpoint must not receive immediate attempts at now.
func (e *Endpoint) BreakerOpen(now time.Time) bool {
	return e.NextAvailableAt != nil && e.NextAvailableAt.After(now)
}
