package delivery

import (
	"fmt"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/model"
)

// DefaultBreakerThreshold applies to endpoints stored without a threshold.
const DefaultBreakerThreshold = 5

// recordFailure bumps the consecutive-failure counter and opens the breaker
// when the threshold is reached. It reports whether the breaker opened.
func recordFailure(ep *model.Endpoint, now time.Time, cooldown time.Duration, lastErr string) bool {
	ep.ConsecutiveFailures++

	threshold := ep.CircuitBreakerThreshold
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if ep.ConsecutiveFailures < threshold {
		return false
	}

	until := now.Add(cooldown)
	reason := fmt.Sprintf("circuit breaker open: %d consecutive failures, last error: %s",
		ep.ConsecutiveFailures, lastErr)
	ep.NextAvailableAt = &until
	ep.FailureReason = &reason
	return true
}

// resetBreaker closes the breaker. It reports whether anything changed.
func resetBreaker(ep *model.Endpoint) bool {
	if ep.ConsecutiveFailures == 0 && ep.NextAvailableAt == nil && ep.FailureReason == nil {
		return false
	}
	ep.ConsecutiveFailures = 0
	ep.NextAvailableAt = nil
	ep.FailureReason = nil
	return true
}
