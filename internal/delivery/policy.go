package delivery

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"time"
)

// ErrorKind classifies the outcome of a failed attempt.
type ErrorKind string

const (
	KindTimeout           ErrorKind = "TIMEOUT"
	KindNetworkError      ErrorKind = "NETWORK_ERROR"
	KindRateLimitExceeded ErrorKind = "RATE_LIMIT_EXCEEDED"
	KindNotFound          ErrorKind = "NOT_FOUND"
	KindGone              ErrorKind = "GONE"
	KindServerError       ErrorKind = "SERVER_ERROR"
	KindClientError       ErrorKind = "CLIENT_ERROR"
	KindUnknown           ErrorKind = "UNKNOWN"
)

func (k ErrorKind) String() string { return string(k) }

// Classify maps an optional status code (0 = none) and an optional transport
// error to an ErrorKind. A transport error wins over the status.
func Classify(status int, err error) ErrorKind {
	if err != nil {
		if isTimeout(err) {
			return KindTimeout
		}
		return KindNetworkError
	}

	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimitExceeded
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusGone:
		return KindGone
	case status >= 500:
		return KindServerError
	case status >= 400:
		return KindClientError
	default:
		return KindUnknown
	}
}

// CanRetry reports whether a failed attempt may be retried. Transport errors
// and missing statuses are transient; 429 and 5xx are retried; every other
// status fails fast.
func CanRetry(status int, err error) bool {
	if err != nil || status == 0 {
		return true
	}
	return status == http.StatusTooManyRequests || status >= 500
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Backoff computes jittered exponential retry delays:
// clamp(base*2^attempt, max) * U(1-jitter, 1+jitter), floored at one second.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64

	// Rand returns a float in [0,1). Defaults to math/rand/v2.
	Rand func() float64
}

const maxShift = 62

// DefaultBackoff is 1s base, 24h cap, ±20% jitter.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Max: 24 * time.Hour, Jitter: 0.2}
}

// Delay returns the wait before the next attempt after attempt number attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	base, maxDelay := b.Base, b.Max
	if base <= 0 {
		base = time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 24 * time.Hour
	}
	if attempt < 0 {
		attempt = 0
	} else if attempt > maxShift {
		attempt = maxShift
	}

	d := float64(maxDelay)
	if mult := int64(1) << attempt; int64(base) <= math.MaxInt64/mult {
		d = math.Min(float64(int64(base)*mult), float64(maxDelay))
	}

	rnd := b.Rand
	if rnd == nil {
		rnd = rand.Float64
	}
	d *= 1 + b.Jitter*(2*rnd()-1)

	out := time.Duration(math.Ceil(d))
	if out < time.Second {
		out = time.Second
	}
	return out
}
