package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/broker"
)

// ErrPublisherOpen is returned while the publish breaker rejects calls.
var ErrPublisherOpen = errors.New("publisher circuit open")

type state int

const (
	closed state = iota
	open
	halfOpen
)

func (s state) String() string {
	switch s {
	case open:
		return "open"
	case halfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// MicroBreaker is an in-process closed/open/half-open breaker. One probe is
// let through after openFor; its result closes or re-opens the breaker.
type MicroBreaker struct {
	mu               sync.Mutex
	st               state
	consecutiveFails int
	failThreshold    int
	openFor          time.Duration
	nextTryAt        time.Time
	probeInFlight    bool
	now              func() time.Time
}

func NewMicroBreaker(threshold int, openFor time.Duration) *MicroBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openFor <= 0 {
		openFor = 15 * time.Second
	}
	return &MicroBreaker{failThreshold: threshold, openFor: openFor, now: time.Now}
}

func (b *MicroBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st.String()
}

func (b *MicroBreaker) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.st {
	case closed:
		return true
	case open:
		if now.After(b.nextTryAt) && !b.probeInFlight {
			b.st = halfOpen
			b.probeInFlight = true
			return true
		}
		return false
	case halfOpen:
		if !b.probeInFlight {
			b.probeInFlight = true
			return true
		}
		return false
	default:
		return true
	}
}

func (b *MicroBreaker) OnSuccess() {
	b.mu.Lock()
	b.consecutiveFails = 0
	b.st = closed
	b.probeInFlight = false
	b.mu.Unlock()
}

func (b *MicroBreaker) OnFailure() {
	b.mu.Lock()
	if b.st == halfOpen {
		b.st = open
		b.nextTryAt = b.now().Add(b.openFor)
		b.probeInFlight = false
		b.mu.Unlock()
		return
	}

	b.consecutiveFails++
	if b.consecutiveFails >= b.failThreshold {
		b.st = open
		b.nextTryAt = b.now().Add(b.openFor)
	}

	b.mu.Unlock()
}

// Release gives back a probe that ended without a verdict (caller cancelled).
func (b *MicroBreaker) Release() {
	b.mu.Lock()
	if b.st == halfOpen {
		b.st = open
	}
	b.probeInFlight = false
	b.mu.Unlock()
}

// GuardedPublisher stops hammering a broker that keeps failing: once the
// breaker opens, Publish fails fast with ErrPublisherOpen and the claim
// transaction rolls back without waiting on broker timeouts.
type GuardedPublisher struct {
	pub broker.Publisher
	br  *MicroBreaker
}

var _ broker.Publisher = (*GuardedPublisher)(nil)

func NewGuardedPublisher(pub broker.Publisher, br *MicroBreaker) *GuardedPublisher {
	return &GuardedPublisher{pub: pub, br: br}
}

func (g *GuardedPublisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	if !g.br.TryAcquire() {
		return ErrPublisherOpen
	}
	if err := g.pub.Publish(ctx, topic, key, value); err != nil {
		if ctx.Err() != nil {
			g.br.Release()
		} else {
			g.br.OnFailure()
		}
		return err
	}
	g.br.OnSuccess()
	return nil
}

func (g *GuardedPublisher) Close() error { return g.pub.Close() }
