package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestBreaker(threshold int, openFor time.Duration) (*MicroBreaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewMicroBreaker(threshold, openFor)
	b.now = clk.now
	return b, clk
}

func TestMicroBreakerOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)

	for i := 0; i < 2; i++ {
		require.True(t, b.TryAcquire())
		b.OnFailure()
	}
	assert.Equal(t, "closed", b.State())

	require.True(t, b.TryAcquire())
	b.OnFailure()
	assert.Equal(t, "open", b.State())
	assert.False(t, b.TryAcquire())
}

func TestMicroBreakerHalfOpenProbe(t *testing.T) {
	b, clk := newTestBreaker(1, time.Second)

	b.OnFailure()
	require.Equal(t, "open", b.State())

	clk.t = clk.t.Add(2 * time.Second)
	require.True(t, b.TryAcquire(), "first probe after cooldown")
	assert.Equal(t, "half-open", b.State())
	assert.False(t, b.TryAcquire(), "only one probe at a time")

	b.OnFailure()
	assert.Equal(t, "open", b.State())
	assert.False(t, b.TryAcquire())

	clk.t = clk.t.Add(2 * time.Second)
	require.True(t, b.TryAcquire())
	b.OnSuccess()
	assert.Equal(t, "closed", b.State())
	assert.True(t, b.TryAcquire())
}

func TestMicroBreakerReleaseReturnsProbe(t *testing.T) {
	b, clk := newTestBreaker(1, time.Second)
	b.OnFailure()
	clk.t = clk.t.Add(2 * time.Second)

	require.True(t, b.TryAcquire())
	b.Release()
	assert.Equal(t, "open", b.State())
	assert.True(t, b.TryAcquire(), "cooldown already elapsed")
}

func TestGuardedPublisherFailsFastWhenOpen(t *testing.T) {
	mem := broker.NewMemory(8)
	br, _ := newTestBreaker(2, time.Minute)
	pub := NewGuardedPublisher(mem, br)
	ctx := context.Background()

	boom := errors.New("broker down")
	mem.FailNext(boom)
	assert.ErrorIs(t, pub.Publish(ctx, "t", nil, []byte("1")), boom)
	mem.FailNext(boom)
	assert.ErrorIs(t, pub.Publish(ctx, "t", nil, []byte("2")), boom)

	assert.ErrorIs(t, pub.Publish(ctx, "t", nil, []byte("3")), ErrPublisherOpen)
	assert.Zero(t, mem.Pending("t"))
}

func TestGuardedPublisherPassesThrough(t *testing.T) {
	mem := broker.NewMemory(8)
	br, _ := newTestBreaker(2, time.Minute)
	pub := NewGuardedPublisher(mem, br)

	require.NoError(t, pub.Publish(context.Background(), "t", []byte("k"), []byte("v")))
	assert.Equal(t, 1, mem.Pending("t"))
	assert.Equal(t, "closed", br.State())
}
