package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOutbox struct {
	rows []model.OutboxEvent
	err  error
}

func (f *fakeOutbox) Insert(_ context.Context, _ *sqlx.Tx, evt model.OutboxEvent) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, evt)
	return nil
}

func TestCreateStoresPendingEvent(t *testing.T) {
	ob := &fakeOutbox{}
	svc := New(ob)
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.FixedZone("x", 3600))
	svc.now = func() time.Time { return at }

	payload := json.RawMessage(`{ "order": 42 }`)
	evt, err := svc.Create(context.Background(), "t1", "  order.paid ", payload)
	require.NoError(t, err)

	require.Len(t, ob.rows, 1)
	assert.Equal(t, evt, ob.rows[0])
	assert.NotEmpty(t, evt.ID)
	assert.Equal(t, "t1", evt.TenantID)
	assert.Equal(t, "order.paid", evt.EventType)
	assert.Equal(t, model.EventPending, evt.Status)
	assert.Equal(t, `{ "order": 42 }`, string(evt.Payload))
	assert.Equal(t, at.UTC(), evt.CreatedAt)
}

func TestCreateValidation(t *testing.T) {
	svc := New(&fakeOutbox{})
	ctx := context.Background()

	_, err := svc.Create(ctx, "t1", " ", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrInvalidEventType)

	_, err = svc.Create(ctx, "t1", strings.Repeat("x", maxEventTypeLen+1), json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrInvalidEventType)

	_, err = svc.Create(ctx, "t1", "a", nil)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = svc.Create(ctx, "t1", "a", json.RawMessage(`{"a":`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestCreateWrapsStorageError(t *testing.T) {
	boom := errors.New("boom")
	_, err := New(&fakeOutbox{err: boom}).Create(context.Background(), "t1", "a", json.RawMessage(`1`))
	assert.ErrorIs(t, err, boom)
}
