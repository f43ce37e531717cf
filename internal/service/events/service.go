package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmehdipour/webhook-gateway/internal/util"
	"github.com/jmoiron/sqlx"
)

const maxEventTypeLen = 255

var (
	ErrInvalidEventType = errors.New("event_type is required")
	ErrInvalidPayload   = errors.New("payload must be valid JSON")
)

// OutboxWriter persists outbox rows, inside tx when one is given.
type OutboxWriter interface {
	Insert(ctx context.Context, tx *sqlx.Tx, evt model.OutboxEvent) error
}

// Service records tenant events in the outbox. Delivery happens
// asynchronously once the outbox dispatcher publishes them.
type Service struct {
	outbox OutboxWriter
	now    func() time.Time
}

// New constructs the events service.
func New(outbox OutboxWriter) *Service {
	return &Service{outbox: outbox, now: time.Now}
}

// Create validates the event, generates a ULID and inserts a PENDING outbox
// row. Returns the stored event.
func (s *Service) Create(ctx context.Context, tenantID, eventType string, payload json.RawMessage) (model.OutboxEvent, error) {
	return s.CreateTx(ctx, nil, tenantID, eventType, payload)
}

// CreateTx is Create within the caller's transaction, so the event commits
// together with the business change it describes.
func (s *Service) CreateTx(ctx context.Context, tx *sqlx.Tx, tenantID, eventType string, payload json.RawMessage) (model.OutboxEvent, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" || len(eventType) > maxEventTypeLen {
		return model.OutboxEvent{}, ErrInvalidEventType
	}
	if len(payload) == 0 || !json.Valid(payload) {
		return model.OutboxEvent{}, ErrInvalidPayload
	}

	evt := model.OutboxEvent{
		ID:        util.NewID(),
		TenantID:  tenantID,
		EventType: eventType,
		Payload:   payload,
		Status:    model.EventPending,
		CreatedAt: s.now().UTC(),
	}
	if err := s.outbox.Insert(ctx, tx, evt); err != nil {
		return model.OutboxEvent{}, fmt.Errorf("insert outbox: %w", err)
	}
	return evt, nil
}
