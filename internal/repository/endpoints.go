package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

type EndpointsRepository interface {
	Insert(ctx context.Context, ep model.Endpoint) error
	Get(ctx context.Context, id string) (*model.Endpoint, error)
	ListActive(ctx context.Context, tenantID string) ([]model.Endpoint, error)
	UpdateBreaker(ctx context.Context, id string, fn func(ep *model.Endpoint) bool) (*model.Endpoint, error)
}

type EndpointsRepositoryImpl struct {
	db *sqlx.DB
}

func NewEndpointsRepository(db *sqlx.DB) *EndpointsRepositoryImpl {
	return &EndpointsRepositoryImpl{db: db}
}

var _ EndpointsRepository = (*EndpointsRepositoryImpl)(nil)

const endpointColumns = `
	id, tenant_id, name, url, secret, status,
	max_attempts, timeout_ms, concurrency_limit, circuit_breaker_threshold,
	consecutive_failures, next_available_at, failure_reason, created_at`

func (r *EndpointsRepositoryImpl) Insert(ctx context.Context, ep model.Endpoint) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO webhook_endpoints
		    (id, tenant_id, name, url, secret, status,
		     max_attempts, timeout_ms, concurrency_limit, circuit_breaker_threshold,
		     consecutive_failures, next_available_at, failure_reason, created_at)
		VALUES
		    (:id, :tenant_id, :name, :url, :secret, :status,
		     :max_attempts, :timeout_ms, :concurrency_limit, :circuit_breaker_threshold,
		     :consecutive_failures, :next_available_at, :failure_reason, :created_at)
	`, ep)
	return err
}

func (r *EndpointsRepositoryImpl) Get(ctx context.Context, id string) (*model.Endpoint, error) {
	var ep model.Endpoint
	err := r.db.GetContext(ctx, &ep, `SELECT `+endpointColumns+` FROM webhook_endpoints WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ep, nil
}

// ListActive returns the tenant's ACTIVE endpoints.
func (r *EndpointsRepositoryImpl) ListActive(ctx context.Context, tenantID string) ([]model.Endpoint, error) {
	var eps []model.Endpoint
	err := r.db.SelectContext(ctx, &eps, `
		SELECT `+endpointColumns+`
		  FROM webhook_endpoints
		 WHERE tenant_id = ? AND status = ?
		 ORDER BY created_at ASC
	`, tenantID, model.EndpointActive.String())
	if err != nil {
		return nil, err
	}
	return eps, nil
}

// UpdateBreaker reads the endpoint under a row lock, lets fn mutate the
// breaker fields and writes them back when fn returns true. Concurrent
// failures on the same endpoint are serialized by the lock.
func (r *EndpointsRepositoryImpl) UpdateBreaker(ctx context.Context, id string, fn func(ep *model.Endpoint) bool) (*model.Endpoint, error) {
	var ep model.Endpoint
	err := withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &ep, `SELECT `+endpointColumns+` FROM webhook_endpoints WHERE id = ? FOR UPDATE`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if !fn(&ep) {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE webhook_endpoints
			   SET consecutive_failures = ?, next_available_at = ?, failure_reason = ?
			 WHERE id = ?
		`, ep.ConsecutiveFailures, ep.NextAvailableAt, ep.FailureReason, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &ep, nil
}
