package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

type TenantsRepository interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*model.Tenant, error)
	Insert(ctx context.Context, t model.Tenant) error
}

type TenantsRepositoryImpl struct {
	db *sqlx.DB
}

func NewTenantsRepository(db *sqlx.DB) *TenantsRepositoryImpl {
	return &TenantsRepositoryImpl{db: db}
}

var _ TenantsRepository = (*TenantsRepositoryImpl)(nil)

// GetByAPIKey returns nil, nil when no tenant owns the key.
func (r *TenantsRepositoryImpl) GetByAPIKey(ctx context.Context, apiKey string) (*model.Tenant, error) {
	var t model.Tenant
	err := r.db.GetContext(ctx, &t, `
		SELECT id, name, api_key, status, rate_limit_rps, created_at, updated_at
		  FROM tenants
		 WHERE api_key = ? LIMIT 1
	`, apiKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TenantsRepositoryImpl) Insert(ctx context.Context, t model.Tenant) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO tenants (id, name, api_key, status, rate_limit_rps, created_at, updated_at)
		VALUES (:id, :name, :api_key, :status, :rate_limit_rps, :created_at, :updated_at)
	`, t)
	return err
}
