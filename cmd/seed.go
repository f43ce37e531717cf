package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/config"
	"github.com/jmehdipour/webhook-gateway/internal/db"
	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
	"github.com/jmehdipour/webhook-gateway/internal/util"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo tenants and endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log := logger.Init(cfg.Log.Level)

		sqlDB, err := db.OpenMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		tenants := repository.NewTenantsRepository(sqlDB)
		endpoints := repository.NewEndpointsRepository(sqlDB)
		return seed(cmd.Context(), cfg.EndpointDefaults, tenants, endpoints, log)
	},
}

type demoTenant struct {
	model.Tenant
	endpoints []string // target urls
}

var demoTenants = []demoTenant{
	{
		Tenant:    model.Tenant{Name: "Acme Corp", APIKey: "11111111111111111111111111111111", Status: "active", RateLimitRPS: intptr(20)},
		endpoints: []string{"http://127.0.0.1:9000/hooks/acme", "http://127.0.0.1:9000/hooks/acme-audit"},
	},
	{
		Tenant:    model.Tenant{Name: "Foobar LLC", APIKey: "22222222222222222222222222222222", Status: "active", RateLimitRPS: intptr(50)},
		endpoints: []string{"http://127.0.0.1:9000/hooks/foobar"},
	},
	{
		Tenant: model.Tenant{Name: "Suspended Inc", APIKey: "44444444444444444444444444444444", Status: "suspended"},
	},
}

// seed inserts the demo tenants and their endpoints. Tenants whose api key
// already exists are left alone.
func seed(ctx context.Context, defaults config.EndpointDefaults, tenants repository.TenantsRepository, endpoints repository.EndpointsRepository, log *zap.Logger) error {
	now := time.Now().UTC()
	for _, dt := range demoTenants {
		existing, err := tenants.GetByAPIKey(ctx, dt.APIKey)
		if err != nil {
			return fmt.Errorf("lookup tenant %q: %w", dt.Name, err)
		}
		if existing != nil {
			log.Info("seed: tenant exists", zap.String("tenant", existing.ID), zap.String("name", dt.Name))
			continue
		}

		t := dt.Tenant
		t.ID = util.NewID()
		t.CreatedAt, t.UpdatedAt = now, now
		if err := tenants.Insert(ctx, t); err != nil {
			return fmt.Errorf("insert tenant %q: %w", t.Name, err)
		}

		for i, url := range dt.endpoints {
			ep := model.Endpoint{
				ID:       util.NewID(),
				TenantID: t.ID,
				Name:     fmt.Sprintf("%s #%d", t.Name, i+1),
				URL:      url,
				Secret:   "whsec_" + t.APIKey[:16],
				Status:   model.EndpointActive,
				EndpointSettings: model.EndpointSettings{
					MaxAttempts:             defaults.MaxAttempts,
					TimeoutMs:               defaults.Timeout.Milliseconds(),
					ConcurrencyLimit:        defaults.ConcurrencyLimit,
					CircuitBreakerThreshold: defaults.CircuitBreakerThreshold,
				},
				CreatedAt: now,
			}
			if err := endpoints.Insert(ctx, ep); err != nil {
				return fmt.Errorf("insert endpoint %s: %w", url, err)
			}
		}
		log.Info("seed: tenant created",
			zap.String("tenant", t.ID), zap.String("name", t.Name), zap.Int("endpoints", len(dt.endpoints)))
	}
	return nil
}

func intptr(i int) *int { return &i }
