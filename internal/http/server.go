package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/config"
	"github.com/jmehdipour/webhook-gateway/internal/http/middleware"
	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/internal/metrics"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
	"github.com/jmehdipour/webhook-gateway/internal/service/events"
	"github.com/jmehdipour/webhook-gateway/internal/service/ops"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

// Deps are the collaborators behind the HTTP surface.
type Deps struct {
	Tenants repository.TenantsRepository
	Events  *events.Service
	Ops     *ops.Service
	Redis   *redis.Client
}

// NewServer wires the MySQL (and, when enabled, ClickHouse) repositories.
// clickhouseDB may be nil.
func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client, log *zap.Logger) *Server {
	// repos (MySQL)
	tenantsRepo := repository.NewTenantsRepository(mysqlDB)
	store := repository.NewDeliveryStore(mysqlDB)

	// attempt reports come from ClickHouse when the export is on
	var attempts ops.AttemptLister = store.Attempts
	if clickhouseDB != nil {
		attempts = repository.NewCHAttemptsRepository(clickhouseDB)
	}

	return NewServerWithDeps(cfg, Deps{
		Tenants: tenantsRepo,
		Events:  events.New(store.Outbox),
		Ops:     ops.New(store, attempts),
		Redis:   rds,
	}, log)
}

func NewServerWithDeps(cfg config.Config, deps Deps, log *zap.Logger) *Server {
	log = logger.OrNop(log).With(zap.String("component", "http"))

	// echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echoMid.Recover(), requestLogger(log))

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	authMW := middleware.APIKeyMiddleware(deps.Tenants)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          deps.Redis,
		DefaultRPS:     cfg.RateLimit.RPS,
		KeyPrefix:      "rl:tenant:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1", authMW, rlMW)
	v1.POST("/events", createEventHandler(deps.Events, log))
	v1.GET("/reports/attempts", listAttemptsHandler(deps.Ops, log))
	v1.GET("/ops/dlq/:id", getDLQHandler(deps.Ops, log))
	v1.POST("/ops/dlq/:id/replay", replayDLQHandler(deps.Ops, log))
	v1.GET("/ops/stats", statsHandler(deps.Ops, log))

	return &Server{e: e, log: log}
}

func requestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return echoMid.RequestLoggerWithConfig(echoMid.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v echoMid.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			log.Info("request", fields...)
			return nil
		},
	})
}

// Handler exposes the router (tests).
func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
