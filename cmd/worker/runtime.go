package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/broker"
	"github.com/jmehdipour/webhook-gateway/internal/config"
	"github.com/jmehdipour/webhook-gateway/internal/db"
	"github.com/jmehdipour/webhook-gateway/internal/delivery"
	"github.com/jmehdipour/webhook-gateway/internal/dispatcher"
	"github.com/jmehdipour/webhook-gateway/internal/kafka"
	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/internal/metrics"
	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmehdipour/webhook-gateway/internal/rabbitmq"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
	"github.com/jmehdipour/webhook-gateway/internal/worker"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// runtime holds the connections shared by the worker roles of one process.
type runtime struct {
	cfg   config.Config
	log   *zap.Logger
	ch    *sqlx.DB
	store *repository.DeliveryStore

	pub     broker.Publisher
	exec    *delivery.Executor
	closers []func() error
}

func newRuntime(cfgPath, name string) (*runtime, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.Init(cfg.Log.Level).With(zap.String("worker", name))
	metrics.MustRegister(prometheus.DefaultRegisterer)

	dbx, err := db.OpenMySQL(cfg.MySQL)
	if err != nil {
		return nil, fmt.Errorf("mysql connect: %w", err)
	}

	rt := &runtime{
		cfg:     cfg,
		log:     log,
		store:   repository.NewDeliveryStore(dbx),
		closers: []func() error{dbx.Close},
	}

	if cfg.ClickHouse.Enabled {
		rt.ch, err = db.OpenClickHouse(cfg.ClickHouse)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("clickhouse connect: %w", err)
		}
		rt.closers = append(rt.closers, rt.ch.Close)
	}
	return rt, nil
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		_ = rt.closers[i]()
	}
}

// publisher is created once per process and guarded by the publisher breaker.
func (rt *runtime) publisher() (broker.Publisher, error) {
	if rt.pub != nil {
		return rt.pub, nil
	}

	var (
		pub broker.Publisher
		err error
	)
	switch rt.cfg.Broker.Driver {
	case "rabbitmq":
		pub, err = rabbitmq.NewPublisher(rt.rabbitConfig())
	case "kafka", "":
		pub = kafka.NewProducerFromConfig(rt.kafkaConfig("", ""))
	default:
		err = fmt.Errorf("unknown broker driver %q", rt.cfg.Broker.Driver)
	}
	if err != nil {
		return nil, err
	}

	br := dispatcher.NewMicroBreaker(rt.cfg.PublisherBreaker.FailThreshold, rt.cfg.PublisherBreaker.OpenFor)
	rt.pub = dispatcher.NewGuardedPublisher(pub, br)
	rt.closers = append(rt.closers, rt.pub.Close)
	return rt.pub, nil
}

func (rt *runtime) consumer(topic, group string) (broker.Consumer, error) {
	var (
		c   broker.Consumer
		err error
	)
	switch rt.cfg.Broker.Driver {
	case "rabbitmq":
		c, err = rabbitmq.NewConsumer(rt.rabbitConfig(), topic)
	case "kafka", "":
		c = kafka.NewConsumerFromConfig(rt.kafkaConfig(topic, group))
	default:
		err = fmt.Errorf("unknown broker driver %q", rt.cfg.Broker.Driver)
	}
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, c.Close)
	return c, nil
}

func (rt *runtime) kafkaConfig(topic, group string) kafka.Config {
	groupID := rt.cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "whgw"
	}
	return kafka.Config{
		Brokers:        rt.cfg.Kafka.Brokers,
		Topic:          topic,
		GroupID:        groupID + "-" + group,
		MinBytes:       rt.cfg.Kafka.MinBytes,
		MaxBytes:       rt.cfg.Kafka.MaxBytes,
		CommitInterval: time.Duration(rt.cfg.Kafka.CommitInterval) * time.Millisecond,
		WriteTimeout:   rt.cfg.Kafka.WriteTimeout,
	}
}

func (rt *runtime) rabbitConfig() rabbitmq.Config {
	return rabbitmq.Config{
		URL:            rt.cfg.RabbitMQ.URL,
		Exchange:       rt.cfg.RabbitMQ.Exchange,
		Topics:         []string{rt.cfg.Topics.Events, rt.cfg.Topics.Retries},
		Prefetch:       rt.cfg.RabbitMQ.Prefetch,
		ConfirmTimeout: rt.cfg.RabbitMQ.ConfirmTimeout,
	}
}

// executor is shared by the events and jobs roles so both respect one
// outbound concurrency budget. With ClickHouse enabled every attempt is also
// exported there.
func (rt *runtime) executor(ctx context.Context, g *errgroup.Group) *delivery.Executor {
	if rt.exec != nil {
		return rt.exec
	}
	d, ed := rt.cfg.Delivery, rt.cfg.EndpointDefaults
	rt.exec = delivery.NewExecutor(rt.store, delivery.ExecutorConfig{
		Workers:         d.Workers,
		BreakerCooldown: d.BreakerCooldown,
		UserAgent:       d.UserAgent,
		Backoff:         delivery.Backoff{Base: d.RetryBase, Max: d.RetryMax, Jitter: d.RetryJitter},
		Defaults: model.EndpointSettings{
			MaxAttempts:             ed.MaxAttempts,
			TimeoutMs:               ed.Timeout.Milliseconds(),
			ConcurrencyLimit:        ed.ConcurrencyLimit,
			CircuitBreakerThreshold: ed.CircuitBreakerThreshold,
		},
	}, rt.log)

	if rt.ch != nil {
		exp := worker.NewAttemptExporter(
			repository.NewCHAttemptsRepository(rt.ch),
			rt.cfg.AttemptExport.BatchSize,
			rt.cfg.AttemptExport.BatchWait,
			rt.log,
		)
		rt.exec.WithSink(exp)
		g.Go(func() error { return exp.Run(ctx) })
	}
	return rt.exec
}

// serveMetrics exposes /metrics until ctx is cancelled.
func (rt *runtime) serveMetrics(ctx context.Context) error {
	addr := rt.cfg.HTTP.MetricsAddr
	if addr == "" {
		<-ctx.Done()
		return nil
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	errCh := make(chan error, 1)
	go func() { errCh <- e.Start(addr) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return e.Shutdown(sctx)
	}
}
