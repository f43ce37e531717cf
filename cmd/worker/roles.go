package worker

import (
	"context"

	"github.com/jmehdipour/webhook-gateway/internal/delivery"
	"github.com/jmehdipour/webhook-gateway/internal/dispatcher"
	"github.com/jmehdipour/webhook-gateway/internal/worker"
	"golang.org/x/sync/errgroup"
)

func roleOutbox(ctx context.Context, rt *runtime, g *errgroup.Group) error {
	pub, err := rt.publisher()
	if err != nil {
		return err
	}
	ob := dispatcher.NewOutbox(rt.store, pub, rt.cfg.Topics.Events, rt.cfg.Outbox.BatchSize)
	d := dispatcher.NewDispatcher("outbox", rt.cfg.Outbox.Interval, ob.Batch(), ob.Tick, rt.log)
	g.Go(func() error { return d.Run(ctx) })
	return nil
}

func roleRetry(ctx context.Context, rt *runtime, g *errgroup.Group) error {
	pub, err := rt.publisher()
	if err != nil {
		return err
	}
	rd := dispatcher.NewRetry(rt.store, pub, rt.cfg.Topics.Retries, rt.cfg.Retry.BatchSize)
	retry := dispatcher.NewDispatcher("retry", rt.cfg.Retry.Interval, rd.Batch(), rd.Tick, rt.log)

	rc := dispatcher.NewReclaimer(rt.store, rt.cfg.Retry.VisibilityTimeout, rt.log)
	reclaim := dispatcher.NewDispatcher("reclaim", rt.cfg.Retry.ReclaimInterval, 0, rc.Tick, rt.log)

	g.Go(func() error { return retry.Run(ctx) })
	g.Go(func() error { return reclaim.Run(ctx) })
	return nil
}

func roleEvents(ctx context.Context, rt *runtime, g *errgroup.Group) error {
	c, err := rt.consumer(rt.cfg.Topics.Events, "events")
	if err != nil {
		return err
	}
	adm := delivery.NewAdmission(rt.store, rt.executor(ctx, g), rt.cfg.Delivery.ConcurrencyBackoff, rt.log)
	w := worker.NewEventConsumer(c, adm, rt.log)
	g.Go(func() error { return w.Run(ctx) })
	return nil
}

func roleJobs(ctx context.Context, rt *runtime, g *errgroup.Group) error {
	c, err := rt.consumer(rt.cfg.Topics.Retries, "jobs")
	if err != nil {
		return err
	}
	w := worker.NewRetryConsumer(c, rt.executor(ctx, g), rt.cfg.Retry.ConsumerWorkers, rt.log)
	g.Go(func() error { return w.Run(ctx) })
	return nil
}
