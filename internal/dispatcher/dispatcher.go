package dispatcher

import (
	"context"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"go.uber.org/zap"
)

// TickFunc does one unit of dispatch work and reports how many items it moved.
type TickFunc func(ctx context.Context) (int, error)

// Dispatcher runs a TickFunc on a fixed interval until ctx is cancelled. A
// full batch triggers the next tick immediately so backlogs drain quickly.
type Dispatcher struct {
	name     string
	interval time.Duration
	batch    int
	tick     TickFunc
	log      *zap.Logger
}

func NewDispatcher(name string, interval time.Duration, batch int, tick TickFunc, log *zap.Logger) *Dispatcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Dispatcher{
		name:     name,
		interval: interval,
		batch:    batch,
		tick:     tick,
		log:      logger.OrNop(log).With(zap.String("dispatcher", name)),
	}
}

func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("dispatcher started", zap.Duration("interval", d.interval), zap.Int("batch", d.batch))

	t := time.NewTicker(d.interval)
	defer t.Stop()

	for {
		n, err := d.tick(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			d.log.Error("tick failed", zap.Error(err))
		case n > 0:
			d.log.Debug("tick", zap.Int("items", n))
		}

		if err == nil && d.batch > 0 && n >= d.batch {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		select {
		case <-ctx.Done():
			d.log.Info("dispatcher stopped")
			return nil
		case <-t.C:
		}
	}
}
