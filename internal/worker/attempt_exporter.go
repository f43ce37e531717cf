package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/delivery"
	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/internal/metrics"
	"github.com/jmehdipour/webhook-gateway/internal/model"
	"go.uber.org/zap"
)

// AttemptWriter persists a batch of attempts (ClickHouse in production).
type AttemptWriter interface {
	InsertBatch(ctx context.Context, attempts []model.DeliveryAttempt) error
}

// AttemptExporter buffers attempts handed over by the executor and writes
// them in size/time bounded batches. The export is best effort: a full
// buffer or a failed batch drops rows, MySQL stays the source of truth.
type AttemptExporter struct {
	Writer    AttemptWriter
	BatchSize int           // max buffered attempts per flush
	BatchWait time.Duration // max time to wait before flush
	Log       *zap.Logger

	in      chan model.DeliveryAttempt
	dropped atomic.Int64
}

var _ delivery.AttemptSink = (*AttemptExporter)(nil)

func NewAttemptExporter(w AttemptWriter, batchSize int, batchWait time.Duration, log *zap.Logger) *AttemptExporter {
	if batchSize <= 0 {
		batchSize = 200
	}
	if batchWait <= 0 {
		batchWait = 500 * time.Millisecond
	}
	return &AttemptExporter{
		Writer:    w,
		BatchSize: batchSize,
		BatchWait: batchWait,
		Log:       logger.OrNop(log),
		in:        make(chan model.DeliveryAttempt, batchSize*4),
	}
}

// Export enqueues a without blocking.
func (e *AttemptExporter) Export(a model.DeliveryAttempt) {
	select {
	case e.in <- a:
	default:
		if e.dropped.Add(1)%100 == 1 {
			e.Log.Warn("attempt export buffer full, dropping", zap.Int64("dropped_total", e.dropped.Load()))
		}
	}
}

// Run flushes until ctx is cancelled, then writes what is left.
func (e *AttemptExporter) Run(ctx context.Context) error {
	tick := time.NewTicker(e.BatchWait)
	defer tick.Stop()

	buf := make([]model.DeliveryAttempt, 0, e.BatchSize)

	flush := func(ctx context.Context) {
		if len(buf) == 0 {
			return
		}
		if err := e.Writer.InsertBatch(ctx, buf); err != nil {
			e.Log.Error("attempt export failed", zap.Int("rows", len(buf)), zap.Error(err))
		} else {
			metrics.AttemptsExportedTotal.Add(float64(len(buf)))
		}
		buf = buf[:0]
	}

	for {
		select {
		case <-ctx.Done():
		drain:
			for {
				select {
				case a := <-e.in:
					buf = append(buf, a)
				default:
					break drain
				}
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			flush(shutdownCtx)
			cancel()
			return nil

		case a := <-e.in:
			buf = append(buf, a)
			if len(buf) >= e.BatchSize {
				flush(ctx)
			}

		case <-tick.C:
			flush(ctx)
		}
	}
}
