package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/observability"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/service"
)

// OutboxWorker drains the notification outbox at a short interval so
// escrow parties learn about transitions promptly after commit.
type OutboxWorker struct {
	outbox    *service.OutboxService
	interval  time.Duration
	batchSize int32
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func NewOutboxWorker(outbox *service.OutboxService) *OutboxWorker {
	return &OutboxWorker{
		outbox:    outbox,
		interval:  5 * time.Second,
		batchSize: 100,
		stopCh:    make(chan struct{}),
	}
}

// WithInterval updates the drain interval.
func (w *OutboxWorker) WithInterval(interval time.Duration) *OutboxWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start blocks and drains the outbox at the configured interval.
func (w *OutboxWorker) Start(ctx context.Context) {
	zap.L().Info("outbox worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("outbox worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("outbox worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *OutboxWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *OutboxWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *OutboxWorker) runOnce(ctx context.Context) {
	if _, err := w.outbox.Drain(ctx, w.batchSize); err != nil {
		observability.IncrementWorkerRun("outbox", "failed")
		zap.L().Error("outbox drain failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("outbox", "success")
}
