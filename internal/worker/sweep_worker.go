package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/observability"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/service"
)

// SweepWorker periodically runs the escrow sweeps: auto-release of holds
// past the approval window and refunds of expired unproven holds. Safe for
// concurrent instances thanks to FOR UPDATE SKIP LOCKED.
type SweepWorker struct {
	escrows   *service.EscrowService
	interval  time.Duration
	batchSize int32
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func NewSweepWorker(escrows *service.EscrowService) *SweepWorker {
	return &SweepWorker{
		escrows:   escrows,
		interval:  time.Minute,
		batchSize: 50,
		stopCh:    make(chan struct{}),
	}
}

// WithInterval updates the sweep interval.
func (w *SweepWorker) WithInterval(interval time.Duration) *SweepWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// WithBatchSize updates the per-run batch size.
func (w *SweepWorker) WithBatchSize(size int32) *SweepWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks and runs sweeps at the configured interval.
func (w *SweepWorker) Start(ctx context.Context) {
	zap.L().Info("sweep worker starting",
		zap.Duration("interval", w.interval),
		zap.Int32("batch", w.batchSize))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("sweep worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("sweep worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *SweepWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *SweepWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// RunOnce executes a single sweep pass; used by tests and manual triggers.
func (w *SweepWorker) RunOnce(ctx context.Context) error {
	if _, err := w.escrows.AutoRelease(ctx, w.batchSize); err != nil {
		return err
	}
	_, err := w.escrows.AutoRefund(ctx, w.batchSize)
	return err
}

func (w *SweepWorker) runOnce(ctx context.Context) {
	if err := w.RunOnce(ctx); err != nil {
		observability.IncrementWorkerRun("sweep", "failed")
		zap.L().Error("escrow sweep failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("sweep", "success")
}
