package syncstore

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Worker replays device backlogs once at start and then on every tick.
type Worker struct {
	store    *Store
	interval time.Duration
	logger   *zap.Logger
}

func NewWorker(store *Store, interval time.Duration, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{store: store, interval: interval, logger: logger}
}

// Run blocks until ctx is done. A non-positive interval runs a single pass.
func (w *Worker) Run(ctx context.Context) {
	w.pass(ctx)
	if w.interval <= 0 {
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pass(ctx)
		}
	}
}

func (w *Worker) pass(ctx context.Context) {
	reports, err := w.store.SyncAll(ctx)
	if err != nil {
		w.logger.Error("backlog sync failed", zap.Error(err))
	}
	for _, r := range reports {
		if r.Remaining > 0 {
			w.logger.Debug("backlog still pending",
				zap.String("table", r.Table), zap.Int("remaining", r.Remaining))
		}
	}
}
