package botbridge

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Worker is a long-lived task owned by a Supervisor.
type Worker interface {
	Start(ctx context.Context)
	Stop()
	Name() string
}

// TickerWorker runs a function at a fixed interval with graceful shutdown.
// The bridge uses it for the pending reclaimer and the stream trimmer.
type TickerWorker struct {
	name     string
	interval time.Duration
	logger   *zap.Logger
	workFunc func(ctx context.Context) error

	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopOnce sync.Once
	stopChan chan struct{}
	started  bool
}

// NewTickerWorker creates a ticker worker. A nil logger falls back to a no-op
// logger.
func NewTickerWorker(name string, interval time.Duration, logger *zap.Logger, workFunc func(ctx context.Context) error) *TickerWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TickerWorker{
		name:     name,
		interval: interval,
		logger:   logger,
		workFunc: workFunc,
		stopChan: make(chan struct{}),
	}
}

// Start blocks, running workFunc every interval, until the context is
// cancelled or Stop is called. A second Start is a no-op.
func (w *TickerWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		w.logger.Warn("Worker already started", zap.String("name", w.name))
		return
	}
	w.started = true
	w.mu.Unlock()

	w.logger.Info("Worker starting", zap.String("name", w.name), zap.Duration("interval", w.interval))
	defer w.logger.Info("Worker finished", zap.String("name", w.name))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			// A stop may have raced the tick.
			select {
			case <-w.stopChan:
				return
			default:
			}
			w.runOnce(ctx)
		}
	}
}

func (w *TickerWorker) runOnce(ctx context.Context) {
	w.wg.Add(1)
	defer w.wg.Done()

	select {
	case <-ctx.Done():
		return
	default:
	}

	if err := w.workFunc(ctx); err != nil {
		w.logger.Error("Worker run failed", zap.String("name", w.name), zap.Error(err))
	}
}

// Stop shuts the worker down, waiting for an in-progress run to complete.
// Safe to call multiple times.
func (w *TickerWorker) Stop() {
	w.stopOnce.Do(func() {
		w.mu.RLock()
		defer w.mu.RUnlock()
		if !w.started {
			return
		}
		close(w.stopChan)
		w.wg.Wait()
	})
}

// Name returns the worker's name.
func (w *TickerWorker) Name() string {
	return w.name
}
