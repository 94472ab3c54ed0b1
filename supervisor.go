package botbridge

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Supervisor owns the bridge's long-lived tasks (the command consumer, the
// pending reclaimer, the stream trimmer) and shuts them down together. The
// started guard makes "start if not already running" idempotent, so a
// reconnecting owner process can never end up with two consumer loops.
type Supervisor struct {
	logger *zap.Logger
	wg     sync.WaitGroup

	mu       sync.RWMutex
	workers  []Worker
	stopOnce sync.Once
	stopChan chan struct{}
	started  bool
}

// NewSupervisor creates a supervisor for the given workers.
func NewSupervisor(logger *zap.Logger, workers ...Worker) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		logger:   logger,
		workers:  workers,
		stopChan: make(chan struct{}),
	}
}

// Start runs all workers and blocks until the context is cancelled or Stop is
// called. A second Start while running is a no-op.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		s.logger.Warn("Supervisor already started")
		return
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("Supervisor starting", zap.Int("worker_count", len(s.workers)))

	for _, w := range s.workers {
		s.wg.Add(1)
		go func(worker Worker) {
			defer s.wg.Done()
			s.logger.Info("Starting worker", zap.String("worker_name", worker.Name()))
			worker.Start(ctx)
			s.logger.Info("Worker stopped", zap.String("worker_name", worker.Name()))
		}(w)
	}

	select {
	case <-ctx.Done():
		s.logger.Info("Context cancelled, stopping supervisor")
		s.Stop()
	case <-s.stopChan:
		s.logger.Info("Stop signal received, stopping supervisor")
	}

	s.wg.Wait()
	s.logger.Info("All workers stopped")

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
}

// Stop gracefully shuts down all workers. Safe to call multiple times.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if !s.started {
			return
		}
		close(s.stopChan)
		for _, worker := range s.workers {
			worker.Stop()
		}
	})
}

// IsStarted reports whether the supervisor is currently running.
func (s *Supervisor) IsStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}
