package botbridge

import (
	"time"

	"go.uber.org/zap"
)

const (
	defaultStreamPrefix = "botbridge"

	defaultMaxRetries   = 2
	defaultRetryBackoff = 300 * time.Millisecond
	minRetryBackoff     = 50 * time.Millisecond
	defaultAckTimeout   = 5 * time.Second

	defaultCommandsMaxLen   = 10000
	defaultResponsesMaxLen  = 10000
	defaultDeadLetterMaxLen = 10000
	defaultReplayLogMaxLen  = 10000

	defaultConsumerBlock   = 2 * time.Second
	defaultConsumerBatch   = 16
	defaultWaitSlice       = 500 * time.Millisecond
	defaultReclaimMinIdle  = time.Minute
	defaultReclaimInterval = 30 * time.Second
	defaultTrimInterval    = 5 * time.Minute
)

//
// Dispatcher Options
//

type DispatcherOption func(*Dispatcher)

func WithDispatcherLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithDispatcherMetrics(metrics MetricsCollector) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = metrics
	}
}

// WithMaxRetries sets how many retries follow the first attempt.
func WithMaxRetries(retries int) DispatcherOption {
	return func(d *Dispatcher) {
		if retries >= 0 {
			d.maxRetries = retries
		}
	}
}

// WithRetryBackoff sets the linear backoff unit, clamped to a 50ms floor.
func WithRetryBackoff(backoff time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if backoff < minRetryBackoff {
			backoff = minRetryBackoff
		}
		d.retryBackoff = backoff
	}
}

// WithAckTimeout sets the default per-attempt wait budget.
func WithAckTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.ackTimeout = timeout
		}
	}
}

func WithCommandsMaxLen(maxLen int64) DispatcherOption {
	return func(d *Dispatcher) {
		d.commandsMaxLen = maxLen
	}
}

//
// Consumer Options
//

type ConsumerOption func(*Consumer)

func WithConsumerLogger(logger *zap.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// WithConsumerName overrides the generated unique consumer name.
func WithConsumerName(name string) ConsumerOption {
	return func(c *Consumer) {
		if name != "" {
			c.name = name
		}
	}
}

// WithConsumerBlock bounds each group read so the loop can observe shutdown.
func WithConsumerBlock(block time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if block > 0 {
			c.block = block
		}
	}
}

func WithConsumerBatchSize(size int64) ConsumerOption {
	return func(c *Consumer) {
		if size > 0 {
			c.batchSize = size
		}
	}
}

func WithResponsesMaxLen(maxLen int64) ConsumerOption {
	return func(c *Consumer) {
		c.responsesMaxLen = maxLen
	}
}

//
// DeadLetterStore Options
//

type DeadLetterStoreOption func(*DeadLetterStore)

func WithDeadLetterLogger(logger *zap.Logger) DeadLetterStoreOption {
	return func(s *DeadLetterStore) {
		s.logger = logger
	}
}

func WithDeadLetterMaxLen(maxLen int64) DeadLetterStoreOption {
	return func(s *DeadLetterStore) {
		s.maxLen = maxLen
	}
}

func WithReplayLogMaxLen(maxLen int64) DeadLetterStoreOption {
	return func(s *DeadLetterStore) {
		s.replayMaxLen = maxLen
	}
}

//
// Reclaimer Options
//

type ReclaimerOption func(*reclaimerOptions)

type reclaimerOptions struct {
	interval  time.Duration
	minIdle   time.Duration
	batchSize int64
}

func WithReclaimInterval(interval time.Duration) ReclaimerOption {
	return func(o *reclaimerOptions) {
		if interval > 0 {
			o.interval = interval
		}
	}
}

// WithReclaimMinIdle sets how long an entry must sit pending before it is
// taken over from its original consumer.
func WithReclaimMinIdle(minIdle time.Duration) ReclaimerOption {
	return func(o *reclaimerOptions) {
		if minIdle > 0 {
			o.minIdle = minIdle
		}
	}
}

func WithReclaimBatchSize(size int64) ReclaimerOption {
	return func(o *reclaimerOptions) {
		if size > 0 {
			o.batchSize = size
		}
	}
}

//
// Trimmer Options
//

type TrimmerOption func(*trimmerOptions)

type trimmerOptions struct {
	interval time.Duration
}

func WithTrimInterval(interval time.Duration) TrimmerOption {
	return func(o *trimmerOptions) {
		if interval > 0 {
			o.interval = interval
		}
	}
}
