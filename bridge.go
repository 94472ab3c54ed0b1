package botbridge

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clanops/botbridge/stream"
)

// Bridge holds the shared dependencies of the command bridge: the broker
// client, the log transport, stream names, logger and metrics. Both processes
// build one Bridge at startup and hand its components around; there is no
// hidden global state.
type Bridge struct {
	cfg     Config
	client  redis.UniversalClient
	log     stream.Log
	streams Streams
	logger  *zap.Logger
	metrics MetricsCollector

	deadLetters *DeadLetterStore
	dispatcher  *Dispatcher
	ownsClient  bool
}

type BridgeOption func(*Bridge)

func WithLogger(logger *zap.Logger) BridgeOption {
	return func(b *Bridge) {
		b.logger = logger
	}
}

func WithMetrics(metrics MetricsCollector) BridgeOption {
	return func(b *Bridge) {
		b.metrics = metrics
	}
}

// WithRedisClient substitutes an existing client instead of dialing from the
// config. The bridge will not close a substituted client.
func WithRedisClient(client redis.UniversalClient) BridgeOption {
	return func(b *Bridge) {
		b.client = client
		b.ownsClient = false
	}
}

// NewBridge wires the bridge from config. The redis connection is created
// lazily by go-redis; reachability is observable through Health.
func NewBridge(cfg Config, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		cfg:        cfg,
		logger:     zap.NewNop(),
		metrics:    NewNopMetricsCollector(),
		streams:    NewStreams(cfg.StreamPrefix),
		ownsClient: true,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.client == nil {
		b.client = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}
	b.log = stream.NewRedisLog(b.client)

	b.deadLetters = NewDeadLetterStore(b.log, b.streams,
		WithDeadLetterLogger(b.logger),
		WithDeadLetterMaxLen(cfg.DeadLetterMaxLen),
		WithReplayLogMaxLen(cfg.ReplayLogMaxLen),
	)
	b.dispatcher = NewDispatcher(b.log, b.streams, b.deadLetters,
		WithDispatcherLogger(b.logger),
		WithDispatcherMetrics(b.metrics),
		WithMaxRetries(cfg.MaxRetries),
		WithRetryBackoff(cfg.RetryBackoff()),
		WithAckTimeout(cfg.AckTimeout()),
		WithCommandsMaxLen(cfg.CommandsMaxLength),
	)
	return b
}

// Log exposes the underlying log transport.
func (b *Bridge) Log() stream.Log {
	return b.log
}

// Streams exposes the derived stream names.
func (b *Bridge) Streams() Streams {
	return b.streams
}

// Dispatcher returns the caller-side command dispatcher.
func (b *Bridge) Dispatcher() *Dispatcher {
	return b.dispatcher
}

// DeadLetters returns the dead-letter store.
func (b *Bridge) DeadLetters() *DeadLetterStore {
	return b.deadLetters
}

// Replayer returns a replayer over this bridge's store and dispatcher.
func (b *Bridge) Replayer() *Replayer {
	return NewReplayer(b.deadLetters, b.dispatcher, b.logger)
}

// NewConsumer builds the bot-side consumer for the given handler registry.
func (b *Bridge) NewConsumer(registry *Registry, opts ...ConsumerOption) *Consumer {
	base := []ConsumerOption{
		WithConsumerLogger(b.logger),
		WithResponsesMaxLen(b.cfg.ResponsesMaxLength),
	}
	return NewConsumer(b.log, b.streams, registry, append(base, opts...)...)
}

// Trimmer builds a stream trimmer worker using the configured caps.
func (b *Bridge) Trimmer(opts ...TrimmerOption) *TickerWorker {
	caps := map[string]int64{
		b.streams.Commands:   b.cfg.CommandsMaxLength,
		b.streams.Responses:  b.cfg.ResponsesMaxLength,
		b.streams.DeadLetter: b.cfg.DeadLetterMaxLen,
		b.streams.ReplayLog:  b.cfg.ReplayLogMaxLen,
	}
	return NewTrimmer(b.log, b.streams, caps, b.logger, opts...)
}

// Close releases the redis client if the bridge created it.
func (b *Bridge) Close() error {
	if !b.ownsClient {
		return nil
	}
	return b.client.Close()
}
