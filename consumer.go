package botbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clanops/botbridge/stream"
)

// readErrorDelay paces the loop when the broker is unreachable.
const readErrorDelay = time.Second

// Consumer is the bot-side command loop. It reads the commands stream through
// a consumer group under a unique consumer name, dispatches each entry to its
// handler, publishes exactly one response keyed by the caller's request id,
// and only then acknowledges the entry.
//
// The ack ordering is deliberate: a crash between response push and ack means
// the entry is redelivered and the handler runs again. Delivery is
// at-least-once; handlers must tolerate that.
type Consumer struct {
	log      stream.Log
	streams  Streams
	registry *Registry
	logger   *zap.Logger

	name            string
	block           time.Duration
	batchSize       int64
	responsesMaxLen int64

	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopOnce sync.Once
	stopChan chan struct{}
	started  bool
}

// NewConsumer creates a consumer over the given log and handler registry. The
// consumer name defaults to hostname plus a random suffix so concurrent bot
// instances never collide inside the group.
func NewConsumer(log stream.Log, streams Streams, registry *Registry, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		log:             log,
		streams:         streams,
		registry:        registry,
		logger:          zap.NewNop(),
		name:            defaultConsumerName(),
		block:           defaultConsumerBlock,
		batchSize:       defaultConsumerBatch,
		responsesMaxLen: defaultResponsesMaxLen,
		stopChan:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the unique consumer name used within the group.
func (c *Consumer) Name() string {
	return c.name
}

// Start runs the consume loop until the context is cancelled or Stop is
// called. Starting an already-started consumer is a no-op.
func (c *Consumer) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		c.logger.Warn("Consumer already started", zap.String("consumer", c.name))
		return
	}
	c.started = true
	c.mu.Unlock()

	c.logger.Info("Consumer starting",
		zap.String("consumer", c.name),
		zap.String("stream", c.streams.Commands),
		zap.String("group", c.streams.Group))
	defer c.logger.Info("Consumer finished", zap.String("consumer", c.name))

	if err := c.log.CreateGroup(ctx, c.streams.Commands, c.streams.Group); err != nil {
		c.logger.Error("Failed to create consumer group", zap.Error(err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		default:
		}

		entries, err := c.log.ReadGroup(ctx, c.streams.Commands, c.streams.Group, c.name, c.batchSize, c.block)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("Failed to read commands stream", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-c.stopChan:
				return
			case <-time.After(readErrorDelay):
			}
			continue
		}

		// Delivered entries are processed to completion even if a stop races
		// in; an in-flight handler is never abandoned mid-command.
		for _, entry := range entries {
			c.processEntry(ctx, entry)
		}
	}
}

// Stop gracefully shuts the consumer down, waiting for the entry being
// processed to finish. Safe to call multiple times.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() {
		c.mu.RLock()
		defer c.mu.RUnlock()
		if !c.started {
			return
		}
		close(c.stopChan)
		c.wg.Wait()
	})
}

func (c *Consumer) processEntry(ctx context.Context, entry stream.Entry) {
	c.wg.Add(1)
	defer c.wg.Done()

	env, err := DecodeCommandEnvelope(entry.Fields)
	if err != nil {
		// Without a request id there is nothing to correlate a response to;
		// ack the entry so it does not wedge the group.
		c.logger.Error("Dropping undecodable command entry",
			zap.String("entry_id", entry.ID),
			zap.Error(err))
		c.ack(ctx, entry.ID)
		return
	}

	result, handlerErr := c.registry.Dispatch(ctx, env)

	resp := ResponseEnvelope{CommandID: env.RequestID}
	if handlerErr != nil {
		resp.OK = false
		resp.Type = ResponseTypeFailed
		resp.Error = handlerErr.Error()
		resp.FailedAt = time.Now()
		c.logger.Warn("Command failed",
			zap.String("command_type", env.Type),
			zap.String("command_id", env.RequestID),
			zap.Int64("actor_user_id", env.ActorUserID),
			zap.Error(handlerErr))
	} else {
		raw, err := json.Marshal(result)
		if err != nil {
			raw = nil
			c.logger.Error("Failed to marshal handler result",
				zap.String("command_type", env.Type),
				zap.Error(err))
		}
		resp.OK = true
		resp.Type = ResponseTypeAck
		resp.Result = raw
		resp.AppliedAt = time.Now()
		c.logger.Info("Command applied",
			zap.String("command_type", env.Type),
			zap.String("command_id", env.RequestID),
			zap.Int64("actor_user_id", env.ActorUserID))
	}

	if _, err := c.log.Push(ctx, c.streams.Responses, resp.Encode(), c.responsesMaxLen); err != nil {
		// Leave the entry pending: without a response on the wire the
		// dispatcher would dead-letter a command that may yet succeed on
		// redelivery.
		c.logger.Error("Failed to push response, leaving command pending",
			zap.String("command_id", env.RequestID),
			zap.Error(err))
		return
	}

	c.ack(ctx, entry.ID)
}

func (c *Consumer) ack(ctx context.Context, entryID string) {
	if err := c.log.Ack(ctx, c.streams.Commands, c.streams.Group, entryID); err != nil {
		c.logger.Error("Failed to ack command entry",
			zap.String("entry_id", entryID),
			zap.Error(err))
	}
}

func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "consumer"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
