package botbridge

import (
	"context"

	"go.uber.org/zap"
)

// Reclaimer returns a ticker worker that takes over commands left pending by
// consumers that died before acknowledging, and runs them through this
// consumer's normal processing path. Reprocessing a command whose response was
// lost is the accepted at-least-once trade-off.
func (c *Consumer) Reclaimer(opts ...ReclaimerOption) *TickerWorker {
	options := &reclaimerOptions{
		interval:  defaultReclaimInterval,
		minIdle:   defaultReclaimMinIdle,
		batchSize: defaultConsumerBatch,
	}
	for _, opt := range opts {
		opt(options)
	}

	return NewTickerWorker("command-reclaimer", options.interval, c.logger, func(ctx context.Context) error {
		entries, err := c.log.AutoClaim(ctx, c.streams.Commands, c.streams.Group, c.name, options.minIdle, options.batchSize)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		c.logger.Info("Reclaimed pending commands",
			zap.String("consumer", c.name),
			zap.Int("count", len(entries)))
		for _, entry := range entries {
			c.processEntry(ctx, entry)
		}
		return nil
	})
}
