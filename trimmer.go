package botbridge

import (
	"context"

	"go.uber.org/zap"

	"github.com/clanops/botbridge/stream"
)

// NewTrimmer returns a ticker worker that re-asserts the approximate length
// caps on the bridge's streams. Pushes already cap opportunistically; the
// trimmer keeps quiet streams bounded too.
func NewTrimmer(log stream.Log, streams Streams, caps map[string]int64, logger *zap.Logger, opts ...TrimmerOption) *TickerWorker {
	options := &trimmerOptions{interval: defaultTrimInterval}
	for _, opt := range opts {
		opt(options)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return NewTickerWorker("stream-trimmer", options.interval, logger, func(ctx context.Context) error {
		for _, name := range streams.All() {
			maxLen, ok := caps[name]
			if !ok || maxLen <= 0 {
				continue
			}
			removed, err := log.Trim(ctx, name, maxLen)
			if err != nil {
				logger.Error("Failed to trim stream", zap.String("stream", name), zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("Trimmed stream",
					zap.String("stream", name),
					zap.Int64("removed", removed))
			}
		}
		return nil
	})
}
