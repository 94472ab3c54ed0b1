package botbridge

import (
	"context"

	"go.uber.org/zap"
)

// HealthReport is the ops-facing view of the bridge's broker state.
type HealthReport struct {
	Reachable bool `json:"reachable"`
	// Streams maps stream name to approximate entry count. Empty when the
	// broker is unreachable.
	Streams map[string]int64 `json:"streams,omitempty"`
}

// Health pings the broker and, when reachable, reports per-stream approximate
// lengths.
func (b *Bridge) Health(ctx context.Context) HealthReport {
	if err := b.log.Ping(ctx); err != nil {
		b.logger.Warn("health check: broker unreachable", zap.Error(err))
		return HealthReport{Reachable: false}
	}
	report := HealthReport{Reachable: true, Streams: make(map[string]int64, 4)}
	for _, name := range b.streams.All() {
		n, err := b.log.Len(ctx, name)
		if err != nil {
			b.logger.Warn("health check: failed to read stream length",
				zap.String("stream", name), zap.Error(err))
			continue
		}
		report.Streams[name] = n
	}
	return report
}
