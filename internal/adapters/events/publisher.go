package events

import (
	"context"
	"log/slog"
)

// LoggingPublisher stands in for the broker when none is configured. Events
// are logged and treated as delivered.
type LoggingPublisher struct {
	logger *slog.Logger
}

func NewLoggingPublisher(logger *slog.Logger) *LoggingPublisher {
	return &LoggingPublisher{logger: logger}
}

func (p *LoggingPublisher) Publish(ctx context.Context, eventType, partitionKey string, payload []byte) error {
	p.logger.InfoContext(ctx, "event published to log sink",
		slog.String("event_type", eventType),
		slog.String("partition_key", partitionKey),
		slog.Int("payload_bytes", len(payload)),
	)
	return nil
}
