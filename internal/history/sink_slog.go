package history

import (
	"context"
	"log/slog"
)

// SlogSink writes flow summaries to the structured log. It is the default
// sink for single-node deployments without a broker.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink constructs a log-backed sink.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Deliver(ctx context.Context, entry *Entry) error {
	s.logger.InfoContext(ctx, "history entry",
		slog.String("entry_key", entry.Key.String()),
		slog.String("type", string(entry.Type)),
		slog.String("resource_id", entry.ParentResource.String()),
		slog.String("client_id", entry.ClientID.String()),
		slog.String("server_trid", entry.Trid.ServerTrid),
		slog.Time("modification_time", entry.ModificationTime),
	)
	return nil
}
