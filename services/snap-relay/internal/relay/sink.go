package relay

import (
	"context"
	"log/slog"
)

// Failure is what the consumer reports to the error sink. Record fields are empty for
// round-level failures (poll, commit).
type Failure struct {
	Err         error
	Topic       string
	Partition   int
	Offset      int64
	Key         string
	Operation   string
	EventID     string
	BatchSize   int
	Traceparent string
}

// ErrorSink receives every failure the consumer hits. It must not block the worker for long.
type ErrorSink interface {
	LogError(ctx context.Context, f Failure)
}

// LogSink writes failures to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) LogError(ctx context.Context, f Failure) {
	if s.Logger == nil {
		return
	}
	s.Logger.ErrorContext(ctx, "relay failure",
		"err", f.Err,
		"topic", f.Topic,
		"partition", f.Partition,
		"offset", f.Offset,
		"key", f.Key,
		"operation", f.Operation,
		"event_id", f.EventID,
		"batch_size", f.BatchSize,
	)
}

// Sinks fans a failure out to several sinks in order.
type Sinks []ErrorSink

func (s Sinks) LogError(ctx context.Context, f Failure) {
	for _, sink := range s {
		if sink != nil {
			sink.LogError(ctx, f)
		}
	}
}
