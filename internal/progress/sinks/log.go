package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/bssid-geolocator/internal/progress"
)

// LogSink writes each event as a structured debug line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.Duration("dur", evt.Dur),
		}
		if evt.BSSID != "" {
			fields = append(fields,
				zap.String("bssid", evt.BSSID),
				zap.String("outcome", string(evt.Outcome)),
				zap.Int("neighbors", evt.Neighbors),
				zap.Int("inserted", evt.Inserted),
				zap.Int("updated", evt.Updated),
			)
		}
		if evt.Attempts > 0 {
			fields = append(fields, zap.Int("attempts", evt.Attempts))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
