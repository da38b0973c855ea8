package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/question-harvester/internal/progress"
)

// LogSink writes each progress event as a debug log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageRunStart:
			fields = append(fields,
				zap.Int("start_page", evt.StartPage),
				zap.Int("end_page", evt.EndPage),
				zap.Int("checkpoint", evt.Checkpoint),
			)
		case progress.StagePageCommitted:
			fields = append(fields,
				zap.Int("page", evt.Page),
				zap.String("status_class", string(evt.StatusClass)),
				zap.Int64("bytes", evt.Bytes),
				zap.Int("inserted", evt.Inserted),
				zap.Int("duplicates", evt.Duplicates),
			)
		case progress.StagePageFailed:
			fields = append(fields, zap.Int("page", evt.Page), zap.String("reason", evt.Reason))
		case progress.StageRunDone:
			fields = append(fields,
				zap.String("outcome", evt.Outcome),
				zap.Int("checkpoint", evt.Checkpoint),
				zap.Duration("dur", evt.Dur),
			)
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
