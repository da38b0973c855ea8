package sinks

import (
	"context"
	"errors"

	"github.com/JakeFAU/question-harvester/internal/metrics"
	"github.com/JakeFAU/question-harvester/internal/progress"
)

// PrometheusSink translates progress events into harvester metrics.
type PrometheusSink struct {
	metrics *metrics.Metrics
}

// NewPrometheusSink binds the sink to m.
func NewPrometheusSink(m *metrics.Metrics) (*PrometheusSink, error) {
	if m == nil {
		return nil, errors.New("metrics are required")
	}
	return &PrometheusSink{metrics: m}, nil
}

// Consume updates the collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		window := 0
		if evt.StartPage >= evt.EndPage && evt.EndPage > 0 {
			window = evt.StartPage - evt.EndPage + 1
		}
		s.metrics.SetWindow(window)
		s.metrics.SetCheckpoint(evt.Checkpoint)
	case progress.StagePageCommitted:
		s.metrics.ObservePage("committed", string(evt.StatusClass), evt.Bytes)
		s.metrics.ObserveRecords(evt.Inserted, evt.Duplicates, evt.Rejected, evt.InsertErrs)
		s.metrics.SetCheckpoint(evt.Checkpoint)
	case progress.StagePageFailed:
		s.metrics.ObservePage("failed", string(evt.StatusClass), evt.Bytes)
	case progress.StageRunDone:
		s.metrics.ObserveRun(evt.Outcome, evt.Dur)
	}
	if evt.Pacing > 0 {
		s.metrics.ObservePacing(evt.Pacing)
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
