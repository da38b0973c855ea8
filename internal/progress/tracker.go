package progress

import (
	"context"
	"sync"
	"time"
)

// Snapshot is the externally visible state of the current run.
type Snapshot struct {
	RunID            string    `json:"run_id"`
	Running          bool      `json:"running"`
	StartPage        int       `json:"start_page"`
	EndPage          int       `json:"end_page"`
	CurrentPage      int       `json:"current_page"`
	Checkpoint       int       `json:"checkpoint"`
	PagesCommitted   int       `json:"pages_committed"`
	PagesFailed      int       `json:"pages_failed"`
	FailedPages      []int     `json:"failed_pages"`
	RecordsInserted  int       `json:"records_inserted"`
	RecordsDuplicate int       `json:"records_duplicate"`
	Outcome          string    `json:"outcome,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Tracker folds events into a Snapshot. It is a Sink and safe for concurrent readers.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Consume applies each event to the snapshot.
func (t *Tracker) Consume(_ context.Context, batch []Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, evt := range batch {
		t.apply(evt)
	}
	return nil
}

func (t *Tracker) apply(evt Event) {
	s := &t.snap
	s.UpdatedAt = evt.TS
	switch evt.Stage {
	case StageRunStart:
		*s = Snapshot{
			RunID:      evt.RunID,
			Running:    true,
			StartPage:  evt.StartPage,
			EndPage:    evt.EndPage,
			Checkpoint: evt.Checkpoint,
			StartedAt:  evt.TS,
			UpdatedAt:  evt.TS,
		}
	case StagePageCommitted:
		s.CurrentPage = evt.Page
		s.Checkpoint = evt.Checkpoint
		s.PagesCommitted++
		s.RecordsInserted += evt.Inserted
		s.RecordsDuplicate += evt.Duplicates
	case StagePageFailed:
		s.CurrentPage = evt.Page
		s.PagesFailed++
		s.FailedPages = append(s.FailedPages, evt.Page)
	case StageRunDone:
		if s.RunID != evt.RunID {
			*s = Snapshot{RunID: evt.RunID, StartedAt: evt.TS, UpdatedAt: evt.TS}
		}
		s.Running = false
		s.Outcome = evt.Outcome
		s.Checkpoint = evt.Checkpoint
	}
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := t.snap
	out.FailedPages = append([]int(nil), t.snap.FailedPages...)
	return out
}

// Close implements Sink.
func (t *Tracker) Close(context.Context) error {
	return nil
}
