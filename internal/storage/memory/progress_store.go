package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/question-harvester/internal/crawler"
)

// CheckpointStore holds the last committed page in memory.
type CheckpointStore struct {
	mu   sync.Mutex
	page int
}

var _ crawler.CheckpointStore = (*CheckpointStore)(nil)

// NewCheckpointStore starts at page, where 0 means no progress.
func NewCheckpointStore(page int) *CheckpointStore {
	return &CheckpointStore{page: page}
}

// Read returns the last committed page.
func (s *CheckpointStore) Read(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page, nil
}

// Write records page as committed.
func (s *CheckpointStore) Write(_ context.Context, page int) error {
	if page < 1 {
		return fmt.Errorf("checkpoint page must be >= 1, got %d", page)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page = page
	return nil
}

// FailureLog keeps failure entries in memory.
type FailureLog struct {
	mu      sync.Mutex
	entries []crawler.FailureEntry
}

var _ crawler.FailureLog = (*FailureLog)(nil)

// NewFailureLog returns an empty log.
func NewFailureLog() *FailureLog {
	return &FailureLog{}
}

// Reset clears the log.
func (l *FailureLog) Reset(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	return nil
}

// Append adds entry to the log.
func (l *FailureLog) Append(_ context.Context, entry crawler.FailureEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

// Entries returns a copy of the log.
func (l *FailureLog) Entries(context.Context) ([]crawler.FailureEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]crawler.FailureEntry(nil), l.entries...), nil
}

// Replace swaps the log contents for entries.
func (l *FailureLog) Replace(_ context.Context, entries []crawler.FailureEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append([]crawler.FailureEntry(nil), entries...)
	return nil
}
