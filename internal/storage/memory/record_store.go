package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/question-harvester/internal/crawler"
)

// RecordStore is a map-backed crawler.Sink.
type RecordStore struct {
	mu   sync.RWMutex
	rows map[int64]crawler.Record
}

var _ crawler.Sink = (*RecordStore)(nil)

// NewRecordStore returns an empty store.
func NewRecordStore() *RecordStore {
	return &RecordStore{rows: make(map[int64]crawler.Record)}
}

// Exists reports whether id has been stored.
func (s *RecordStore) Exists(_ context.Context, id int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rows[id]
	return ok, nil
}

// Insert stores rec unless its id is already present.
func (s *RecordStore) Insert(_ context.Context, rec crawler.Record) error {
	if !rec.Valid() {
		return fmt.Errorf("%w: id=%d", crawler.ErrInvalidRecord, rec.ExternalID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[rec.ExternalID]; ok {
		return crawler.ErrDuplicate
	}
	s.rows[rec.ExternalID] = rec
	return nil
}

// All returns stored records ordered by id.
func (s *RecordStore) All() []crawler.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Record, 0, len(s.rows))
	for _, rec := range s.rows {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out
}

// Len returns the number of stored records.
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}
