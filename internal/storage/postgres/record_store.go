package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/question-harvester/internal/crawler"
)

// RecordStore writes records into a table with a unique external_id.
type RecordStore struct {
	pool  Pool
	table string
}

var _ crawler.Sink = (*RecordStore)(nil)

// NewRecordStore constructs a store over pool.
func NewRecordStore(pool Pool, table string) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "questions"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RecordStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Exists reports whether id is stored.
func (s *RecordStore) Exists(ctx context.Context, id int64) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE external_id = $1)`, s.table)
	var found bool
	if err := s.pool.QueryRow(ctx, query, id).Scan(&found); err != nil {
		return false, fmt.Errorf("lookup record %d: %w", id, err)
	}
	return found, nil
}

// Insert adds rec; a conflicting external_id yields crawler.ErrDuplicate.
func (s *RecordStore) Insert(ctx context.Context, rec crawler.Record) error {
	if !rec.Valid() {
		return fmt.Errorf("%w: id=%d", crawler.ErrInvalidRecord, rec.ExternalID)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	external_id,
	title,
	source_page,
	published_at,
	view_count
) VALUES (
	$1,$2,$3,$4,$5
)
ON CONFLICT (external_id) DO NOTHING`, s.table)

	tag, err := s.pool.Exec(ctx, query,
		rec.ExternalID,
		rec.Title,
		rec.SourcePage,
		rec.PublishedAt.UTC(),
		rec.ViewCount,
	)
	if err != nil {
		return fmt.Errorf("insert record %d: %w", rec.ExternalID, err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrDuplicate
	}
	return nil
}

// Count returns the number of stored records.
func (s *RecordStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}
