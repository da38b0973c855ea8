package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/JakeFAU/question-harvester/internal/crawler"
)

// RecordStore is a crawler.Sink over a SQLite table with a unique external_id.
type RecordStore struct {
	db    *sqlx.DB
	table string
}

var _ crawler.Sink = (*RecordStore)(nil)

type recordRow struct {
	ExternalID  int64  `db:"external_id"`
	Title       string `db:"title"`
	SourcePage  int    `db:"source_page"`
	PublishedAt string `db:"published_at"`
	ViewCount   int64  `db:"view_count"`
}

// NewRecordStore binds a store to table.
func NewRecordStore(db *sqlx.DB, table string) (*RecordStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if table == "" {
		table = "questions"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RecordStore{db: db, table: table}, nil
}

// Exists reports whether id is stored.
func (s *RecordStore) Exists(ctx context.Context, id int64) (bool, error) {
	var found bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE external_id = ?)`, s.table)
	if err := s.db.GetContext(ctx, &found, query, id); err != nil {
		return false, fmt.Errorf("lookup record %d: %w", id, err)
	}
	return found, nil
}

// Insert adds rec; a conflicting external_id yields crawler.ErrDuplicate.
func (s *RecordStore) Insert(ctx context.Context, rec crawler.Record) error {
	if !rec.Valid() {
		return fmt.Errorf("%w: id=%d", crawler.ErrInvalidRecord, rec.ExternalID)
	}
	query := fmt.Sprintf(`INSERT INTO %s (external_id, title, source_page, published_at, view_count)
VALUES (:external_id, :title, :source_page, :published_at, :view_count)
ON CONFLICT (external_id) DO NOTHING`, s.table)
	row := recordRow{
		ExternalID:  rec.ExternalID,
		Title:       rec.Title,
		SourcePage:  rec.SourcePage,
		PublishedAt: rec.PublishedAt.UTC().Format(time.RFC3339),
		ViewCount:   rec.ViewCount,
	}
	res, err := s.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return fmt.Errorf("insert record %d: %w", rec.ExternalID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert record %d: rows affected: %w", rec.ExternalID, err)
	}
	if affected == 0 {
		return crawler.ErrDuplicate
	}
	return nil
}

// Get loads a stored record by id.
func (s *RecordStore) Get(ctx context.Context, id int64) (crawler.Record, error) {
	var row recordRow
	query := fmt.Sprintf(`SELECT external_id, title, source_page, published_at, view_count FROM %s WHERE external_id = ?`, s.table)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		return crawler.Record{}, fmt.Errorf("get record %d: %w", id, err)
	}
	published, err := time.Parse(time.RFC3339, row.PublishedAt)
	if err != nil {
		return crawler.Record{}, fmt.Errorf("get record %d: published_at: %w", id, err)
	}
	return crawler.Record{
		ExternalID:  row.ExternalID,
		Title:       row.Title,
		SourcePage:  row.SourcePage,
		PublishedAt: published,
		ViewCount:   row.ViewCount,
	}, nil
}

// Count returns the number of stored records.
func (s *RecordStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}
