package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/JakeFAU/question-harvester/internal/crawler"
)

// CheckpointStore keeps the last committed page in the harvest_checkpoints
// table, keyed so several listings can share one database.
type CheckpointStore struct {
	db  *sqlx.DB
	key string
	now func() time.Time
}

var _ crawler.CheckpointStore = (*CheckpointStore)(nil)

// NewCheckpointStore binds a store to key.
func NewCheckpointStore(db *sqlx.DB, key string) (*CheckpointStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if key == "" {
		return nil, errors.New("checkpoint key is required")
	}
	return &CheckpointStore{db: db, key: key, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Read returns 0 when no row exists for the key.
func (s *CheckpointStore) Read(ctx context.Context) (int, error) {
	var page int
	err := s.db.GetContext(ctx, &page, `SELECT page FROM harvest_checkpoints WHERE key = ?`, s.key)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read checkpoint %s: %w", s.key, err)
	}
	if page < 0 {
		return 0, fmt.Errorf("%w: key %s holds %d", crawler.ErrCorruptCheckpoint, s.key, page)
	}
	return page, nil
}

// Write upserts the page for the key.
func (s *CheckpointStore) Write(ctx context.Context, page int) error {
	if page < 1 {
		return fmt.Errorf("checkpoint page must be >= 1, got %d", page)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO harvest_checkpoints (key, page, updated_at)
VALUES (?, ?, ?)
ON CONFLICT (key) DO UPDATE SET page = excluded.page, updated_at = excluded.updated_at`,
		s.key, page, s.now().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("write checkpoint %s: %w", s.key, err)
	}
	return nil
}
