package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/question-harvester/internal/crawler"
)

// CheckpointStore keeps the last committed page in harvest_checkpoints.
type CheckpointStore struct {
	pool Pool
	key  string
}

var _ crawler.CheckpointStore = (*CheckpointStore)(nil)

// NewCheckpointStore binds a store to key.
func NewCheckpointStore(pool Pool, key string) (*CheckpointStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if key == "" {
		return nil, fmt.Errorf("checkpoint key is required")
	}
	return &CheckpointStore{pool: pool, key: key}, nil
}

// Read returns 0 when the key has no row yet.
func (s *CheckpointStore) Read(ctx context.Context) (int, error) {
	var page int
	err := s.pool.QueryRow(ctx, `SELECT page FROM harvest_checkpoints WHERE key = $1`, s.key).Scan(&page)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read checkpoint %s: %w", s.key, err)
	}
	return page, nil
}

// Write upserts page for the key.
func (s *CheckpointStore) Write(ctx context.Context, page int) error {
	if page < 1 {
		return fmt.Errorf("checkpoint page must be >= 1, got %d", page)
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO harvest_checkpoints (key, page, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE
SET page = EXCLUDED.page, updated_at = EXCLUDED.updated_at`, s.key, page)
	if err != nil {
		return fmt.Errorf("write checkpoint %s: %w", s.key, err)
	}
	return nil
}
