package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/JakeFAU/question-harvester/internal/crawler"
)

// FileStore keeps the last committed page as a decimal integer in one file.
type FileStore struct {
	fs   afero.Fs
	path string
}

var _ crawler.CheckpointStore = (*FileStore)(nil)

// NewFileStore binds a store to path on fs. A nil fs means the OS filesystem.
func NewFileStore(fs afero.Fs, path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("checkpoint path is required")
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileStore{fs: fs, path: path}, nil
}

// Path returns the checkpoint file location.
func (s *FileStore) Path() string {
	return s.path
}

// Read returns 0 when no checkpoint exists yet. Content that is not a
// non-negative integer yields ErrCorruptCheckpoint.
func (s *FileStore) Read(_ context.Context) (int, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read checkpoint %s: %w", s.path, err)
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return 0, nil
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 0 {
		return 0, fmt.Errorf("%w: %s contains %q", crawler.ErrCorruptCheckpoint, s.path, raw)
	}
	return page, nil
}

// Write replaces the checkpoint atomically: the value is written to a sibling
// temp file, synced, then renamed over the old file.
func (s *FileStore) Write(_ context.Context, page int) error {
	if page < 1 {
		return fmt.Errorf("checkpoint page must be >= 1, got %d", page)
	}
	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp, err := afero.TempFile(s.fs, dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create checkpoint temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = s.fs.Remove(tmpName) }

	if _, err := tmp.WriteString(strconv.Itoa(page) + "\n"); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := s.fs.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}
