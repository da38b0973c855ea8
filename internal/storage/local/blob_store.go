// Package local archives page bodies on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Config selects the archive root.
type Config struct {
	BaseDir string `mapstructure:"dir"`
}

// BlobStore writes archived pages below a base directory.
type BlobStore struct {
	fs   afero.Fs
	root string
}

// New prepares cfg.BaseDir, creating it when missing, and fails early if
// nothing can be written there. A nil fs means the OS filesystem.
func New(fs afero.Fs, cfg Config) (*BlobStore, error) {
	root := strings.TrimSpace(cfg.BaseDir)
	if root == "" {
		return nil, fmt.Errorf("archive directory is required")
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	root = filepath.Clean(root)

	info, err := fs.Stat(root)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := fs.MkdirAll(root, 0o750); err != nil {
			return nil, fmt.Errorf("create archive directory: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat archive directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("archive path %s is not a directory", root)
	}

	probe, err := afero.TempFile(fs, root, ".probe-*")
	if err != nil {
		return nil, fmt.Errorf("archive directory not writable: %w", err)
	}
	name := probe.Name()
	_ = probe.Close()
	if err := fs.Remove(name); err != nil {
		return nil, fmt.Errorf("remove write probe: %w", err)
	}
	return &BlobStore{fs: fs, root: root}, nil
}

// PutObject streams data to root/path and returns a file:// URI. Paths that
// resolve outside the root are rejected.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	target, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if err := s.fs.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return "", fmt.Errorf("create archive subdirectory: %w", err)
	}
	f, err := s.fs.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", target, err)
	}
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write %s: %w", target, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", target, err)
	}
	return "file://" + target, nil
}

func (s *BlobStore) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("object path is required")
	}
	target := filepath.Join(s.root, path)
	if !strings.HasPrefix(target, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("object path %q escapes the archive directory", path)
	}
	return target, nil
}
