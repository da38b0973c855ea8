package checkpoint

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/JakeFAU/question-harvester/internal/crawler"
)

// FailureLog records pages that failed during the current run, one
// "<page>\t<reason>" line each. Lines holding only a page number are read
// back with an unknown reason.
type FailureLog struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

var _ crawler.FailureLog = (*FailureLog)(nil)

// NewFailureLog binds a log to path on fs. A nil fs means the OS filesystem.
func NewFailureLog(fs afero.Fs, path string) (*FailureLog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("failure log path is required")
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FailureLog{fs: fs, path: path}, nil
}

// Path returns the log location.
func (l *FailureLog) Path() string {
	return l.path
}

// Reset truncates the log, creating it if needed.
func (l *FailureLog) Reset(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.fs.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return fmt.Errorf("create failure log dir: %w", err)
	}
	f, err := l.fs.OpenFile(l.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("truncate failure log: %w", err)
	}
	return f.Close()
}

// Append writes entry and syncs it to disk before returning.
func (l *FailureLog) Append(_ context.Context, entry crawler.FailureEntry) error {
	if entry.Page < 1 {
		return fmt.Errorf("failure log page must be >= 1, got %d", entry.Page)
	}
	reason := entry.Reason
	if reason == "" {
		reason = crawler.ReasonUnknown
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.fs.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return fmt.Errorf("create failure log dir: %w", err)
	}
	f, err := l.fs.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open failure log: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\t%s\n", entry.Page, reason); err != nil {
		_ = f.Close()
		return fmt.Errorf("append failure log: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync failure log: %w", err)
	}
	return f.Close()
}

// Replace swaps the log contents for entries through a temp file and rename,
// so readers see either the old or the new list.
func (l *FailureLog) Replace(_ context.Context, entries []crawler.FailureEntry) error {
	var buf strings.Builder
	for _, entry := range entries {
		if entry.Page < 1 {
			return fmt.Errorf("failure log page must be >= 1, got %d", entry.Page)
		}
		reason := entry.Reason
		if reason == "" {
			reason = crawler.ReasonUnknown
		}
		fmt.Fprintf(&buf, "%d\t%s\n", entry.Page, reason)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	dir := filepath.Dir(l.path)
	if err := l.fs.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create failure log dir: %w", err)
	}
	tmp, err := afero.TempFile(l.fs, dir, filepath.Base(l.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create failure log temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = l.fs.Remove(tmpName) }

	if _, err := tmp.WriteString(buf.String()); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write failure log: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync failure log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close failure log: %w", err)
	}
	if err := l.fs.Rename(tmpName, l.path); err != nil {
		cleanup()
		return fmt.Errorf("replace failure log: %w", err)
	}
	return nil
}

// Entries returns the log contents in append order. A missing log is empty.
func (l *FailureLog) Entries(_ context.Context) ([]crawler.FailureEntry, error) {
	l.mu.Lock()
	data, err := afero.ReadFile(l.fs, l.path)
	l.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read failure log: %w", err)
	}
	var entries []crawler.FailureEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		pageField, reasonField, _ := strings.Cut(line, "\t")
		page, err := strconv.Atoi(strings.TrimSpace(pageField))
		if err != nil || page < 1 {
			return nil, fmt.Errorf("failure log %s line %d: invalid page %q", l.path, lineNo, pageField)
		}
		entries = append(entries, crawler.FailureEntry{
			Page:   page,
			Reason: crawler.ParseFailureReason(strings.TrimSpace(reasonField)),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan failure log: %w", err)
	}
	return entries, nil
}
