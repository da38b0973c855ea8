// Package file stores harvested records in an append-only CSV file.
package file

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/question-harvester/internal/crawler"
)

var header = []string{"external_id", "title", "source_page", "published_at", "view_count"}

// ErrReadOnly is returned by Insert on a store opened with OpenReadOnly.
var ErrReadOnly = errors.New("sink file opened read-only")

// RecordStore appends one CSV row per record and keeps an in-memory index of
// stored ids, rebuilt from the file when opened.
type RecordStore struct {
	fs       afero.Fs
	path     string
	logger   *zap.Logger
	readOnly bool

	mu    sync.Mutex
	index map[int64]struct{}
}

var _ crawler.Sink = (*RecordStore)(nil)

// Open loads the id index from path, creating the file with a header row if
// it does not exist. A row left incomplete by an interrupted write is cut
// off the end of the file. A nil fs means the OS filesystem.
func Open(fs afero.Fs, path string, logger *zap.Logger) (*RecordStore, error) {
	return open(fs, path, logger, false)
}

// OpenReadOnly loads the id index without creating or repairing the file.
// A missing file is an empty store.
func OpenReadOnly(fs afero.Fs, path string) (*RecordStore, error) {
	return open(fs, path, nil, true)
}

func open(fs afero.Fs, path string, logger *zap.Logger, readOnly bool) (*RecordStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sink file path is required")
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &RecordStore{
		fs:       fs,
		path:     path,
		logger:   logger,
		readOnly: readOnly,
		index:    make(map[int64]struct{}),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RecordStore) load() error {
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		if s.readOnly {
			return nil
		}
		return s.writeHeader()
	}
	if err != nil {
		return fmt.Errorf("read sink file: %w", err)
	}

	complete, sawHeader, err := s.scan(data)
	if err != nil {
		return err
	}
	if s.readOnly {
		return nil
	}
	if complete < len(data) {
		s.logger.Warn("Dropping incomplete trailing row from sink file",
			zap.String("path", s.path),
			zap.Int("offset", complete),
			zap.Int("bytes", len(data)-complete),
		)
		if err := s.truncate(int64(complete)); err != nil {
			return err
		}
	}
	if !sawHeader && len(s.index) == 0 {
		return s.writeHeader()
	}
	return nil
}

// scan indexes every complete row of data and returns the offset just past
// the last one. Only the final row may be incomplete: it lacks the trailing
// newline or stops inside a quoted field. Anything else that fails to parse
// is corruption.
func (s *RecordStore) scan(data []byte) (int, bool, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	complete := 0
	sawHeader := false
	for row := 1; ; row++ {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return len(data), sawHeader, nil
		}
		if err != nil {
			if incompleteTail(data[complete:]) {
				return complete, sawHeader, nil
			}
			return 0, false, fmt.Errorf("parse sink file %s: %w", s.path, err)
		}
		end := int(reader.InputOffset())
		if end == len(data) && data[end-1] != '\n' {
			return complete, sawHeader, nil
		}
		complete = end
		if row == 1 && len(fields) > 0 && fields[0] == header[0] {
			sawHeader = true
			continue
		}
		id, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("parse sink file %s row %d: bad id %q", s.path, row, fields[0])
		}
		s.index[id] = struct{}{}
	}
}

// incompleteTail reports whether rest can only be a row cut short by a
// crash: every written row ends in a newline with its quotes balanced.
func incompleteTail(rest []byte) bool {
	if len(rest) == 0 {
		return false
	}
	return rest[len(rest)-1] != '\n' || bytes.Count(rest, []byte{'"'})%2 == 1
}

func (s *RecordStore) truncate(size int64) error {
	f, err := s.fs.OpenFile(s.path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open sink file for repair: %w", err)
	}
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return fmt.Errorf("truncate sink file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync sink file: %w", err)
	}
	return f.Close()
}

func (s *RecordStore) writeHeader() error {
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create sink dir: %w", err)
	}
	return s.appendRow(header)
}

// Exists reports whether id is already in the file.
func (s *RecordStore) Exists(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[id]
	return ok, nil
}

// Insert appends rec unless its id is already stored.
func (s *RecordStore) Insert(_ context.Context, rec crawler.Record) error {
	if s.readOnly {
		return ErrReadOnly
	}
	if !rec.Valid() {
		return fmt.Errorf("%w: id=%d", crawler.ErrInvalidRecord, rec.ExternalID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[rec.ExternalID]; ok {
		return crawler.ErrDuplicate
	}
	row := []string{
		strconv.FormatInt(rec.ExternalID, 10),
		rec.Title,
		strconv.Itoa(rec.SourcePage),
		rec.PublishedAt.UTC().Format(time.RFC3339),
		strconv.FormatInt(rec.ViewCount, 10),
	}
	if err := s.appendRow(row); err != nil {
		return err
	}
	s.index[rec.ExternalID] = struct{}{}
	return nil
}

// Len returns the number of stored ids.
func (s *RecordStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

func (s *RecordStore) appendRow(row []string) error {
	f, err := s.fs.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open sink file: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(row); err != nil {
		_ = f.Close()
		return fmt.Errorf("write sink row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush sink row: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync sink file: %w", err)
	}
	return f.Close()
}
