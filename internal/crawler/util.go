package crawler

import (
	"fmt"
	"path"
	"strings"
	"sync/atomic"
	"time"
)

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

var runSeq atomic.Uint64

// sequenceIDs is the fallback run id source when no generator is wired.
type sequenceIDs struct{}

func (sequenceIDs) NewID() (string, error) {
	return fmt.Sprintf("run-%d-%d", time.Now().UTC().Unix(), runSeq.Add(1)), nil
}

// joinPath builds a slash separated object key, skipping empty segments.
func joinPath(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return path.Join(cleaned...)
}
