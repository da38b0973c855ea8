package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/question-harvester/internal/crawler"
	"github.com/JakeFAU/question-harvester/internal/progress"
)

const progressTimeout = 3 * time.Second

// SnapshotSource exposes the live state of the current run.
type SnapshotSource interface {
	Snapshot() progress.Snapshot
}

// FailureReader lists the persisted failure log.
type FailureReader interface {
	Entries(ctx context.Context) ([]crawler.FailureEntry, error)
}

// ProgressHandler exposes read-only run progress endpoints.
type ProgressHandler struct {
	source   SnapshotSource
	failures FailureReader
	timeout  time.Duration
	logger   *zap.Logger
}

// NewProgressHandler wires the snapshot source, failure log and logger. The
// failure reader may be nil.
func NewProgressHandler(source SnapshotSource, failures FailureReader, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{
		source:   source,
		failures: failures,
		timeout:  progressTimeout,
		logger:   logger,
	}
}

// Snapshot handles GET /v1/progress. It returns {"progress": {...}}, or 503
// when no source is wired.
func (h *ProgressHandler) Snapshot(w http.ResponseWriter, _ *http.Request) {
	if h.source == nil {
		writeError(w, http.StatusServiceUnavailable, "progress unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"progress": h.source.Snapshot()})
}

// Failures handles GET /v1/progress/failures. It returns {"failures": [...]}
// read from the failure log, 503 when none is wired, or 500 on read errors.
func (h *ProgressHandler) Failures(w http.ResponseWriter, r *http.Request) {
	if h.failures == nil {
		writeError(w, http.StatusServiceUnavailable, "failure log unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	entries, err := h.failures.Entries(ctx)
	if err != nil {
		h.logger.Error("read failure log failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read failure log")
		return
	}
	if entries == nil {
		entries = []crawler.FailureEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"failures": entries})
}
