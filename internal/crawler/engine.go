package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/question-harvester/internal/progress"
)

const tracerName = "github.com/JakeFAU/question-harvester/internal/crawler"

// EngineConfig carries the run knobs that are not collaborators.
type EngineConfig struct {
	PagesPerRun     int
	EmptyPagePolicy EmptyPagePolicy
	// ArchiveAll stores every fetched page body, not only pages that yielded no records.
	ArchiveAll    bool
	ArchivePrefix string
	NotifyTopic   string
}

// Deps groups the collaborators the engine drives.
type Deps struct {
	Source     PageSource
	Extractor  Extractor
	Sink       Sink
	Checkpoint CheckpointStore
	Failures   FailureLog
	Pacer      Pacer
	Clock      Clock
	IDs        IDGenerator

	// Optional collaborators.
	Archive   BlobStore
	Hasher    Hasher
	Publisher Publisher
	Progress  progress.Emitter
	// Tracer defaults to the global provider's tracer.
	Tracer trace.Tracer
}

// Engine walks the planned page window one page at a time. Pages are processed
// strictly sequentially and the checkpoint only moves after every record of a
// page has been attempted.
type Engine struct {
	cfg    EngineConfig
	deps   Deps
	logger *zap.Logger
	tracer trace.Tracer
}

// NewEngine validates deps and builds an Engine.
func NewEngine(cfg EngineConfig, deps Deps, logger *zap.Logger) (*Engine, error) {
	switch {
	case deps.Source == nil:
		return nil, errors.New("page source is required")
	case deps.Extractor == nil:
		return nil, errors.New("extractor is required")
	case deps.Sink == nil:
		return nil, errors.New("sink is required")
	case deps.Checkpoint == nil:
		return nil, errors.New("checkpoint store is required")
	case deps.Failures == nil:
		return nil, errors.New("failure log is required")
	}
	if cfg.PagesPerRun < 1 {
		return nil, fmt.Errorf("pages per run must be >= 1, got %d", cfg.PagesPerRun)
	}
	if cfg.EmptyPagePolicy == "" {
		cfg.EmptyPagePolicy = EmptyPageCommit
	}
	if cfg.EmptyPagePolicy != EmptyPageCommit && cfg.EmptyPagePolicy != EmptyPageFail {
		return nil, fmt.Errorf("unknown empty page policy %q", cfg.EmptyPagePolicy)
	}
	if deps.Pacer == nil {
		deps.Pacer = NoopPacer{}
	}
	if deps.Clock == nil {
		deps.Clock = systemClock{}
	}
	if deps.IDs == nil {
		deps.IDs = sequenceIDs{}
	}
	if deps.Progress == nil {
		deps.Progress = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Engine{cfg: cfg, deps: deps, logger: logger, tracer: tracer}, nil
}

// Plan fetches listing metadata, reads the checkpoint and computes this run's
// window. It performs no page fetches and does not touch the failure log.
// ErrAllPagesProcessed is returned unwrapped together with the partial plan.
func (e *Engine) Plan(ctx context.Context) (Plan, error) {
	plan := Plan{PagesPerRun: e.cfg.PagesPerRun}

	resp, err := e.deps.Source.FetchListing(ctx)
	if err != nil {
		return plan, startupErr("fetch listing", err)
	}
	if !resp.Success() {
		return plan, startupErr("fetch listing", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	total, err := e.deps.Extractor.TotalCount(resp.Body)
	if err != nil {
		return plan, startupErr("parse listing metadata", err)
	}
	plan.Metadata = ListingMetadata{TotalItemCount: total, PageSize: e.deps.Source.PageSize()}
	plan.TotalPages = plan.Metadata.TotalPages()

	last, err := e.deps.Checkpoint.Read(ctx)
	if err != nil {
		return plan, startupErr("read checkpoint", err)
	}
	plan.LastCommitted = last

	window, err := ComputeWindow(plan.TotalPages, last, e.cfg.PagesPerRun)
	if errors.Is(err, ErrAllPagesProcessed) {
		return plan, ErrAllPagesProcessed
	}
	if err != nil {
		return plan, startupErr("compute window", err)
	}
	plan.Window = window
	return plan, nil
}

// Run executes one harvest invocation. Per-page and per-record failures are
// absorbed into the Report; the returned error is non-nil only for startup
// failures or when progress can no longer be recorded.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	report := e.newReport()
	logger := e.logger.With(zap.String("run_id", report.RunID))
	ctx, span := e.tracer.Start(ctx, "harvest.run", trace.WithAttributes(attribute.String("run_id", report.RunID)))
	defer span.End()

	if err := e.deps.Failures.Reset(ctx); err != nil {
		return e.finish(ctx, logger, report, OutcomeFailed), startupErr("reset failure log", err)
	}

	plan, err := e.Plan(ctx)
	report.Plan = plan
	report.FinalCheckpoint = plan.LastCommitted
	if errors.Is(err, ErrAllPagesProcessed) {
		logger.Info("All pages processed; nothing to do",
			zap.Int("total_pages", plan.TotalPages),
			zap.Int("checkpoint", plan.LastCommitted),
		)
		return e.finish(ctx, logger, report, OutcomeAllPagesProcessed), nil
	}
	if err != nil {
		return e.finish(ctx, logger, report, OutcomeFailed), err
	}

	logger.Info("Harvest window planned",
		zap.Int("total_items", plan.Metadata.TotalItemCount),
		zap.Int("total_pages", plan.TotalPages),
		zap.Int("checkpoint", plan.LastCommitted),
		zap.Int("start_page", plan.Window.StartPage),
		zap.Int("end_page", plan.Window.EndPage),
	)
	e.deps.Progress.Emit(progress.Event{
		RunID:      report.RunID,
		TS:         e.deps.Clock.Now(),
		Stage:      progress.StageRunStart,
		StartPage:  plan.Window.StartPage,
		EndPage:    plan.Window.EndPage,
		Checkpoint: plan.LastCommitted,
	})

	for _, page := range plan.Window.Pages() {
		if ctx.Err() != nil {
			return e.finish(ctx, logger, report, OutcomeInterrupted), nil
		}
		res, failure, interrupted := e.processPage(ctx, logger, report.RunID, page)
		if interrupted {
			return e.finish(ctx, logger, report, OutcomeInterrupted), nil
		}
		report.PagesAttempted++
		report.addPage(res)
		if failure != nil {
			report.PagesFailed++
			report.Failures = append(report.Failures, *failure)
			e.recordFailure(ctx, logger, report.RunID, *failure, res)
			continue
		}

		// Steps after a successful fetch must not be cut short by cancellation,
		// otherwise a partially persisted page could be marked committed.
		if err := e.deps.Checkpoint.Write(context.WithoutCancel(ctx), page); err != nil {
			logger.Error("Failed to write checkpoint; aborting run", zap.Int("page", page), zap.Error(err))
			return e.finish(ctx, logger, report, OutcomeFailed), fmt.Errorf("write checkpoint for page %d: %w", page, err)
		}
		report.PagesCommitted++
		report.FinalCheckpoint = page
		logger.Info("Page committed",
			zap.Int("page", page),
			zap.Int("extracted", res.Extracted),
			zap.Int("inserted", res.Inserted),
			zap.Int("duplicates", res.Duplicates),
			zap.Int("rejected", res.Rejected),
			zap.Int("insert_errors", res.Errors),
		)
		e.deps.Progress.Emit(progress.Event{
			RunID:       report.RunID,
			TS:          e.deps.Clock.Now(),
			Stage:       progress.StagePageCommitted,
			Page:        page,
			StatusClass: progress.ClassifyStatus(res.StatusCode),
			Bytes:       int64(res.Bytes),
			Inserted:    res.Inserted,
			Duplicates:  res.Duplicates,
			Rejected:    res.Rejected,
			InsertErrs:  res.Errors,
			Checkpoint:  page,
		})
	}

	return e.finish(ctx, logger, report, OutcomeCompleted), nil
}

// RetryFailed reprocesses the pages listed in the failure log without moving
// the checkpoint. After each page the log is rewritten to hold the pages that
// failed again plus the ones not yet retried, so a crash loses nothing.
func (e *Engine) RetryFailed(ctx context.Context) (Report, error) {
	report := e.newReport()
	logger := e.logger.With(zap.String("run_id", report.RunID), zap.String("mode", "retry"))
	ctx, span := e.tracer.Start(ctx, "harvest.retry", trace.WithAttributes(attribute.String("run_id", report.RunID)))
	defer span.End()

	entries, err := e.deps.Failures.Entries(ctx)
	if err != nil {
		return report, startupErr("read failure log", err)
	}
	last, err := e.deps.Checkpoint.Read(ctx)
	if err != nil {
		return report, startupErr("read checkpoint", err)
	}
	report.Plan.LastCommitted = last
	report.FinalCheckpoint = last

	pending := pendingFailures(entries)
	pages := make([]int, len(pending))
	for i, entry := range pending {
		pages[i] = entry.Page
	}
	logger.Info("Retrying failed pages", zap.Ints("pages", pages))

	var stillFailed []FailureEntry
	for i, page := range pages {
		if ctx.Err() != nil {
			return e.finish(ctx, logger, report, OutcomeInterrupted), nil
		}
		res, failure, interrupted := e.processPage(ctx, logger, report.RunID, page)
		if interrupted {
			return e.finish(ctx, logger, report, OutcomeInterrupted), nil
		}
		report.PagesAttempted++
		report.addPage(res)
		if failure != nil {
			report.PagesFailed++
			report.Failures = append(report.Failures, *failure)
			stillFailed = append(stillFailed, *failure)
			e.emitFailure(report.RunID, *failure, res)
		} else {
			report.PagesCommitted++
			logger.Info("Failed page recovered", zap.Int("page", page), zap.Int("inserted", res.Inserted))
		}
		remaining := append(append([]FailureEntry(nil), stillFailed...), pending[i+1:]...)
		if err := e.deps.Failures.Replace(context.WithoutCancel(ctx), remaining); err != nil {
			logger.Error("Failed to rewrite failure log", zap.Int("page", page), zap.Error(err))
		}
	}
	if len(pages) == 0 {
		if err := e.deps.Failures.Replace(ctx, nil); err != nil {
			logger.Error("Failed to rewrite failure log", zap.Error(err))
		}
	}
	return e.finish(ctx, logger, report, OutcomeCompleted), nil
}

// processPage runs pace, fetch, classify, extract and persist for one page.
// It returns a non-nil failure when the page must not be committed, and
// interrupted when ctx ended before the page body was obtained.
func (e *Engine) processPage(
	ctx context.Context,
	logger *zap.Logger,
	runID string,
	page int,
) (PageResult, *FailureEntry, bool) {
	ctx, span := e.tracer.Start(ctx, "harvest.page", trace.WithAttributes(attribute.Int("page", page)))
	defer span.End()

	res, failure, interrupted := e.handlePage(ctx, logger, runID, page)
	span.SetAttributes(
		attribute.Int("http.status_code", res.StatusCode),
		attribute.Int("records.extracted", res.Extracted),
		attribute.Int("records.inserted", res.Inserted),
	)
	switch {
	case interrupted:
		span.SetStatus(codes.Error, "interrupted")
	case failure != nil:
		span.SetStatus(codes.Error, string(failure.Reason))
	}
	return res, failure, interrupted
}

func (e *Engine) handlePage(
	ctx context.Context,
	logger *zap.Logger,
	runID string,
	page int,
) (PageResult, *FailureEntry, bool) {
	res := PageResult{Page: page}
	pageLogger := logger.With(zap.Int("page", page))

	delay, err := e.deps.Pacer.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return res, nil, true
		}
		pageLogger.Warn("Pacing wait failed", zap.Error(err))
	}
	pageLogger.Debug("Fetching page", zap.Duration("pacing", delay))

	resp, err := e.deps.Source.FetchPage(ctx, page)
	if err != nil {
		if ctx.Err() != nil {
			return res, nil, true
		}
		pageLogger.Warn("Page fetch failed", zap.Error(err))
		return res, &FailureEntry{Page: page, Reason: ReasonTransportError}, false
	}
	res.StatusCode = resp.StatusCode
	res.Bytes = len(resp.Body)
	if !resp.Success() {
		pageLogger.Warn("Page returned non-success status", zap.Int("status_code", resp.StatusCode))
		return res, &FailureEntry{Page: page, Reason: ReasonNonSuccessStatus}, false
	}

	persistCtx := context.WithoutCancel(ctx)
	records := e.deps.Extractor.Records(page, resp.Body)
	res.Extracted = len(records)
	if len(records) == 0 || e.cfg.ArchiveAll {
		e.archive(persistCtx, pageLogger, runID, page, resp.Body)
	}
	if len(records) == 0 {
		if e.cfg.EmptyPagePolicy == EmptyPageFail {
			pageLogger.Warn("Page yielded no records; leaving checkpoint untouched")
			return res, &FailureEntry{Page: page, Reason: ReasonEmptyExtraction}, false
		}
		pageLogger.Warn("Page yielded no records; committing as empty")
		return res, nil, false
	}

	for _, rec := range records {
		e.persist(persistCtx, pageLogger, rec, &res)
	}
	return res, nil, false
}

func (e *Engine) persist(ctx context.Context, logger *zap.Logger, rec Record, res *PageResult) {
	if !rec.Valid() {
		res.Rejected++
		logger.Warn("Rejecting record without usable id", zap.String("title", rec.Title), zap.Int64("external_id", rec.ExternalID))
		return
	}
	exists, err := e.deps.Sink.Exists(ctx, rec.ExternalID)
	if err != nil {
		// The sink's uniqueness constraint still guards the insert below.
		logger.Warn("Dedup lookup failed; attempting insert", zap.Int64("external_id", rec.ExternalID), zap.Error(err))
	}
	if exists {
		res.Duplicates++
		return
	}
	err = e.deps.Sink.Insert(ctx, rec)
	switch {
	case err == nil:
		res.Inserted++
	case errors.Is(err, ErrDuplicate):
		res.Duplicates++
	case errors.Is(err, ErrInvalidRecord):
		res.Rejected++
		logger.Warn("Sink rejected record", zap.Int64("external_id", rec.ExternalID), zap.Error(err))
	default:
		res.Errors++
		logger.Error("Failed to insert record", zap.Int64("external_id", rec.ExternalID), zap.Error(err))
	}
}

func (e *Engine) archive(ctx context.Context, logger *zap.Logger, runID string, page int, body []byte) {
	if e.deps.Archive == nil {
		return
	}
	name := fmt.Sprintf("page-%d.html", page)
	if e.deps.Hasher != nil {
		if digest, err := e.deps.Hasher.Hash(body); err == nil && len(digest) >= 12 {
			name = fmt.Sprintf("page-%d-%s.html", page, digest[:12])
		}
	}
	path := joinPath(e.cfg.ArchivePrefix, runID, name)
	uri, err := e.deps.Archive.PutObject(ctx, path, "text/html; charset=utf-8", bytes.NewReader(body))
	if err != nil {
		logger.Warn("Failed to archive page body", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Info("Archived page body", zap.String("uri", uri))
}

func (e *Engine) recordFailure(ctx context.Context, logger *zap.Logger, runID string, entry FailureEntry, res PageResult) {
	if err := e.deps.Failures.Append(context.WithoutCancel(ctx), entry); err != nil {
		logger.Error("Failed to append to failure log", zap.Int("page", entry.Page), zap.Error(err))
	}
	e.emitFailure(runID, entry, res)
}

func (e *Engine) emitFailure(runID string, entry FailureEntry, res PageResult) {
	evt := progress.Event{
		RunID:  runID,
		TS:     e.deps.Clock.Now(),
		Stage:  progress.StagePageFailed,
		Page:   entry.Page,
		Reason: string(entry.Reason),
		Bytes:  int64(res.Bytes),
	}
	if res.StatusCode > 0 {
		evt.StatusClass = progress.ClassifyStatus(res.StatusCode)
	}
	e.deps.Progress.Emit(evt)
}

func (e *Engine) newReport() Report {
	runID, err := e.deps.IDs.NewID()
	if err != nil || runID == "" {
		runID = fmt.Sprintf("run-%d", e.deps.Clock.Now().UnixNano())
	}
	return Report{RunID: runID, StartedAt: e.deps.Clock.Now()}
}

func (e *Engine) finish(ctx context.Context, logger *zap.Logger, report Report, outcome Outcome) Report {
	report.Outcome = outcome
	report.FinishedAt = e.deps.Clock.Now()
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("outcome", string(outcome)),
		attribute.Int("pages_committed", report.PagesCommitted),
		attribute.Int("checkpoint", report.FinalCheckpoint),
	)
	if outcome == OutcomeFailed {
		span.SetStatus(codes.Error, "run failed")
	}
	logger.Info("Harvest summary",
		zap.String("outcome", string(outcome)),
		zap.Int("pages_attempted", report.PagesAttempted),
		zap.Int("pages_committed", report.PagesCommitted),
		zap.Int("pages_failed", report.PagesFailed),
		zap.Int("records_inserted", report.RecordsInserted),
		zap.Int("records_duplicate", report.RecordsDuplicate),
		zap.Int("records_rejected", report.RecordsRejected),
		zap.Int("insert_errors", report.InsertErrors),
		zap.Int("checkpoint", report.FinalCheckpoint),
	)
	e.deps.Progress.Emit(progress.Event{
		RunID:      report.RunID,
		TS:         report.FinishedAt,
		Stage:      progress.StageRunDone,
		Checkpoint: report.FinalCheckpoint,
		Dur:        nonNegative(report.FinishedAt.Sub(report.StartedAt)),
		Outcome:    string(outcome),
	})
	e.notify(context.WithoutCancel(ctx), logger, report)
	return report
}

func (e *Engine) notify(ctx context.Context, logger *zap.Logger, report Report) {
	if e.deps.Publisher == nil || e.cfg.NotifyTopic == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	id, err := e.deps.Publisher.Publish(ctx, e.cfg.NotifyTopic, report)
	if err != nil {
		logger.Warn("Failed to publish run summary", zap.Error(err))
		return
	}
	logger.Debug("Published run summary", zap.String("message_id", id))
}

// pendingFailures keeps the first entry per page, highest page first.
func pendingFailures(entries []FailureEntry) []FailureEntry {
	seen := make(map[int]struct{}, len(entries))
	pending := make([]FailureEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Page < 1 {
			continue
		}
		if _, ok := seen[entry.Page]; ok {
			continue
		}
		seen[entry.Page] = struct{}{}
		pending = append(pending, entry)
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].Page > pending[j].Page })
	return pending
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
