package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/JakeFAU/question-harvester/internal/progress"
	memorypublisher "github.com/JakeFAU/question-harvester/internal/publisher/memory"
)

type fakeSource struct {
	total     int
	pageSize  int
	listErr   error
	statuses  map[int]int
	errs      map[int]error
	records   map[int][]Record
	fetched   []int
	beforeGet func(page int)
}

func (f *fakeSource) FetchListing(context.Context) (FetchResponse, error) {
	if f.listErr != nil {
		return FetchResponse{}, f.listErr
	}
	return FetchResponse{StatusCode: 200, Body: []byte(fmt.Sprintf("total=%d", f.total))}, nil
}

func (f *fakeSource) FetchPage(ctx context.Context, page int) (FetchResponse, error) {
	f.fetched = append(f.fetched, page)
	if f.beforeGet != nil {
		f.beforeGet(page)
	}
	if err := ctx.Err(); err != nil {
		return FetchResponse{}, err
	}
	if err, ok := f.errs[page]; ok {
		return FetchResponse{}, err
	}
	status := 200
	if s, ok := f.statuses[page]; ok {
		status = s
	}
	return FetchResponse{StatusCode: status, Body: []byte(fmt.Sprintf("page=%d", page))}, nil
}

func (f *fakeSource) PageSize() int { return f.pageSize }

// fakeExtractor reads records from the source fixture keyed by page.
type fakeExtractor struct {
	src *fakeSource
}

func (e fakeExtractor) Records(page int, _ []byte) []Record {
	return e.src.records[page]
}

func (e fakeExtractor) TotalCount(body []byte) (int, error) {
	var n int
	if _, err := fmt.Sscanf(string(body), "total=%d", &n); err != nil {
		return 0, err
	}
	return n, nil
}

type memSink struct {
	mu        sync.Mutex
	rows      map[int64]Record
	existsErr error
	insertErr error
}

func newMemSink() *memSink { return &memSink{rows: map[int64]Record{}} }

func (s *memSink) Exists(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.existsErr != nil {
		return false, s.existsErr
	}
	_, ok := s.rows[id]
	return ok, nil
}

func (s *memSink) Insert(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	if _, ok := s.rows[rec.ExternalID]; ok {
		return ErrDuplicate
	}
	s.rows[rec.ExternalID] = rec
	return nil
}

type memCheckpoint struct {
	page     int
	writes   []int
	readErr  error
	writeErr error
}

func (c *memCheckpoint) Read(context.Context) (int, error) { return c.page, c.readErr }

func (c *memCheckpoint) Write(_ context.Context, page int) error {
	if c.writeErr != nil {
		return c.writeErr
	}
	c.page = page
	c.writes = append(c.writes, page)
	return nil
}

type memFailures struct {
	entries   []FailureEntry
	resets    int
	replaces  int
	appendErr error
}

func (f *memFailures) Reset(context.Context) error {
	f.resets++
	f.entries = nil
	return nil
}

func (f *memFailures) Append(_ context.Context, entry FailureEntry) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *memFailures) Entries(context.Context) ([]FailureEntry, error) {
	return append([]FailureEntry(nil), f.entries...), nil
}

func (f *memFailures) Replace(_ context.Context, entries []FailureEntry) error {
	f.replaces++
	f.entries = append([]FailureEntry(nil), entries...)
	return nil
}

type recordingEmitter struct {
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) stages() []progress.Stage {
	out := make([]progress.Stage, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Stage)
	}
	return out
}

type memArchive struct {
	paths []string
}

func (a *memArchive) PutObject(_ context.Context, path, _ string, data io.Reader) (string, error) {
	if _, err := io.ReadAll(data); err != nil {
		return "", err
	}
	a.paths = append(a.paths, path)
	return "mem://" + path, nil
}

type fixedHasher struct{}

func (fixedHasher) Hash([]byte) (string, error) { return "abcdef0123456789", nil }

type fixedIDs struct{}

func (fixedIDs) NewID() (string, error) { return "run-test", nil }

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	args := m.Called(ctx, topic, payload)
	return args.String(0), args.Error(1)
}

func records(page int, ids ...int64) []Record {
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, Record{ExternalID: id, Title: fmt.Sprintf("question %d", id), SourcePage: page})
	}
	return out
}

type EngineSuite struct {
	suite.Suite

	source     *fakeSource
	sink       *memSink
	checkpoint *memCheckpoint
	failures   *memFailures
	emitter    *recordingEmitter
	cfg        EngineConfig
	deps       Deps
}

func (s *EngineSuite) SetupTest() {
	s.source = &fakeSource{
		total:    125,
		pageSize: 50,
		statuses: map[int]int{},
		errs:     map[int]error{},
		records: map[int][]Record{
			3: records(3, 301, 302),
			2: records(2, 201, 202),
			1: records(1, 101, 102, 103),
		},
	}
	s.sink = newMemSink()
	s.checkpoint = &memCheckpoint{}
	s.failures = &memFailures{}
	s.emitter = &recordingEmitter{}
	s.cfg = EngineConfig{PagesPerRun: 10}
	s.deps = Deps{
		Source:     s.source,
		Extractor:  fakeExtractor{src: s.source},
		Sink:       s.sink,
		Checkpoint: s.checkpoint,
		Failures:   s.failures,
		IDs:        fixedIDs{},
		Progress:   s.emitter,
	}
}

func (s *EngineSuite) engine() *Engine {
	e, err := NewEngine(s.cfg, s.deps, zap.NewNop())
	s.Require().NoError(err)
	return e
}

func (s *EngineSuite) TestRunSkipsFailedPageAndKeepsGoing() {
	s.cfg.PagesPerRun = 3
	s.source.statuses[2] = 503

	report, err := s.engine().Run(context.Background())
	s.Require().NoError(err)

	s.Equal(OutcomeCompleted, report.Outcome)
	s.Equal(PageWindow{StartPage: 3, EndPage: 1}, report.Plan.Window)
	s.Equal([]int{3, 2, 1}, s.source.fetched)
	s.Equal([]FailureEntry{{Page: 2, Reason: ReasonNonSuccessStatus}}, s.failures.entries)
	s.Equal([]int{3, 1}, s.checkpoint.writes)
	s.Equal(1, s.checkpoint.page)
	s.Equal(5, report.RecordsInserted)
	s.Equal(2, report.PagesCommitted)
	s.Equal(1, report.PagesFailed)
	s.Equal(1, report.FinalCheckpoint)
	s.Len(s.sink.rows, 5)
	s.Equal([]progress.Stage{
		progress.StageRunStart,
		progress.StagePageCommitted,
		progress.StagePageFailed,
		progress.StagePageCommitted,
		progress.StageRunDone,
	}, s.emitter.stages())
	for _, evt := range s.emitter.events {
		s.NoError(evt.Validate())
	}
}

func (s *EngineSuite) TestRunResumesBelowCheckpoint() {
	s.checkpoint.page = 3
	s.cfg.PagesPerRun = 1

	report, err := s.engine().Run(context.Background())
	s.Require().NoError(err)
	s.Equal([]int{2}, s.source.fetched)
	s.Equal(2, s.checkpoint.page)
	s.Equal(2, report.RecordsInserted)
}

func (s *EngineSuite) TestRunIsIdempotentForStoredRecords() {
	s.Require().NoError(s.sink.Insert(context.Background(), Record{ExternalID: 301, Title: "seen"}))

	report, err := s.engine().Run(context.Background())
	s.Require().NoError(err)
	s.Equal(1, report.RecordsDuplicate)
	s.Equal(6, report.RecordsInserted)
	s.Equal("seen", s.sink.rows[301].Title)

	// A rerun over the same pages must not add rows.
	s.checkpoint.page = 0
	report, err = s.engine().Run(context.Background())
	s.Require().NoError(err)
	s.Zero(report.RecordsInserted)
	s.Equal(7, report.RecordsDuplicate)
	s.Len(s.sink.rows, 7)
}

func (s *EngineSuite) TestRunAllPagesProcessedFetchesNothing() {
	s.checkpoint.page = 1

	report, err := s.engine().Run(context.Background())
	s.Require().NoError(err)
	s.Equal(OutcomeAllPagesProcessed, report.Outcome)
	s.Empty(s.source.fetched)
	s.Empty(s.checkpoint.writes)
	s.Equal(1, s.failures.resets)
}

func (s *EngineSuite) TestRunStartupFailure() {
	s.source.listErr = errors.New("dial tcp: connection refused")

	report, err := s.engine().Run(context.Background())
	s.Require().Error(err)
	s.True(IsStartup(err))
	s.Equal(OutcomeFailed, report.Outcome)
	s.Empty(s.source.fetched)
}

func (s *EngineSuite) TestRunCorruptCheckpointIsStartupFailure() {
	s.checkpoint.readErr = fmt.Errorf("%w: %q", ErrCorruptCheckpoint, "abc")

	_, err := s.engine().Run(context.Background())
	s.Require().Error(err)
	s.True(IsStartup(err))
	s.ErrorIs(err, ErrCorruptCheckpoint)
	s.Empty(s.source.fetched)
}

func (s *EngineSuite) TestRunTransportErrorIsRecorded() {
	s.source.errs[3] = errors.New("connection reset by peer")

	report, err := s.engine().Run(context.Background())
	s.Require().NoError(err)
	s.Equal([]FailureEntry{{Page: 3, Reason: ReasonTransportError}}, report.Failures)
	s.Equal([]int{2, 1}, s.checkpoint.writes)
}

func (s *EngineSuite) TestRunCheckpointWriteFailureAborts() {
	s.checkpoint.writeErr = errors.New("disk full")

	report, err := s.engine().Run(context.Background())
	s.Require().Error(err)
	s.False(IsStartup(err))
	s.Equal(OutcomeFailed, report.Outcome)
	s.Equal([]int{3}, s.source.fetched)
}

func (s *EngineSuite) TestRunFailureLogAppendErrorDoesNotStopRun() {
	s.failures.appendErr = errors.New("read-only file system")
	s.source.statuses[3] = 500

	report, err := s.engine().Run(context.Background())
	s.Require().NoError(err)
	s.Equal(OutcomeCompleted, report.Outcome)
	s.Equal([]int{2, 1}, s.checkpoint.writes)
}

func (s *EngineSuite) TestRunInterruptedStopsAtPageBoundary() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.source.beforeGet = func(page int) {
		if page == 2 {
			cancel()
		}
	}

	report, err := s.engine().Run(ctx)
	s.Require().NoError(err)
	s.Equal(OutcomeInterrupted, report.Outcome)
	s.Equal([]int{3}, s.checkpoint.writes)
	s.Empty(s.failures.entries)
	s.Equal(3, report.FinalCheckpoint)
}

func (s *EngineSuite) TestRunRejectsRecordsWithoutID() {
	s.source.records[3] = []Record{{ExternalID: 0, Title: "broken"}, {ExternalID: 300, Title: "fine"}}

	report, err := s.engine().Run(context.Background())
	s.Require().NoError(err)
	s.Equal(1, report.RecordsRejected)
	s.NotContains(s.sink.rows, int64(0))
}

func (s *EngineSuite) TestRunInsertErrorStillCommitsPage() {
	s.sink.insertErr = errors.New("database is locked")

	report, err := s.engine().Run(context.Background())
	s.Require().NoError(err)
	s.Equal(7, report.InsertErrors)
	s.Equal([]int{3, 2, 1}, s.checkpoint.writes)
}

func (s *EngineSuite) TestRunDedupLookupErrorFallsBackToInsert() {
	s.sink.existsErr = errors.New("timeout")

	report, err := s.engine().Run(context.Background())
	s.Require().NoError(err)
	s.Equal(7, report.RecordsInserted)
}

func (s *EngineSuite) TestEmptyPageCommitPolicyArchivesBody() {
	archive := &memArchive{}
	s.deps.Archive = archive
	s.deps.Hasher = fixedHasher{}
	s.cfg.ArchivePrefix = "suspicious"
	delete(s.source.records, 2)

	report, err := s.engine().Run(context.Background())
	s.Require().NoError(err)
	s.Equal([]int{3, 2, 1}, s.checkpoint.writes)
	s.Empty(report.Failures)
	s.Equal([]string{"suspicious/run-test/page-2-abcdef012345.html"}, archive.paths)
}

func (s *EngineSuite) TestEmptyPageFailPolicy() {
	s.cfg.EmptyPagePolicy = EmptyPageFail
	delete(s.source.records, 2)

	report, err := s.engine().Run(context.Background())
	s.Require().NoError(err)
	s.Equal([]int{3, 1}, s.checkpoint.writes)
	s.Equal([]FailureEntry{{Page: 2, Reason: ReasonEmptyExtraction}}, s.failures.entries)
	s.Equal(OutcomeCompleted, report.Outcome)
}

func (s *EngineSuite) TestRunResetsFailureLog() {
	s.failures.entries = []FailureEntry{{Page: 99, Reason: ReasonUnknown}}

	_, err := s.engine().Run(context.Background())
	s.Require().NoError(err)
	s.Empty(s.failures.entries)
}

func (s *EngineSuite) TestRunPublishesSummary() {
	pub := memorypublisher.New()
	s.deps.Publisher = pub
	s.cfg.NotifyTopic = "harvest-runs"

	report, err := s.engine().Run(context.Background())
	s.Require().NoError(err)
	msgs := pub.Messages()
	s.Require().Len(msgs, 1)
	s.Equal("harvest-runs", msgs[0].Topic)
	s.Equal(report.RunID, msgs[0].Payload.(Report).RunID)
	s.Equal(OutcomeCompleted, msgs[0].Payload.(Report).Outcome)
	s.Contains(string(msgs[0].Data), `"outcome":"completed"`)
}

func (s *EngineSuite) TestRunIgnoresPublishFailure() {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, "harvest-runs", mock.AnythingOfType("crawler.Report")).
		Return("", errors.New("topic gone")).Once()
	s.deps.Publisher = pub
	s.cfg.NotifyTopic = "harvest-runs"

	report, err := s.engine().Run(context.Background())
	s.Require().NoError(err)
	s.Equal(OutcomeCompleted, report.Outcome)
	pub.AssertExpectations(s.T())
}

func (s *EngineSuite) TestPlanDoesNotFetchPages() {
	s.checkpoint.page = 2

	plan, err := s.engine().Plan(context.Background())
	s.Require().NoError(err)
	s.Equal(3, plan.TotalPages)
	s.Equal(PageWindow{StartPage: 1, EndPage: 1}, plan.Window)
	s.Empty(s.source.fetched)
	s.Zero(s.failures.resets)
}

func (s *EngineSuite) TestRetryFailedLeavesCheckpointAlone() {
	s.checkpoint.page = 1
	s.failures.entries = []FailureEntry{
		{Page: 2, Reason: ReasonNonSuccessStatus},
		{Page: 3, Reason: ReasonTransportError},
		{Page: 2, Reason: ReasonNonSuccessStatus},
	}
	s.source.statuses[3] = 429

	report, err := s.engine().RetryFailed(context.Background())
	s.Require().NoError(err)
	s.Equal([]int{3, 2}, s.source.fetched)
	s.Empty(s.checkpoint.writes)
	s.Equal(1, s.checkpoint.page)
	s.Equal([]FailureEntry{{Page: 3, Reason: ReasonNonSuccessStatus}}, s.failures.entries)
	s.Equal(1, report.PagesCommitted)
	s.Equal(2, report.RecordsInserted)
}

func (s *EngineSuite) TestRetryFailedInterruptedKeepsPending() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pending := []FailureEntry{
		{Page: 3, Reason: ReasonTransportError},
		{Page: 2, Reason: ReasonNonSuccessStatus},
	}
	s.failures.entries = append([]FailureEntry(nil), pending...)
	s.source.beforeGet = func(int) { cancel() }

	report, err := s.engine().RetryFailed(ctx)
	s.Require().NoError(err)
	s.Equal(OutcomeInterrupted, report.Outcome)
	s.Equal(pending, s.failures.entries)
	s.Zero(s.failures.resets)
}

func (s *EngineSuite) TestRetryFailedLogListsUnretriedPagesMidRun() {
	s.failures.entries = []FailureEntry{
		{Page: 1, Reason: ReasonTransportError},
		{Page: 2, Reason: ReasonEmptyExtraction},
		{Page: 3, Reason: ReasonTransportError},
	}
	s.source.statuses[3] = 429
	var atPage1 []FailureEntry
	s.source.beforeGet = func(page int) {
		if page == 1 {
			atPage1 = append([]FailureEntry(nil), s.failures.entries...)
		}
	}

	_, err := s.engine().RetryFailed(context.Background())
	s.Require().NoError(err)
	s.Equal([]FailureEntry{
		{Page: 3, Reason: ReasonNonSuccessStatus},
		{Page: 1, Reason: ReasonTransportError},
	}, atPage1)
	s.Equal([]FailureEntry{{Page: 3, Reason: ReasonNonSuccessStatus}}, s.failures.entries)
	s.Zero(s.failures.resets)
}

func (s *EngineSuite) TestRetryFailedWithEmptyLog() {
	report, err := s.engine().RetryFailed(context.Background())
	s.Require().NoError(err)
	s.Equal(OutcomeCompleted, report.Outcome)
	s.Empty(s.source.fetched)
	s.Empty(s.failures.entries)
}

func (s *EngineSuite) TestNewEngineValidates() {
	_, err := NewEngine(EngineConfig{PagesPerRun: 0}, s.deps, nil)
	s.Error(err)

	_, err = NewEngine(EngineConfig{PagesPerRun: 1, EmptyPagePolicy: "skip"}, s.deps, nil)
	s.Error(err)

	deps := s.deps
	deps.Sink = nil
	_, err = NewEngine(EngineConfig{PagesPerRun: 1}, deps, nil)
	s.Error(err)
}

func (s *EngineSuite) TestRunStampsDurations() {
	s.deps.Clock = &steppingClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), step: time.Second}

	report, err := s.engine().Run(context.Background())
	s.Require().NoError(err)
	s.True(report.FinishedAt.After(report.StartedAt))
	last := s.emitter.events[len(s.emitter.events)-1]
	s.Equal(progress.StageRunDone, last.Stage)
	s.Positive(last.Dur)
}

type steppingClock struct {
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) TestRunRecordsSpans() {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	s.deps.Tracer = provider.Tracer("test")
	s.source.statuses[2] = 503

	_, err := s.engine().Run(context.Background())
	s.Require().NoError(err)

	byName := map[string][]sdktrace.ReadOnlySpan{}
	for _, span := range recorder.Ended() {
		byName[span.Name()] = append(byName[span.Name()], span)
	}
	s.Require().Len(byName["harvest.run"], 1)
	s.Require().Len(byName["harvest.page"], 3)

	run := byName["harvest.run"][0]
	failed := 0
	for _, page := range byName["harvest.page"] {
		s.Equal(run.SpanContext().SpanID(), page.Parent().SpanID())
		if page.Status().Code == codes.Error {
			failed++
			s.Equal(string(ReasonNonSuccessStatus), page.Status().Description)
		}
	}
	s.Equal(1, failed)
}
