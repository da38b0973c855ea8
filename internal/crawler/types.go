// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// ListingMetadata describes the remote collection as observed at the start of a run.
type ListingMetadata struct {
	TotalItemCount int `json:"total_item_count"`
	PageSize       int `json:"page_size"`
}

// TotalPages returns the number of pages needed to cover the listing.
func (m ListingMetadata) TotalPages() int {
	return TotalPages(m.TotalItemCount, m.PageSize)
}

// PageWindow is the contiguous page range planned for one run. Pages are
// always walked from StartPage down to EndPage.
type PageWindow struct {
	StartPage int `json:"start_page"`
	EndPage   int `json:"end_page"`
}

// Len returns how many pages the window covers.
func (w PageWindow) Len() int {
	if w.StartPage < w.EndPage {
		return 0
	}
	return w.StartPage - w.EndPage + 1
}

// Pages lists the window newest page first.
func (w PageWindow) Pages() []int {
	out := make([]int, 0, w.Len())
	for p := w.StartPage; p >= w.EndPage && p >= 1; p-- {
		out = append(out, p)
	}
	return out
}

// Record is a single harvested question.
type Record struct {
	ExternalID  int64     `json:"external_id" db:"external_id"`
	Title       string    `json:"title" db:"title"`
	SourcePage  int       `json:"source_page" db:"source_page"`
	PublishedAt time.Time `json:"published_at" db:"published_at"`
	ViewCount   int64     `json:"view_count" db:"view_count"`
}

// Valid reports whether the record carries a usable key and title.
func (r Record) Valid() bool {
	return r.ExternalID != 0 && r.Title != ""
}

// FailureReason classifies why a page could not be processed.
type FailureReason string

// Failure reasons written to the failure log.
const (
	ReasonTransportError   FailureReason = "transport-error"
	ReasonNonSuccessStatus FailureReason = "non-success-status"
	ReasonEmptyExtraction  FailureReason = "empty-extraction"
	ReasonUnknown          FailureReason = "unknown"
)

// FailureEntry records one page left unprocessed in the current run.
type FailureEntry struct {
	Page   int           `json:"page"`
	Reason FailureReason `json:"reason"`
}

// EmptyPagePolicy decides what happens when a fetched page yields no records.
type EmptyPagePolicy string

// Supported empty page policies.
const (
	EmptyPageCommit EmptyPagePolicy = "commit"
	EmptyPageFail   EmptyPagePolicy = "fail"
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Success reports whether the response carries a 2xx status.
func (r FetchResponse) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Plan is the outcome of the startup phase of a run.
type Plan struct {
	Metadata      ListingMetadata `json:"metadata"`
	TotalPages    int             `json:"total_pages"`
	LastCommitted int             `json:"last_committed_page"`
	Window        PageWindow      `json:"window"`
	PagesPerRun   int             `json:"pages_per_run"`
}

// Outcome is the coarse result class of a run, surfaced to automation.
type Outcome string

// Run outcomes.
const (
	OutcomeCompleted         Outcome = "completed"
	OutcomeAllPagesProcessed Outcome = "all_pages_processed"
	OutcomeInterrupted       Outcome = "interrupted"
	OutcomeFailed            Outcome = "failed"
)

// PageResult tallies what happened to the records of one page.
type PageResult struct {
	Page       int
	StatusCode int
	Extracted  int
	Inserted   int
	Duplicates int
	Rejected   int
	Errors     int
	Bytes      int
}

// Report summarizes a run.
type Report struct {
	RunID            string         `json:"run_id"`
	Outcome          Outcome        `json:"outcome"`
	Plan             Plan           `json:"plan"`
	PagesAttempted   int            `json:"pages_attempted"`
	PagesCommitted   int            `json:"pages_committed"`
	PagesFailed      int            `json:"pages_failed"`
	RecordsInserted  int            `json:"records_inserted"`
	RecordsDuplicate int            `json:"records_duplicate"`
	RecordsRejected  int            `json:"records_rejected"`
	InsertErrors     int            `json:"insert_errors"`
	FinalCheckpoint  int            `json:"final_checkpoint"`
	Failures         []FailureEntry `json:"failures,omitempty"`
	StartedAt        time.Time      `json:"started_at"`
	FinishedAt       time.Time      `json:"finished_at"`
}

func (r *Report) addPage(res PageResult) {
	r.RecordsInserted += res.Inserted
	r.RecordsDuplicate += res.Duplicates
	r.RecordsRejected += res.Rejected
	r.InsertErrors += res.Errors
}

// ParseFailureReason maps a persisted reason back to its constant.
func ParseFailureReason(raw string) FailureReason {
	switch FailureReason(raw) {
	case ReasonTransportError, ReasonNonSuccessStatus, ReasonEmptyExtraction:
		return FailureReason(raw)
	default:
		return ReasonUnknown
	}
}
