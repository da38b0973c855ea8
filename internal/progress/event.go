package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart      Stage = "RUN_START"
	StagePageCommitted Stage = "PAGE_COMMITTED"
	StagePageFailed    Stage = "PAGE_FAILED"
	StageRunDone       Stage = "RUN_DONE"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single milestone of a harvest run.
type Event struct {
	// RunID identifies the invocation that emitted the event.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	Stage Stage
	// Page is the listing page for page-scoped stages.
	Page int
	// StartPage and EndPage describe the planned window on RUN_START.
	StartPage int
	EndPage   int
	// StatusClass groups the HTTP response code; empty for transport failures.
	StatusClass StatusClass
	Bytes       int64
	Inserted    int
	Duplicates  int
	Rejected    int
	InsertErrs  int
	// Reason carries the failure-log reason on PAGE_FAILED.
	Reason string
	// Checkpoint is the last committed page after the event.
	Checkpoint int
	// Dur is the fetch latency for page stages and the wall time on RUN_DONE.
	Dur time.Duration
	// Pacing is the jitter delay that preceded the fetch.
	Pacing time.Duration
	// Outcome is set on RUN_DONE.
	Outcome string
	Note    string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart:
	case StagePageCommitted:
		if e.Page < 1 {
			return errors.New("page committed requires page")
		}
	case StagePageFailed:
		if e.Page < 1 {
			return errors.New("page failed requires page")
		}
		if e.Reason == "" {
			return errors.New("page failed requires reason")
		}
	case StageRunDone:
		if e.Outcome == "" {
			return errors.New("run done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 || e.Pacing < 0 {
		return errors.New("durations must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
