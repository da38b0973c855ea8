package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrAllPagesProcessed signals that the listing has been walked down to page 1.
	ErrAllPagesProcessed = errors.New("all pages processed")
	// ErrInvalidPlan is returned when planner inputs are out of range.
	ErrInvalidPlan = errors.New("invalid page plan")
	// ErrDuplicate is returned by sinks when the external id already exists.
	ErrDuplicate = errors.New("record already exists")
	// ErrInvalidRecord is returned by sinks for records without a usable key or title.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrCorruptCheckpoint is returned when persisted progress cannot be parsed.
	ErrCorruptCheckpoint = errors.New("corrupt checkpoint")
)

// StartupError marks failures that prevent a run from establishing its window.
type StartupError struct {
	Step string
	Err  error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup %s: %v", e.Step, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

func startupErr(step string, err error) error {
	return &StartupError{Step: step, Err: err}
}

// IsStartup reports whether err happened before any page was attempted.
func IsStartup(err error) bool {
	var se *StartupError
	return errors.As(err, &se)
}
