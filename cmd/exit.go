package cmd

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/question-harvester/internal/crawler"
)

// Process exit codes surfaced to schedulers.
const (
	ExitCompleted         = 0
	ExitFatal             = 1
	ExitAllPagesProcessed = 3
	ExitInterrupted       = 4
)

// exitError carries a non-zero exit code for outcomes that are not failures.
type exitError struct {
	code    int
	outcome crawler.Outcome
}

func (e *exitError) Error() string {
	return fmt.Sprintf("run outcome %s", e.outcome)
}

// outcomeError maps a finished run onto the error returned from RunE.
func outcomeError(outcome crawler.Outcome, runErr error) error {
	if runErr != nil {
		return runErr
	}
	switch outcome {
	case crawler.OutcomeCompleted:
		return nil
	case crawler.OutcomeAllPagesProcessed:
		return &exitError{code: ExitAllPagesProcessed, outcome: outcome}
	case crawler.OutcomeInterrupted:
		return &exitError{code: ExitInterrupted, outcome: outcome}
	default:
		return &exitError{code: ExitFatal, outcome: outcome}
	}
}

// exitCode converts the command error into the process exit status.
func exitCode(err error) int {
	if err == nil {
		return ExitCompleted
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitFatal
}

// logOutcome writes the single structured line automation keys on.
func logOutcome(logger *zap.Logger, report crawler.Report, err error) {
	fields := []zap.Field{
		zap.String("run_id", report.RunID),
		zap.String("outcome", string(report.Outcome)),
		zap.Int("exit_code", exitCode(outcomeError(report.Outcome, err))),
		zap.Int("pages_attempted", report.PagesAttempted),
		zap.Int("pages_committed", report.PagesCommitted),
		zap.Int("pages_failed", report.PagesFailed),
		zap.Int("records_inserted", report.RecordsInserted),
		zap.Int("records_duplicate", report.RecordsDuplicate),
		zap.Int("final_checkpoint", report.FinalCheckpoint),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	}
	if err != nil {
		logger.Error("run outcome", append(fields, zap.Error(err))...)
		return
	}
	logger.Info("run outcome", fields...)
}
