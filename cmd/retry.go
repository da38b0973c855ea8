package cmd

import (
	"github.com/spf13/cobra"
)

func newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Reprocess the pages listed in the failure log",
		Long: `Reads the failure log, clears it and processes each listed page again,
newest first. Pages that still fail are written back. The checkpoint is not
changed.`,
		Args: cobra.NoArgs,
		RunE: runRetry,
	}
}

func runRetry(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := envFrom(ctx)
	if err != nil {
		return err
	}
	h, err := buildHarvester(ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer h.Close(ctx)

	report, runErr := h.engine.RetryFailed(ctx)
	h.pushMetrics(ctx)
	logOutcome(e.logger.With(zapMode("retry")), report, runErr)
	return outcomeError(report.Outcome, runErr)
}
