package cmd

import (
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Harvest the next window of pages",
		Long: `Fetches the listing metadata, resumes from the checkpoint and processes
at most run.pages_per_run pages, newest first. Exit code 0 means the window
completed, 3 that every page has already been processed, 4 that the run was
interrupted and 1 a fatal error.`,
		Args: cobra.NoArgs,
		RunE: runHarvest,
	}
}

func runHarvest(cmd *cobra.Command, _ []string) error {
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
	h.serveStatus(ctx)

	report, runErr := h.engine.Run(ctx)
	h.pushMetrics(ctx)
	logOutcome(e.logger, report, runErr)
	return outcomeError(report.Outcome, runErr)
}
