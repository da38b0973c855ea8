package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/question-harvester/internal/crawler"
)

func newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Print the window the next run would process",
		Long: `Fetches the listing metadata and reads the checkpoint, then prints the
page window without fetching any page or touching the failure log.`,
		Args: cobra.NoArgs,
		RunE: runPlan,
	}
}

func runPlan(cmd *cobra.Command, _ []string) error {
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

	plan, err := h.engine.Plan(ctx)
	done := errors.Is(err, crawler.ErrAllPagesProcessed)
	if err != nil && !done {
		return fmt.Errorf("plan: %w", err)
	}

	window := fmt.Sprintf("%d..%d", plan.Window.StartPage, plan.Window.EndPage)
	if done {
		window = "none (all pages processed)"
	}
	rows := [][]string{
		{"total items", strconv.Itoa(plan.Metadata.TotalItemCount)},
		{"page size", strconv.Itoa(plan.Metadata.PageSize)},
		{"total pages", strconv.Itoa(plan.TotalPages)},
		{"checkpoint", strconv.Itoa(plan.LastCommitted)},
		{"pages per run", strconv.Itoa(plan.PagesPerRun)},
		{"window", window},
	}
	if err := writeTable(cmd.OutOrStdout(), []string{"FIELD", "VALUE"}, rows); err != nil {
		return err
	}
	if done {
		e.logger.Info("All pages processed", zap.Int("checkpoint", plan.LastCommitted))
		return outcomeError(crawler.OutcomeAllPagesProcessed, nil)
	}
	return nil
}

func zapMode(mode string) zap.Field {
	return zap.String("mode", mode)
}
