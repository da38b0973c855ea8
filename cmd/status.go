package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/question-harvester/internal/crawler"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the checkpoint, stored record count and failure log",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

type recordCounter interface {
	Count(ctx context.Context) (int, error)
}

type recordLen interface {
	Len() int
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := envFrom(ctx)
	if err != nil {
		return err
	}
	st, err := openStores(ctx, e.cfg, e.logger, true)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer st.close(e.logger)

	last, err := st.checkpoint.Read(ctx)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	entries, err := st.failures.Entries(ctx)
	if err != nil {
		return fmt.Errorf("read failure log: %w", err)
	}
	records, err := countRecords(ctx, st.sink)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	summary := [][]string{
		{"sink", e.cfg.Sink.Type},
		{"records", records},
		{"checkpoint", checkpointLabel(last)},
		{"failed pages", strconv.Itoa(len(entries))},
	}
	if err := writeTable(out, []string{"FIELD", "VALUE"}, summary); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	if _, err := fmt.Fprintln(out); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, []string{strconv.Itoa(entry.Page), string(entry.Reason)})
	}
	return writeTable(out, []string{"PAGE", "REASON"}, rows)
}

func countRecords(ctx context.Context, sink crawler.Sink) (string, error) {
	switch s := sink.(type) {
	case recordCounter:
		n, err := s.Count(ctx)
		if err != nil {
			return "", fmt.Errorf("count records: %w", err)
		}
		return strconv.Itoa(n), nil
	case recordLen:
		return strconv.Itoa(s.Len()), nil
	default:
		return "unknown", nil
	}
}

func checkpointLabel(page int) string {
	switch page {
	case 0:
		return "0 (never committed)"
	case 1:
		return "1 (all pages processed)"
	default:
		return strconv.Itoa(page)
	}
}
