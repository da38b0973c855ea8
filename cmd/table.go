package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
)

// writeTable renders rows as aligned columns. Widths are measured in
// terminal cells so titles with wide runes line up.
func writeTable(w io.Writer, headers []string, rows [][]string) error {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i := range headers {
			if i < len(row) {
				widths[i] = max(widths[i], runewidth.StringWidth(row[i]))
			}
		}
	}

	line := func(cells []string) error {
		var b strings.Builder
		for i := range headers {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			if i == len(headers)-1 {
				b.WriteString(cell)
				break
			}
			b.WriteString(runewidth.FillRight(cell, widths[i]))
			b.WriteString("  ")
		}
		_, err := fmt.Fprintln(w, strings.TrimRight(b.String(), " "))
		return err
	}

	if err := line(headers); err != nil {
		return fmt.Errorf("write table: %w", err)
	}
	sep := make([]string, len(headers))
	for i, n := range widths {
		sep[i] = strings.Repeat("-", n)
	}
	if err := line(sep); err != nil {
		return fmt.Errorf("write table: %w", err)
	}
	for _, row := range rows {
		if err := line(row); err != nil {
			return fmt.Errorf("write table: %w", err)
		}
	}
	return nil
}
