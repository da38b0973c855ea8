package crawler

import "fmt"

// TotalPages returns ceil(totalItems / pageSize). Exact multiples do not
// produce a trailing empty page.
func TotalPages(totalItems, pageSize int) int {
	if totalItems <= 0 || pageSize <= 0 {
		return 0
	}
	return (totalItems + pageSize - 1) / pageSize
}

// ComputeWindow turns the persisted checkpoint and the per-run budget into the
// pages to walk this invocation. Processing always moves from newer (higher)
// pages to older ones, so a checkpoint of 1 means the whole listing is done.
func ComputeWindow(totalPages, lastCommitted, pagesPerRun int) (PageWindow, error) {
	if pagesPerRun < 1 {
		return PageWindow{}, fmt.Errorf("%w: pages per run must be >= 1, got %d", ErrInvalidPlan, pagesPerRun)
	}
	if totalPages < 0 || lastCommitted < 0 {
		return PageWindow{}, fmt.Errorf("%w: total=%d checkpoint=%d", ErrInvalidPlan, totalPages, lastCommitted)
	}
	if lastCommitted == 1 {
		return PageWindow{}, ErrAllPagesProcessed
	}

	start := totalPages
	if lastCommitted > 1 {
		start = lastCommitted - 1
		// The listing may have shrunk since the checkpoint was written.
		if start > totalPages {
			start = totalPages
		}
	}
	if start < 1 {
		return PageWindow{}, ErrAllPagesProcessed
	}

	end := start - pagesPerRun + 1
	if end < 1 {
		end = 1
	}
	return PageWindow{StartPage: start, EndPage: end}, nil
}
