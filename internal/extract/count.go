package extract

import (
	"strconv"
	"strings"
)

// ParseCount reads a human formatted count such as "1,234 views", "12k" or
// "1.5m". The first whitespace separated token is used.
func ParseCount(raw string) (int64, bool) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return 0, false
	}
	token := strings.ToLower(strings.ReplaceAll(fields[0], ",", ""))
	multiplier := 1.0
	switch {
	case strings.HasSuffix(token, "k"):
		multiplier = 1e3
		token = strings.TrimSuffix(token, "k")
	case strings.HasSuffix(token, "m"):
		multiplier = 1e6
		token = strings.TrimSuffix(token, "m")
	case strings.HasSuffix(token, "b"):
		multiplier = 1e9
		token = strings.TrimSuffix(token, "b")
	}
	if multiplier == 1 {
		n, err := strconv.ParseInt(token, 10, 64)
		if err != nil || n < 0 {
			return 0, false
		}
		return n, true
	}
	f, err := strconv.ParseFloat(token, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return int64(f * multiplier), true
}
