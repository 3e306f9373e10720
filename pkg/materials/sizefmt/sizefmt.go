// Package sizefmt formats byte counts for display.
package sizefmt

import (
	"math"
	"strconv"
)

var units = []string{"B", "KB", "MB", "GB"}

// HumanReadable renders n with the largest 1024-based unit whose scaled value
// is at least 1, rounded to one decimal. Whole values drop the decimal point:
// 1024 is "1 KB", 1536 is "1.5 KB" and 0 is "0 B".
func HumanReadable(n int64) string {
	if n < 0 {
		if n == math.MinInt64 {
			return "-" + HumanReadable(math.MaxInt64)
		}
		return "-" + HumanReadable(-n)
	}

	value := float64(n)
	unit := 0
	for value >= 1024 && unit < len(units)-1 {
		value /= 1024
		unit++
	}

	rounded := math.Round(value*10) / 10
	if rounded == math.Trunc(rounded) {
		return strconv.FormatFloat(rounded, 'f', 0, 64) + " " + units[unit]
	}
	return strconv.FormatFloat(rounded, 'f', 1, 64) + " " + units[unit]
}
