package console

import (
	"fmt"
	"strings"
)

// Align controls per-column padding in table output.
type Align int

const (
	AlignLeft Align = iota
	AlignRight
)

// formatTable renders rows as aligned columns separated by three spaces.
// rows[0] is the header.
func formatTable(aligns []Align, rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}

	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, val := range row {
			if len(val) > widths[i] {
				widths[i] = len(val)
			}
		}
	}

	out := make([]string, 0, len(rows))
	for _, row := range rows {
		cols := make([]string, 0, len(row))
		for i, val := range row {
			if aligns[i] == AlignRight {
				cols = append(cols, fmt.Sprintf("%*s", widths[i], val))
			} else {
				cols = append(cols, fmt.Sprintf("%-*s", widths[i], val))
			}
		}
		out = append(out, strings.Join(cols, "   "))
	}

	return strings.Join(out, "\n")
}
