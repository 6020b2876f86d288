package model

import (
	"fmt"
	"strings"
)

// SortColumn names a column of the all-projects report.
type SortColumn string

const (
	SortName         SortColumn = "name"
	SortPath         SortColumn = "path"
	SortSize         SortColumn = "size"
	SortLastActivity SortColumn = "last-activity"
	SortTokens       SortColumn = "tokens"
	SortEvents       SortColumn = "events"
	SortPhases       SortColumn = "phases"
	SortLoadTime     SortColumn = "load-time"
)

// DefaultSortColumn is used when no column is requested.
const DefaultSortColumn = SortLastActivity

var baseSortColumns = []SortColumn{
	SortName, SortPath, SortSize, SortLastActivity, SortTokens, SortEvents, SortPhases,
}

// SortColumns returns the columns accepted in the given mode.
func SortColumns(benchmark bool) []SortColumn {
	cols := make([]SortColumn, len(baseSortColumns), len(baseSortColumns)+1)
	copy(cols, baseSortColumns)
	if benchmark {
		cols = append(cols, SortLoadTime)
	}
	return cols
}

// ParseSortColumn validates s. An empty string selects DefaultSortColumn.
// load-time is only accepted in benchmark mode.
func ParseSortColumn(s string, benchmark bool) (SortColumn, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultSortColumn, nil
	}
	col := SortColumn(s)
	if col == SortLoadTime && !benchmark {
		return "", fmt.Errorf("sort column %q is only available in benchmark mode", s)
	}
	for _, c := range SortColumns(benchmark) {
		if c == col {
			return col, nil
		}
	}

	names := make([]string, 0, len(baseSortColumns)+1)
	for _, c := range SortColumns(benchmark) {
		names = append(names, string(c))
	}
	return "", fmt.Errorf("invalid sort column %q (valid columns: %s)", s, strings.Join(names, ", "))
}
