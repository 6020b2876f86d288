package discovery

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/theirongolddev/hegelpm/internal/model"
)

// SortRows orders successful report rows by col. Descending reverses the
// column order only; equal values always fall back to name ascending.
func SortRows(rows []model.ProjectRow, col model.SortColumn, descending bool) {
	slices.SortStableFunc(rows, func(a, b model.ProjectRow) int {
		c := compareColumn(a, b, col)
		if descending {
			c = -c
		}
		if c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
}

func compareColumn(a, b model.ProjectRow, col model.SortColumn) int {
	switch col {
	case model.SortPath:
		return strings.Compare(a.ProjectPath, b.ProjectPath)
	case model.SortSize:
		return cmp.Compare(a.MarkerSizeBytes, b.MarkerSizeBytes)
	case model.SortLastActivity:
		return lastActivity(a).Compare(lastActivity(b))
	case model.SortTokens:
		return cmp.Compare(summary(a).TotalTokens, summary(b).TotalTokens)
	case model.SortEvents:
		return cmp.Compare(summary(a).TotalEvents, summary(b).TotalEvents)
	case model.SortPhases:
		return cmp.Compare(summary(a).PhaseCount, summary(b).PhaseCount)
	case model.SortLoadTime:
		return cmp.Compare(loadTime(a), loadTime(b))
	default:
		return strings.Compare(a.Name, b.Name)
	}
}

func summary(r model.ProjectRow) model.MetricsSummary {
	if r.Summary == nil {
		return model.MetricsSummary{}
	}
	return *r.Summary
}

func loadTime(r model.ProjectRow) float64 {
	if r.LoadTimeMs == nil {
		return 0
	}
	return *r.LoadTimeMs
}

func lastActivity(r model.ProjectRow) time.Time {
	if r.LastActivity == nil {
		return time.Time{}
	}
	return *r.LastActivity
}
