package model

import "time"

// RowError describes why a project could not be loaded during aggregation.
type RowError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ProjectRow is one line of the all-projects report. Exactly one of
// Summary and Error is set.
type ProjectRow struct {
	Name            string          `json:"name"`
	ProjectPath     string          `json:"project_path"`
	MarkerSizeBytes int64           `json:"marker_size_bytes"`
	LastActivity    *time.Time      `json:"last_activity,omitempty"`
	Summary         *MetricsSummary `json:"summary,omitempty"`
	LoadTimeMs      *float64        `json:"load_time_ms,omitempty"`
	Error           *RowError       `json:"error,omitempty"`
}

// Failed reports whether the row is an error marker.
func (r ProjectRow) Failed() bool {
	return r.Error != nil
}

// AllProjectsReport is the payload served for an aggregate request.
// Successful rows come first in the requested order, followed by error
// marker rows ordered by name. Totals cover successful rows only.
type AllProjectsReport struct {
	Projects      []ProjectRow   `json:"projects"`
	TotalProjects int            `json:"total_projects"`
	FailedCount   int            `json:"failed_count"`
	SortBy        SortColumn     `json:"sort_by"`
	Descending    bool           `json:"descending"`
	Benchmark     bool           `json:"benchmark"`
	Totals        MetricsSummary `json:"totals"`

	// TotalLoadTimeMs is the wall-clock time for the whole load phase.
	TotalLoadTimeMs *float64 `json:"total_load_time_ms,omitempty"`
}
