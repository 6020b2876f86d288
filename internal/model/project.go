// Package model defines domain types for hegelpm projects, metrics and reports.
package model

import "time"

// ProjectIndexEntry is the cheap, scan-time view of a discovered project.
// Building one requires a single directory listing of the marker directory.
type ProjectIndexEntry struct {
	Name            string     `json:"name"`
	ProjectPath     string     `json:"project_path"`
	MarkerDir       string     `json:"marker_dir"`
	MarkerSizeBytes int64      `json:"marker_size_bytes"`
	LastActivity    *time.Time `json:"last_activity,omitempty"`
	HasState        bool       `json:"has_state"`
}

// ProjectList is the payload served for a list request.
type ProjectList struct {
	Projects   []ProjectIndexEntry `json:"projects"`
	TotalCount int                 `json:"total_count"`
}

// ProjectDetail is the payload served for a single project.
type ProjectDetail struct {
	Project ProjectIndexEntry `json:"project"`
	Metrics ProjectMetrics    `json:"metrics"`
}

// LastActivityOrZero returns the last activity time, or the zero time when unknown.
func (p ProjectIndexEntry) LastActivityOrZero() time.Time {
	if p.LastActivity == nil {
		return time.Time{}
	}
	return *p.LastActivity
}
