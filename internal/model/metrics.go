package model

import "time"

// WorkflowStatus is the lifecycle state of one workflow run.
type WorkflowStatus string

const (
	WorkflowActive    WorkflowStatus = "active"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowAborted   WorkflowStatus = "aborted"
)

// MetricsSummary holds the additive counters for a project.
type MetricsSummary struct {
	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_tokens"`
	CacheReadTokens     int64 `json:"cache_read_tokens"`
	TotalTokens         int64 `json:"total_tokens"`

	TotalEvents           int `json:"total_events"`
	BashCommandCount      int `json:"bash_command_count"`
	FileModificationCount int `json:"file_modification_count"`
	GitCommitCount        int `json:"git_commit_count"`
	PhaseCount            int `json:"phase_count"`
}

// Add accumulates other into s.
func (s *MetricsSummary) Add(other MetricsSummary) {
	s.InputTokens += other.InputTokens
	s.OutputTokens += other.OutputTokens
	s.CacheCreationTokens += other.CacheCreationTokens
	s.CacheReadTokens += other.CacheReadTokens
	s.TotalTokens += other.TotalTokens
	s.TotalEvents += other.TotalEvents
	s.BashCommandCount += other.BashCommandCount
	s.FileModificationCount += other.FileModificationCount
	s.GitCommitCount += other.GitCommitCount
	s.PhaseCount += other.PhaseCount
}

// PhaseStatus tells whether a phase has been left yet.
type PhaseStatus string

const (
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseCompleted  PhaseStatus = "completed"
)

// PhaseMetrics is the activity attributed to one phase, or summed over a
// workflow. Hook events and API calls count toward the phase whose time
// span contains their timestamp.
type PhaseMetrics struct {
	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_tokens"`
	CacheReadTokens     int64 `json:"cache_read_tokens"`
	TotalTokens         int64 `json:"total_tokens"`

	EventCount            int `json:"event_count"`
	BashCommandCount      int `json:"bash_command_count"`
	FileModificationCount int `json:"file_modification_count"`
	GitCommitCount        int `json:"git_commit_count"`
}

// Add accumulates other into m.
func (m *PhaseMetrics) Add(other PhaseMetrics) {
	m.InputTokens += other.InputTokens
	m.OutputTokens += other.OutputTokens
	m.CacheCreationTokens += other.CacheCreationTokens
	m.CacheReadTokens += other.CacheReadTokens
	m.TotalTokens += other.TotalTokens
	m.EventCount += other.EventCount
	m.BashCommandCount += other.BashCommandCount
	m.FileModificationCount += other.FileModificationCount
	m.GitCommitCount += other.GitCommitCount
}

// WorkflowState mirrors the workflow_state object of state.json.
type WorkflowState struct {
	Mode        string   `json:"mode"`
	CurrentNode string   `json:"current_node"`
	History     []string `json:"history"`
	WorkflowID  string   `json:"workflow_id,omitempty"`
}

// PhaseSummary is one phase of a workflow, bounded by two transitions.
type PhaseSummary struct {
	Name         string       `json:"name"`
	Status       PhaseStatus  `json:"status"`
	StartedAt    time.Time    `json:"started_at"`
	EndedAt      *time.Time   `json:"ended_at,omitempty"`
	DurationSecs int64        `json:"duration_secs"`
	Metrics      PhaseMetrics `json:"metrics"`
}

// WorkflowSummary groups the phases that share a workflow id.
type WorkflowSummary struct {
	WorkflowID   string         `json:"workflow_id"`
	Mode         string         `json:"mode"`
	Status       WorkflowStatus `json:"status"`
	CurrentPhase string         `json:"current_phase"`
	Phases       []PhaseSummary `json:"phases"`
	TotalMetrics PhaseMetrics   `json:"total_metrics"`
}

// ProjectMetrics is the full, parse-time view of a project.
type ProjectMetrics struct {
	Summary      MetricsSummary    `json:"summary"`
	CurrentState *WorkflowState    `json:"current_workflow_state"`
	Workflows    []WorkflowSummary `json:"workflows"`

	// SkippedLines counts malformed hook lines that were ignored.
	SkippedLines int `json:"skipped_lines,omitempty"`
}
