package source

import "encoding/json"

// Well-known files inside a marker directory.
const (
	StateFile       = "state.json"
	TransitionsFile = "states.jsonl"
	HooksFile       = "hooks.jsonl"
)

// DefaultMarker is the directory name that turns its parent into a project.
const DefaultMarker = ".hegel"

// rawStateFile is the on-disk shape of state.json.
type rawStateFile struct {
	WorkflowState *rawWorkflowState `json:"workflow_state"`
}

type rawWorkflowState struct {
	Mode        string   `json:"mode"`
	CurrentNode string   `json:"current_node"`
	History     []string `json:"history"`
	WorkflowID  string   `json:"workflow_id,omitempty"`
}

// rawTransition is one line of states.jsonl.
type rawTransition struct {
	Timestamp  string `json:"timestamp"`
	WorkflowID string `json:"workflow_id"`
	FromNode   string `json:"from_node"`
	ToNode     string `json:"to_node"`
	Phase      string `json:"phase,omitempty"`
	Mode       string `json:"mode"`
}

// rawHookEvent is one line of hooks.jsonl.
type rawHookEvent struct {
	Timestamp      string `json:"timestamp"`
	HookEventName  string `json:"hook_event_name"`
	ToolName       string `json:"tool_name,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	TranscriptPath string `json:"transcript_path,omitempty"`
	// ToolInput is decoded only for Bash events.
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
}

// rawBashInput is the tool_input of a Bash hook event.
type rawBashInput struct {
	Command string `json:"command"`
}

// rawEntry is a single line of a Claude Code transcript. Only assistant
// entries are decoded into it.
type rawEntry struct {
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp,omitempty"`
	Message   *rawMessage `json:"message,omitempty"`
}

type rawMessage struct {
	ID    string    `json:"id"`
	Model string    `json:"model"`
	Usage *rawUsage `json:"usage,omitempty"`
}

type rawUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
}
