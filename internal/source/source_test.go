package source

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/theirongolddev/hegelpm/internal/model"
	"github.com/theirongolddev/hegelpm/internal/protocol"
)

// makeProject creates root/rel/.hegel with the given files and returns the marker dir.
func makeProject(t *testing.T, root, rel string, files map[string]string) string {
	t.Helper()
	marker := filepath.Join(root, rel, DefaultMarker)
	if err := os.MkdirAll(marker, 0o750); err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(marker, name), []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return marker
}

func lines(ls ...string) string {
	return strings.Join(ls, "\n") + "\n"
}

func TestScanRoot(t *testing.T) {
	root := t.TempDir()
	makeProject(t, root, "alpha", map[string]string{StateFile: `{}`, HooksFile: "abc"})
	makeProject(t, root, "nested/beta", nil)
	makeProject(t, root, "node_modules/ignored", nil)
	makeProject(t, root, "a/b/c/d/too-deep", nil)

	got, err := ScanRoot(root, ScanOptions{MaxDepth: 3, Exclusions: []string{"node_modules"}})
	if err != nil {
		t.Fatalf("ScanRoot: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("found %d projects, want 2: %+v", len(got), got)
	}
	if got[0].Name != "alpha" || got[1].Name != "beta" {
		t.Fatalf("names = [%s %s], want [alpha beta]", got[0].Name, got[1].Name)
	}

	alpha := got[0]
	if !alpha.HasState {
		t.Error("alpha.HasState = false, want true")
	}
	if alpha.MarkerSizeBytes != 5 {
		t.Errorf("alpha.MarkerSizeBytes = %d, want 5", alpha.MarkerSizeBytes)
	}
	if alpha.LastActivity == nil {
		t.Error("alpha.LastActivity = nil, want mtime")
	}
	if got[1].HasState {
		t.Error("beta.HasState = true, want false")
	}
}

func TestScanRootSizeIsNotRecursive(t *testing.T) {
	root := t.TempDir()
	marker := makeProject(t, root, "p", map[string]string{"a.json": "12345"})
	if err := os.MkdirAll(filepath.Join(marker, "sub"), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(marker, "sub", "big"), make([]byte, 4096), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := ScanRoot(root, ScanOptions{MaxDepth: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].MarkerSizeBytes != 5 {
		t.Fatalf("got %+v, want one project of 5 bytes", got)
	}
}

func TestScanRootMissing(t *testing.T) {
	_, err := ScanRoot(filepath.Join(t.TempDir(), "nope"), ScanOptions{MaxDepth: 2})
	if err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestLoadProjectMetrics(t *testing.T) {
	root := t.TempDir()
	transcript := filepath.Join(root, "session.jsonl")
	if err := os.WriteFile(transcript, []byte(lines(
		`{"type":"user","message":{"content":"hi"}}`,
		`{"type":"assistant","message":{"id":"m1","usage":{"input_tokens":10,"output_tokens":1}}}`,
		`{"type":"assistant","message":{"id":"m1","usage":{"input_tokens":10,"output_tokens":5}}}`,
		`{"type":"assistant","message":{"id":"m2","usage":{"input_tokens":3,"output_tokens":2,"cache_read_input_tokens":100,"cache_creation_input_tokens":7}}}`,
	)), 0o600); err != nil {
		t.Fatal(err)
	}

	marker := makeProject(t, root, "alpha", map[string]string{
		StateFile: `{"workflow_state":{"mode":"discovery","current_node":"plan","history":["spec","plan"],"workflow_id":"w2"}}`,
		TransitionsFile: lines(
			`{"timestamp":"2025-06-01T10:00:00Z","workflow_id":"w1","from_node":"START","to_node":"spec","mode":"discovery"}`,
			`{"timestamp":"2025-06-01T10:10:00Z","workflow_id":"w1","from_node":"spec","to_node":"done","mode":"discovery"}`,
			`{"timestamp":"2025-06-02T09:00:00Z","workflow_id":"w2","from_node":"START","to_node":"spec","mode":"discovery"}`,
			`{"timestamp":"2025-06-02T09:30:00Z","workflow_id":"w2","from_node":"spec","to_node":"plan","mode":"discovery"}`,
		),
		HooksFile: lines(
			`{"hook_event_name":"PreToolUse","tool_name":"Bash","transcript_path":"`+transcript+`"}`,
			`{"hook_event_name":"PostToolUse","tool_name":"Bash","transcript_path":"`+transcript+`"}`,
			`{"hook_event_name":"PostToolUse","tool_name":"Edit"}`,
			`{"hook_event_name":"PostToolUse","tool_name":"Write","transcript_path":"missing.jsonl"}`,
			`not json`,
		),
	})

	m, err := LoadProjectMetrics(context.Background(), marker)
	if err != nil {
		t.Fatalf("LoadProjectMetrics: %v", err)
	}

	s := m.Summary
	if s.TotalEvents != 4 {
		t.Errorf("TotalEvents = %d, want 4", s.TotalEvents)
	}
	if s.BashCommandCount != 1 {
		t.Errorf("BashCommandCount = %d, want 1", s.BashCommandCount)
	}
	if s.FileModificationCount != 2 {
		t.Errorf("FileModificationCount = %d, want 2", s.FileModificationCount)
	}
	if s.InputTokens != 13 || s.OutputTokens != 7 {
		t.Errorf("tokens in/out = %d/%d, want 13/7 (dedup by message id)", s.InputTokens, s.OutputTokens)
	}
	if s.TotalTokens != 127 {
		t.Errorf("TotalTokens = %d, want 127", s.TotalTokens)
	}
	if s.PhaseCount != 3 {
		t.Errorf("PhaseCount = %d, want 3", s.PhaseCount)
	}
	if m.SkippedLines != 1 {
		t.Errorf("SkippedLines = %d, want 1", m.SkippedLines)
	}

	if m.CurrentState == nil || m.CurrentState.CurrentNode != "plan" {
		t.Fatalf("CurrentState = %+v, want current node plan", m.CurrentState)
	}
	if len(m.Workflows) != 2 {
		t.Fatalf("Workflows = %d, want 2", len(m.Workflows))
	}
	if m.Workflows[0].Status != model.WorkflowCompleted {
		t.Errorf("w1 status = %s, want completed", m.Workflows[0].Status)
	}
	if m.Workflows[1].Status != model.WorkflowActive {
		t.Errorf("w2 status = %s, want active", m.Workflows[1].Status)
	}
	if got := m.Workflows[0].Phases[0].DurationSecs; got != 600 {
		t.Errorf("w1 spec duration = %d, want 600", got)
	}
}

func TestLoadProjectMetricsEmptyMarker(t *testing.T) {
	marker := makeProject(t, t.TempDir(), "empty", nil)

	m, err := LoadProjectMetrics(context.Background(), marker)
	if err != nil {
		t.Fatalf("LoadProjectMetrics: %v", err)
	}
	if m.CurrentState != nil {
		t.Errorf("CurrentState = %+v, want nil", m.CurrentState)
	}
	if m.Summary.TotalTokens != 0 || len(m.Workflows) != 0 {
		t.Errorf("got %+v, want empty metrics", m)
	}
}

func TestLoadProjectMetricsParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		file  string
	}{
		{"state", map[string]string{StateFile: `{"workflow_state":`}, StateFile},
		{"transitions", map[string]string{TransitionsFile: "{bad\n"}, TransitionsFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			marker := makeProject(t, t.TempDir(), "broken", tt.files)
			_, err := LoadProjectMetrics(context.Background(), marker)
			if protocol.KindOf(err) != protocol.KindParse {
				t.Fatalf("error = %v, want parse error", err)
			}
			if !strings.Contains(err.Error(), tt.file) {
				t.Errorf("error %q does not name %s", err, tt.file)
			}
		})
	}
}

func TestLoadProjectMetricsMissingMarker(t *testing.T) {
	_, err := LoadProjectMetrics(context.Background(), filepath.Join(t.TempDir(), ".hegel"))
	if protocol.KindOf(err) != protocol.KindIO {
		t.Fatalf("error = %v, want io error", err)
	}
}

func TestExtractTopLevelType(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{`{"type":"assistant","message":{}}`, "assistant"},
		{`{"message":{"type":"assistant"},"type":"user"}`, "user"},
		{`{"note":"type","type": "progress"}`, "progress"},
		{`{"message":{"type":"x"}}`, ""},
	}
	for _, tt := range tests {
		if got := extractTopLevelType([]byte(tt.line)); got != tt.want {
			t.Errorf("extractTopLevelType(%s) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestParseTranscriptTotal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.jsonl")
	if err := os.WriteFile(path, []byte(lines(
		`{"type":"assistant","message":{"id":"a","usage":{"input_tokens":1,"output_tokens":2,"cache_creation_input_tokens":3,"cache_read_input_tokens":4}}}`,
		`{"type":"assistant",`,
	)), 0o600); err != nil {
		t.Fatal(err)
	}
	u, err := ParseTranscript(path)
	if err != nil {
		t.Fatal(err)
	}
	if u.Total() != 10 {
		t.Errorf("Total = %d, want 10", u.Total())
	}
	if u.ParseErrors != 1 {
		t.Errorf("ParseErrors = %d, want 1", u.ParseErrors)
	}
}

func TestLoadProjectMetricsPerPhase(t *testing.T) {
	root := t.TempDir()
	transcript := filepath.Join(root, "session.jsonl")
	if err := os.WriteFile(transcript, []byte(lines(
		`{"type":"assistant","timestamp":"2025-06-01T10:05:00Z","message":{"id":"m1","usage":{"input_tokens":10,"output_tokens":5}}}`,
		`{"type":"assistant","timestamp":"2025-06-01T10:25:00Z","message":{"id":"m2","usage":{"input_tokens":1,"output_tokens":1,"cache_read_input_tokens":8}}}`,
		`{"type":"assistant","timestamp":"2025-06-01T09:00:00Z","message":{"id":"m0","usage":{"input_tokens":100}}}`,
	)), 0o600); err != nil {
		t.Fatal(err)
	}

	marker := makeProject(t, root, "alpha", map[string]string{
		StateFile: `{"workflow_state":{"mode":"execution","current_node":"code","workflow_id":"w1"}}`,
		TransitionsFile: lines(
			`{"timestamp":"2025-06-01T10:00:00Z","workflow_id":"w1","from_node":"START","to_node":"spec","mode":"execution"}`,
			`{"timestamp":"2025-06-01T10:20:00Z","workflow_id":"w1","from_node":"spec","to_node":"code","mode":"execution"}`,
		),
		HooksFile: lines(
			`{"timestamp":"2025-06-01T09:59:00Z","hook_event_name":"SessionStart","transcript_path":"`+transcript+`"}`,
			`{"timestamp":"2025-06-01T10:01:00Z","hook_event_name":"PostToolUse","tool_name":"Edit"}`,
			`{"timestamp":"2025-06-01T10:21:00Z","hook_event_name":"PostToolUse","tool_name":"Bash","tool_input":{"command":"go test ./... && git commit -m 'wip'"}}`,
			`{"timestamp":"2025-06-01T10:22:00Z","hook_event_name":"PostToolUse","tool_name":"Bash","tool_input":{"command":"git status"}}`,
			`{"hook_event_name":"PostToolUse","tool_name":"Bash","tool_input":{"command":"git -C sub commit -am x"}}`,
		),
	})

	m, err := LoadProjectMetrics(context.Background(), marker)
	if err != nil {
		t.Fatalf("LoadProjectMetrics: %v", err)
	}
	if m.Summary.GitCommitCount != 2 {
		t.Errorf("GitCommitCount = %d, want 2", m.Summary.GitCommitCount)
	}
	if len(m.Workflows) != 1 || len(m.Workflows[0].Phases) != 2 {
		t.Fatalf("workflows = %+v, want one with two phases", m.Workflows)
	}

	wf := m.Workflows[0]
	spec, code := wf.Phases[0], wf.Phases[1]
	if spec.Status != model.PhaseCompleted || code.Status != model.PhaseInProgress {
		t.Errorf("statuses = %s/%s, want completed/in_progress", spec.Status, code.Status)
	}

	// spec: the Edit event and call m1.
	want := model.PhaseMetrics{InputTokens: 10, OutputTokens: 5, TotalTokens: 15, EventCount: 1, FileModificationCount: 1}
	if spec.Metrics != want {
		t.Errorf("spec metrics = %+v, want %+v", spec.Metrics, want)
	}
	// code: two Bash events, one of them a commit, and call m2. The
	// untimestamped commit counts for the project only.
	want = model.PhaseMetrics{InputTokens: 1, OutputTokens: 1, CacheReadTokens: 8, TotalTokens: 10, EventCount: 2, BashCommandCount: 2, GitCommitCount: 1}
	if code.Metrics != want {
		t.Errorf("code metrics = %+v, want %+v", code.Metrics, want)
	}

	total := wf.TotalMetrics
	if total.TotalTokens != 25 || total.EventCount != 3 || total.GitCommitCount != 1 {
		t.Errorf("workflow total = %+v, want 25 tokens, 3 events, 1 commit", total)
	}
	// Activity before the first phase stays in the project summary only.
	if m.Summary.TotalTokens != 125 || m.Summary.TotalEvents != 5 {
		t.Errorf("summary = %d tokens, %d events, want 125, 5", m.Summary.TotalTokens, m.Summary.TotalEvents)
	}
}

func TestPhaseIndexPrefersLatestStart(t *testing.T) {
	at := func(min int) time.Time { return time.Date(2025, 6, 1, 10, min, 0, 0, time.UTC) }
	end := at(30)
	wfs := []model.WorkflowSummary{
		{WorkflowID: "old", Phases: []model.PhaseSummary{{Name: "stale", StartedAt: at(0)}}},
		{WorkflowID: "new", Phases: []model.PhaseSummary{{Name: "plan", StartedAt: at(10), EndedAt: &end}}},
	}
	x := newPhaseIndex(wfs)

	one := model.PhaseMetrics{EventCount: 1}
	for _, ts := range []time.Time{at(5), at(15), at(40)} {
		if !x.add(ts, one) {
			t.Fatalf("add(%s) found no phase", ts)
		}
	}
	if x.add(at(0).Add(-time.Minute), one) {
		t.Error("activity before every phase was attributed")
	}
	if x.add(time.Time{}, one) {
		t.Error("untimestamped activity was attributed")
	}
	x.finish()

	if got := wfs[0].Phases[0].Metrics.EventCount; got != 2 {
		t.Errorf("stale events = %d, want 2 (10:05 and 10:40)", got)
	}
	if got := wfs[1].Phases[0].Metrics.EventCount; got != 1 {
		t.Errorf("plan events = %d, want 1", got)
	}
	if wfs[1].TotalMetrics.EventCount != 1 {
		t.Errorf("new total = %+v", wfs[1].TotalMetrics)
	}
}

func TestIsGitCommit(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{`{"command":"git commit -m 'x'"}`, true},
		{`{"command":"git add . && git commit -am fix"}`, true},
		{`{"command":"GIT_AUTHOR_NAME=a /usr/bin/git -c core.editor=true commit"}`, true},
		{`{"command":"git --no-pager -C repo commit --amend"}`, true},
		{`{"command":"git status; echo done"}`, false},
		{`{"command":"echo git commit"}`, false},
		{`{"command":"git log --grep commit"}`, false},
		{`"git commit"`, false},
		{``, false},
	}
	for _, tt := range tests {
		if got := isGitCommit(json.RawMessage(tt.input)); got != tt.want {
			t.Errorf("isGitCommit(%s) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
