package source

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/theirongolddev/hegelpm/internal/model"
)

// Tool names counted as file modifications.
var fileModificationTools = map[string]bool{
	"Edit":         true,
	"Write":        true,
	"MultiEdit":    true,
	"NotebookEdit": true,
}

// hookStats is the result of reading hooks.jsonl.
type hookStats struct {
	Events            int
	BashCommands      int
	FileModifications int
	GitCommits        int
	Skipped           int
	// Transcripts lists distinct transcript paths in first-seen order.
	Transcripts []string
	// Timeline holds the contribution of every timestamped event.
	Timeline []hookEvent
}

// hookEvent is what one hook line adds to the phase it falls in.
type hookEvent struct {
	At    time.Time
	Delta model.PhaseMetrics
}

// readHooks loads hooks.jsonl. Hook files are appended to by concurrent
// processes, so a malformed line is skipped and counted instead of failing
// the project. Tool use is counted on PostToolUse so a Pre/Post pair is
// counted once.
func readHooks(path string) (hookStats, error) {
	var st hookStats

	//nolint:gosec // marker paths come from the local discovery walk
	f, err := os.Open(path)
	if err != nil {
		if IsNotExist(err) {
			return st, nil
		}
		return st, err
	}
	defer func() { _ = f.Close() }()

	seen := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 2*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev rawHookEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			st.Skipped++
			continue
		}
		delta := model.PhaseMetrics{EventCount: 1}
		if ev.HookEventName == "PostToolUse" {
			switch {
			case ev.ToolName == "Bash":
				delta.BashCommandCount = 1
				if isGitCommit(ev.ToolInput) {
					delta.GitCommitCount = 1
				}
			case fileModificationTools[ev.ToolName]:
				delta.FileModificationCount = 1
			}
		}
		st.Events++
		st.BashCommands += delta.BashCommandCount
		st.FileModifications += delta.FileModificationCount
		st.GitCommits += delta.GitCommitCount
		if at, err := time.Parse(time.RFC3339Nano, ev.Timestamp); err == nil {
			st.Timeline = append(st.Timeline, hookEvent{At: at, Delta: delta})
		}

		if ev.TranscriptPath != "" && !seen[ev.TranscriptPath] {
			seen[ev.TranscriptPath] = true
			st.Transcripts = append(st.Transcripts, ev.TranscriptPath)
		}
	}
	return st, scanner.Err()
}

// isGitCommit reports whether a Bash tool_input runs `git commit`,
// possibly inside a compound command or after git's global options.
func isGitCommit(input json.RawMessage) bool {
	if len(input) == 0 {
		return false
	}
	var in rawBashInput
	if err := json.Unmarshal(input, &in); err != nil || in.Command == "" {
		return false
	}

	segments := strings.FieldsFunc(in.Command, func(r rune) bool {
		return r == ';' || r == '&' || r == '|' || r == '\n' || r == '(' || r == ')'
	})
	for _, seg := range segments {
		fields := strings.Fields(seg)
		i := 0
		// Skip env assignments and command wrappers before the program name.
		for i < len(fields) && (strings.Contains(fields[i], "=") || fields[i] == "env" || fields[i] == "sudo" || fields[i] == "command") {
			i++
		}
		if i < len(fields) && filepath.Base(fields[i]) == "git" && gitSubcommand(fields[i+1:]) == "commit" {
			return true
		}
	}
	return false
}

// gitSubcommand skips git's global options and returns the subcommand.
func gitSubcommand(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-C" || a == "-c" || a == "--git-dir" || a == "--work-tree" || a == "--namespace":
			i++
		case strings.HasPrefix(a, "-"):
		default:
			return a
		}
	}
	return ""
}
