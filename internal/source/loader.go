package source

import (
	"context"
	"os"
	"path/filepath"

	"github.com/theirongolddev/hegelpm/internal/model"
	"github.com/theirongolddev/hegelpm/internal/protocol"
)

// LoadFunc loads the full metrics of the project whose marker directory is
// given. Errors are *protocol.DataError values of kind IO or Parse.
type LoadFunc func(ctx context.Context, markerDir string) (model.ProjectMetrics, error)

// LoadProjectMetrics parses every metrics file in markerDir: the current
// workflow state, the phase transition log, the hook event log and every
// transcript the hook log references. Missing files contribute nothing.
// Hook events and API calls are also credited to the phase during which
// they happened.
func LoadProjectMetrics(ctx context.Context, markerDir string) (model.ProjectMetrics, error) {
	var m model.ProjectMetrics

	if _, err := os.Stat(markerDir); err != nil {
		return m, protocol.IO(markerDir, err)
	}

	state, err := readState(filepath.Join(markerDir, StateFile))
	if err != nil {
		return m, err
	}
	m.CurrentState = state

	transitions, err := readTransitions(filepath.Join(markerDir, TransitionsFile))
	if err != nil {
		return m, err
	}
	m.Workflows = buildWorkflows(transitions, state)
	for _, wf := range m.Workflows {
		m.Summary.PhaseCount += len(wf.Phases)
	}

	if err := ctx.Err(); err != nil {
		return m, protocol.Timeout(err)
	}

	hooksPath := filepath.Join(markerDir, HooksFile)
	hooks, err := readHooks(hooksPath)
	if err != nil {
		return m, protocol.IO(hooksPath, err)
	}
	m.Summary.TotalEvents = hooks.Events
	m.Summary.BashCommandCount = hooks.BashCommands
	m.Summary.FileModificationCount = hooks.FileModifications
	m.Summary.GitCommitCount = hooks.GitCommits
	m.SkippedLines = hooks.Skipped

	phases := newPhaseIndex(m.Workflows)
	for _, ev := range hooks.Timeline {
		phases.add(ev.At, ev.Delta)
	}

	projectDir := filepath.Dir(markerDir)
	for _, tp := range hooks.Transcripts {
		if err := ctx.Err(); err != nil {
			return m, protocol.Timeout(err)
		}
		if !filepath.IsAbs(tp) {
			tp = filepath.Join(projectDir, tp)
		}
		usage, err := ParseTranscript(tp)
		if err != nil {
			if IsNotExist(err) {
				continue
			}
			return m, protocol.IO(tp, err)
		}
		m.Summary.InputTokens += usage.InputTokens
		m.Summary.OutputTokens += usage.OutputTokens
		m.Summary.CacheCreationTokens += usage.CacheCreationTokens
		m.Summary.CacheReadTokens += usage.CacheReadTokens
		m.SkippedLines += usage.ParseErrors
		for _, c := range usage.Calls {
			phases.add(c.At, c.Usage)
		}
	}
	phases.finish()
	m.Summary.TotalTokens = m.Summary.InputTokens + m.Summary.OutputTokens +
		m.Summary.CacheCreationTokens + m.Summary.CacheReadTokens

	if m.Workflows == nil {
		m.Workflows = []model.WorkflowSummary{}
	}
	return m, nil
}
