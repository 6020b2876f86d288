package source

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/theirongolddev/hegelpm/internal/model"
	"github.com/theirongolddev/hegelpm/internal/protocol"
)

// terminalNode marks the end of a completed workflow.
const terminalNode = "done"

// readState loads state.json. A missing file means no current workflow.
func readState(path string) (*model.WorkflowState, error) {
	//nolint:gosec // marker paths come from the local discovery walk
	data, err := os.ReadFile(path)
	if err != nil {
		if IsNotExist(err) {
			return nil, nil
		}
		return nil, protocol.IO(path, err)
	}

	var raw rawStateFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, protocol.Parse(path, err)
	}
	if raw.WorkflowState == nil {
		return nil, nil
	}

	ws := raw.WorkflowState
	return &model.WorkflowState{
		Mode:        ws.Mode,
		CurrentNode: ws.CurrentNode,
		History:     ws.History,
		WorkflowID:  ws.WorkflowID,
	}, nil
}

// readTransitions loads states.jsonl. A missing file yields no transitions;
// any malformed line fails the whole file.
func readTransitions(path string) ([]rawTransition, error) {
	//nolint:gosec // marker paths come from the local discovery walk
	f, err := os.Open(path)
	if err != nil {
		if IsNotExist(err) {
			return nil, nil
		}
		return nil, protocol.IO(path, err)
	}
	defer func() { _ = f.Close() }()

	var out []rawTransition
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var tr rawTransition
		if err := json.Unmarshal(line, &tr); err != nil {
			return nil, protocol.Parse(path, fmt.Errorf("line %d: %w", lineNo, err))
		}
		out = append(out, tr)
	}
	if err := scanner.Err(); err != nil {
		return nil, protocol.IO(path, err)
	}
	return out, nil
}

// buildWorkflows groups transitions by workflow id, in order of first
// appearance. Every transition into a non-terminal node opens a phase that
// ends at the next transition of the same workflow.
func buildWorkflows(transitions []rawTransition, current *model.WorkflowState) []model.WorkflowSummary {
	var (
		order []string
		byID  = make(map[string]*model.WorkflowSummary)
		last  = make(map[string]string)
	)

	for _, tr := range transitions {
		ts, _ := time.Parse(time.RFC3339Nano, tr.Timestamp)

		wf, ok := byID[tr.WorkflowID]
		if !ok {
			wf = &model.WorkflowSummary{WorkflowID: tr.WorkflowID, Mode: tr.Mode}
			byID[tr.WorkflowID] = wf
			order = append(order, tr.WorkflowID)
		}
		if wf.Mode == "" {
			wf.Mode = tr.Mode
		}

		closeOpenPhase(wf, ts)

		last[tr.WorkflowID] = tr.ToNode
		wf.CurrentPhase = tr.ToNode
		if tr.ToNode == terminalNode {
			continue
		}
		name := tr.Phase
		if name == "" {
			name = tr.ToNode
		}
		wf.Phases = append(wf.Phases, model.PhaseSummary{Name: name, Status: model.PhaseInProgress, StartedAt: ts})
	}

	out := make([]model.WorkflowSummary, 0, len(order))
	for _, id := range order {
		wf := byID[id]
		switch {
		case last[id] == terminalNode:
			wf.Status = model.WorkflowCompleted
		case current != nil && current.WorkflowID != "" && current.WorkflowID == id:
			wf.Status = model.WorkflowActive
		case current != nil && current.WorkflowID == "" && id == order[len(order)-1]:
			// Older state files carry no id; the newest workflow is the live one.
			wf.Status = model.WorkflowActive
		default:
			wf.Status = model.WorkflowAborted
		}
		out = append(out, *wf)
	}
	return out
}

func closeOpenPhase(wf *model.WorkflowSummary, at time.Time) {
	if len(wf.Phases) == 0 {
		return
	}
	p := &wf.Phases[len(wf.Phases)-1]
	if p.EndedAt != nil {
		return
	}
	end := at
	p.EndedAt = &end
	p.Status = model.PhaseCompleted
	if !p.StartedAt.IsZero() && !at.IsZero() && at.After(p.StartedAt) {
		p.DurationSecs = int64(at.Sub(p.StartedAt).Seconds())
	}
}
