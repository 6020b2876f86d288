package source

import (
	"sort"
	"time"

	"github.com/theirongolddev/hegelpm/internal/model"
)

// phaseSpan locates one phase inside a workflow slice.
type phaseSpan struct {
	start time.Time
	end   *time.Time
	wf    int
	phase int
}

func (s phaseSpan) contains(at time.Time) bool {
	return !at.Before(s.start) && (s.end == nil || at.Before(*s.end))
}

// phaseIndex attributes timestamped activity to the phase running at that
// moment. When phases of different workflows overlap, the one that started
// last wins. Activity outside every phase is not attributed.
type phaseIndex struct {
	workflows []model.WorkflowSummary
	spans     []phaseSpan
}

func newPhaseIndex(workflows []model.WorkflowSummary) *phaseIndex {
	x := &phaseIndex{workflows: workflows}
	for w := range workflows {
		for p, ph := range workflows[w].Phases {
			if ph.StartedAt.IsZero() {
				continue
			}
			x.spans = append(x.spans, phaseSpan{start: ph.StartedAt, end: ph.EndedAt, wf: w, phase: p})
		}
	}
	sort.SliceStable(x.spans, func(i, j int) bool {
		return x.spans[i].start.Before(x.spans[j].start)
	})
	return x
}

// add credits delta to the phase running at at and reports whether one was.
func (x *phaseIndex) add(at time.Time, delta model.PhaseMetrics) bool {
	if at.IsZero() {
		return false
	}
	// First span starting after at; candidates are everything before it.
	n := sort.Search(len(x.spans), func(i int) bool { return x.spans[i].start.After(at) })
	for i := n - 1; i >= 0; i-- {
		s := x.spans[i]
		if s.contains(at) {
			x.workflows[s.wf].Phases[s.phase].Metrics.Add(delta)
			return true
		}
	}
	return false
}

// finish sums each workflow's phases into its total.
func (x *phaseIndex) finish() {
	for w := range x.workflows {
		var total model.PhaseMetrics
		for _, ph := range x.workflows[w].Phases {
			total.Add(ph.Metrics)
		}
		x.workflows[w].TotalMetrics = total
	}
}
