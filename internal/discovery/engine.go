// Package discovery finds marker-directory projects and computes the three
// read views served by the data layer: the project list, a single project's
// detail and the cross-project report.
//
// Every call re-scans the configured roots. Freshness between calls is the
// response cache's concern, not the engine's.
package discovery

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/theirongolddev/hegelpm/internal/config"
	"github.com/theirongolddev/hegelpm/internal/model"
	"github.com/theirongolddev/hegelpm/internal/protocol"
	"github.com/theirongolddev/hegelpm/internal/source"
)

// Engine computes project views from the filesystem.
type Engine struct {
	cfg    config.DiscoveryConfig
	load   source.LoadFunc
	logger *log.Logger
}

// New validates cfg and returns an engine that loads metrics with load.
// A nil load uses source.LoadProjectMetrics.
func New(cfg config.DiscoveryConfig, load source.LoadFunc, logger *log.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid discovery config: %w", err)
	}
	if load == nil {
		load = source.LoadProjectMetrics
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{cfg: cfg, load: load, logger: logger}, nil
}

// Roots returns the configured discovery roots.
func (e *Engine) Roots() []string {
	return slices.Clone(e.cfg.Roots)
}

// Scan walks every root and returns the discovered projects ordered by
// name. When two projects share a name, the one found first (roots in
// configured order, lexical walk order within a root) wins.
func (e *Engine) Scan(ctx context.Context) ([]model.ProjectIndexEntry, error) {
	opts := source.ScanOptions{
		MaxDepth:   e.cfg.MaxDepth,
		Exclusions: e.cfg.Exclusions,
		Marker:     e.cfg.Marker,
	}

	var out []model.ProjectIndexEntry
	seen := make(map[string]string)
	for _, root := range e.cfg.Roots {
		if err := ctx.Err(); err != nil {
			return nil, protocol.Timeout(err)
		}
		found, err := source.ScanRoot(root, opts)
		if err != nil {
			return nil, protocol.IO(root, err)
		}
		for _, p := range found {
			if first, dup := seen[p.Name]; dup {
				e.logger.Warn("duplicate project name, keeping first", "name", p.Name, "kept", first, "ignored", p.ProjectPath)
				continue
			}
			seen[p.Name] = p.ProjectPath
			out = append(out, p)
		}
	}

	slices.SortFunc(out, func(a, b model.ProjectIndexEntry) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

// ListProjects returns the project index. It never parses metrics files.
func (e *Engine) ListProjects(ctx context.Context) (model.ProjectList, error) {
	projects, err := e.Scan(ctx)
	if err != nil {
		return model.ProjectList{}, err
	}
	if projects == nil {
		projects = []model.ProjectIndexEntry{}
	}
	return model.ProjectList{Projects: projects, TotalCount: len(projects)}, nil
}

// ShowProject returns the full metrics of the named project.
func (e *Engine) ShowProject(ctx context.Context, name string) (model.ProjectDetail, error) {
	projects, err := e.Scan(ctx)
	if err != nil {
		return model.ProjectDetail{}, err
	}

	i, found := slices.BinarySearchFunc(projects, name, func(p model.ProjectIndexEntry, n string) int {
		return strings.Compare(p.Name, n)
	})
	if !found {
		return model.ProjectDetail{}, protocol.NotFound(name)
	}

	entry := projects[i]
	m, err := e.load(ctx, entry.MarkerDir)
	if err != nil {
		return model.ProjectDetail{}, protocol.FromError(err)
	}
	return model.ProjectDetail{Project: entry, Metrics: m}, nil
}

// AllProjects loads every project in parallel and returns the sorted
// report. The sort column is validated before the filesystem is touched.
// A project that fails to load becomes an error row after the sorted
// successful rows and is left out of the totals.
func (e *Engine) AllProjects(ctx context.Context, q protocol.AllProjects) (model.AllProjectsReport, error) {
	nq, err := protocol.Normalize(q)
	if err != nil {
		return model.AllProjectsReport{}, err
	}
	q = nq.(protocol.AllProjects)

	projects, err := e.Scan(ctx)
	if err != nil {
		return model.AllProjectsReport{}, err
	}

	rows := make([]model.ProjectRow, len(projects))
	started := time.Now()

	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency())
	for i, p := range projects {
		g.Go(func() error {
			rows[i] = e.loadRow(ctx, p, q.Benchmark)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return model.AllProjectsReport{}, protocol.Timeout(err)
	}

	report := model.AllProjectsReport{
		TotalProjects: len(projects),
		SortBy:        q.SortBy,
		Descending:    q.Descending,
		Benchmark:     q.Benchmark,
	}
	if q.Benchmark {
		total := msSince(started)
		report.TotalLoadTimeMs = &total
	}

	ok := make([]model.ProjectRow, 0, len(rows))
	var failed []model.ProjectRow
	for _, r := range rows {
		if r.Failed() {
			failed = append(failed, r)
			continue
		}
		report.Totals.Add(*r.Summary)
		ok = append(ok, r)
	}

	SortRows(ok, q.SortBy, q.Descending)
	slices.SortFunc(failed, func(a, b model.ProjectRow) int {
		return strings.Compare(a.Name, b.Name)
	})

	report.Projects = append(ok, failed...)
	report.FailedCount = len(failed)

	e.logger.Debug("aggregate computed",
		"projects", report.TotalProjects,
		"failed", report.FailedCount,
		"sort", q.SortBy,
		"elapsed", time.Since(started))
	return report, nil
}

func (e *Engine) loadRow(ctx context.Context, p model.ProjectIndexEntry, benchmark bool) (row model.ProjectRow) {
	row = model.ProjectRow{
		Name:            p.Name,
		ProjectPath:     p.ProjectPath,
		MarkerSizeBytes: p.MarkerSizeBytes,
		LastActivity:    p.LastActivity,
	}
	defer func() {
		if r := recover(); r != nil {
			row.Summary = nil
			row.Error = &model.RowError{
				Kind:    string(protocol.KindInternal),
				Message: fmt.Sprintf("panic loading project: %v", r),
			}
		}
	}()

	if err := ctx.Err(); err != nil {
		row.Error = rowError(protocol.Timeout(err))
		return row
	}

	start := time.Now()
	m, err := e.load(ctx, p.MarkerDir)
	if benchmark {
		ms := msSince(start)
		row.LoadTimeMs = &ms
	}
	if err != nil {
		e.logger.Warn("project load failed", "name", p.Name, "error", err)
		row.Error = rowError(protocol.FromError(err))
		return row
	}
	row.Summary = &m.Summary
	return row
}

func rowError(de *protocol.DataError) *model.RowError {
	return &model.RowError{Kind: string(de.Kind), Message: de.Error()}
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
