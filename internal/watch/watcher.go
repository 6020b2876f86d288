// Package watch invalidates response cache entries when files inside a
// project's marker directory change, so a long-running server serves fresh
// data without callers having to bypass the cache.
package watch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/theirongolddev/hegelpm/internal/cache"
	"github.com/theirongolddev/hegelpm/internal/model"
	"github.com/theirongolddev/hegelpm/internal/protocol"
)

// Scanner lists the currently discovered projects.
type Scanner interface {
	Scan(ctx context.Context) ([]model.ProjectIndexEntry, error)
	Roots() []string
}

// InvalidateFunc is called after each debounced invalidation. project is
// empty when the project set itself changed.
type InvalidateFunc func(project string, removed int)

// rescanKey debounces structural changes under a root.
const rescanKey = ""

// Watcher maps filesystem events to cache invalidations.
type Watcher struct {
	fs       *fsnotify.Watcher
	cache    *cache.ResponseCache
	scanner  Scanner
	logger   *log.Logger
	debounce time.Duration
	notify   InvalidateFunc

	mu      sync.Mutex
	closed  bool
	timers  map[string]*time.Timer
	markers map[string]string // marker dir -> project name
	roots   map[string]bool
}

// New creates a watcher. debounce collapses bursts of writes to one
// invalidation per project.
func New(c *cache.ResponseCache, scanner Scanner, debounce time.Duration, logger *log.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Watcher{
		fs:       fw,
		cache:    c,
		scanner:  scanner,
		logger:   logger,
		debounce: debounce,
		timers:   make(map[string]*time.Timer),
		markers:  make(map[string]string),
		roots:    make(map[string]bool),
	}, nil
}

// OnInvalidate registers fn to be told about every invalidation.
func (w *Watcher) OnInvalidate(fn InvalidateFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.notify = fn
}

// Run watches until ctx is canceled. Roots are watched for new projects
// and every discovered marker directory for metric file changes.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.close() }()

	for _, root := range w.scanner.Roots() {
		if err := w.fs.Add(root); err != nil {
			w.logger.Warn("cannot watch root", "root", root, "error", err)
			continue
		}
		w.mu.Lock()
		w.roots[filepath.Clean(root)] = true
		w.mu.Unlock()
	}
	if err := w.resync(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			// Keep watching on transient watcher errors.
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// Watched returns the number of marker directories being watched.
func (w *Watcher) Watched() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.markers)
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	dir := filepath.Dir(ev.Name)

	w.mu.Lock()
	name, isMarker := w.markers[dir]
	isRoot := w.roots[dir]
	w.mu.Unlock()

	switch {
	case isMarker:
		w.schedule(dir, func() { w.invalidateProject(name) })
	case isRoot:
		w.schedule(rescanKey, func() {
			if err := w.resync(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Warn("rescan failed", "error", err)
			}
			w.invalidateIndex()
		})
	}
}

// schedule runs fn after the debounce window, restarting the window on
// every new event for key.
func (w *Watcher) schedule(key string, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if t, ok := w.timers[key]; ok {
		t.Stop()
	}
	w.timers[key] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return
		}
		delete(w.timers, key)
		w.mu.Unlock()
		fn()
	})
}

func (w *Watcher) invalidateProject(name string) {
	removed := 0
	if w.cache.Invalidate(protocol.ShowKey(name)) {
		removed++
	}
	removed += w.invalidateViews()
	w.logger.Debug("invalidated project", "name", name, "removed", removed)
	w.emit(name, removed)
}

func (w *Watcher) invalidateIndex() {
	removed := w.invalidateViews()
	w.logger.Debug("invalidated project index", "removed", removed)
	w.emit("", removed)
}

// invalidateViews drops every list and aggregate entry; both embed data
// from all projects.
func (w *Watcher) invalidateViews() int {
	n := 0
	if w.cache.Invalidate(protocol.KeyList) {
		n++
	}
	return n + w.cache.InvalidatePrefix(protocol.PrefixAll)
}

func (w *Watcher) emit(project string, removed int) {
	w.mu.Lock()
	fn := w.notify
	w.mu.Unlock()
	if fn != nil {
		fn(project, removed)
	}
}

// resync watches newly discovered marker directories and forgets vanished ones.
func (w *Watcher) resync(ctx context.Context) error {
	projects, err := w.scanner.Scan(ctx)
	if err != nil {
		return err
	}

	current := make(map[string]string, len(projects))
	for _, p := range projects {
		current[filepath.Clean(p.MarkerDir)] = p.Name
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}

	for dir := range w.markers {
		if _, ok := current[dir]; !ok {
			_ = w.fs.Remove(dir)
			delete(w.markers, dir)
		}
	}
	for dir, name := range current {
		if _, ok := w.markers[dir]; ok {
			continue
		}
		if err := w.fs.Add(dir); err != nil {
			w.logger.Warn("cannot watch marker dir", "dir", dir, "error", err)
			continue
		}
		w.markers[dir] = name
	}
	w.logger.Debug("watching projects", "count", len(w.markers))
	return nil
}

func (w *Watcher) close() error {
	w.mu.Lock()
	w.closed = true
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()
	return w.fs.Close()
}
