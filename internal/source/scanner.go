// Package source discovers marker-directory projects on disk and loads
// their metrics from the files inside the marker directory.
package source

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/theirongolddev/hegelpm/internal/model"
)

// ScanOptions bounds a directory walk.
type ScanOptions struct {
	// MaxDepth is the deepest level, relative to the root, whose entries
	// are inspected. The root's children are depth 1.
	MaxDepth int
	// Exclusions are directory base names that are never descended into.
	Exclusions []string
	// Marker is the directory name that identifies a project.
	Marker string
}

// ScanRoot walks root and returns one index entry per marker directory,
// in lexical walk order. Symlinks are not followed and unreadable
// subdirectories are skipped. The marker directory is listed once per
// project; no metrics file is opened.
func ScanRoot(root string, opts ScanOptions) ([]model.ProjectIndexEntry, error) {
	marker := opts.Marker
	if marker == "" {
		marker = DefaultMarker
	}
	excluded := make(map[string]bool, len(opts.Exclusions))
	for _, e := range opts.Exclusions {
		excluded[e] = true
	}

	root = filepath.Clean(root)
	var projects []model.ProjectIndexEntry

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil //nolint:nilerr // intentionally skip unreadable entries
		}
		if !d.IsDir() || path == root {
			return nil
		}

		name := d.Name()
		if name == marker {
			projects = append(projects, IndexProject(filepath.Dir(path), path))
			return filepath.SkipDir
		}
		if excluded[name] {
			return filepath.SkipDir
		}
		if opts.MaxDepth > 0 && depth(root, path) >= opts.MaxDepth {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return projects, nil
}

// IndexProject builds the cheap index entry for one project. A marker
// directory that cannot be listed yields zero size and no activity time.
func IndexProject(projectPath, markerDir string) model.ProjectIndexEntry {
	entry := model.ProjectIndexEntry{
		Name:        filepath.Base(projectPath),
		ProjectPath: projectPath,
		MarkerDir:   markerDir,
	}

	dirEntries, err := os.ReadDir(markerDir)
	if err != nil {
		return entry
	}

	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil {
			continue
		}
		if de.Name() == StateFile {
			entry.HasState = true
		}
		if info.Mode().IsRegular() {
			entry.MarkerSizeBytes += info.Size()
		}
		mt := info.ModTime()
		if entry.LastActivity == nil || mt.After(*entry.LastActivity) {
			entry.LastActivity = &mt
		}
	}
	return entry
}

// IsNotExist reports whether err (or anything it wraps) means a missing file.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}
