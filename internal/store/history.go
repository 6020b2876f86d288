// Package store persists benchmark runs in a local SQLite database.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register sqlite driver
)

// EndpointResult is the timing of one endpoint within a run.
type EndpointResult struct {
	Endpoint     string  `json:"endpoint"`
	ColdMs       float64 `json:"cold_ms"`
	WarmMs       float64 `json:"warm_ms"`
	PayloadBytes int     `json:"payload_bytes"`
}

// Run is one benchmark invocation.
type Run struct {
	ID           int64            `json:"id"`
	StartedAt    time.Time        `json:"started_at"`
	Iterations   int              `json:"iterations"`
	ProjectCount int              `json:"project_count"`
	Roots        []string         `json:"roots"`
	Results      []EndpointResult `json:"results"`
}

// History provides SQLite-backed benchmark history.
type History struct {
	db *sql.DB
}

// Open opens or creates the history database at the given path.
func Open(dbPath string) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating history dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &History{db: db}, nil
}

// Close closes the history database.
func (h *History) Close() error {
	return h.db.Close()
}

// RecordRun stores r and its endpoint results in one transaction and
// returns the new run id.
func (h *History) RecordRun(r Run) (int64, error) {
	roots, err := json.Marshal(r.Roots)
	if err != nil {
		return 0, err
	}

	tx, err := h.db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`INSERT INTO bench_runs (started_at, iterations, project_count, roots)
		VALUES (?, ?, ?, ?)`,
		r.StartedAt.UTC().Format(time.RFC3339Nano), r.Iterations, r.ProjectCount, string(roots),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, er := range r.Results {
		_, err = tx.Exec(`INSERT INTO bench_results (run_id, endpoint, cold_ms, warm_ms, payload_bytes)
			VALUES (?, ?, ?, ?, ?)`,
			id, er.Endpoint, er.ColdMs, er.WarmMs, er.PayloadBytes,
		)
		if err != nil {
			return 0, err
		}
	}

	return id, tx.Commit()
}

// RecentRuns returns up to limit runs, newest first, with their results.
func (h *History) RecentRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := h.db.Query(`SELECT id, started_at, iterations, project_count, roots
		FROM bench_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	byID := make(map[int64]int)
	for rows.Next() {
		var (
			r        Run
			started  string
			rootsRaw string
		)
		if err := rows.Scan(&r.ID, &started, &r.Iterations, &r.ProjectCount, &rootsRaw); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		_ = json.Unmarshal([]byte(rootsRaw), &r.Roots)
		byID[r.ID] = len(runs)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}

	resultRows, err := h.db.Query(`SELECT run_id, endpoint, cold_ms, warm_ms, payload_bytes
		FROM bench_results WHERE run_id >= ? ORDER BY run_id, endpoint`, runs[len(runs)-1].ID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resultRows.Close() }()

	for resultRows.Next() {
		var (
			runID int64
			er    EndpointResult
		)
		if err := resultRows.Scan(&runID, &er.Endpoint, &er.ColdMs, &er.WarmMs, &er.PayloadBytes); err != nil {
			return nil, err
		}
		if i, ok := byID[runID]; ok {
			runs[i].Results = append(runs[i].Results, er)
		}
	}
	return runs, resultRows.Err()
}

// Prune deletes all but the newest keep runs and returns how many were removed.
func (h *History) Prune(keep int) (int64, error) {
	res, err := h.db.Exec(`DELETE FROM bench_runs WHERE id NOT IN
		(SELECT id FROM bench_runs ORDER BY started_at DESC, id DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
