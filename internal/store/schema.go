package store

const schemaSQL = `
CREATE TABLE IF NOT EXISTS bench_runs (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at           TEXT NOT NULL,
    iterations           INTEGER NOT NULL,
    project_count        INTEGER NOT NULL,
    roots                TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS bench_results (
    run_id               INTEGER NOT NULL REFERENCES bench_runs(id) ON DELETE CASCADE,
    endpoint             TEXT NOT NULL,
    cold_ms              REAL NOT NULL,
    warm_ms              REAL NOT NULL,
    payload_bytes        INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, endpoint)
);

CREATE INDEX IF NOT EXISTS idx_bench_runs_started ON bench_runs(started_at);
`
