// Package store implements the Storage port (spec §6): CRUD over
// Site/Snapshot/Alert/Job/Vector backed by SQLite, with brute-force cosine
// vector similarity search (vec_compat.go).
package store

import (
	"database/sql"
	"fmt"

	"siteguard/internal/logging"

	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is bumped whenever schema.go's table definitions
// change in a way existing databases need to migrate through.
const CurrentSchemaVersion = 1

const schemaDDL = `
CREATE TABLE IF NOT EXISTS sites (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	schedule TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	max_depth INTEGER NOT NULL DEFAULT 0,
	priority INTEGER NOT NULL DEFAULT 0,
	similarity_threshold REAL NOT NULL DEFAULT 0,
	structural_threshold REAL NOT NULL DEFAULT 0,
	critical_change_threshold REAL NOT NULL DEFAULT 0,
	keep_scans INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS snapshots (
	id TEXT PRIMARY KEY,
	site_id TEXT NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
	captured_at DATETIME NOT NULL,
	http_status INTEGER NOT NULL DEFAULT 0,
	response_time_ms INTEGER NOT NULL DEFAULT 0,
	raw_html TEXT,
	extracted_text TEXT,
	content_hash TEXT NOT NULL DEFAULT '',
	structure_hash TEXT NOT NULL DEFAULT '',
	text_block_hash TEXT NOT NULL DEFAULT '',
	semantic_hash TEXT NOT NULL DEFAULT '',
	vector_ref TEXT,
	prev_similarity REAL NOT NULL DEFAULT 0,
	verdict TEXT NOT NULL DEFAULT 'initial',
	confidence REAL NOT NULL DEFAULT 0,
	truncated INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_snapshots_site_captured ON snapshots(site_id, captured_at DESC);

CREATE TABLE IF NOT EXISTS alerts (
	id TEXT PRIMARY KEY,
	site_id TEXT NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
	snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	severity TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	verdict TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0,
	similarity REAL NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'open',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_alerts_site_status ON alerts(site_id, status);

CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	site_id TEXT NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
	next_run_at DATETIME,
	last_run_at DATETIME,
	last_success_at DATETIME,
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'scheduled',
	priority INTEGER NOT NULL DEFAULT 0,
	consecutive_failures INTEGER NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_site ON jobs(site_id);

CREATE TABLE IF NOT EXISTS vectors (
	id TEXT PRIMARY KEY,
	site_id TEXT NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
	snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	dimension INTEGER NOT NULL,
	payload BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_vectors_site ON vectors(site_id);
CREATE INDEX IF NOT EXISTS idx_vectors_snapshot ON vectors(snapshot_id);

CREATE TABLE IF NOT EXISTS classifier_weights (
	site_id TEXT PRIMARY KEY REFERENCES sites(id) ON DELETE CASCADE,
	llm_weight REAL NOT NULL,
	semantic_weight REAL NOT NULL,
	rules_weight REAL NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS schema_meta (
	version INTEGER NOT NULL
);
`

// Open opens (creating if necessary) the SQLite database at path and
// applies the schema. A path of ":memory:" is supported for tests.
func Open(path string) (*sql.DB, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database at %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc's SQLite driver serializes writers regardless

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := stampSchemaVersion(db); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("opened store at %s (schema v%d)", path, CurrentSchemaVersion)
	return db, nil
}

func stampSchemaVersion(db *sql.DB) error {
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_meta`).Scan(&count); err != nil {
		return fmt.Errorf("read schema_meta: %w", err)
	}
	if count == 0 {
		_, err := db.Exec(`INSERT INTO schema_meta (version) VALUES (?)`, CurrentSchemaVersion)
		return err
	}
	return nil
}
