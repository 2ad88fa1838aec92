package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var _ Store = (*SQLite)(nil)

// SQLite is the embedded backend. Timestamps are stored as unix millis and
// days as YYYY-MM-DD text.
type SQLite struct {
	db   *sql.DB
	Path string
}

// OpenSQLite opens (or creates) the database at path, configures pragmas,
// and runs migrations.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return initSQLite(sqlDB, path)
}

// OpenSQLiteMemory opens an in-memory database for tests. The pool is
// pinned to one connection since each :memory: connection is its own
// database.
func OpenSQLiteMemory() (*SQLite, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return initSQLite(sqlDB, ":memory:")
}

func initSQLite(sqlDB *sql.DB, path string) (*SQLite, error) {
	s := &SQLite{db: sqlDB, Path: path}
	if err := s.configurePragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) configurePragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLite) Close() error { return s.db.Close() }

// --------------------------------------------------------------------------
// Migrations
// --------------------------------------------------------------------------

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "engagement events and daily scores",
		SQL: `
CREATE TABLE engagement_events (
    id          TEXT PRIMARY KEY,
    user_id     TEXT NOT NULL,
    event_type  TEXT NOT NULL,
    occurred_at INTEGER NOT NULL,
    weight      REAL NOT NULL
);
CREATE INDEX idx_events_user_time ON engagement_events(user_id, occurred_at);
CREATE INDEX idx_events_time      ON engagement_events(occurred_at);

CREATE TABLE daily_scores (
    user_id              TEXT NOT NULL,
    score_date           TEXT NOT NULL,
    raw_score            REAL NOT NULL CHECK (raw_score >= 0 AND raw_score <= 100),
    zone                 TEXT NOT NULL CHECK (zone IN ('Rising', 'Steady', 'NeedsCare')),
    insufficient_history INTEGER NOT NULL DEFAULT 0,
    events_count         INTEGER NOT NULL DEFAULT 0,
    counted_by_type      TEXT NOT NULL DEFAULT '{}',
    decayed_sum          REAL NOT NULL DEFAULT 0,
    smoothed_sum         REAL NOT NULL DEFAULT 0,
    algorithm_version    TEXT NOT NULL DEFAULT '',
    computed_at          INTEGER NOT NULL,
    PRIMARY KEY (user_id, score_date)
);
`,
	},
	{
		Version:     2,
		Description: "preferences and intervention records",
		SQL: `
CREATE TABLE user_preferences (
    user_id           TEXT PRIMARY KEY,
    max_per_day       INTEGER NOT NULL,
    preferred_hours   TEXT NOT NULL DEFAULT '[]',
    min_hours_between INTEGER NOT NULL,
    auto_optimized    INTEGER NOT NULL DEFAULT 1,
    updated_at        INTEGER NOT NULL
);

CREATE TABLE intervention_records (
    seq             INTEGER PRIMARY KEY AUTOINCREMENT,
    id              TEXT NOT NULL UNIQUE,
    user_id         TEXT NOT NULL,
    rule_id         TEXT NOT NULL,
    fired_at        INTEGER NOT NULL,
    notification_id TEXT,
    outcome         TEXT NOT NULL CHECK (outcome IN ('sent', 'suppressed', 'failed')),
    test_name       TEXT NOT NULL DEFAULT '',
    variant_id      TEXT NOT NULL DEFAULT '',
    reason          TEXT NOT NULL DEFAULT ''
);
CREATE INDEX idx_interventions_user_time    ON intervention_records(user_id, fired_at);
CREATE INDEX idx_interventions_notification ON intervention_records(notification_id);
`,
	},
	{
		Version:     3,
		Description: "effectiveness samples and variants",
		SQL: `
CREATE TABLE effectiveness_samples (
    id          INTEGER PRIMARY KEY,
    user_id     TEXT NOT NULL,
    test_name   TEXT NOT NULL,
    variant_id  TEXT NOT NULL,
    event       TEXT NOT NULL CHECK (event IN ('sent', 'opened', 'clicked', 'ignored')),
    occurred_at INTEGER NOT NULL
);
CREATE INDEX idx_samples_variant ON effectiveness_samples(test_name, variant_id, occurred_at);
CREATE INDEX idx_samples_user    ON effectiveness_samples(user_id, occurred_at);

CREATE TABLE ab_variants (
    test_name   TEXT NOT NULL,
    variant_id  TEXT NOT NULL,
    weight      REAL NOT NULL,
    base_weight REAL NOT NULL,
    updated_at  INTEGER NOT NULL,
    PRIMARY KEY (test_name, variant_id)
);
`,
	},
	{
		Version:     4,
		Description: "deep-link actions",
		SQL: `
CREATE TABLE deeplink_actions (
    seq             INTEGER PRIMARY KEY AUTOINCREMENT,
    id              TEXT NOT NULL UNIQUE,
    user_id         TEXT NOT NULL,
    action_type     TEXT NOT NULL,
    payload         TEXT NOT NULL DEFAULT '{}',
    notification_id TEXT NOT NULL DEFAULT '',
    state           TEXT NOT NULL CHECK (state IN ('pending', 'requires_context', 'dispatched', 'failed', 'superseded')),
    error           TEXT NOT NULL DEFAULT '',
    created_at      INTEGER NOT NULL,
    updated_at      INTEGER NOT NULL
);
CREATE INDEX idx_actions_user_state ON deeplink_actions(user_id, state);
`,
	},
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration.
func (s *SQLite) SchemaVersion() (int, error) {
	var v int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&v)
	return v, err
}

func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}
