// Package sqlite implements the Shelfwise storage interfaces on SQLite.
// It is the default backend: zero-dependency deployment, WAL mode for read
// concurrency, and a single writer connection to avoid SQLITE_BUSY errors.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/shelfwise/shelfwise/internal/storage"
)

// Schema creates all engine tables. Timestamps are stored as unix seconds so
// range scans and ordering stay integer comparisons.
const Schema = `
CREATE TABLE IF NOT EXISTS media_vectors (
	media_type   TEXT NOT NULL,
	media_id     TEXT NOT NULL,
	vector       TEXT NOT NULL,
	feature_text TEXT NOT NULL DEFAULT '',
	language     TEXT NOT NULL DEFAULT '',
	genre        TEXT NOT NULL DEFAULT '',
	creator      TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	magnitude    REAL NOT NULL DEFAULT 0,
	updated_at   INTEGER NOT NULL,
	PRIMARY KEY (media_type, media_id)
);

CREATE TABLE IF NOT EXISTS similar_items (
	media_type   TEXT NOT NULL,
	media_id     TEXT NOT NULL,
	similar_type TEXT NOT NULL,
	similar_id   TEXT NOT NULL,
	score        REAL NOT NULL,
	rank         INTEGER NOT NULL,
	computed_at  INTEGER NOT NULL,
	PRIMARY KEY (media_type, media_id, similar_type, similar_id)
);

CREATE INDEX IF NOT EXISTS idx_similar_items_source_rank
	ON similar_items (media_type, media_id, rank);

CREATE TABLE IF NOT EXISTS user_interactions (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	media_type TEXT NOT NULL,
	media_id   TEXT NOT NULL,
	kind       TEXT NOT NULL,
	value      REAL NOT NULL DEFAULT 1,
	duration   REAL NOT NULL DEFAULT 0,
	progress   REAL NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_interactions_user_created
	ON user_interactions (user_id, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_interactions_item
	ON user_interactions (media_type, media_id);

CREATE INDEX IF NOT EXISTS idx_interactions_created
	ON user_interactions (created_at);

CREATE TABLE IF NOT EXISTS user_preference_profiles (
	user_id             TEXT PRIMARY KEY,
	vector              TEXT NOT NULL,
	favorite_genres     TEXT NOT NULL DEFAULT '[]',
	favorite_languages  TEXT NOT NULL DEFAULT '[]',
	interaction_count   INTEGER NOT NULL DEFAULT 0,
	avg_completion_rate REAL NOT NULL DEFAULT 0,
	updated_at          INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS recommendation_cache (
	cache_key  TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cache_expires
	ON recommendation_cache (expires_at);
`

// Store implements storage.Store using SQLite.
type Store struct {
	db *sql.DB
}

// Compile-time interface checks.
var _ storage.Store = (*Store)(nil)

// NewStore opens a SQLite database, configures WAL mode, and creates the
// schema. Use ":memory:" as the DSN for an ephemeral store in tests.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes; WAL mode lets readers proceed without blocking it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable WAL mode: %w", err)
	}

	// Wait instead of failing with SQLITE_BUSY when the connection is held
	// by another goroutine.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying connection for maintenance tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
