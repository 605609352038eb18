// Package store is the durable tier: a sqlite database holding the hive's
// tenants, clusters, servers, players, characters, move tickets, idempotency
// keys and the append-only event log.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func initPragmas(db *sql.DB) error {
	// WAL suits the append-heavy event log; NORMAL is enough durability for
	// state that every server re-submits on conflict anyway.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tenants (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			settings_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS clusters (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			policy_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_clusters_tenant ON clusters(tenant_id);`,
		`CREATE TABLE IF NOT EXISTS servers (
			id TEXT PRIMARY KEY,
			cluster_id TEXT NOT NULL REFERENCES clusters(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			host_fingerprint TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL DEFAULT 'inactive',
			created_at TEXT NOT NULL,
			last_seen_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_servers_cluster ON servers(cluster_id);`,
		`CREATE TABLE IF NOT EXISTS players (
			id TEXT PRIMARY KEY,
			platform_uid TEXT NOT NULL UNIQUE,
			reputation INTEGER NOT NULL DEFAULT 0,
			meta_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			last_seen_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS characters (
			id TEXT PRIMARY KEY,
			player_id TEXT NOT NULL REFERENCES players(id) ON DELETE CASCADE,
			cluster_id TEXT NOT NULL REFERENCES clusters(id) ON DELETE CASCADE,
			owned_by_server TEXT,
			life_state TEXT NOT NULL DEFAULT 'alive',
			position_json TEXT,
			stats_json TEXT NOT NULL DEFAULT '{}',
			inventory_json TEXT,
			inventory_checksum TEXT,
			created_at TEXT NOT NULL,
			last_seen_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_characters_player ON characters(player_id);`,
		`CREATE INDEX IF NOT EXISTS idx_characters_cluster ON characters(cluster_id);`,
		`CREATE INDEX IF NOT EXISTS idx_characters_owner ON characters(owned_by_server);`,
		`CREATE TABLE IF NOT EXISTS move_tickets (
			id TEXT PRIMARY KEY,
			character_id TEXT NOT NULL REFERENCES characters(id) ON DELETE CASCADE,
			source_server_id TEXT,
			target_server_id TEXT,
			status TEXT NOT NULL DEFAULT 'issued',
			expires_at TEXT NOT NULL,
			created_at TEXT NOT NULL,
			redeemed_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_move_tickets_character ON move_tickets(character_id);`,
		`CREATE INDEX IF NOT EXISTS idx_move_tickets_status ON move_tickets(status);`,
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			key TEXT PRIMARY KEY,
			server_id TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_idempotency_created ON idempotency_keys(created_at);`,
		`CREATE TABLE IF NOT EXISTS events (
			rowid_seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL,
			actor TEXT,
			object_id TEXT,
			server_id TEXT,
			payload_json TEXT NOT NULL DEFAULT '{}',
			ts TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);`,
		`CREATE INDEX IF NOT EXISTS idx_events_object ON events(object_id);`,
		`CREATE INDEX IF NOT EXISTS idx_events_server ON events(server_id);`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func strOrEmpty(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
