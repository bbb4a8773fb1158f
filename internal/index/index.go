// Package index implements the queryable SQLite projection of the durable
// file artifacts: one table each for contexts, nodes, runs and links, every
// row tagged with the owning context. The files are canonical; the index
// exists to make recall fast and is the only side that is ever rebuilt.
package index

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite index database.
type DB struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens (or creates) the index database at the given path and applies
// the schema.
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("index opened", "path", dbPath)
	return d, nil
}

func (d *DB) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS contexts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			scope TEXT NOT NULL,
			parent_id TEXT,
			scope_path TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contexts_parent ON contexts(parent_id)`,
		`CREATE TABLE IF NOT EXISTS nodes (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			title TEXT NOT NULL,
			status TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			context_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(type)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_status ON nodes(status)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_context ON nodes(context_id)`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			ts TEXT NOT NULL,
			agent_id TEXT NOT NULL DEFAULT '',
			goal TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '[]',
			context_id TEXT NOT NULL,
			payload TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_ts ON runs(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_context ON runs(context_id)`,
		`CREATE TABLE IF NOT EXISTS links (
			run_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (run_id, node_id)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := d.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}

// ContextRow is the index projection of a context.
type ContextRow struct {
	ID        string
	Name      string
	Scope     string
	ParentID  string
	ScopePath string
	Metadata  map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NodeRow is the denormalized index projection of a knowledge node.
type NodeRow struct {
	ID        string
	Type      string
	Title     string
	Status    string
	Tags      []string
	ContextID string
	Payload   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RunRow is the denormalized index projection of a run checkpoint.
type RunRow struct {
	RunID     string
	Timestamp time.Time
	AgentID   string
	Goal      string
	Status    string
	Summary   string
	Tags      []string
	ContextID string
	Payload   string
}

// LinkRow associates a run checkpoint with a knowledge node.
type LinkRow struct {
	RunID     string
	NodeID    string
	CreatedAt time.Time
}

const timeLayout = time.RFC3339Nano

func encodeTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func decodeTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// inClause builds a "(?,?,...)" placeholder list plus its args.
func inClause(ids []string) (string, []any) {
	ph := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		ph[i] = "?"
		args[i] = id
	}
	return "(" + strings.Join(ph, ",") + ")", args
}
