package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Querier abstracts *sql.DB and *sql.Tx so store methods work in both contexts.
type Querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Store wraps a SQLite connection holding the node and edge tables.
type Store struct {
	db     *sql.DB
	q      Querier // active querier: db or tx
	dbPath string
}

// DataDir returns the default data directory, creating it if needed.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	dir := filepath.Join(home, ".cache", "callgraph-mcp")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir data dir: %w", err)
	}
	return dir, nil
}

// OpenPath opens a SQLite database at the given path.
// WAL mode lets readers see either the pre- or post-commit state of a batch, never a partial one.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return newStore(db, dbPath)
}

// OpenMemory opens an in-memory SQLite database (for testing).
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	// every pooled connection to :memory: would otherwise see its own empty database
	db.SetMaxOpenConns(1)
	return newStore(db, ":memory:")
}

func newStore(db *sql.DB, dbPath string) (*Store, error) {
	s := &Store{db: db, dbPath: dbPath}
	s.q = s.db
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// WithTransaction executes fn within a single SQLite transaction.
// The callback receives a transaction-scoped Store. The receiver's q field is
// never mutated, so concurrent readers using s.q == s.db are unaffected.
func (s *Store) WithTransaction(fn func(txStore *Store) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txStore := &Store{db: s.db, q: tx, dbPath: s.dbPath}
	if err := fn(txStore); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// atomic runs fn in the current transaction, or opens one when s is not tx-scoped.
func (s *Store) atomic(fn func(txStore *Store) error) error {
	if _, ok := s.q.(*sql.Tx); ok {
		return fn(s)
	}
	return s.WithTransaction(fn)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying sql.DB. The resolver keeps its own tables in the same file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database path, ":memory:" for in-memory stores.
func (s *Store) Path() string {
	return s.dbPath
}

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS nodes (
		fqn TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		package TEXT,
		line INTEGER,
		uri TEXT NOT NULL DEFAULT 'unknown',
		properties TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_package ON nodes(package);
	CREATE INDEX IF NOT EXISTS idx_nodes_kind ON nodes(kind);

	CREATE TABLE IF NOT EXISTS edges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		edge_type TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT '',
		from_fqn TEXT NOT NULL,
		to_fqn TEXT NOT NULL,
		from_package TEXT,
		to_package TEXT,
		line INTEGER,
		properties TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(from_fqn, edge_type);
	CREATE INDEX IF NOT EXISTS idx_edges_to ON edges(to_fqn, edge_type);
	CREATE INDEX IF NOT EXISTS idx_edges_type ON edges(edge_type);

	CREATE TABLE IF NOT EXISTS edge_annotations (
		edge_id INTEGER NOT NULL REFERENCES edges(id) ON DELETE CASCADE,
		annotation TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_edge_annotations ON edge_annotations(edge_id);
	`

func (s *Store) initSchema() error {
	_, err := s.db.Exec(schemaSQL)
	return err
}

// Reset drops and recreates the graph tables. Only full rebuilds use it.
func (s *Store) Reset() error {
	return s.WithTransaction(func(tx *Store) error {
		for _, table := range []string{"edge_annotations", "edges", "nodes"} {
			if _, err := tx.q.Exec("DROP TABLE IF EXISTS " + table); err != nil {
				return fmt.Errorf("drop %s: %w", table, err)
			}
		}
		if _, err := tx.q.Exec(schemaSQL); err != nil {
			return fmt.Errorf("recreate schema: %w", err)
		}
		return nil
	})
}

// marshalProps encodes a fact's Extra map. Empty maps are stored as NULL.
func marshalProps(props map[string]any) any {
	if len(props) == 0 {
		return nil
	}
	b, err := json.Marshal(props)
	if err != nil {
		return nil
	}
	return string(b)
}

func unmarshalProps(data sql.NullString) map[string]any {
	if !data.Valid || data.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(data.String), &m); err != nil || len(m) == 0 {
		return nil
	}
	return m
}

// Now returns the current time in ISO 8601 format.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}
