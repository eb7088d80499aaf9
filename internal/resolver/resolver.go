// Package resolver maps fully-qualified symbol names to the package that
// declares them and keeps the per-package content fingerprints.
//
// The same FQN may be declared by several versions of a package. Resolution
// without an allowed-package set picks one of them arbitrarily; callers that
// need a specific version pass the versions they accept.
package resolver

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Symbol is one FQN declared by a package, with its navigable location.
type Symbol struct {
	FQN string `json:"fqn"`
	URI string `json:"uri"`
}

// Entry is a symbol index row.
type Entry struct {
	FQN     string `json:"fqn"`
	URI     string `json:"uri"`
	Package string `json:"package"`
}

// Resolver owns the symbol_index and package_fingerprints tables. It may share a
// database file with the graph store; the table sets do not overlap.
type Resolver struct {
	db *sql.DB
}

// New creates the resolver tables on db if needed.
func New(db *sql.DB) (*Resolver, error) {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS symbol_index (
		fqn TEXT NOT NULL,
		package TEXT NOT NULL,
		uri TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (fqn, package)
	);

	CREATE INDEX IF NOT EXISTS idx_symbol_index_package ON symbol_index(package);

	CREATE TABLE IF NOT EXISTS package_fingerprints (
		package TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL,
		indexed_at TEXT NOT NULL
	);
	`)
	if err != nil {
		return nil, fmt.Errorf("init resolver schema: %w", err)
	}
	return &Resolver{db: db}, nil
}

// symbolsBatchSize keeps a multi-row INSERT under SQLite's 999 bind variables (3 cols × 300 = 900).
const symbolsBatchSize = 300

// IndexPackage replaces every symbol row of pkg with symbols.
func (r *Resolver) IndexPackage(pkg string, symbols []Symbol) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM symbol_index WHERE package=?", pkg); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear package symbols: %w", err)
	}
	for i := 0; i < len(symbols); i += symbolsBatchSize {
		end := min(i+symbolsBatchSize, len(symbols))
		if err := insertSymbolChunk(tx, pkg, symbols[i:end]); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	slog.Debug("resolver.index", "package", pkg, "symbols", len(symbols))
	return nil
}

func insertSymbolChunk(tx *sql.Tx, pkg string, batch []Symbol) error {
	var sb strings.Builder
	sb.WriteString(`INSERT OR REPLACE INTO symbol_index (fqn, package, uri) VALUES `)
	args := make([]any, 0, len(batch)*3)
	for i, s := range batch {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString("(?,?,?)")
		args = append(args, s.FQN, pkg, s.URI)
	}
	if _, err := tx.Exec(sb.String(), args...); err != nil {
		return fmt.Errorf("insert symbol batch: %w", err)
	}
	return nil
}

// ResolveBatch maps each known FQN to its package with one query. When allowed is
// non-empty only those packages are eligible. FQNs with no eligible entry are
// absent from the result.
func (r *Resolver) ResolveBatch(fqns []string, allowed []string) (map[string]string, error) {
	result := make(map[string]string, len(fqns))
	if len(fqns) == 0 {
		return result, nil
	}

	// json_each keeps the statement at one or two bind variables whatever the batch size.
	fqnJSON, err := json.Marshal(fqns)
	if err != nil {
		return nil, fmt.Errorf("encode fqns: %w", err)
	}
	query := `SELECT fqn, package FROM symbol_index WHERE fqn IN (SELECT value FROM json_each(?))`
	args := []any{string(fqnJSON)}
	if len(allowed) > 0 {
		allowedJSON, err := json.Marshal(allowed)
		if err != nil {
			return nil, fmt.Errorf("encode allowed packages: %w", err)
		}
		query += ` AND package IN (SELECT value FROM json_each(?))`
		args = append(args, string(allowedJSON))
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("resolve batch: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var fqn, pkg string
		if err := rows.Scan(&fqn, &pkg); err != nil {
			return nil, err
		}
		result[fqn] = pkg
	}
	return result, rows.Err()
}

// Lookup returns every entry for fqn, one per declaring package.
func (r *Resolver) Lookup(fqn string) ([]Entry, error) {
	rows, err := r.db.Query(`SELECT fqn, uri, package FROM symbol_index WHERE fqn=? ORDER BY package`, fqn)
	if err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Entries returns every entry owned by pkg.
func (r *Resolver) Entries(pkg string) ([]Entry, error) {
	rows, err := r.db.Query(`SELECT fqn, uri, package FROM symbol_index WHERE package=? ORDER BY fqn`, pkg)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var result []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.FQN, &e.URI, &e.Package); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// Fingerprint returns the content hash recorded for pkg by its last index run.
func (r *Resolver) Fingerprint(pkg string) (string, bool, error) {
	var hash string
	err := r.db.QueryRow("SELECT content_hash FROM package_fingerprints WHERE package=?", pkg).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read fingerprint: %w", err)
	}
	return hash, true, nil
}

// RecordFingerprint stores hash as the fingerprint pkg was last indexed with.
func (r *Resolver) RecordFingerprint(pkg, hash string) error {
	_, err := r.db.Exec(`
		INSERT INTO package_fingerprints (package, content_hash, indexed_at) VALUES (?, ?, ?)
		ON CONFLICT(package) DO UPDATE SET content_hash=excluded.content_hash, indexed_at=excluded.indexed_at`,
		pkg, hash, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record fingerprint: %w", err)
	}
	return nil
}
