package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// SQLite stores documents in a single SQLite file.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates a document store at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open doc db: %w", err)
	}
	return newSQLite(db, path)
}

// OpenSQLiteMemory opens an in-memory document store (for testing).
func OpenSQLiteMemory() (*SQLite, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open memory doc db: %w", err)
	}
	db.SetMaxOpenConns(1)
	return newSQLite(db, ":memory:")
}

// OpenSQLiteReadOnly opens an existing store without write access. Dependency
// caches are opened this way so a merge never modifies them.
func OpenSQLiteReadOnly(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open doc db read-only: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open doc db read-only: %w", err)
	}
	return &SQLite{db: db, path: path}, nil
}

func newSQLite(db *sql.DB, path string) (*SQLite, error) {
	s := &SQLite{db: db, path: path}
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS documents (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		text TEXT NOT NULL DEFAULT '',
		attrs TEXT NOT NULL DEFAULT '{}',
		vector BLOB
	);

	CREATE TABLE IF NOT EXISTS doc_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init doc schema: %w", err)
	}
	return s, nil
}

// Path returns the store location.
func (s *SQLite) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// docsBatchSize is the max rows per batch INSERT (4 cols × 240 = 960 vars < 999).
const docsBatchSize = 240

// AddBatch inserts records in one transaction.
func (s *SQLite) AddBatch(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	for i := 0; i < len(records); i += docsBatchSize {
		end := min(i+docsBatchSize, len(records))
		if err := insertDocChunk(tx, records[i:end]); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertDocChunk(tx *sql.Tx, batch []Record) error {
	var sb strings.Builder
	sb.WriteString(`INSERT OR IGNORE INTO documents (id, text, attrs, vector) VALUES `)
	args := make([]any, 0, len(batch)*4)
	for i, r := range batch {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString("(?,?,?,?)")
		attrs, err := json.Marshal(r.Attrs)
		if err != nil {
			return fmt.Errorf("encode attrs of %s: %w", r.ID, err)
		}
		args = append(args, r.ID, r.Text, string(attrs), encodeVector(r.Vector))
	}
	if _, err := tx.Exec(sb.String(), args...); err != nil {
		return fmt.Errorf("insert doc batch: %w", err)
	}
	return nil
}

var attrKey = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

func whereClause(where Filter) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}
	keys := make([]string, 0, len(where))
	for k := range where {
		if !attrKey.MatchString(k) {
			return "", nil, fmt.Errorf("%w: attribute %q", ErrUnsupportedFilter, k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	conds := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		v := where[k]
		if b, ok := v.(bool); ok {
			// json_extract yields 1/0 for JSON booleans
			v = 0
			if b {
				v = 1
			}
		}
		conds = append(conds, "json_extract(attrs, '$."+k+"') = ?")
		args = append(args, v)
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// Get returns matching records ordered by insertion.
func (s *SQLite) Get(where Filter, limit, offset int) ([]Record, error) {
	clause, args, err := whereClause(where)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`SELECT id, text, attrs, vector FROM documents`+clause+` ORDER BY seq LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("get documents: %w", err)
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		var r Record
		var attrs string
		var vec []byte
		if err := rows.Scan(&r.ID, &r.Text, &attrs, &vec); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(attrs), &r.Attrs); err != nil {
			slog.Warn("docstore.attrs.decode", "id", r.ID, "err", err)
			r.Attrs = map[string]any{}
		}
		if r.Vector, err = decodeVector(vec); err != nil {
			slog.Warn("docstore.vector.decode", "id", r.ID, "err", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// Count returns the number of matching records.
func (s *SQLite) Count(where Filter) (int, error) {
	clause, args, err := whereClause(where)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM documents`+clause, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// Meta returns a collection metadata value.
func (s *SQLite) Meta(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM doc_meta WHERE key=?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read meta: %w", err)
	}
	return v, true, nil
}

// SetMeta stores a collection metadata value.
func (s *SQLite) SetMeta(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO doc_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	return nil
}

// Empty reports whether the store holds no documents.
func (s *SQLite) Empty() (bool, error) {
	n, err := s.Count(nil)
	return n == 0, err
}

// ReplicateFrom bulk-copies the store at path with ATTACH DATABASE and
// INSERT..SELECT, skipping per-row decoding.
func (s *SQLite) ReplicateFrom(path string) error {
	ctx := context.Background()
	// ATTACH is per connection, so the whole copy runs on one.
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "ATTACH DATABASE ? AS src", path); err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(ctx, "DETACH DATABASE src")
	}()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.Exec(`INSERT OR IGNORE INTO main.documents (id, text, attrs, vector)
		SELECT id, text, attrs, vector FROM src.documents ORDER BY seq`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("copy documents: %w", err)
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO main.doc_meta (key, value) SELECT key, value FROM src.doc_meta`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("copy meta: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	var src, dst int
	_ = conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM src.documents").Scan(&src)
	_ = conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM main.documents").Scan(&dst)
	if dst < src {
		return fmt.Errorf("document count mismatch: src=%d dst=%d", src, dst)
	}
	slog.Info("docstore.replicate", "from", path, "documents", src)
	return nil
}
