package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/DeusData/callgraph-mcp/internal/fact"
)

// StubURI marks nodes that were created as placeholders for edge endpoints.
const StubURI = "unknown"

const nodeCols = "fqn, kind, name, package, line, uri, properties"

// UpsertNode writes a node. With updateIfExists=false an existing row wins and
// the call is a no-op; with updateIfExists=true the new row replaces it.
// Reports whether the FQN was absent before the call.
func (s *Store) UpsertNode(n *fact.Node, updateIfExists bool) (bool, error) {
	if !updateIfExists {
		res, err := s.q.Exec(`INSERT OR IGNORE INTO nodes (`+nodeCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)`, nodeArgs(n)...)
		if err != nil {
			return false, fmt.Errorf("insert node: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		return affected == 1, nil
	}

	var inserted bool
	err := s.atomic(func(tx *Store) error {
		exists, err := tx.HasNode(n.FQN)
		if err != nil {
			return err
		}
		inserted = !exists
		_, err = tx.q.Exec(`INSERT OR REPLACE INTO nodes (`+nodeCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)`, nodeArgs(n)...)
		if err != nil {
			return fmt.Errorf("replace node: %w", err)
		}
		return nil
	})
	return inserted, err
}

// EnsureStub inserts a placeholder node for fqn unless one already exists.
func (s *Store) EnsureStub(fqn, kind string) (bool, error) {
	return s.UpsertNode(stubNode(fqn, kind), false)
}

func stubNode(fqn, kind string) *fact.Node {
	return &fact.Node{FQN: fqn, Kind: kind, URI: StubURI}
}

// HasNode reports whether a node exists for fqn.
func (s *Store) HasNode(fqn string) (bool, error) {
	var one int
	err := s.q.QueryRow("SELECT 1 FROM nodes WHERE fqn=?", fqn).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has node: %w", err)
	}
	return true, nil
}

// FindNode returns the node for fqn, or nil when absent.
func (s *Store) FindNode(fqn string) (*fact.Node, error) {
	row := s.q.QueryRow(`SELECT fqn, kind, package, line, uri, properties FROM nodes WHERE fqn=?`, fqn)
	n, err := scanNode(row)
	if err != nil {
		return nil, fmt.Errorf("find node: %w", err)
	}
	return n, nil
}

// FindNodesByPackage returns every node owned by pkg.
func (s *Store) FindNodesByPackage(pkg string) ([]*fact.Node, error) {
	rows, err := s.q.Query(`SELECT fqn, kind, package, line, uri, properties FROM nodes WHERE package=? ORDER BY fqn`, pkg)
	if err != nil {
		return nil, fmt.Errorf("find nodes by package: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// CountNodes returns the number of nodes.
func (s *Store) CountNodes() (int, error) {
	var count int
	err := s.q.QueryRow("SELECT COUNT(*) FROM nodes").Scan(&count)
	return count, err
}

// nodesBatchSize keeps a multi-row INSERT under SQLite's 999 bind variables (7 cols × 140 = 980).
const nodesBatchSize = 140

// UpsertNodes writes nodes in one transaction using multi-row INSERTs.
func (s *Store) UpsertNodes(nodes []*fact.Node, updateIfExists bool) error {
	if len(nodes) == 0 {
		return nil
	}
	return s.atomic(func(tx *Store) error {
		for i := 0; i < len(nodes); i += nodesBatchSize {
			end := min(i+nodesBatchSize, len(nodes))
			if err := tx.insertNodeChunk(nodes[i:end], updateIfExists); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) insertNodeChunk(batch []*fact.Node, replace bool) error {
	var sb strings.Builder
	if replace {
		sb.WriteString(`INSERT OR REPLACE INTO nodes (` + nodeCols + `) VALUES `)
	} else {
		sb.WriteString(`INSERT OR IGNORE INTO nodes (` + nodeCols + `) VALUES `)
	}
	args := make([]any, 0, len(batch)*7)
	for i, n := range batch {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString("(?,?,?,?,?,?,?)")
		args = append(args, nodeArgs(n)...)
	}
	if _, err := s.q.Exec(sb.String(), args...); err != nil {
		return fmt.Errorf("insert node batch: %w", err)
	}
	return nil
}

func nodeArgs(n *fact.Node) []any {
	uri := n.URI
	if uri == "" {
		uri = StubURI
	}
	kind := n.Kind
	if kind == "" {
		kind = InferKind(n.FQN)
	}
	return []any{n.FQN, kind, shortName(n.FQN), nullString(n.Package), nullInt(n.Line), uri, marshalProps(n.Extra)}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(row scanner) (*fact.Node, error) {
	var n fact.Node
	var pkg, props sql.NullString
	var line sql.NullInt64
	if err := row.Scan(&n.FQN, &n.Kind, &pkg, &line, &n.URI, &props); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	n.Package = pkg.String
	n.Line = int(line.Int64)
	n.Extra = unmarshalProps(props)
	return &n, nil
}

func scanNodes(rows *sql.Rows) ([]*fact.Node, error) {
	var result []*fact.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}
