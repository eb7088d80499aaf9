package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/DeusData/callgraph-mcp/internal/fact"
)

// Edges carry no uniqueness key: re-running an extraction pass appends the
// same relationships again and readers see them as a multiset.

const edgeCols = "edge_type, kind, from_fqn, to_fqn, from_package, to_package, line, properties"

// AddEdge inserts one edge together with its annotations. With autoStub the
// endpoints are created as stub nodes first: the source as a method, the
// target with the kind InferKind guesses.
func (s *Store) AddEdge(e *fact.Edge, autoStub bool) (int64, error) {
	var id int64
	err := s.atomic(func(tx *Store) error {
		if autoStub {
			if _, err := tx.EnsureStub(e.From, fact.KindMethod); err != nil {
				return err
			}
			if _, err := tx.EnsureStub(e.To, InferKind(e.To)); err != nil {
				return err
			}
		}
		var err error
		id, err = tx.insertEdge(e)
		return err
	})
	return id, err
}

func (s *Store) insertEdge(e *fact.Edge) (int64, error) {
	res, err := s.q.Exec(`INSERT INTO edges (`+edgeCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, edgeArgs(e)...)
	if err != nil {
		return 0, fmt.Errorf("insert edge: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := s.annotate(id, e.Annotations); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) annotate(edgeID int64, annotations []string) error {
	for _, a := range annotations {
		if _, err := s.q.Exec(`INSERT INTO edge_annotations (edge_id, annotation) VALUES (?, ?)`, edgeID, a); err != nil {
			return fmt.Errorf("insert annotation: %w", err)
		}
	}
	return nil
}

// edgesBatchSize is the max rows per batch INSERT for edges (8 cols × 120 = 960 vars < 999).
const edgesBatchSize = 120

// AddEdges inserts edges in a single transaction. Stubs for all endpoints are
// created up front with one deduplicated batch.
func (s *Store) AddEdges(edges []*fact.Edge, autoStub bool) error {
	if len(edges) == 0 {
		return nil
	}
	return s.atomic(func(tx *Store) error {
		if autoStub {
			if err := tx.UpsertNodes(stubsFor(edges), false); err != nil {
				return err
			}
		}
		// ids follow input order: pending plain rows are flushed before each annotated edge
		plain := make([]*fact.Edge, 0, min(len(edges), edgesBatchSize))
		flush := func() error {
			if len(plain) == 0 {
				return nil
			}
			err := tx.insertEdgeChunk(plain)
			plain = plain[:0]
			return err
		}
		for _, e := range edges {
			if len(e.Annotations) > 0 {
				if err := flush(); err != nil {
					return err
				}
				// annotated edges need their own row id
				if _, err := tx.insertEdge(e); err != nil {
					return err
				}
				continue
			}
			plain = append(plain, e)
			if len(plain) == edgesBatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return flush()
	})
}

func stubsFor(edges []*fact.Edge) []*fact.Node {
	seen := make(map[string]bool, len(edges)*2)
	stubs := make([]*fact.Node, 0, len(edges)*2)
	add := func(fqn, kind string) {
		if seen[fqn] {
			return
		}
		seen[fqn] = true
		stubs = append(stubs, stubNode(fqn, kind))
	}
	for _, e := range edges {
		add(e.From, fact.KindMethod)
		add(e.To, InferKind(e.To))
	}
	return stubs
}

func (s *Store) insertEdgeChunk(batch []*fact.Edge) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO edges (` + edgeCols + `) VALUES `)
	args := make([]any, 0, len(batch)*8)
	for i, e := range batch {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString("(?,?,?,?,?,?,?,?)")
		args = append(args, edgeArgs(e)...)
	}
	if _, err := s.q.Exec(sb.String(), args...); err != nil {
		return fmt.Errorf("insert edge batch: %w", err)
	}
	return nil
}

func edgeArgs(e *fact.Edge) []any {
	return []any{e.Type, strings.ToLower(e.Kind), e.From, e.To, nullString(e.FromPackage), nullString(e.ToPackage), nullInt(e.Line), marshalProps(e.Extra)}
}

// EdgesFrom returns edges leaving fqn, optionally restricted to one edge type.
func (s *Store) EdgesFrom(fqn, edgeType string) ([]*fact.Edge, error) {
	return s.findEdges("from_fqn", fqn, edgeType)
}

// EdgesTo returns edges arriving at fqn, optionally restricted to one edge type.
func (s *Store) EdgesTo(fqn, edgeType string) ([]*fact.Edge, error) {
	return s.findEdges("to_fqn", fqn, edgeType)
}

func (s *Store) findEdges(col, fqn, edgeType string) ([]*fact.Edge, error) {
	query := `SELECT id, ` + edgeCols + ` FROM edges WHERE ` + col + `=?`
	args := []any{fqn}
	if edgeType != "" {
		query += ` AND edge_type=?`
		args = append(args, edgeType)
	}
	rows, err := s.q.Query(query+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("find edges: %w", err)
	}
	edges, err := scanEdges(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if err := s.loadAnnotations(edges); err != nil {
		return nil, err
	}
	return edges, nil
}

func (s *Store) loadAnnotations(edges []*fact.Edge) error {
	for _, e := range edges {
		rows, err := s.q.Query(`SELECT annotation FROM edge_annotations WHERE edge_id=? ORDER BY rowid`, e.ID)
		if err != nil {
			return fmt.Errorf("load annotations: %w", err)
		}
		for rows.Next() {
			var a string
			if err := rows.Scan(&a); err != nil {
				rows.Close()
				return err
			}
			e.Annotations = append(e.Annotations, a)
		}
		rows.Close()
	}
	return nil
}

// CountEdges returns the number of edges.
func (s *Store) CountEdges() (int, error) {
	var count int
	err := s.q.QueryRow("SELECT COUNT(*) FROM edges").Scan(&count)
	return count, err
}

func scanEdges(rows *sql.Rows) ([]*fact.Edge, error) {
	var result []*fact.Edge
	for rows.Next() {
		var e fact.Edge
		var fromPkg, toPkg, props sql.NullString
		var line sql.NullInt64
		if err := rows.Scan(&e.ID, &e.Type, &e.Kind, &e.From, &e.To, &fromPkg, &toPkg, &line, &props); err != nil {
			return nil, err
		}
		e.FromPackage = fromPkg.String
		e.ToPackage = toPkg.String
		e.Line = int(line.Int64)
		e.Extra = unmarshalProps(props)
		result = append(result, &e)
	}
	return result, rows.Err()
}
