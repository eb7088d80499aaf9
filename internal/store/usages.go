package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/DeusData/callgraph-mcp/internal/fact"
)

// UsageDeclaration is the usage type under which nodes are reported as declarations.
const UsageDeclaration = "declaration"

// ErrUnsupportedFilter is returned when a usage filter names an attribute the
// graph tables cannot evaluate.
var ErrUnsupportedFilter = errors.New("unsupported filter attribute")

var edgeFilterCols = map[string]string{
	fact.AttrCalleeSymbol: "e.to_fqn",
	fact.AttrCalleeFQN:    "e.to_fqn",
	fact.AttrCallerSymbol: "e.from_fqn",
	fact.AttrCallerFQN:    "e.from_fqn",
	fact.AttrUsageType:    "e.edge_type",
	fact.AttrModule:       "e.from_package",
	"kind":                "e.kind",
}

var nodeFilterCols = map[string]string{
	fact.AttrCalleeSymbol: "fqn",
	fact.AttrCalleeFQN:    "fqn",
	fact.AttrModule:       "package",
	fact.AttrCalleeKind:   "kind",
}

// Usages reads the graph as usage records so the query engine can run on it
// directly. Edges map to their edge type; nodes are reported under
// UsageDeclaration. where is an equality conjunction over usage attributes.
func (s *Store) Usages(where map[string]any, limit, offset int) ([]fact.Usage, error) {
	if where[fact.AttrUsageType] == UsageDeclaration {
		return s.declarations(where, limit, offset)
	}
	clause, args, err := buildWhere(where, edgeFilterCols)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT e.id, e.edge_type, e.kind, e.from_fqn, e.to_fqn, e.from_package, e.to_package, e.line, e.properties,
			COALESCE(f.uri, ''), COALESCE(f.kind, ''), COALESCE(t.uri, ''), COALESCE(t.kind, ''), COALESCE(t.line, 0)
		FROM edges e
		LEFT JOIN nodes f ON f.fqn = e.from_fqn
		LEFT JOIN nodes t ON t.fqn = e.to_fqn` + clause + `
		ORDER BY e.id LIMIT ? OFFSET ?`
	rows, err := s.q.Query(query, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("query edge usages: %w", err)
	}
	defer rows.Close()

	var result []fact.Usage
	for rows.Next() {
		var (
			id                int64
			edgeType, kind    string
			from, to          string
			fromPkg, toPkg    *string
			line              *int64
			props             sql.NullString
			fromURI, fromKind string
			toURI, toKind     string
			toLine            int
		)
		if err := rows.Scan(&id, &edgeType, &kind, &from, &to, &fromPkg, &toPkg, &line, &props,
			&fromURI, &fromKind, &toURI, &toKind, &toLine); err != nil {
			return nil, err
		}
		u := fact.Usage{
			UsageType:    edgeType,
			CallerURI:    fromURI,
			CallerSymbol: from,
			CallerKind:   fromKind,
			CallerFQN:    from,
			CalleeURI:    toURI,
			CalleeLine:   toLine,
			CalleeSymbol: to,
			CalleeKind:   toKind,
			CalleeFQN:    to,
			Source:       "graph",
			Extra:        map[string]any{"edgeId": id, "kind": kind},
		}
		if line != nil {
			u.CallerLine = int(*line)
		}
		if fromPkg != nil {
			u.Module = *fromPkg
		}
		if toPkg != nil {
			u.Extra["toPackage"] = *toPkg
		}
		for k, v := range unmarshalProps(props) {
			if _, ok := u.Extra[k]; !ok {
				u.Extra[k] = v
			}
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (s *Store) declarations(where map[string]any, limit, offset int) ([]fact.Usage, error) {
	rest := make(map[string]any, len(where))
	for k, v := range where {
		if k != fact.AttrUsageType {
			rest[k] = v
		}
	}
	clause, args, err := buildWhere(rest, nodeFilterCols)
	if err != nil {
		return nil, err
	}
	rows, err := s.q.Query(`SELECT fqn, kind, package, line, uri, properties FROM nodes`+clause+` ORDER BY fqn LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("query declarations: %w", err)
	}
	defer rows.Close()
	nodes, err := scanNodes(rows)
	if err != nil {
		return nil, err
	}
	result := make([]fact.Usage, 0, len(nodes))
	for _, n := range nodes {
		result = append(result, fact.Usage{
			UsageType:    UsageDeclaration,
			CalleeURI:    n.URI,
			CalleeLine:   n.Line,
			CalleeSymbol: n.FQN,
			CalleeKind:   n.Kind,
			CalleeFQN:    n.FQN,
			Module:       n.Package,
			Source:       "graph",
			Extra:        n.Extra,
		})
	}
	return result, nil
}

func buildWhere(where map[string]any, cols map[string]string) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conds := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		col, ok := cols[k]
		if !ok {
			return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedFilter, k)
		}
		conds = append(conds, col+"=?")
		args = append(args, where[k])
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}
