package store

import "fmt"

// GraphStats summarizes the node and edge tables.
type GraphStats struct {
	Nodes       int            `json:"nodes"`
	Stubs       int            `json:"stubs"`
	Edges       int            `json:"edges"`
	NodesByKind map[string]int `json:"nodes_by_kind"`
	EdgesByType map[string]int `json:"edges_by_type"`
	Packages    int            `json:"packages"`
}

// Stats returns graph-wide counts.
func (s *Store) Stats() (*GraphStats, error) {
	st := &GraphStats{}
	var err error
	if st.Nodes, err = s.CountNodes(); err != nil {
		return nil, fmt.Errorf("count nodes: %w", err)
	}
	if st.Edges, err = s.CountEdges(); err != nil {
		return nil, fmt.Errorf("count edges: %w", err)
	}
	if err = s.q.QueryRow("SELECT COUNT(*) FROM nodes WHERE uri=?", StubURI).Scan(&st.Stubs); err != nil {
		return nil, fmt.Errorf("count stubs: %w", err)
	}
	if err = s.q.QueryRow("SELECT COUNT(DISTINCT package) FROM nodes WHERE package IS NOT NULL").Scan(&st.Packages); err != nil {
		return nil, fmt.Errorf("count packages: %w", err)
	}
	if st.NodesByKind, err = s.groupCount("SELECT kind, COUNT(*) FROM nodes GROUP BY kind"); err != nil {
		return nil, err
	}
	if st.EdgesByType, err = s.groupCount("SELECT edge_type, COUNT(*) FROM edges GROUP BY edge_type"); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Store) groupCount(query string) (map[string]int, error) {
	rows, err := s.q.Query(query)
	if err != nil {
		return nil, fmt.Errorf("group count: %w", err)
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		counts[key] = n
	}
	return counts, rows.Err()
}
