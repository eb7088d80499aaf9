package query

import (
	"encoding/json"

	"github.com/DeusData/callgraph-mcp/internal/fact"
)

// Page is one window of a result list.
type Page struct {
	Results    []*Result `json:"results"`
	Total      int       `json:"total"`
	Offset     int       `json:"offset"`
	Limit      int       `json:"limit"`
	HasMore    bool      `json:"hasMore"`
	NextOffset *int      `json:"nextOffset"`
	Error      string    `json:"error,omitempty"`
}

// Result is one usage, with the usages of its caller when the query recursed.
type Result struct {
	fact.Usage
	Children          []*Result
	ChildrenTotal     int
	ChildrenDisplayed int
	ChildrenTruncated bool
	// ChildrenError reports a failed or depth-capped sub-query.
	ChildrenError string
	Expanded      bool
}

// MarshalJSON flattens the usage attributes and adds the child fields of expanded results.
func (r *Result) MarshalJSON() ([]byte, error) {
	m := r.Attrs()
	if r.Expanded {
		children := r.Children
		if children == nil {
			children = []*Result{}
		}
		m["_children"] = children
		m["_children_total"] = r.ChildrenTotal
		m["_children_displayed"] = r.ChildrenDisplayed
		m["_children_truncated"] = r.ChildrenTruncated
		if r.ChildrenError != "" {
			m["_children_error"] = r.ChildrenError
		}
	}
	return json.Marshal(m)
}

// Pagination describes the window applied to a list.
type Pagination struct {
	Total      int  `json:"total"`
	Offset     int  `json:"offset"`
	Limit      int  `json:"limit"`
	HasMore    bool `json:"hasMore"`
	NextOffset *int `json:"nextOffset"`
}

func paginate(total, offset, limit int) Pagination {
	offset = max(offset, 0)
	p := Pagination{Total: total, Offset: offset, Limit: limit}
	if offset+limit < total {
		p.HasMore = true
		next := offset + limit
		p.NextOffset = &next
	}
	return p
}

// window returns items[offset:offset+limit], clamped to the slice.
func window[T any](items []T, offset, limit int) []T {
	offset = max(offset, 0)
	if offset >= len(items) || limit <= 0 {
		return []T{}
	}
	end := min(offset+limit, len(items))
	return items[offset:end]
}

func newPage(usages []fact.Usage, offset, limit int) *Page {
	total := len(usages)
	p := paginate(total, offset, limit)
	slice := window(usages, offset, limit)
	results := make([]*Result, len(slice))
	for i := range slice {
		results[i] = &Result{Usage: slice[i]}
	}
	return &Page{
		Results:    results,
		Total:      total,
		Offset:     offset,
		Limit:      limit,
		HasMore:    p.HasMore,
		NextOffset: p.NextOffset,
	}
}

func errorPage(offset, limit int, msg string) *Page {
	return &Page{Results: []*Result{}, Offset: offset, Limit: limit, Error: msg}
}
