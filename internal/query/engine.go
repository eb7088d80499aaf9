// Package query answers usage, callee, definition, file and impact questions
// over a usage source. Queries are read-only; a failing sub-query yields an
// empty page carrying the error instead of aborting its siblings.
package query

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/DeusData/callgraph-mcp/internal/fact"
	"github.com/DeusData/callgraph-mcp/internal/metrics"
)

// Engine runs queries against one Source.
type Engine struct {
	src  Source
	opts Options
}

// New returns an Engine over src.
func New(src Source, opts Options) *Engine {
	return &Engine{src: src, opts: opts.withDefaults()}
}

// Options returns the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// UsageQuery parameterizes FindUsages.
type UsageQuery struct {
	Symbol    string
	UsageType string
	// Module restricts results to one module by equality.
	Module string
	// ModulePrefix keeps only results whose module starts with it.
	ModulePrefix     string
	ExcludeGenerated bool
	Offset           int
	Limit            int
	// Depth: 0 never recurses, -1 recurses until MaxDepth, n > 0 recurses n levels.
	Depth               int
	MaxChildrenPerLevel int
	MaxDepth            int
}

// FindUsages returns who uses q.Symbol. With recursion, each paginated result
// carries the usages of its caller; a symbol is expanded at most once per call tree.
func (e *Engine) FindUsages(q UsageQuery) *Page {
	defer observe("find_usages", time.Now())
	if q.Limit <= 0 {
		q.Limit = 20
	}
	q.Offset = max(q.Offset, 0)
	if q.MaxChildrenPerLevel <= 0 {
		q.MaxChildrenPerLevel = 10
	}
	if q.MaxDepth <= 0 {
		q.MaxDepth = e.opts.MaxDepth
	}
	return e.findUsages(q, make(map[string]struct{}), 0)
}

func (e *Engine) findUsages(q UsageQuery, visited map[string]struct{}, depth int) *Page {
	if depth >= q.MaxDepth {
		return errorPage(0, q.Limit, fmt.Sprintf("Max depth %d reached", q.MaxDepth))
	}

	recurse := false
	switch {
	case q.Depth == -1:
		recurse = depth < q.MaxDepth
	case q.Depth > 0:
		recurse = depth < q.Depth
	}

	where := map[string]any{fact.AttrCalleeSymbol: q.Symbol}
	if q.UsageType != "" {
		where[fact.AttrUsageType] = q.UsageType
	}
	if q.Module != "" {
		where[fact.AttrModule] = q.Module
	}

	fetch := q.Offset + q.Limit
	postFilter := q.ExcludeGenerated || q.ModulePrefix != ""
	if postFilter {
		fetch *= 3
	}
	usages, err := e.fetch(where, fetch)
	if err != nil {
		return e.absorb("find_usages", q.Offset, q.Limit, err)
	}
	if postFilter {
		usages = e.keep(usages, q)
	}

	page := newPage(usages, q.Offset, q.Limit)
	if !recurse {
		return page
	}
	for _, r := range page.Results {
		caller := r.CallerSymbol
		if caller == "" {
			continue
		}
		if _, seen := visited[caller]; seen {
			continue
		}
		visited[caller] = struct{}{}

		child := q
		child.Symbol = caller
		child.Offset = 0
		child.Limit = q.MaxChildrenPerLevel
		sub := e.findUsages(child, visited, depth+1)

		r.Expanded = true
		r.Children = sub.Results
		r.ChildrenTotal = sub.Total
		r.ChildrenDisplayed = len(sub.Results)
		r.ChildrenTruncated = sub.Total > len(sub.Results)
		r.ChildrenError = sub.Error
	}
	return page
}

// fetch reads up to n rows. When n rows come back the window may be cut short,
// so it is widened to MaxFetch to keep totals exact up to the cap.
func (e *Engine) fetch(where map[string]any, n int) ([]fact.Usage, error) {
	n = min(n, e.opts.MaxFetch)
	usages, err := e.src.Usages(where, n, 0)
	if err != nil {
		return nil, err
	}
	if len(usages) == n && n < e.opts.MaxFetch {
		return e.src.Usages(where, e.opts.MaxFetch, 0)
	}
	return usages, nil
}

func (e *Engine) keep(usages []fact.Usage, q UsageQuery) []fact.Usage {
	out := usages[:0:0]
	for _, u := range usages {
		if q.ExcludeGenerated && e.generated(u.CallerURI) {
			continue
		}
		if q.ModulePrefix != "" && !strings.HasPrefix(u.Module, q.ModulePrefix) {
			continue
		}
		out = append(out, u)
	}
	return out
}

func (e *Engine) generated(uri string) bool {
	for _, m := range e.opts.GeneratedMarkers {
		if strings.Contains(uri, m) {
			return true
		}
	}
	for _, m := range e.opts.ExternalMarkers {
		if strings.Contains(uri, m) {
			return true
		}
	}
	return false
}

func (e *Engine) absorb(op string, offset, limit int, err error) *Page {
	metrics.QueryErrors.WithLabelValues(op).Inc()
	slog.Warn("query.source.err", "op", op, "err", err)
	return errorPage(offset, limit, err.Error())
}

// FindCallers returns the call usages of symbol.
func (e *Engine) FindCallers(symbol string, offset, limit int) *Page {
	return e.FindUsages(UsageQuery{Symbol: symbol, UsageType: e.opts.CallType, ExcludeGenerated: true, Offset: offset, Limit: limit})
}

// FindCallees returns the calls made by symbol.
func (e *Engine) FindCallees(symbol string, offset, limit int) *Page {
	defer observe("find_callees", time.Now())
	if limit <= 0 {
		limit = 20
	}
	offset = max(offset, 0)
	where := map[string]any{fact.AttrCallerSymbol: symbol, fact.AttrUsageType: e.opts.CallType}
	usages, err := e.fetch(where, offset+limit)
	if err != nil {
		return e.absorb("find_callees", offset, limit, err)
	}
	return newPage(usages, offset, limit)
}

// definitionLimit bounds the declarations returned for one symbol (overloads).
const definitionLimit = 100

// GetDefinition returns the declarations of symbol. Overloads yield several rows.
func (e *Engine) GetDefinition(symbol string) *Page {
	defer observe("get_definition", time.Now())
	where := map[string]any{fact.AttrCalleeSymbol: symbol, fact.AttrUsageType: e.opts.DeclarationType}
	usages, err := e.src.Usages(where, definitionLimit, 0)
	if err != nil {
		return e.absorb("get_definition", 0, definitionLimit, err)
	}
	return newPage(usages, 0, definitionLimit)
}

// SearchByFile returns usages whose caller location contains path, ordered by line.
func (e *Engine) SearchByFile(path string, offset, limit int) *Page {
	defer observe("search_by_file", time.Now())
	if limit <= 0 {
		limit = 50
	}
	offset = max(offset, 0)
	all, err := e.src.Usages(nil, e.opts.MaxFetch, 0)
	if err != nil {
		return e.absorb("search_by_file", offset, limit, err)
	}
	var matching []fact.Usage
	for _, u := range all {
		if strings.Contains(u.CallerURI, path) {
			matching = append(matching, u)
		}
	}
	sort.SliceStable(matching, func(i, j int) bool {
		return matching[i].CallerLine < matching[j].CallerLine
	})
	return newPage(matching, offset, limit)
}

// Stats summarizes the usages of one module, or of the whole source.
type Stats struct {
	Total      int            `json:"total"`
	UsageTypes map[string]int `json:"usage_types"`
	Sources    map[string]int `json:"sources"`
	Modules    map[string]int `json:"modules"`
	// Capped is set when the count stopped at the fetch limit.
	Capped bool   `json:"capped,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Stats counts usages by type, source and module.
func (e *Engine) Stats(module string) *Stats {
	defer observe("get_stats", time.Now())
	st := &Stats{UsageTypes: map[string]int{}, Sources: map[string]int{}, Modules: map[string]int{}}
	var where map[string]any
	if module != "" {
		where = map[string]any{fact.AttrModule: module}
	}
	usages, err := e.src.Usages(where, e.opts.MaxFetch, 0)
	if err != nil {
		metrics.QueryErrors.WithLabelValues("get_stats").Inc()
		st.Error = err.Error()
		return st
	}
	st.Total = len(usages)
	st.Capped = len(usages) == e.opts.MaxFetch
	for _, u := range usages {
		ut := u.UsageType
		if ut == "" {
			ut = "unknown"
		}
		st.UsageTypes[ut]++
		src := u.Source
		if src == "" {
			src = "java"
		}
		st.Sources[src]++
		if u.Module != "" {
			st.Modules[u.Module]++
		}
	}
	return st
}

func observe(op string, start time.Time) {
	metrics.QueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
