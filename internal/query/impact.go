package query

import (
	"log/slog"
	"time"
)

// ImpactNode is one symbol in an impact tree.
type ImpactNode struct {
	Symbol        string        `json:"symbol"`
	Depth         int           `json:"depth"`
	DirectCallers int           `json:"direct_callers"`
	TotalUsages   int           `json:"total_usages"`
	Callers       []*ImpactNode `json:"callers"`
	Pagination    *Pagination   `json:"pagination,omitempty"`
	Error         string        `json:"error,omitempty"`
	Warning       string        `json:"warning,omitempty"`
}

const noPrefixWarning = "only_custom ignored: custom_module_prefix is not configured"

// ImpactAnalysis builds the tree of transitive callers of symbol up to depth
// levels. Each node expands at most ImpactWidth callers; limit bounds the
// callers read per node and, with offset, pages the root's children only.
// A symbol already in the tree is never expanded again.
func (e *Engine) ImpactAnalysis(symbol string, depth int, onlyCustom bool, offset, limit int) *ImpactNode {
	defer observe("impact_analysis", time.Now())
	if limit <= 0 {
		limit = 50
	}
	depth = max(depth, 0)
	offset = max(offset, 0)
	warning := ""
	if onlyCustom && e.opts.CustomModulePrefix == "" {
		slog.Warn("query.impact.no_prefix", "symbol", symbol)
		onlyCustom = false
		warning = noPrefixWarning
	}
	visited := make(map[string]struct{})
	root := e.impactLevel(symbol, 0, depth, onlyCustom, limit, visited)
	root.Warning = warning

	if len(root.Callers) > 0 {
		p := paginate(len(root.Callers), offset, limit)
		root.Callers = window(root.Callers, offset, limit)
		root.Pagination = &p
	}
	return root
}

func (e *Engine) impactLevel(symbol string, level, depth int, onlyCustom bool, limit int, visited map[string]struct{}) *ImpactNode {
	if level > depth {
		return nil
	}
	if _, seen := visited[symbol]; seen {
		return nil
	}
	visited[symbol] = struct{}{}

	q := UsageQuery{
		Symbol:           symbol,
		UsageType:        e.opts.CallType,
		ExcludeGenerated: true,
		Limit:            limit,
		MaxDepth:         e.opts.MaxDepth,
	}
	if onlyCustom {
		q.ModulePrefix = e.opts.CustomModulePrefix
	}
	page := e.findUsages(q, make(map[string]struct{}), 0)

	node := &ImpactNode{
		Symbol:        symbol,
		Depth:         level,
		DirectCallers: len(page.Results),
		TotalUsages:   page.Total,
		Callers:       []*ImpactNode{},
		Error:         page.Error,
	}
	if level >= depth {
		return node
	}
	for _, r := range window(page.Results, 0, e.opts.ImpactWidth) {
		caller := r.CallerSymbol
		if caller == "" || caller == symbol {
			continue
		}
		if child := e.impactLevel(caller, level+1, depth, onlyCustom, limit, visited); child != nil {
			node.Callers = append(node.Callers, child)
		}
	}
	return node
}
