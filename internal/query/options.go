package query

import (
	"github.com/DeusData/callgraph-mcp/internal/fact"
	"github.com/DeusData/callgraph-mcp/internal/store"
)

// Options tunes the engine to the vocabulary and limits of its source.
type Options struct {
	// CallType is the usage type of call relationships.
	CallType string
	// DeclarationType is the usage type of symbol declarations.
	DeclarationType string
	// MaxFetch caps the rows read by one sub-query.
	MaxFetch int
	// MaxDepth bounds find-usages recursion whatever depth the caller asks for.
	MaxDepth int
	// ImpactWidth is how many callers of each node impact analysis recurses into.
	ImpactWidth int
	// CustomModulePrefix selects project modules when impact analysis runs with onlyCustom.
	CustomModulePrefix string
	// GeneratedMarkers are caller-location substrings of generated sources.
	GeneratedMarkers []string
	// ExternalMarkers are caller-location substrings of framework code excluded with generated sources.
	ExternalMarkers []string
}

// DocumentOptions returns defaults for usage documents produced by the analyzers.
func DocumentOptions() Options {
	return Options{
		CallType:         "java_method_call",
		DeclarationType:  "java_declaration",
		MaxFetch:         10000,
		MaxDepth:         50,
		ImpactWidth:      10,
		GeneratedMarkers: []string{"/build/", "/src-gen/", `\build\`, `\src-gen\`},
		ExternalMarkers:  []string{"axelor-open-platform"},
	}
}

// GraphOptions returns defaults for querying the graph store directly.
func GraphOptions() Options {
	o := DocumentOptions()
	o.CallType = fact.EdgeCall
	o.DeclarationType = store.UsageDeclaration
	return o
}

func (o Options) withDefaults() Options {
	d := DocumentOptions()
	if o.CallType == "" {
		o.CallType = d.CallType
	}
	if o.DeclarationType == "" {
		o.DeclarationType = d.DeclarationType
	}
	if o.MaxFetch <= 0 {
		o.MaxFetch = d.MaxFetch
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = d.MaxDepth
	}
	if o.ImpactWidth <= 0 {
		o.ImpactWidth = d.ImpactWidth
	}
	if o.GeneratedMarkers == nil {
		o.GeneratedMarkers = d.GeneratedMarkers
	}
	if o.ExternalMarkers == nil {
		o.ExternalMarkers = d.ExternalMarkers
	}
	return o
}
