package query

import (
	"github.com/DeusData/callgraph-mcp/internal/docstore"
	"github.com/DeusData/callgraph-mcp/internal/fact"
)

// Source is the read side the engine queries: an equality conjunction over
// usage attributes, returned in a stable order.
type Source interface {
	Usages(where map[string]any, limit, offset int) ([]fact.Usage, error)
}

// Documents adapts a document backend holding usage records.
type Documents struct {
	Backend docstore.Backend
}

// Usages implements Source.
func (d Documents) Usages(where map[string]any, limit, offset int) ([]fact.Usage, error) {
	recs, err := d.Backend.Get(docstore.Filter(where), limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]fact.Usage, len(recs))
	for i, r := range recs {
		out[i] = fact.UsageFromAttrs(r.Attrs)
	}
	return out, nil
}
