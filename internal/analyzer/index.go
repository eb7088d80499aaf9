package analyzer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DeusData/callgraph-mcp/internal/fingerprint"
	"github.com/DeusData/callgraph-mcp/internal/resolver"
)

// PackageIndexer refreshes the symbol index of dependency packages whose
// compiled artifacts changed since they were last indexed.
type PackageIndexer struct {
	Client   *Client
	Resolver *resolver.Resolver
	Tracker  *fingerprint.Tracker
	Domains  []string
}

// IndexPackage indexes pkg from dir unless its fingerprint is unchanged.
// It reports whether the package was re-indexed.
func (p *PackageIndexer) IndexPackage(ctx context.Context, pkg, dir string) (bool, error) {
	needs, fp, err := p.Tracker.Check(pkg, dir)
	if err != nil {
		return false, err
	}
	if !needs {
		slog.Info("index.skip", "package", pkg, "reason", "unchanged")
		return false, nil
	}

	symbols, err := p.Client.Index(ctx, IndexRequest{PackageRoots: []string{dir}, Domains: p.Domains})
	if err != nil {
		return false, fmt.Errorf("index %s: %w", pkg, err)
	}
	if err := p.Resolver.IndexPackage(pkg, symbols); err != nil {
		return false, err
	}
	if err := p.Tracker.RecordIndexed(pkg, fp); err != nil {
		return false, err
	}
	slog.Info("index.done", "package", pkg, "symbols", len(symbols))
	return true, nil
}
