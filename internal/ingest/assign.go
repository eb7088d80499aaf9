package ingest

import (
	"log/slog"
)

// BatchResolver resolves many FQNs to origin packages in one call.
type BatchResolver interface {
	ResolveBatch(fqns []string, allowed []string) (map[string]string, error)
}

// Assigner fills in origin packages that the analyzers left empty. FQNs the
// index does not know are attributed to the project itself.
type Assigner struct {
	Resolver BatchResolver
	// Allowed restricts resolution to these package versions when non-empty.
	Allowed []string
	// ProjectPackage is assigned to facts that stay unresolved.
	ProjectPackage string
}

// Assign resolves every package-less FQN in batch with one lookup and writes
// the results back into the facts.
func (a *Assigner) Assign(batch []Fact) {
	seen := make(map[string]struct{})
	var fqns []string
	want := func(pkg, fqn string) {
		if pkg != "" || fqn == "" {
			return
		}
		if _, ok := seen[fqn]; ok {
			return
		}
		seen[fqn] = struct{}{}
		fqns = append(fqns, fqn)
	}
	for _, f := range batch {
		switch {
		case f.Node != nil:
			want(f.Node.Package, f.Node.FQN)
		case f.Edge != nil:
			want(f.Edge.FromPackage, f.Edge.From)
			want(f.Edge.ToPackage, f.Edge.To)
		case f.Usage != nil:
			want(f.Usage.Module, callerFQN(f.Usage.CallerFQN, f.Usage.CallerSymbol))
		}
	}
	if len(fqns) == 0 {
		return
	}

	var resolved map[string]string
	if a.Resolver != nil {
		var err error
		resolved, err = a.Resolver.ResolveBatch(fqns, a.Allowed)
		if err != nil {
			slog.Warn("ingest.resolve.err", "fqns", len(fqns), "err", err)
		}
	}
	pkg := func(current, fqn string) string {
		if current != "" {
			return current
		}
		if p, ok := resolved[fqn]; ok {
			return p
		}
		return a.ProjectPackage
	}

	for _, f := range batch {
		switch {
		case f.Node != nil:
			f.Node.Package = pkg(f.Node.Package, f.Node.FQN)
		case f.Edge != nil:
			f.Edge.FromPackage = pkg(f.Edge.FromPackage, f.Edge.From)
			f.Edge.ToPackage = pkg(f.Edge.ToPackage, f.Edge.To)
		case f.Usage != nil:
			f.Usage.Module = pkg(f.Usage.Module, callerFQN(f.Usage.CallerFQN, f.Usage.CallerSymbol))
		}
	}
	slog.Debug("ingest.resolve", "fqns", len(fqns), "resolved", len(resolved))
}

func callerFQN(fqn, symbol string) string {
	if fqn != "" {
		return fqn
	}
	return symbol
}
