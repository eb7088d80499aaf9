package store

import (
	"strings"

	"github.com/DeusData/callgraph-mcp/internal/fact"
)

// InferKind guesses a node kind from the shape of an FQN. A parameter list
// marks a method; everything else is treated as a class. The guess is only
// used for stubs, never for declared nodes.
func InferKind(fqn string) string {
	if strings.Contains(fqn, "(") {
		return fact.KindMethod
	}
	return fact.KindClass
}

// shortName returns the last dotted segment of an FQN, ignoring its parameter list.
func shortName(fqn string) string {
	if i := strings.IndexByte(fqn, '('); i >= 0 {
		fqn = fqn[:i]
	}
	if i := strings.LastIndexByte(fqn, '.'); i >= 0 {
		return fqn[i+1:]
	}
	return fqn
}
