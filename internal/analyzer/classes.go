package analyzer

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/DeusData/callgraph-mcp/internal/fact"
	"github.com/DeusData/callgraph-mcp/internal/ingest"
)

// Class is one class as reported by the bytecode analyzer.
type Class struct {
	FQN         string   `json:"fqn"`
	Inheritance []Parent `json:"inheritance,omitempty"`
	Fields      []Field  `json:"fields,omitempty"`
	Methods     []Method `json:"methods,omitempty"`
}

// Parent is a supertype. The analyzer sends either a bare FQN or {fqn, kind}.
type Parent struct {
	FQN  string `json:"fqn"`
	Kind string `json:"kind,omitempty"`
}

// UnmarshalJSON accepts both parent encodings.
func (p *Parent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = Parent{FQN: s}
		return nil
	}
	type plain Parent
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = Parent(v)
	return nil
}

// Field is a class attribute.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Method is a method with its signature types and outgoing calls.
type Method struct {
	FQN        string   `json:"fqn"`
	LineNumber int      `json:"lineNumber,omitempty"`
	ReturnType string   `json:"returnType,omitempty"`
	Arguments  []string `json:"arguments,omitempty"`
	Calls      []Call   `json:"calls,omitempty"`
}

// Call is one invocation site.
type Call struct {
	ToFQN      string `json:"toFqn"`
	Kind       string `json:"kind,omitempty"`
	LineNumber int    `json:"lineNumber,omitempty"`
}

// Facts flattens the response into graph facts and usage facts. Origin
// packages are left empty for the ingest assigner.
func (r *AnalyzeResponse) Facts() []ingest.Fact {
	var out []ingest.Fact
	node := func(n *fact.Node) { out = append(out, ingest.Fact{Node: n}) }
	edge := func(e *fact.Edge) { out = append(out, ingest.Fact{Edge: e}) }

	for _, c := range r.Classes {
		if c.FQN == "" {
			continue
		}
		node(&fact.Node{FQN: c.FQN, Kind: fact.KindClass})
		for _, p := range c.Inheritance {
			if p.FQN == "" {
				continue
			}
			kind := strings.ToLower(p.Kind)
			if kind == "" {
				kind = "extends"
			}
			edge(&fact.Edge{Type: fact.EdgeInheritance, Kind: kind, From: c.FQN, To: p.FQN})
		}
		for _, f := range c.Fields {
			if f.Type != "" {
				edge(&fact.Edge{Type: fact.EdgeMemberOf, Kind: "attribute", From: f.Type, To: c.FQN})
			}
		}
		for _, m := range c.Methods {
			if m.FQN == "" {
				continue
			}
			node(&fact.Node{FQN: m.FQN, Kind: fact.KindMethod, Line: m.LineNumber})
			edge(&fact.Edge{Type: fact.EdgeMemberOf, Kind: "method", From: m.FQN, To: c.FQN})
			if m.ReturnType != "" {
				edge(&fact.Edge{Type: fact.EdgeMemberOf, Kind: "return", From: m.ReturnType, To: m.FQN})
			}
			for _, arg := range m.Arguments {
				if arg != "" {
					edge(&fact.Edge{Type: fact.EdgeMemberOf, Kind: "argument", From: arg, To: m.FQN})
				}
			}
			for _, call := range m.Calls {
				if call.ToFQN == "" {
					continue
				}
				kind := strings.ToLower(call.Kind)
				if kind == "" {
					kind = "invoke"
				}
				edge(&fact.Edge{Type: fact.EdgeCall, Kind: kind, From: m.FQN, To: call.ToFQN, Line: call.LineNumber})
			}
		}
	}

	for _, fr := range r.Results {
		if !fr.Success {
			slog.Warn("analyzer.file.err", "file", fr.File, "errors", fr.Errors)
			continue
		}
		for i := range fr.Usages {
			out = append(out, ingest.Fact{Usage: &fr.Usages[i]})
		}
	}
	return out
}
