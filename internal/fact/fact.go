// Package fact defines the records exchanged between analyzers, ingestion and storage.
package fact

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Node kinds.
const (
	KindClass  = "class"
	KindMethod = "method"
)

// Edge types.
const (
	EdgeCall        = "call"
	EdgeInheritance = "inheritance"
	EdgeMemberOf    = "member_of"
)

// Node is a symbol declaration. Unknown analyzer fields land in Extra.
type Node struct {
	FQN     string         `json:"fqn"`
	Kind    string         `json:"kind"`
	Package string         `json:"originPackage,omitempty"`
	Line    int            `json:"line,omitempty"`
	URI     string         `json:"uri,omitempty"`
	Extra   map[string]any `json:"-"`
}

// Edge is a typed relationship between two symbols.
type Edge struct {
	ID          int64          `json:"id,omitempty"`
	Type        string         `json:"edgeType"`
	Kind        string         `json:"kind"`
	From        string         `json:"fromFqn"`
	To          string         `json:"toFqn"`
	FromPackage string         `json:"fromPackage,omitempty"`
	ToPackage   string         `json:"toPackage,omitempty"`
	Line        int            `json:"line,omitempty"`
	Annotations []string       `json:"annotations,omitempty"`
	Extra       map[string]any `json:"-"`
}

var (
	nodeKeys = []string{"fqn", "kind", "originPackage", "line", "uri"}
	edgeKeys = []string{"id", "edgeType", "kind", "fromFqn", "toFqn", "fromPackage", "toPackage", "line", "annotations"}
)

// UnmarshalJSON decodes the known fields and keeps the rest in Extra.
func (n *Node) UnmarshalJSON(data []byte) error {
	type plain Node
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := extraFields(data, nodeKeys)
	if err != nil {
		return err
	}
	*n = Node(p)
	n.Extra = extra
	return nil
}

// MarshalJSON emits the known fields followed by Extra.
func (n Node) MarshalJSON() ([]byte, error) {
	type plain Node
	return withExtra(plain(n), n.Extra)
}

// UnmarshalJSON decodes the known fields and keeps the rest in Extra.
func (e *Edge) UnmarshalJSON(data []byte) error {
	type plain Edge
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := extraFields(data, edgeKeys)
	if err != nil {
		return err
	}
	*e = Edge(p)
	e.Extra = extra
	return nil
}

// MarshalJSON emits the known fields followed by Extra.
func (e Edge) MarshalJSON() ([]byte, error) {
	type plain Edge
	return withExtra(plain(e), e.Extra)
}

// extraFields returns the object members of data not named in known, or nil.
func extraFields(data []byte, known []string) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(m, k)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

// withExtra marshals v and merges extra in; known fields win on collision.
func withExtra(v any, extra map[string]any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return data, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	for k, x := range extra {
		if _, ok := m[k]; !ok {
			m[k] = x
		}
	}
	return json.Marshal(m)
}

// Usage is one usage record emitted by an analyzer. Known fields are typed;
// anything else the analyzer sends lands in Extra.
type Usage struct {
	UsageType    string
	CallerURI    string
	CallerLine   int
	CallerSymbol string
	CallerKind   string
	CallerFQN    string
	CalleeURI    string
	CalleeLine   int
	CalleeSymbol string
	CalleeKind   string
	CalleeFQN    string
	Module       string
	Source       string
	Extra        map[string]any
}

// Attribute keys used for usage documents.
const (
	AttrUsageType    = "usageType"
	AttrCallerURI    = "callerUri"
	AttrCallerLine   = "callerLine"
	AttrCallerSymbol = "callerSymbol"
	AttrCallerKind   = "callerKind"
	AttrCallerFQN    = "caller_fqn"
	AttrCalleeURI    = "calleeUri"
	AttrCalleeLine   = "calleeLine"
	AttrCalleeSymbol = "calleeSymbol"
	AttrCalleeKind   = "calleeKind"
	AttrCalleeFQN    = "callee_fqn"
	AttrModule       = "module"
	AttrSource       = "source"
)

// Attrs flattens the usage into a document attribute map.
func (u *Usage) Attrs() map[string]any {
	m := make(map[string]any, 13+len(u.Extra))
	for k, v := range u.Extra {
		m[k] = v
	}
	m[AttrUsageType] = u.UsageType
	m[AttrCallerURI] = u.CallerURI
	m[AttrCallerLine] = u.CallerLine
	m[AttrCallerSymbol] = u.CallerSymbol
	m[AttrCallerKind] = u.CallerKind
	m[AttrCallerFQN] = u.CallerFQN
	m[AttrCalleeURI] = u.CalleeURI
	m[AttrCalleeLine] = u.CalleeLine
	m[AttrCalleeSymbol] = u.CalleeSymbol
	m[AttrCalleeKind] = u.CalleeKind
	m[AttrCalleeFQN] = u.CalleeFQN
	m[AttrModule] = u.Module
	m[AttrSource] = u.Source
	return m
}

// Text renders the searchable document text for a usage. The caller parts
// are omitted when unknown.
func (u *Usage) Text() string {
	usageType := u.UsageType
	if usageType == "" {
		usageType = "unknown"
	}
	text := fmt.Sprintf("%s: %s", usageType, u.CalleeSymbol)
	if u.CallerSymbol != "" {
		text += fmt.Sprintf(" in %s()", u.CallerSymbol)
	}
	if u.CallerFQN != "" {
		text += " at " + u.CallerFQN
	}
	return text
}

// UsageFromAttrs rebuilds a typed usage from a document attribute map.
func UsageFromAttrs(attrs map[string]any) Usage {
	u := Usage{
		UsageType:    str(attrs[AttrUsageType]),
		CallerURI:    str(attrs[AttrCallerURI]),
		CallerLine:   num(attrs[AttrCallerLine]),
		CallerSymbol: str(attrs[AttrCallerSymbol]),
		CallerKind:   str(attrs[AttrCallerKind]),
		CallerFQN:    str(attrs[AttrCallerFQN]),
		CalleeURI:    str(attrs[AttrCalleeURI]),
		CalleeLine:   num(attrs[AttrCalleeLine]),
		CalleeSymbol: str(attrs[AttrCalleeSymbol]),
		CalleeKind:   str(attrs[AttrCalleeKind]),
		CalleeFQN:    str(attrs[AttrCalleeFQN]),
		Module:       str(attrs[AttrModule]),
		Source:       str(attrs[AttrSource]),
	}
	for k, v := range attrs {
		if knownAttr(k) {
			continue
		}
		if u.Extra == nil {
			u.Extra = make(map[string]any)
		}
		u.Extra[k] = v
	}
	return u
}

// MarshalJSON emits the flat attribute form analyzers and tools use.
func (u Usage) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.Attrs())
}

// UnmarshalJSON accepts the flat attribute form.
func (u *Usage) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*u = UsageFromAttrs(m)
	return nil
}

func knownAttr(k string) bool {
	switch k {
	case AttrUsageType, AttrCallerURI, AttrCallerLine, AttrCallerSymbol, AttrCallerKind, AttrCallerFQN,
		AttrCalleeURI, AttrCalleeLine, AttrCalleeSymbol, AttrCalleeKind, AttrCalleeFQN, AttrModule, AttrSource:
		return true
	}
	return false
}

func str(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

// num tolerates the representations a line number takes after a JSON round trip.
func num(v any) int {
	switch x := v.(type) {
	case int:
		return x
	case int64:
		return int(x)
	case float64:
		return int(x)
	case json.Number:
		n, _ := x.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(x)
		return n
	}
	return 0
}
