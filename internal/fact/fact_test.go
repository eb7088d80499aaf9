package fact

import (
	"encoding/json"
	"testing"
)

func TestUsageExtraSurvivesJSON(t *testing.T) {
	raw := `{"usageType":"java_method_call","callerSymbol":"save","callerLine":42,"calleeSymbol":"validate","module":"app-core","confidence":0.5}`
	var u Usage
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if u.CallerLine != 42 {
		t.Errorf("expected callerLine 42, got %d", u.CallerLine)
	}
	if u.Extra["confidence"] != 0.5 {
		t.Errorf("expected extra confidence preserved, got %v", u.Extra)
	}
	if _, ok := u.Extra["usageType"]; ok {
		t.Error("known attributes must not leak into Extra")
	}
	attrs := u.Attrs()
	if attrs["confidence"] != 0.5 || attrs[AttrCalleeSymbol] != "validate" {
		t.Errorf("unexpected attrs: %v", attrs)
	}
}

func TestUsageText(t *testing.T) {
	tests := []struct {
		u    Usage
		want string
	}{
		{Usage{UsageType: "java_method_call", CalleeSymbol: "validate", CallerSymbol: "save", CallerFQN: "com.acme.Order.save()"},
			"java_method_call: validate in save() at com.acme.Order.save()"},
		{Usage{UsageType: "java_method_call", CalleeSymbol: "validate"}, "java_method_call: validate"},
		{Usage{CalleeSymbol: "x", CallerSymbol: "y"}, "unknown: x in y()"},
	}
	for _, tt := range tests {
		if got := tt.u.Text(); got != tt.want {
			t.Errorf("Text() = %q, want %q", got, tt.want)
		}
	}
}

func TestNumTolerance(t *testing.T) {
	for _, v := range []any{7, int64(7), float64(7), json.Number("7"), "7"} {
		if got := num(v); got != 7 {
			t.Errorf("num(%#v) = %d, want 7", v, got)
		}
	}
	if got := num(nil); got != 0 {
		t.Errorf("num(nil) = %d, want 0", got)
	}
}

func TestNodeAndEdgeExtraSurviveJSON(t *testing.T) {
	var n Node
	if err := json.Unmarshal([]byte(`{"fqn":"com.acme.Order","kind":"class","uri":"file:///a","modifiers":["public","final"]}`), &n); err != nil {
		t.Fatalf("unmarshal node: %v", err)
	}
	if n.FQN != "com.acme.Order" || n.URI != "file:///a" {
		t.Errorf("known fields lost: %+v", n)
	}
	if _, ok := n.Extra["modifiers"]; !ok || len(n.Extra) != 1 {
		t.Errorf("expected only modifiers in Extra, got %v", n.Extra)
	}

	var e Edge
	if err := json.Unmarshal([]byte(`{"edgeType":"call","kind":"invokevirtual","fromFqn":"A.a()","toFqn":"B.b()","line":3,"opcode":182}`), &e); err != nil {
		t.Fatalf("unmarshal edge: %v", err)
	}
	if e.Line != 3 || e.Extra["opcode"] != float64(182) || len(e.Extra) != 1 {
		t.Errorf("unexpected edge: %+v", e)
	}

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal edge: %v", err)
	}
	var back map[string]any
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal back: %v", err)
	}
	if back["opcode"] != float64(182) || back["toFqn"] != "B.b()" {
		t.Errorf("extra not emitted: %s", data)
	}

	var plain Node
	if err := json.Unmarshal([]byte(`{"fqn":"X","kind":"class"}`), &plain); err != nil {
		t.Fatalf("unmarshal plain: %v", err)
	}
	if plain.Extra != nil {
		t.Errorf("expected nil Extra, got %v", plain.Extra)
	}
}
