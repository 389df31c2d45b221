package memory

import (
	"encoding/json"
	"testing"
)

// TestReconciliationPayloadParse covers the exact response shape the
// consolidation call expects, including the alias-as-string-integer
// convention where ADD carries an empty id.
func TestReconciliationPayloadParse(t *testing.T) {
	raw := "```json\n" + `{"memory":[
		{"id":"0","text":"User dislikes tea","event":"UPDATE","old_memory":"User likes tea"},
		{"id":"","text":"User lives in Berlin","event":"ADD"}
	]}` + "\n```"

	var payload reconciliationPayload
	if err := json.Unmarshal([]byte(stripFences(raw)), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(payload.Memory) != 2 {
		t.Fatalf("actions = %d, want 2", len(payload.Memory))
	}
	if payload.Memory[0].Event != "UPDATE" || payload.Memory[0].Alias != "0" || payload.Memory[0].OldText != "User likes tea" {
		t.Fatalf("first action = %+v", payload.Memory[0])
	}
	if payload.Memory[1].Event != "ADD" || payload.Memory[1].Alias != "" {
		t.Fatalf("second action = %+v", payload.Memory[1])
	}
}

func TestResolveAlias(t *testing.T) {
	r := &Reconciler{}
	table := map[int]Node{
		0: {ID: "m1", Text: "User likes tea"},
		1: {ID: "m2", Text: "User works remotely"},
	}

	if n, ok := r.resolveAlias("0", table); !ok || n.ID != "m1" {
		t.Fatalf("resolveAlias(0) = %+v, %v", n, ok)
	}
	if n, ok := r.resolveAlias("1", table); !ok || n.ID != "m2" {
		t.Fatalf("resolveAlias(1) = %+v, %v", n, ok)
	}
	if _, ok := r.resolveAlias("", table); ok {
		t.Fatal("empty alias must not resolve")
	}
	if _, ok := r.resolveAlias("7", table); ok {
		t.Fatal("unknown alias must not resolve")
	}
	if _, ok := r.resolveAlias("m1", table); ok {
		t.Fatal("a real id leaking through must not resolve")
	}
}

func TestClassifyCategory(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"User prefers dark roast coffee", "preference"},
		{"User works as a data engineer at a logistics company", "work"},
		{"User lives in Berlin", "location"},
		{"User's cat is called Miso", "identity"},
		{"User plans to run a marathon next year", "goal"},
		{"User visited the dentist on Tuesday", "general"},
	}
	for _, c := range cases {
		if got := classifyCategory(c.text); got != c.want {
			t.Errorf("classifyCategory(%q) = %q, want %q", c.text, got, c.want)
		}
	}
}
