package memory

import "testing"

func TestSanitizeRelationLabel(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"works at", "WORKS_AT"},
		{"is-married-to", "IS_MARRIED_TO"},
		{"OWNS", "OWNS"},
		{"likes (a lot)", "LIKES__A_LOT_"},
		{"r2d2", "R2D2"},
	}
	for _, c := range cases {
		if got := sanitizeRelationLabel(c.in); got != c.want {
			t.Errorf("sanitizeRelationLabel(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestStripFences(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"{\"a\":1}", "{\"a\":1}"},
		{"```json\n{\"a\":1}\n```", "{\"a\":1}"},
		{"```\n{\"a\":1}\n```", "{\"a\":1}"},
		{"  {\"a\":1}  ", "{\"a\":1}"},
	}
	for _, c := range cases {
		if got := stripFences(c.in); got != c.want {
			t.Errorf("stripFences(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestParseEntityExtraction(t *testing.T) {
	raw := "```json\n" + `{"entities":[{"name":"Alice","type":"person"}],"relationships":[{"source":"Alice","relationship":"works at","target":"Acme"}]}` + "\n```"
	out, ok := parseEntityExtraction(raw)
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if len(out.Entities) != 1 || out.Entities[0].Name != "Alice" {
		t.Fatalf("entities = %+v", out.Entities)
	}
	if len(out.Relationships) != 1 || out.Relationships[0].Target != "Acme" {
		t.Fatalf("relationships = %+v", out.Relationships)
	}

	if _, ok := parseEntityExtraction("no json here"); ok {
		t.Fatal("expected parse to fail on non-JSON")
	}
}

func TestSanitizeKeyDropsUnsafeRunes(t *testing.T) {
	if got := sanitizeKey("kind; DROP"); got != "kindDROP" {
		t.Fatalf("sanitizeKey = %q", got)
	}
	if got := sanitizeKey("emotionalWeight"); got != "emotionalWeight" {
		t.Fatalf("sanitizeKey = %q", got)
	}
}

func TestVectorToFloat64(t *testing.T) {
	out := vectorToFloat64([]float32{1.5, -2})
	if len(out) != 2 || out[0] != 1.5 || out[1] != -2 {
		t.Fatalf("vectorToFloat64 = %v", out)
	}
}
