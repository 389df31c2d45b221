package identity

import "testing"

func TestSplit(t *testing.T) {
	cases := []struct {
		in       string
		platform string
		raw      string
	}{
		{"discord-100", "discord", "100"},
		{"cli-alice", "cli", "alice"},
		{"alice", "cli", "alice"},
		{"telegram-386246614", "telegram", "386246614"},
	}
	for _, c := range cases {
		p, raw := Split(c.in)
		if p != c.platform || raw != c.raw {
			t.Errorf("Split(%q) = (%q, %q), want (%q, %q)", c.in, p, raw, c.platform, c.raw)
		}
	}
}

func TestResolveAllNoStoreIsSingleton(t *testing.T) {
	r := New(nil)
	got := r.ResolveAll(nil, "discord-100") //nolint:staticcheck // nil context acceptable for no-op store path
	if len(got) != 1 || got[0] != "discord-100" {
		t.Fatalf("ResolveAll with no store = %v, want singleton", got)
	}
}
