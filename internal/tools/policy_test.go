package tools

import (
	"testing"

	"github.com/nextlevelbuilder/aeon/internal/config"
)

// TestPolicyEvaluationOrder: block-list beats
// allow-list beats approval-required beats the default mode, regardless of
// how the tool name would otherwise match a looser list.
func TestPolicyEvaluationOrder(t *testing.T) {
	p := NewPolicyEngine(config.ToolSecurityConfig{
		BlockList:        []string{"shell__*"},
		AllowList:        []string{"memory__*"},
		ApprovalRequired: []string{"fs__write"},
		DefaultMode:      "allow",
	})

	cases := []struct {
		name string
		want Decision
	}{
		{"shell__exec", DecisionBlock},
		{"memory__search", DecisionAllow},
		{"fs__write", DecisionApprove},
		{"other", DecisionAllow},
	}
	for _, c := range cases {
		if got := p.Evaluate(c.name); got != c.want {
			t.Errorf("Evaluate(%q) = %v, want %v", c.name, got, c.want)
		}
	}
}

// TestPolicyBlockListWinsOverAllowList: a name
// matching both the block-list and the allow-list is always blocked.
func TestPolicyBlockListWinsOverAllowList(t *testing.T) {
	p := NewPolicyEngine(config.ToolSecurityConfig{
		BlockList: []string{"shell__*"},
		AllowList: []string{"shell__exec"},
	})
	if got := p.Evaluate("shell__exec"); got != DecisionBlock {
		t.Fatalf("Evaluate = %v, want Blocked", got)
	}
}

func TestPolicyDefaultModeBlock(t *testing.T) {
	p := NewPolicyEngine(config.ToolSecurityConfig{DefaultMode: "block"})
	if got := p.Evaluate("anything"); got != DecisionBlock {
		t.Fatalf("Evaluate = %v, want Blocked", got)
	}
}

func TestPolicyCaseInsensitiveMatch(t *testing.T) {
	p := NewPolicyEngine(config.ToolSecurityConfig{BlockList: []string{"Shell__*"}})
	if got := p.Evaluate("SHELL__EXEC"); got != DecisionBlock {
		t.Fatalf("Evaluate = %v, want Blocked", got)
	}
}
