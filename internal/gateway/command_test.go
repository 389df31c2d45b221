package gateway

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/aeon/internal/sessions"
)

func TestCommandUnknownMethod(t *testing.T) {
	g := &Gateway{}
	if _, err := g.Command(context.Background(), "nonsense", nil, "cli-alice"); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestCommandStatusDegraded(t *testing.T) {
	g := &Gateway{sessions: sessions.NewManager()}
	out, err := g.Command(context.Background(), "status", nil, "cli-alice")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	report, ok := out.(StatusReport)
	if !ok {
		t.Fatalf("status returned %T", out)
	}
	if report.MemoryEnabled || report.HistoryEnabled {
		t.Fatalf("report = %+v, want degraded planes reported as disabled", report)
	}
	if report.ActiveSessions != 0 {
		t.Fatalf("ActiveSessions = %d, want 0", report.ActiveSessions)
	}
}

func TestCommandMemorySearchRequiresMemoryPlane(t *testing.T) {
	g := &Gateway{}
	if _, err := g.Command(context.Background(), "memory-search", map[string]interface{}{"query": "tea"}, "u"); err == nil {
		t.Fatal("expected error when memory plane is unconfigured")
	}
}

func TestCommandMCPStatusEmptyWithoutManager(t *testing.T) {
	g := &Gateway{}
	out, err := g.Command(context.Background(), "mcp-status", nil, "u")
	if err != nil {
		t.Fatalf("mcp-status: %v", err)
	}
	status, ok := out.(MCPStatus)
	if !ok || status.Servers == nil || len(status.Servers) != 0 {
		t.Fatalf("mcp-status = %+v", out)
	}
}

func TestArgHelpers(t *testing.T) {
	args := map[string]interface{}{"query": "tea", "limit": float64(7)}
	if got := stringArg(args, "query"); got != "tea" {
		t.Fatalf("stringArg = %q", got)
	}
	if got := stringArg(args, "missing"); got != "" {
		t.Fatalf("stringArg(missing) = %q", got)
	}
	if got := intArg(args, "limit", 20); got != 7 {
		t.Fatalf("intArg = %d", got)
	}
	if got := intArg(args, "missing", 20); got != 20 {
		t.Fatalf("intArg default = %d", got)
	}
}
