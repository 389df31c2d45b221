package tools

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/aeon/internal/config"
	"github.com/nextlevelbuilder/aeon/internal/providers"
)

type slowTool struct{ delay time.Duration }

func (slowTool) Name() string                            { return "slow" }
func (slowTool) Description() string                      { return "sleeps" }
func (slowTool) Parameters() map[string]interface{}        { return map[string]interface{}{"type": "object"} }
func (s slowTool) Execute(ctx context.Context, _ map[string]interface{}) *Result {
	select {
	case <-time.After(s.delay):
		return NewResult("woke up")
	case <-ctx.Done():
		return ErrorResult("cancelled")
	}
}

// TestExecutorTimeout: a tool that outlives
// MaxExecutionSeconds is cut off with a fixed error string, not left hanging.
func TestExecutorTimeout(t *testing.T) {
	registry := NewRegistry()
	registry.Register(slowTool{delay: 5 * time.Second})
	policy := NewPolicyEngine(config.ToolSecurityConfig{})
	exec := NewExecutor(registry, policy, nil, 1, 4000, false)

	start := time.Now()
	result := exec.Execute(context.Background(), providers.ToolCall{Name: "slow"})
	elapsed := time.Since(start)

	if !result.IsError {
		t.Fatalf("expected IsError, got %+v", result)
	}
	want := "Error: Tool 'slow' timed out after 1s"
	if result.ForLLM != want {
		t.Fatalf("ForLLM = %q, want %q", result.ForLLM, want)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("executor took %v, expected to cut off near 1s", elapsed)
	}
}

func TestExecutorBlockedToolNeverRuns(t *testing.T) {
	registry := NewRegistry()
	ran := false
	registry.Register(trackingTool{onRun: func() { ran = true }})
	policy := NewPolicyEngine(config.ToolSecurityConfig{BlockList: []string{"tracked"}})
	exec := NewExecutor(registry, policy, nil, 5, 4000, false)

	result := exec.Execute(context.Background(), providers.ToolCall{Name: "tracked"})
	if !result.IsError {
		t.Fatalf("expected blocked call to be an error result")
	}
	if ran {
		t.Fatal("blocked tool must never execute")
	}
}

func TestExecutorApprovalRequiredSentinel(t *testing.T) {
	registry := NewRegistry()
	registry.Register(trackingTool{onRun: func() {}})
	policy := NewPolicyEngine(config.ToolSecurityConfig{ApprovalRequired: []string{"tracked"}})
	exec := NewExecutor(registry, policy, nil, 5, 4000, false)

	result := exec.Execute(context.Background(), providers.ToolCall{Name: "tracked"})
	if !result.IsError {
		t.Fatal("expected approval-required call to surface as an error result")
	}
	want := "[TOOL_BLOCKED: tool 'tracked' requires approval before it can run]"
	if result.ForLLM != want {
		t.Fatalf("ForLLM = %q, want %q", result.ForLLM, want)
	}
}

type trackingTool struct{ onRun func() }

func (trackingTool) Name() string                     { return "tracked" }
func (trackingTool) Description() string               { return "tracked" }
func (trackingTool) Parameters() map[string]interface{} { return map[string]interface{}{"type": "object"} }
func (t trackingTool) Execute(ctx context.Context, _ map[string]interface{}) *Result {
	t.onRun()
	return NewResult("ran")
}
