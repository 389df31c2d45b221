package orchestrator

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/aeon/internal/config"
	"github.com/nextlevelbuilder/aeon/internal/providers"
	"github.com/nextlevelbuilder/aeon/internal/tools"
)

// fakeProvider returns canned responses in order, one per Chat/ChatStream call.
type fakeProvider struct {
	responses []*providers.ChatResponse
	calls     int
}

func (f *fakeProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	resp, err := f.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Content != "" {
		onChunk(providers.StreamChunk{Content: resp.Content})
	}
	return resp, nil
}
func (f *fakeProvider) DefaultModel() string { return "fake-model" }
func (f *fakeProvider) Name() string         { return "fake" }

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echoes its input" }
func (echoTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}
func (echoTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	return tools.NewResult("echoed")
}

func newExecutor() *tools.Executor {
	registry := tools.NewRegistry()
	registry.Register(echoTool{})
	policy := tools.NewPolicyEngine(config.ToolSecurityConfig{})
	return tools.NewExecutor(registry, policy, nil, 5, 4000, false)
}

func TestGenerateWithToolsNoToolCalls(t *testing.T) {
	provider := &fakeProvider{responses: []*providers.ChatResponse{
		{Content: "hello there", FinishReason: "stop"},
	}}
	registry := tools.NewRegistry()
	o := New(provider, newExecutor(), registry)

	var events []Event
	reply, err := o.GenerateWithTools(context.Background(), []providers.Message{{Role: "user", Content: "hi"}}, Options{}, func(e Event) {
		events = append(events, e)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "hello there" {
		t.Fatalf("reply = %q, want %q", reply, "hello there")
	}
	if provider.calls != 1 {
		t.Fatalf("calls = %d, want 1", provider.calls)
	}
	last := events[len(events)-1]
	if last.Kind != EventComplete {
		t.Fatalf("last event kind = %v, want EventComplete", last.Kind)
	}
	if last.ToolCount != 0 {
		t.Fatalf("ToolCount = %d, want 0", last.ToolCount)
	}
}

func TestGenerateWithToolsRunsToolThenCompletes(t *testing.T) {
	provider := &fakeProvider{responses: []*providers.ChatResponse{
		{
			Content: "let me check",
			ToolCalls: []providers.ToolCall{
				{ID: "call-1", Name: "echo", Arguments: map[string]interface{}{}},
			},
			FinishReason: "tool_calls",
		},
		{Content: "done", FinishReason: "stop"},
	}}
	registry := tools.NewRegistry()
	registry.Register(echoTool{})
	o := New(provider, newExecutor(), registry)

	var toolResults []string
	var toolStarts []int
	var complete *Event
	reply, err := o.GenerateWithTools(context.Background(), nil, Options{}, func(e Event) {
		switch e.Kind {
		case EventToolResult:
			toolResults = append(toolResults, e.Preview)
		case EventToolStart:
			toolStarts = append(toolStarts, e.Step)
		case EventComplete:
			ev := e
			complete = &ev
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "done" {
		t.Fatalf("reply = %q, want %q", reply, "done")
	}
	if provider.calls != 2 {
		t.Fatalf("calls = %d, want 2", provider.calls)
	}
	if len(toolResults) != 1 || toolResults[0] != "echoed" {
		t.Fatalf("toolResults = %v", toolResults)
	}
	if len(toolStarts) != 1 || toolStarts[0] != 1 {
		t.Fatalf("toolStarts = %v, want [1]", toolStarts)
	}
	if complete == nil || complete.ToolCount != 1 {
		t.Fatalf("complete = %+v, want ToolCount 1", complete)
	}
}

func TestGenerateWithToolsForcesSummaryAtIterationCap(t *testing.T) {
	loopingResponse := &providers.ChatResponse{
		Content: "still working",
		ToolCalls: []providers.ToolCall{
			{ID: "call-1", Name: "echo", Arguments: map[string]interface{}{}},
		},
		FinishReason: "tool_calls",
	}
	responses := make([]*providers.ChatResponse, 0, 4)
	for i := 0; i < 2; i++ {
		responses = append(responses, loopingResponse)
	}
	responses = append(responses, &providers.ChatResponse{Content: "summary", FinishReason: "stop"})
	provider := &fakeProvider{responses: responses}

	registry := tools.NewRegistry()
	registry.Register(echoTool{})
	o := New(provider, newExecutor(), registry)

	reply, err := o.GenerateWithTools(context.Background(), nil, Options{MaxToolIterations: 2}, func(Event) {})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "summary" {
		t.Fatalf("reply = %q, want %q", reply, "summary")
	}
	if provider.calls != 3 {
		t.Fatalf("calls = %d, want 3 (2 iterations + forced summary)", provider.calls)
	}
}

// TestGenerateWithToolsAutoContinue: a reply ending
// in an invitation to proceed triggers exactly one recursive continuation,
// synthesizing "Yes, please proceed." as the next user turn, and the final
// Complete concatenates both parts.
func TestGenerateWithToolsAutoContinue(t *testing.T) {
	provider := &fakeProvider{responses: []*providers.ChatResponse{
		{Content: "I can draft the letter if you'd like.", FinishReason: "stop"},
		{Content: " Here it is.", FinishReason: "stop"},
	}}
	registry := tools.NewRegistry()
	o := New(provider, newExecutor(), registry)

	var complete *Event
	reply, err := o.GenerateWithTools(context.Background(), []providers.Message{{Role: "user", Content: "draft a letter"}},
		Options{AutoContinueMax: 1}, func(e Event) {
			if e.Kind == EventComplete {
				ev := e
				complete = &ev
			}
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "I can draft the letter if you'd like. Here it is."
	if reply != want {
		t.Fatalf("reply = %q, want %q", reply, want)
	}
	if provider.calls != 2 {
		t.Fatalf("calls = %d, want 2 (initial + one auto-continue)", provider.calls)
	}
	if complete == nil || complete.Text != want {
		t.Fatalf("complete text = %+v, want %q", complete, want)
	}
}

// TestGenerateWithToolsAutoContinueRespectsMax verifies the heuristic never
// fires more than AutoContinueMax times within one top-level call.
func TestGenerateWithToolsAutoContinueRespectsMax(t *testing.T) {
	provider := &fakeProvider{responses: []*providers.ChatResponse{
		{Content: "Want me to keep going?", FinishReason: "stop"},
		{Content: " Want me to keep going?", FinishReason: "stop"},
		{Content: " done.", FinishReason: "stop"},
	}}
	registry := tools.NewRegistry()
	o := New(provider, newExecutor(), registry)

	_, err := o.GenerateWithTools(context.Background(), nil, Options{AutoContinueMax: 1}, func(Event) {})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.calls != 2 {
		t.Fatalf("calls = %d, want 2 (initial + exactly one auto-continue)", provider.calls)
	}
}

func TestGenerateWithToolsAutoContinueDisabledByDefault(t *testing.T) {
	provider := &fakeProvider{responses: []*providers.ChatResponse{
		{Content: "Shall I continue?", FinishReason: "stop"},
	}}
	registry := tools.NewRegistry()
	o := New(provider, newExecutor(), registry)

	_, err := o.GenerateWithTools(context.Background(), nil, Options{}, func(Event) {})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.calls != 1 {
		t.Fatalf("calls = %d, want 1 (auto-continue disabled when AutoContinueMax is zero)", provider.calls)
	}
}

func TestShouldAutoContinue(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"all done, final answer.", false},
		{"I can draft the letter if you'd like.", true},
		{"Want me to send it now?", true},
		{"Shall I continue?", true},
		{"Ready to proceed?", true},
		{"Let me know if you want changes.", true},
		{"", false},
	}
	for _, c := range cases {
		if got := shouldAutoContinue(c.text); got != c.want {
			t.Errorf("shouldAutoContinue(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}
