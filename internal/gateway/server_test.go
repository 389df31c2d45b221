package gateway

import (
	"errors"
	"testing"

	"github.com/nextlevelbuilder/aeon/internal/orchestrator"
)

func TestWireEventMapping(t *testing.T) {
	chunk := WireEvent(orchestrator.Event{Kind: orchestrator.EventTextChunk, Text: "hel"})
	if chunk.Type != "text_chunk" || chunk.Text != "hel" {
		t.Fatalf("chunk = %+v", chunk)
	}

	start := WireEvent(orchestrator.Event{Kind: orchestrator.EventToolStart, ToolName: "web_fetch", Step: 2})
	if start.Type != "tool_start" || start.Name != "web_fetch" || start.Step != 2 {
		t.Fatalf("start = %+v", start)
	}

	result := WireEvent(orchestrator.Event{Kind: orchestrator.EventToolResult, ToolName: "web_fetch", Success: true, Preview: "ok"})
	if result.Type != "tool_result" || result.Success == nil || !*result.Success || result.Preview != "ok" {
		t.Fatalf("result = %+v", result)
	}

	complete := WireEvent(orchestrator.Event{Kind: orchestrator.EventComplete, Text: "full reply", ToolCount: 3})
	if complete.Type != "complete" || complete.FullText != "full reply" || complete.ToolCount == nil || *complete.ToolCount != 3 {
		t.Fatalf("complete = %+v", complete)
	}

	errEvent := WireEvent(orchestrator.Event{Kind: orchestrator.EventError, Err: errors.New("boom")})
	if errEvent.Type != "error" || errEvent.Message != "boom" {
		t.Fatalf("errEvent = %+v", errEvent)
	}
}
