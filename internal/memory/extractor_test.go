package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/nextlevelbuilder/aeon/internal/providers"
)

// cannedProvider returns one fixed response (or error) for every call.
type cannedProvider struct {
	content string
	err     error
}

func (c *cannedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &providers.ChatResponse{Content: c.content}, nil
}

func (c *cannedProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return c.Chat(ctx, req)
}
func (c *cannedProvider) DefaultModel() string { return "canned" }
func (c *cannedProvider) Name() string         { return "canned" }

func TestExtractParsesPlainJSON(t *testing.T) {
	e := NewExtractor(&cannedProvider{content: `{"facts": ["User lives in Berlin", "User likes tea"]}`}, "m")
	facts := e.Extract(context.Background(), "I moved to Berlin", "Noted!")
	if len(facts) != 2 || facts[0] != "User lives in Berlin" {
		t.Fatalf("facts = %v", facts)
	}
}

func TestExtractStripsCodeFences(t *testing.T) {
	e := NewExtractor(&cannedProvider{content: "```json\n{\"facts\": [\"User is a doctor\"]}\n```"}, "m")
	facts := e.Extract(context.Background(), "u", "a")
	if len(facts) != 1 || facts[0] != "User is a doctor" {
		t.Fatalf("facts = %v", facts)
	}
}

func TestExtractReturnsEmptyOnGarbage(t *testing.T) {
	e := NewExtractor(&cannedProvider{content: "I couldn't find any facts, sorry!"}, "m")
	if facts := e.Extract(context.Background(), "u", "a"); len(facts) != 0 {
		t.Fatalf("facts = %v, want empty on unparseable response", facts)
	}
}

func TestExtractReturnsEmptyOnTransportError(t *testing.T) {
	e := NewExtractor(&cannedProvider{err: errors.New("connection refused")}, "m")
	if facts := e.Extract(context.Background(), "u", "a"); len(facts) != 0 {
		t.Fatalf("facts = %v, want empty on provider error", facts)
	}
}

func TestExtractDropsBlankFacts(t *testing.T) {
	e := NewExtractor(&cannedProvider{content: `{"facts": ["  ", "User has a dog", ""]}`}, "m")
	facts := e.Extract(context.Background(), "u", "a")
	if len(facts) != 1 || facts[0] != "User has a dog" {
		t.Fatalf("facts = %v", facts)
	}
}

func TestExtractIgnoresThinkTags(t *testing.T) {
	e := NewExtractor(&cannedProvider{content: "<think>hmm, what matters here</think>{\"facts\": [\"User plays chess\"]}"}, "m")
	facts := e.Extract(context.Background(), "u", "a")
	if len(facts) != 1 || facts[0] != "User plays chess" {
		t.Fatalf("facts = %v", facts)
	}
}
