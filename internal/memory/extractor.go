package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/aeon/internal/providers"
)

// extractionPrompt asks for durable facts worth remembering, nothing else.
const extractionPrompt = `Extract durable facts about the user worth remembering long-term from
this exchange. Skip small talk, questions, and anything already obvious
from context. Each fact should be a short, self-contained statement.

Return ONLY valid JSON in this exact shape, with no other text:
{"facts": ["fact one", "fact two"]}

If there is nothing worth remembering, return {"facts": []}.

USER: %s
ASSISTANT: %s`

var thinkTagRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Extractor pulls durable facts out of one user/assistant exchange.
type Extractor struct {
	provider providers.Provider
	model    string
}

func NewExtractor(p providers.Provider, model string) *Extractor {
	return &Extractor{provider: p, model: model}
}

type factsPayload struct {
	Facts []string `json:"facts"`
}

// Extract returns the facts worth remembering from one exchange. On any
// failure (LLM error, unparseable response) it returns an empty slice and
// logs a warning; it never returns an error to the caller.
func (e *Extractor) Extract(ctx context.Context, userMessage, assistantMessage string) []string {
	resp, err := e.provider.Chat(ctx, providers.ChatRequest{
		Model: e.model,
		Messages: []providers.Message{
			{Role: "user", Content: fmt.Sprintf(extractionPrompt, userMessage, assistantMessage)},
		},
	})
	if err != nil {
		slog.Warn("memory: fact extraction LLM call failed", "error", err)
		return nil
	}

	content := thinkTagRe.ReplaceAllString(resp.Content, "")
	content = stripFences(content)

	var payload factsPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		// Fall back to single-object parse in case the model wrapped the
		// facts array in extra keys.
		var loose map[string]any
		if err2 := json.Unmarshal([]byte(content), &loose); err2 == nil {
			if raw, ok := loose["facts"].([]any); ok {
				for _, f := range raw {
					if s, ok := f.(string); ok && strings.TrimSpace(s) != "" {
						payload.Facts = append(payload.Facts, s)
					}
				}
				return payload.Facts
			}
		}
		slog.Warn("memory: fact extraction response unparseable", "error", err)
		return nil
	}

	out := make([]string, 0, len(payload.Facts))
	for _, f := range payload.Facts {
		if strings.TrimSpace(f) != "" {
			out = append(out, strings.TrimSpace(f))
		}
	}
	return out
}
