// Package orchestrator drives the Think → Act → Observe loop that turns a
// conversation plus a tool registry into a final reply, streaming events as
// it goes.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/aeon/internal/providers"
	"github.com/nextlevelbuilder/aeon/internal/telemetry"
	"github.com/nextlevelbuilder/aeon/internal/tools"
)

const (
	defaultMaxToolIterations = 10
	// DefaultAutoContinueMax is the auto-continue cap callers should use
	// when AutoContinueEnabled but no explicit max was configured.
	DefaultAutoContinueMax  = 1
	autoContinueTailChars   = 200
	simulatedStreamGroupLen = 50
	toolResultPreviewChars  = 200
)

// EventKind classifies one streamed orchestrator event.
type EventKind string

const (
	EventTextChunk  EventKind = "text_chunk"
	EventToolStart  EventKind = "tool_start"
	EventToolResult EventKind = "tool_result"
	EventComplete   EventKind = "complete"
	EventError      EventKind = "error"
)

// Event is one unit streamed back to the caller while a turn runs, modeled
// on the wire union in pkg/protocol: text_chunk/tool_start/tool_result/
// complete/error.
type Event struct {
	Kind EventKind

	Text string // text_chunk content, or complete's full_text

	ToolName string // tool_start / tool_result
	Step     int    // tool_start: running count of tool calls this turn
	Success  bool   // tool_result: !strings.HasPrefix(result, "Error:")
	Preview  string // tool_result: result truncated to 200 chars

	ToolCount int // complete: total tool calls made this turn

	Err error // error
}

// Options configures one GenerateWithTools call. AutoContinueMax is taken
// at face value: 0 (the zero value) disables auto-continue; callers that
// want the heuristic on must set it explicitly, e.g. to DefaultAutoContinueMax.
type Options struct {
	MaxToolIterations int
	AutoContinueMax   int
	Model             string
}

// Orchestrator runs the agent loop for one provider against one tool registry.
type Orchestrator struct {
	provider providers.Provider
	executor *tools.Executor
	registry *tools.Registry
	tracer   *telemetry.Tracer
}

func New(provider providers.Provider, executor *tools.Executor, registry *tools.Registry) *Orchestrator {
	return &Orchestrator{provider: provider, executor: executor, registry: registry}
}

// SetTracer wires OpenTelemetry spans around the agent run, each LLM call,
// and each tool call. A nil tracer (the default) makes every span a no-op.
func (o *Orchestrator) SetTracer(t *telemetry.Tracer) { o.tracer = t }

// GenerateWithTools drives one turn: calls the provider, executes any
// requested tools, feeds results back, and repeats until the model stops
// calling tools or MaxToolIterations is reached. emit is called for every
// event in order; TextChunks are never interleaved with a given tool call's
// ToolStart/ToolResult. Exactly one Complete event is emitted, as the final
// event, unless the call returns an error or ctx is cancelled first.
func (o *Orchestrator) GenerateWithTools(ctx context.Context, messages []providers.Message, opts Options, emit func(Event)) (string, error) {
	maxIterations := opts.MaxToolIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxToolIterations
	}

	ctx, endSpan := o.tracer.Start(ctx, "agent.run", attribute.String("model", opts.Model))

	toolCount := new(int)
	full, err := o.runSegment(ctx, append([]providers.Message(nil), messages...), opts, maxIterations, 0, toolCount, emit)
	endSpan(err)
	if err != nil {
		return "", err
	}

	emit(Event{Kind: EventComplete, Text: full, ToolCount: *toolCount})
	return full, nil
}

// runSegment runs one tool-calling loop (up to maxIterations provider
// calls). When it ends on an interrogative, auto-continue-eligible reply, it
// recurses with a synthesized "Yes, please proceed." turn and a fresh
// iteration budget, and its result is concatenated onto this segment's text.
// It never emits Complete itself — only GenerateWithTools does, exactly
// once, at the very end of the outermost call.
func (o *Orchestrator) runSegment(ctx context.Context, convo []providers.Message, opts Options, maxIterations, autoContinues int, toolCount *int, emit func(Event)) (string, error) {
	defs := o.registry.Definitions()

	for iteration := 0; iteration < maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		if len(defs) == 0 {
			spanCtx, endSpan := o.tracer.Start(ctx, "llm.call", attribute.Int("iteration", iteration))
			resp, err := o.provider.ChatStream(spanCtx, providers.ChatRequest{Model: opts.Model, Messages: convo}, streamEmitter(emit))
			endSpan(err)
			if err != nil {
				emit(Event{Kind: EventError, Err: err})
				return "", fmt.Errorf("orchestrator: stream call failed: %w", err)
			}
			text := resp.Content
			if shouldAutoContinue(text) && autoContinues < opts.AutoContinueMax {
				nextConvo := append(append([]providers.Message(nil), convo...),
					providers.Message{Role: "assistant", Content: text},
					providers.Message{Role: "user", Content: "Yes, please proceed."},
				)
				continuation, err := o.runSegment(ctx, nextConvo, opts, maxIterations, autoContinues+1, toolCount, emit)
				if err != nil {
					return "", err
				}
				return text + continuation, nil
			}
			return text, nil
		}

		req := providers.ChatRequest{Model: opts.Model, Messages: convo, Tools: defs}
		spanCtx, endSpan := o.tracer.Start(ctx, "llm.call", attribute.Int("iteration", iteration))
		resp, err := o.provider.Chat(spanCtx, req)
		endSpan(err)
		if err != nil {
			emit(Event{Kind: EventError, Err: err})
			return "", fmt.Errorf("orchestrator: chat call failed: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			text, err := o.streamFinalText(ctx, req, resp, iteration == 0, emit)
			if err != nil {
				emit(Event{Kind: EventError, Err: err})
				return "", err
			}

			if shouldAutoContinue(text) && autoContinues < opts.AutoContinueMax {
				nextConvo := append(append([]providers.Message(nil), convo...),
					providers.Message{Role: "assistant", Content: text},
					providers.Message{Role: "user", Content: "Yes, please proceed."},
				)
				continuation, err := o.runSegment(ctx, nextConvo, opts, maxIterations, autoContinues+1, toolCount, emit)
				if err != nil {
					return "", err
				}
				return text + continuation, nil
			}

			return text, nil
		}

		convo = append(convo, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			*toolCount++
			emit(Event{Kind: EventToolStart, ToolName: call.Name, Step: *toolCount})

			toolCtx, endToolSpan := o.tracer.Start(ctx, "tool.call", attribute.String("tool", call.Name))
			result := o.executor.Execute(toolCtx, call)
			success := !strings.HasPrefix(result.ForLLM, "Error:")
			var toolErr error
			if !success {
				toolErr = fmt.Errorf("%s", result.ForLLM)
			}
			endToolSpan(toolErr)

			emit(Event{Kind: EventToolResult, ToolName: call.Name, Success: success, Preview: preview(result.ForLLM, toolResultPreviewChars)})

			convo = append(convo, providers.Message{
				Role:       "tool",
				Content:    result.ForLLM,
				ToolCallID: call.ID,
			})
		}
	}

	slog.Warn("orchestrator: max tool iterations reached, forcing summary turn")
	convo = append(convo, providers.Message{
		Role:    "user",
		Content: "You've reached the maximum number of tool calls. Please summarise what you've accomplished.",
	})

	resp, err := o.provider.Chat(ctx, providers.ChatRequest{Model: opts.Model, Messages: convo})
	if err != nil {
		emit(Event{Kind: EventError, Err: err})
		return "", fmt.Errorf("orchestrator: forced summary call failed: %w", err)
	}
	simulateStream(resp.Content, emit)
	return resp.Content, nil
}

// streamFinalText produces the text for a no-tool-call response: the first
// iteration re-issues the call as a real streaming request (the initial
// non-streaming call was needed only to discover there were no tool calls);
// every later iteration simulates streaming from the already-collected
// content instead of paying for a second round-trip.
func (o *Orchestrator) streamFinalText(ctx context.Context, req providers.ChatRequest, resp *providers.ChatResponse, firstIteration bool, emit func(Event)) (string, error) {
	if firstIteration {
		streamed, err := o.provider.ChatStream(ctx, req, streamEmitter(emit))
		if err != nil {
			return "", fmt.Errorf("orchestrator: stream call failed: %w", err)
		}
		return streamed.Content, nil
	}
	simulateStream(resp.Content, emit)
	return resp.Content, nil
}

func streamEmitter(emit func(Event)) func(providers.StreamChunk) {
	return func(chunk providers.StreamChunk) {
		if chunk.Content != "" {
			emit(Event{Kind: EventTextChunk, Text: chunk.Content})
		}
	}
}

// simulateStream re-emits already-collected text as TextChunk events in
// ~50-character word groups, so a non-streamed reply still renders
// incrementally on the adapter side.
func simulateStream(text string, emit func(Event)) {
	if text == "" {
		return
	}
	words := strings.Fields(text)
	var group strings.Builder
	for i, w := range words {
		if group.Len() > 0 {
			group.WriteByte(' ')
		}
		group.WriteString(w)
		if group.Len() >= simulatedStreamGroupLen || i == len(words)-1 {
			emit(Event{Kind: EventTextChunk, Text: group.String()})
			group.Reset()
		}
	}
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// autoContinuePatterns match an interrogative or permission-seeking tail
// that invites the model to keep going rather than ending the turn.
var autoContinuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)want me to\b.*\?\s*$`),
	regexp.MustCompile(`(?i)shall i\b.*\?\s*$`),
	regexp.MustCompile(`(?i)should i\b.*\?\s*$`),
	regexp.MustCompile(`(?i)\bcontinue\?\s*$`),
	regexp.MustCompile(`(?i)\bproceed\?\s*$`),
	regexp.MustCompile(`(?i)ready to proceed\?\s*$`),
	regexp.MustCompile(`(?i)let me know if\b.*$`),
	regexp.MustCompile(`(?i)would you like\b.*\?\s*$`),
	regexp.MustCompile(`(?i)if you('d| would) like\.?\s*$`),
	regexp.MustCompile(`(?i)do you want\b.*\?\s*$`),
}

// shouldAutoContinue inspects the last 200 characters of text against a
// fixed set of interrogative/permission-seeking patterns.
func shouldAutoContinue(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	tail := trimmed
	if len(tail) > autoContinueTailChars {
		tail = tail[len(tail)-autoContinueTailChars:]
	}
	for _, re := range autoContinuePatterns {
		if re.MatchString(tail) {
			return true
		}
	}
	return false
}
