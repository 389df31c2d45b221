// Package gateway wires the identity, history, memory, tool, and
// orchestrator planes into the single per-turn pipeline: resolve who
// is speaking, load conversation state, build a prompt, drive the
// Think→Act→Observe loop, and persist the exchange in the background.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aeon/internal/bus"
	"github.com/nextlevelbuilder/aeon/internal/chathistory"
	"github.com/nextlevelbuilder/aeon/internal/identity"
	"github.com/nextlevelbuilder/aeon/internal/mcp"
	"github.com/nextlevelbuilder/aeon/internal/memory"
	"github.com/nextlevelbuilder/aeon/internal/orchestrator"
	"github.com/nextlevelbuilder/aeon/internal/providers"
	"github.com/nextlevelbuilder/aeon/internal/sessions"
)

const (
	defaultMaxMessageChars       = 32000
	defaultMaxHistoryMessages    = 50
	defaultHistoryCharBudget     = 200000
	defaultActiveChannelTimeout  = 30 * time.Minute
	defaultMaxSplitChars         = 4000
)

// tierPrefixes maps a message's leading "!word" prefix to the tier label it
// selects. Checked case-insensitively against the start of the trimmed
// content; the prefix itself is stripped before the message reaches the
// orchestrator.
var tierPrefixes = map[string]string{
	"!high":   "high",
	"!opus":   "high",
	"!mid":    "mid",
	"!sonnet": "mid",
	"!low":    "low",
	"!haiku":  "low",
	"!fast":   "low",
}

// parseTierPrefix strips a recognized tier prefix from the start of content,
// returning the tier it selects ("" if none matched) and the remaining text.
func parseTierPrefix(content string) (tier, rest string) {
	trimmed := strings.TrimSpace(content)
	lower := strings.ToLower(trimmed)
	for prefix, t := range tierPrefixes {
		if lower == prefix {
			return t, ""
		}
		if strings.HasPrefix(lower, prefix+" ") {
			return t, strings.TrimSpace(trimmed[len(prefix):])
		}
	}
	return "", content
}

// Options configures one Gateway instance. Zero values fall back to the
// documented defaults.
type Options struct {
	SystemPrompt        string
	Model               string
	ModelTiers          map[string]string
	MaxToolIterations   int
	AutoContinueEnabled bool
	AutoContinueMax     int

	MaxMessageChars         int
	MaxHistoryMessages      int
	HistoryCharBudget       int
	ActiveChannelTimeoutSec int

	StopPhrases []string
}

// Gateway is the single-tenant turn pipeline: one instance serves every
// channel adapter registered against the same message bus.
type Gateway struct {
	opts Options

	identity     *identity.Resolver
	history      *chathistory.Store
	memorySvc    *memory.Service
	orchestrator *orchestrator.Orchestrator
	sessions     *sessions.Manager
	bus          *bus.MessageBus
	mcp          *mcp.Manager
}

// New builds a Gateway from its wired dependencies. Any of history/memorySvc
// may be nil in a degraded deployment (e.g. no Postgres/Neo4j configured);
// Handle degrades gracefully in that case rather than failing the turn.
func New(identityResolver *identity.Resolver, history *chathistory.Store, memorySvc *memory.Service, orch *orchestrator.Orchestrator, sessionMgr *sessions.Manager, msgBus *bus.MessageBus, opts Options) *Gateway {
	return &Gateway{
		opts:         opts,
		identity:     identityResolver,
		history:      history,
		memorySvc:    memorySvc,
		orchestrator: orch,
		sessions:     sessionMgr,
		bus:          msgBus,
	}
}

// SetMCPManager attaches the MCP bridge once its servers have connected, so
// the status command can report which ones are live. A nil manager (no
// servers configured) is fine; commandMCPStatus then reports an empty list.
func (g *Gateway) SetMCPManager(m *mcp.Manager) {
	g.mcp = m
}

func (g *Gateway) maxMessageChars() int {
	if g.opts.MaxMessageChars > 0 {
		return g.opts.MaxMessageChars
	}
	return defaultMaxMessageChars
}

func (g *Gateway) maxHistoryMessages() int {
	if g.opts.MaxHistoryMessages > 0 {
		return g.opts.MaxHistoryMessages
	}
	return defaultMaxHistoryMessages
}

func (g *Gateway) historyCharBudget() int {
	if g.opts.HistoryCharBudget > 0 {
		return g.opts.HistoryCharBudget
	}
	return defaultHistoryCharBudget
}

func (g *Gateway) activeChannelTimeout() time.Duration {
	if g.opts.ActiveChannelTimeoutSec > 0 {
		return time.Duration(g.opts.ActiveChannelTimeoutSec) * time.Second
	}
	return defaultActiveChannelTimeout
}

// shouldIgnore applies the pre-lock acceptance check: empty content never
// reaches the orchestrator. Mention/allow-list gating is the channel
// adapter's job (BaseChannel.IsAllowed / CheckPolicy) since it runs before
// the message even reaches the bus. Stop phrases are checked separately,
// after the session state lock is held, since acting on one clears
// session state (see matchedStopPhrase).
func (g *Gateway) shouldIgnore(content string) bool {
	return strings.TrimSpace(content) == ""
}

// matchedStopPhrase returns the configured stop phrase found in content
// (case-insensitive substring match), or "" if none match.
func (g *Gateway) matchedStopPhrase(content string) string {
	lower := strings.ToLower(content)
	for _, phrase := range g.opts.StopPhrases {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			return phrase
		}
	}
	return ""
}

// resolveModel picks the model for a turn: a configured tier override wins,
// falling back to the default model when the tier is unset or unmapped.
func (g *Gateway) resolveModel(tier string) string {
	if tier != "" {
		if m, ok := g.opts.ModelTiers[tier]; ok && m != "" {
			return m
		}
	}
	return g.opts.Model
}

// Handle runs one full turn for an inbound message: resolve identity,
// load/refresh conversation state, fetch memory context, drive the
// orchestrator, and persist the exchange. emit streams orchestrator events
// to the caller (typically a channel adapter rendering partial replies);
// it may be nil.
func (g *Gateway) Handle(ctx context.Context, in bus.InboundMessage, emit func(orchestrator.Event)) (string, error) {
	if g.shouldIgnore(in.Content) {
		return "", nil
	}
	content := in.Content
	if len(content) > g.maxMessageChars() {
		content = content[:g.maxMessageChars()]
	}

	userIDs := []string{in.UserID}
	if g.identity != nil {
		if _, err := g.identity.EnsureLink(ctx, in.UserID, in.Metadata["display_name"], nil); err != nil {
			slog.Warn("gateway: ensure link failed", "user", in.UserID, "error", err)
		}
		userIDs = g.identity.ResolveAll(ctx, in.UserID)
	}
	primaryUser := in.UserID
	if len(userIDs) > 0 {
		primaryUser = userIDs[0]
	}

	key := in.SessionKey
	if key == "" {
		key = sessions.BuildKey(in.Channel, sessions.PeerKindFromGroup(in.PeerKind == "group"), in.ChatID)
	}
	state := g.sessions.GetOrCreate(key)
	state.Lock()
	defer state.Unlock()

	if phrase := g.matchedStopPhrase(content); phrase != "" {
		state.ActiveUntil = time.Time{}
		g.finalizeEmotionalSession(primaryUser, in.ChatID)
		ack := "Okay, I'll stop responding here until you mention me again."
		if g.bus != nil {
			g.bus.PublishOutbound(bus.OutboundMessage{Channel: in.Channel, ChatID: in.ChatID, Content: ack})
		}
		return ack, nil
	}
	// A lapsed active window means the previous session ended by inactivity:
	// snapshot its emotional aggregate before this turn starts a new one.
	if !state.ActiveUntil.IsZero() && time.Now().After(state.ActiveUntil) {
		g.finalizeEmotionalSession(primaryUser, in.ChatID)
	}
	state.ActiveUntil = time.Now().Add(g.activeChannelTimeout())

	tier := in.Tier
	if parsed, rest := parseTierPrefix(content); parsed != "" {
		tier = parsed
		content = rest
	}
	if tier != "" {
		state.TierOverride = tier
	} else {
		tier = state.TierOverride
	}

	var convID uuid.UUID
	if g.history != nil {
		cid, err := g.ensureConversation(ctx, in, primaryUser)
		if err != nil {
			slog.Warn("gateway: ensure conversation failed", "error", err)
		} else {
			convID = cid
			state.ConversationID = cid
		}
	}

	if len(in.Media) > 0 {
		content += inlineAttachments(in.Media)
	}

	// History load and memory-context fetch are independent reads; run them
	// concurrently so neither adds to the other's latency.
	var (
		recent = state.Recent
		memCtx memory.Context
		wg     sync.WaitGroup
	)
	if recent == nil && g.history != nil && convID != uuid.Nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if msgs, err := g.history.LoadRecentMessages(ctx, convID, g.maxHistoryMessages()); err == nil {
				recent = msgs
			}
		}()
	}
	if g.memorySvc != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			memCtx = g.memorySvc.FetchContext(ctx, content, userIDs)
		}()
	}
	wg.Wait()

	messages := g.buildPrompt(recent, memCtx, content)

	opts := orchestrator.Options{
		MaxToolIterations: g.opts.MaxToolIterations,
		Model:             g.resolveModel(tier),
	}
	if g.opts.AutoContinueEnabled {
		opts.AutoContinueMax = g.opts.AutoContinueMax
		if opts.AutoContinueMax <= 0 {
			opts.AutoContinueMax = orchestrator.DefaultAutoContinueMax
		}
	}
	if emit == nil {
		emit = func(orchestrator.Event) {}
	}

	reply, err := g.orchestrator.GenerateWithTools(ctx, messages, opts, emit)
	if err != nil {
		return "", fmt.Errorf("gateway: turn failed: %w", err)
	}

	now := time.Now()
	state.Recent = trimHistory(append(recent,
		chathistory.Message{Role: chathistory.RoleUser, Content: content, CreatedAt: now},
		chathistory.Message{Role: chathistory.RoleAssistant, Content: reply, CreatedAt: now},
	), 2*g.maxHistoryMessages(), g.historyCharBudget())

	go g.persist(convID, content, reply, primaryUser, in.ChatID, now)

	if g.bus != nil {
		for _, chunk := range SplitForDelivery(reply, defaultMaxSplitChars) {
			g.bus.PublishOutbound(bus.OutboundMessage{Channel: in.Channel, ChatID: in.ChatID, Content: chunk})
		}
	}

	return reply, nil
}

func (g *Gateway) ensureConversation(ctx context.Context, in bus.InboundMessage, primaryUser string) (uuid.UUID, error) {
	kind := chathistory.ChannelDM
	if in.PeerKind == "group" {
		kind = chathistory.ChannelGroup
	}
	_, channelID, err := g.history.EnsureChannel(ctx, in.Channel, in.Channel, in.ChatID, in.ChatID, kind)
	if err != nil {
		return uuid.Nil, err
	}
	userUUID, err := uuid.Parse(primaryUser)
	if err != nil {
		// Non-UUID canonical ids (no identity store configured) get a
		// deterministic placeholder so the conversation still groups by user.
		userUUID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(primaryUser))
	}
	return g.history.GetOrCreateConversation(ctx, channelID, userUUID)
}

// finalizeEmotionalSession snapshots the per-session sentiment aggregate in
// the background once a session ends (stop phrase or inactivity).
func (g *Gateway) finalizeEmotionalSession(userID, channelID string) {
	if g.memorySvc == nil || g.memorySvc.Emotional == nil {
		return
	}
	go g.memorySvc.Emotional.FinalizeSession(context.Background(), userID, channelID)
}

// persist runs the durable write path after a reply has already been
// returned to the caller: chat history and memory writes never block the
// user-visible turn.
func (g *Gateway) persist(convID uuid.UUID, userMsg, assistantMsg, userID, channelID string, ts time.Time) {
	ctx := context.Background()
	if g.history != nil && convID != uuid.Nil {
		userUUID, err := uuid.Parse(userID)
		if err != nil {
			userUUID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(userID))
		}
		if err := g.history.StoreExchange(ctx, convID, userUUID, userMsg, assistantMsg, ts, ts); err != nil {
			slog.Warn("gateway: store exchange failed", "error", err)
		}
	}
	if g.memorySvc != nil {
		g.memorySvc.Add(ctx, userMsg, assistantMsg, userID, channelID)
	}
}

func (g *Gateway) buildPrompt(recent []chathistory.Message, memCtx memory.Context, content string) []providers.Message {
	var messages []providers.Message

	system := g.opts.SystemPrompt
	if sections := memory.BuildPromptSections(memCtx); len(sections) > 0 {
		if system != "" {
			system += "\n\n"
		}
		system += strings.Join(sections, "\n\n")
	}
	if system != "" {
		messages = append(messages, providers.Message{Role: "system", Content: system})
	}

	for _, m := range recent {
		role := string(m.Role)
		messages = append(messages, providers.Message{Role: role, Content: m.Content})
	}

	messages = append(messages, providers.Message{Role: "user", Content: content})
	return messages
}

// trimHistory enforces both the hard message-count cap and the soft
// character-budget cap, dropping from the oldest end first and never
// leaving fewer than 2 messages behind.
func trimHistory(msgs []chathistory.Message, hardCap, charBudget int) []chathistory.Message {
	if len(msgs) > hardCap {
		msgs = msgs[len(msgs)-hardCap:]
	}
	total := 0
	for _, m := range msgs {
		total += len(m.Content)
	}
	start := 0
	for total > charBudget && len(msgs)-start > 2 {
		total -= len(msgs[start].Content)
		start++
	}
	return msgs[start:]
}

const (
	maxInlineAttachmentBytes = 64 * 1024

	fenceMarker = "```"
)

// textAttachmentExts are the file extensions inlined verbatim into the
// prompt. Everything else (images, PDFs, binaries) becomes a placeholder
// token; the actual extraction helpers live outside the gateway.
var textAttachmentExts = map[string]bool{
	".txt": true, ".md": true, ".log": true, ".json": true, ".yaml": true,
	".yml": true, ".csv": true, ".go": true, ".py": true, ".sh": true,
}

// inlineAttachments renders media references into prompt text: small text
// files verbatim, everything else as a placeholder naming the file.
func inlineAttachments(media []string) string {
	var b strings.Builder
	for _, path := range media {
		name := filepath.Base(path)
		if textAttachmentExts[strings.ToLower(filepath.Ext(path))] {
			if info, err := os.Stat(path); err == nil && info.Size() <= maxInlineAttachmentBytes {
				if data, err := os.ReadFile(path); err == nil {
					fmt.Fprintf(&b, "\n\n[attachment %s]\n%s", name, string(data))
					continue
				}
			}
		}
		fmt.Fprintf(&b, "\n\n[attachment: %s]", name)
	}
	return b.String()
}

// SplitForDelivery breaks a reply into chunks no longer than maxChars,
// preferring a newline break point over a space over a hard cut. A split
// that would otherwise land inside an unterminated fenced code block closes
// the fence at the end of the chunk and reopens it at the start of the
// next, so every chunk renders as valid markdown on its own and
// concatenating all chunks (minus the inserted fence markers) reproduces
// the original text.
func SplitForDelivery(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = defaultMaxSplitChars
	}
	if len(text) <= maxChars {
		return []string{text}
	}

	var chunks []string
	remaining := text
	fenceOpen := false

	for len(remaining) > 0 {
		prefix := ""
		if fenceOpen {
			prefix = fenceMarker + "\n"
		}

		if len(prefix)+len(remaining) <= maxChars {
			chunks = append(chunks, prefix+remaining)
			break
		}

		// Reserve room for a possible closing fence ("\n```") so the chunk
		// never exceeds maxChars even if we end up needing one.
		limit := maxChars - len(prefix) - (len("\n")+len(fenceMarker))
		if limit <= 0 {
			limit = maxChars - len(prefix)
		}
		if limit > len(remaining) {
			limit = len(remaining)
		}

		cut := bestBreakPoint(remaining, limit)
		body := remaining[:cut]
		remaining = remaining[cut:]

		stillOpen := fenceOpen
		if strings.Count(body, fenceMarker)%2 == 1 {
			stillOpen = !stillOpen
		}

		if stillOpen {
			chunks = append(chunks, prefix+body+"\n"+fenceMarker)
		} else {
			chunks = append(chunks, prefix+body)
		}
		fenceOpen = stillOpen
	}

	if len(chunks) == 0 {
		return []string{text}
	}
	return chunks
}

// bestBreakPoint finds the split point within s[:limit], preferring the
// last newline, then the last space, falling back to a hard cut at limit.
func bestBreakPoint(s string, limit int) int {
	if limit >= len(s) {
		return len(s)
	}
	window := s[:limit]
	if idx := strings.LastIndexByte(window, '\n'); idx > 0 {
		return idx + 1
	}
	if idx := strings.LastIndexByte(window, ' '); idx > 0 {
		return idx + 1
	}
	return limit
}
