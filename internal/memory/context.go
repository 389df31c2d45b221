package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aeon/internal/providers"
)

const maxRecurringTopics = 3

// emotionalTone is a coarse sentiment label derived from keyword scoring.
type emotionalTone string

const (
	toneNeutral  emotionalTone = "neutral"
	tonePositive emotionalTone = "positive"
	toneNegative emotionalTone = "negative"
	toneMixed    emotionalTone = "mixed"
)

var positiveWords = []string{"happy", "great", "excited", "love", "good", "glad", "thanks", "awesome", "excellent"}
var negativeWords = []string{"sad", "angry", "frustrated", "hate", "bad", "upset", "worried", "anxious", "terrible"}

func scoreTone(text string) emotionalTone {
	lower := strings.ToLower(text)
	pos, neg := 0, 0
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			pos++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			neg++
		}
	}
	switch {
	case pos > 0 && neg > 0:
		return toneMixed
	case pos > neg:
		return tonePositive
	case neg > pos:
		return toneNegative
	default:
		return toneNeutral
	}
}

// emotionalSession accumulates a session's tone samples for one (userID, channelID) pair.
type emotionalSession struct {
	samples []emotionalTone
	started time.Time
}

// EmotionalTracker maintains a lightweight per-session sentiment aggregate
// and, on FinalizeSession, writes a single emotional_context memory node
// summarizing the dominant tone.
type EmotionalTracker struct {
	store    *Store
	embedder *EmbeddingClient

	mu       sync.Mutex
	sessions map[string]*emotionalSession
}

func NewEmotionalTracker(store *Store, embedder *EmbeddingClient) *EmotionalTracker {
	return &EmotionalTracker{store: store, embedder: embedder, sessions: make(map[string]*emotionalSession)}
}

func sessionKey(userID, channelID string) string {
	return userID + "|" + channelID
}

// Observe records one exchange's tone for the given session.
func (t *EmotionalTracker) Observe(userID, channelID, userMessage string) {
	tone := scoreTone(userMessage)
	key := sessionKey(userID, channelID)

	t.mu.Lock()
	defer t.mu.Unlock()
	sess, ok := t.sessions[key]
	if !ok {
		sess = &emotionalSession{started: time.Now()}
		t.sessions[key] = sess
	}
	sess.samples = append(sess.samples, tone)
}

// FinalizeSession summarizes the session's accumulated tone into a single
// emotional_context memory node and clears the session's accumulator.
func (t *EmotionalTracker) FinalizeSession(ctx context.Context, userID, channelID string) {
	key := sessionKey(userID, channelID)

	t.mu.Lock()
	sess, ok := t.sessions[key]
	if ok {
		delete(t.sessions, key)
	}
	t.mu.Unlock()

	if !ok || len(sess.samples) == 0 {
		return
	}

	dominant := dominantTone(sess.samples)
	text := fmt.Sprintf("On %s, the conversation's overall tone was %s.", sess.started.Format("2006-01-02"), dominant)

	vec, err := t.embedder.Embed(ctx, text)
	if err != nil {
		slog.Warn("memory: emotional context embed failed", "error", err)
		return
	}
	id := uuid.New().String()
	if err := t.store.InsertMemory(ctx, id, vec, text, userID, map[string]string{"kind": string(KindEmotionalContext)}); err != nil {
		slog.Warn("memory: emotional context insert failed", "error", err)
	}
}

func dominantTone(samples []emotionalTone) emotionalTone {
	counts := make(map[emotionalTone]int)
	for _, s := range samples {
		counts[s]++
	}
	best, bestCount := toneNeutral, -1
	for tone, c := range counts {
		if c > bestCount {
			best, bestCount = tone, c
		}
	}
	return best
}

// Retrieve returns the last n emotional_context snapshots across userIDs.
func (t *EmotionalTracker) Retrieve(ctx context.Context, userIDs []string, n int) []Node {
	nodes := t.store.GetAll(ctx, userIDs, Filters{"kind": string(KindEmotionalContext)}, n)
	return nodes
}

// EmotionalWeight classifies how charged a topic mention felt.
type EmotionalWeight string

const (
	WeightLight    EmotionalWeight = "light"
	WeightModerate EmotionalWeight = "moderate"
	WeightHeavy    EmotionalWeight = "heavy"
)

func normalizeWeight(s string) EmotionalWeight {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(WeightModerate):
		return WeightModerate
	case string(WeightHeavy):
		return WeightHeavy
	default:
		return WeightLight
	}
}

// topicMention is one LLM-extracted mention of a recurring topic.
type topicMention struct {
	Topic           string `json:"topic"`
	TopicType       string `json:"topicType"`
	ContextSnippet  string `json:"contextSnippet"`
	EmotionalWeight string `json:"emotionalWeight"`
}

type topicExtraction struct {
	Topics []topicMention `json:"topics"`
}

const topicExtractionPrompt = `Identify up to 3 topics the user is discussing that might recur across
future conversations (projects, people, hobbies, ongoing concerns). Skip
one-off small talk. Classify topicType as "entity" or "theme".

Return ONLY valid JSON in this exact shape:
{"topics": [{"topic": "...", "topicType": "entity|theme", "contextSnippet": "...", "emotionalWeight": "light|moderate|heavy"}]}

If nothing qualifies, return {"topics": []}.

USER: %s
ASSISTANT: %s`

// TopicTracker extracts and persists topic mentions, and surfaces topics
// that recur across multiple conversations.
type TopicTracker struct {
	store    *Store
	embedder *EmbeddingClient
	provider providers.Provider
	model    string
}

func NewTopicTracker(store *Store, embedder *EmbeddingClient, provider providers.Provider, model string) *TopicTracker {
	return &TopicTracker{store: store, embedder: embedder, provider: provider, model: model}
}

// ExtractAndStore pulls up to 3 topic mentions out of one exchange and
// stores each as a topic_mention memory node.
func (t *TopicTracker) ExtractAndStore(ctx context.Context, userID, userMessage, assistantMessage string) {
	resp, err := t.provider.Chat(ctx, providers.ChatRequest{
		Model: t.model,
		Messages: []providers.Message{
			{Role: "user", Content: fmt.Sprintf(topicExtractionPrompt, userMessage, assistantMessage)},
		},
	})
	if err != nil {
		slog.Warn("memory: topic extraction LLM call failed", "error", err)
		return
	}

	content := stripFences(thinkTagRe.ReplaceAllString(resp.Content, ""))
	var payload topicExtraction
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		slog.Warn("memory: topic extraction response unparseable", "error", err)
		return
	}

	for i, m := range payload.Topics {
		if i >= maxRecurringTopics {
			break
		}
		if strings.TrimSpace(m.Topic) == "" {
			continue
		}
		text := fmt.Sprintf("%s: %s", m.Topic, m.ContextSnippet)
		vec, err := t.embedder.Embed(ctx, text)
		if err != nil {
			slog.Warn("memory: topic mention embed failed", "topic", m.Topic, "error", err)
			continue
		}
		id := uuid.New().String()
		meta := map[string]string{
			"kind":            string(KindTopicMention),
			"category":        m.TopicType,
			"topic":           m.Topic,
			"emotionalWeight": string(normalizeWeight(m.EmotionalWeight)),
		}
		if err := t.store.InsertMemory(ctx, id, vec, text, userID, meta); err != nil {
			slog.Warn("memory: topic mention insert failed", "topic", m.Topic, "error", err)
		}
	}
}

// RecurringTopic summarizes a topic name that has been mentioned at least
// twice in the last 14 days.
type RecurringTopic struct {
	Topic           string
	Mentions        int
	EmotionalWeight EmotionalWeight
	LastMentioned   time.Time
}

const recurringTopicWindow = 14 * 24 * time.Hour

// GetRecurringTopics groups stored topic mentions by topic name over the
// last 14 days, keeping only topics mentioned at least twice, capped at
// maxTopics (defaulting to 3 when maxTopics <= 0).
func (t *TopicTracker) GetRecurringTopics(ctx context.Context, userIDs []string, maxTopics int) []RecurringTopic {
	if maxTopics <= 0 {
		maxTopics = maxRecurringTopics
	}

	nodes := t.store.GetAll(ctx, userIDs, Filters{"kind": string(KindTopicMention)}, 200)
	cutoff := time.Now().Add(-recurringTopicWindow)

	groups := make(map[string][]Node)
	for _, n := range nodes {
		if n.CreatedAt.Before(cutoff) {
			continue
		}
		topic := n.Metadata["topic"]
		if topic == "" {
			continue
		}
		groups[topic] = append(groups[topic], n)
	}

	var out []RecurringTopic
	for topic, members := range groups {
		if len(members) < 2 {
			continue
		}
		last := members[0].CreatedAt
		weights := make([]EmotionalWeight, 0, len(members))
		for _, m := range members {
			if m.CreatedAt.After(last) {
				last = m.CreatedAt
			}
			weights = append(weights, normalizeWeight(m.Metadata["emotionalWeight"]))
		}
		out = append(out, RecurringTopic{
			Topic:           topic,
			Mentions:        len(members),
			EmotionalWeight: modalWeight(weights),
			LastMentioned:   last,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Mentions > out[j].Mentions })
	if len(out) > maxTopics {
		out = out[:maxTopics]
	}
	return out
}

// modalWeight returns the most frequently occurring weight, breaking ties
// toward the heavier category.
func modalWeight(weights []EmotionalWeight) EmotionalWeight {
	if len(weights) == 0 {
		return WeightLight
	}
	counts := map[EmotionalWeight]int{}
	for _, w := range weights {
		counts[w]++
	}
	order := []EmotionalWeight{WeightHeavy, WeightModerate, WeightLight}
	best, bestCount := WeightLight, -1
	for _, w := range order {
		if counts[w] > bestCount {
			best, bestCount = w, counts[w]
		}
	}
	return best
}
