package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultSearchK       = 35
	maxRelevantInPrompt  = 20
	maxRelationshipsInPrompt = 20
	maxEmotionalSnapshots    = 3
)

// Context is everything FetchContext gathered for one turn, ready to be
// rendered into prompt sections.
type Context struct {
	KeyMemories     []Node
	Relevant        []Node
	Relationships   []string
	Emotional       []Node
	RecurringTopics []RecurringTopic
}

// Service is the per-turn façade over the memory plane: FetchContext reads
// everything relevant to a query, Add writes back an exchange's extracted
// facts and context in the background.
type Service struct {
	Store       *Store
	Embedder    *EmbeddingClient
	SearchCache *SearchCache
	Extractor   *Extractor
	Reconciler  *Reconciler
	Emotional   *EmotionalTracker
	Topics      *TopicTracker

	MaxResults int
	MinScore   float64
}

// FetchContext gathers key memories, vector-relevant memories, known
// relationships, recent emotional snapshots, and recurring topics, all
// concurrently, and assembles them into a single Context.
func (s *Service) FetchContext(ctx context.Context, query string, userIDs []string) Context {
	if len(userIDs) == 0 {
		return Context{}
	}
	primaryUser := userIDs[0]

	var cached Context
	if s.SearchCache != nil && s.SearchCache.Get(ctx, primaryUser, query, &cached) {
		return cached
	}

	vec, err := s.Embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("memory: fetch context embed failed", "error", err)
		return Context{}
	}

	var (
		wg            sync.WaitGroup
		keyMemories   []Node
		relevant      []Node
		relationships []string
		emotional     []Node
		topics        []RecurringTopic
	)

	wg.Add(5)
	go func() {
		defer wg.Done()
		keyMemories = s.Store.GetKeyMemories(ctx, userIDs, 10)
	}()
	go func() {
		defer wg.Done()
		k := s.MaxResults
		if k <= 0 {
			k = defaultSearchK
		}
		hits := s.Store.Search(ctx, vec, userIDs, k)
		for _, n := range hits {
			if n.Score >= s.MinScore {
				relevant = append(relevant, n)
			}
		}
		sort.Slice(relevant, func(i, j int) bool { return relevant[i].Score > relevant[j].Score })
	}()
	go func() {
		defer wg.Done()
		relationships = s.Store.SearchEntities(ctx, query, userIDs, maxRelationshipsInPrompt)
	}()
	go func() {
		defer wg.Done()
		if s.Emotional != nil {
			emotional = s.Emotional.Retrieve(ctx, userIDs, maxEmotionalSnapshots)
		}
	}()
	go func() {
		defer wg.Done()
		if s.Topics != nil {
			topics = s.Topics.GetRecurringTopics(ctx, userIDs, maxRecurringTopics)
		}
	}()
	wg.Wait()

	out := Context{
		KeyMemories:     keyMemories,
		Relevant:        relevant,
		Relationships:   relationships,
		Emotional:       emotional,
		RecurringTopics: topics,
	}

	if s.SearchCache != nil {
		s.SearchCache.Set(ctx, primaryUser, query, out)
	}
	return out
}

// BuildPromptSections renders a Context into up to 5 ordered plain-text
// blocks. Empty sections are omitted entirely.
func BuildPromptSections(c Context) []string {
	var sections []string

	if len(c.KeyMemories) > 0 {
		var b strings.Builder
		b.WriteString("KEY MEMORIES:\n")
		for _, n := range c.KeyMemories {
			fmt.Fprintf(&b, "- %s\n", n.Text)
		}
		sections = append(sections, strings.TrimRight(b.String(), "\n"))
	}

	if len(c.Relevant) > 0 {
		var b strings.Builder
		b.WriteString("RELEVANT MEMORIES:\n")
		limit := len(c.Relevant)
		if limit > maxRelevantInPrompt {
			limit = maxRelevantInPrompt
		}
		for _, n := range c.Relevant[:limit] {
			fmt.Fprintf(&b, "- %s\n", n.Text)
		}
		sections = append(sections, strings.TrimRight(b.String(), "\n"))
	}

	if len(c.Relationships) > 0 {
		var b strings.Builder
		b.WriteString("KNOWN RELATIONSHIPS:\n")
		limit := len(c.Relationships)
		if limit > maxRelationshipsInPrompt {
			limit = maxRelationshipsInPrompt
		}
		for _, r := range c.Relationships[:limit] {
			fmt.Fprintf(&b, "- %s\n", r)
		}
		sections = append(sections, strings.TrimRight(b.String(), "\n"))
	}

	if len(c.Emotional) > 0 {
		var b strings.Builder
		b.WriteString("RECENT EMOTIONAL CONTEXT:\n")
		for _, n := range c.Emotional {
			fmt.Fprintf(&b, "- %s\n", n.Text)
		}
		sections = append(sections, strings.TrimRight(b.String(), "\n"))
	}

	if len(c.RecurringTopics) > 0 {
		var b strings.Builder
		b.WriteString("RECURRING TOPICS:\n")
		for _, t := range c.RecurringTopics {
			fmt.Fprintf(&b, "- %s (mentioned %d times, last %s)\n", t.Topic, t.Mentions, t.LastMentioned.Format(time.RFC3339))
		}
		sections = append(sections, strings.TrimRight(b.String(), "\n"))
	}

	return sections
}

// Add runs the full background write path for one exchange:
// extract durable facts, reconcile them into the memory graph, then
// graph-enrich using the fact list (not the raw conversation) and
// extract+store topic mentions concurrently with each other.
func (s *Service) Add(ctx context.Context, userMessage, assistantMessage, userID, channelID string) {
	facts := s.Extractor.Extract(ctx, userMessage, assistantMessage)
	if len(facts) > 0 {
		s.Reconciler.Reconcile(ctx, facts, userID)
	}

	if s.Emotional != nil {
		s.Emotional.Observe(userID, channelID, userMessage)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		if s.Store != nil && len(facts) > 0 {
			if err := s.Store.AddEntityData(ctx, strings.Join(facts, ". "), userID); err != nil {
				slog.Warn("memory: graph enrichment failed", "error", err)
			}
		}
	}()

	go func() {
		defer wg.Done()
		if s.Topics != nil {
			s.Topics.ExtractAndStore(ctx, userID, userMessage, assistantMessage)
		}
	}()

	wg.Wait()
}
