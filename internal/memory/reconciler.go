package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aeon/internal/providers"
)

const consolidationPrompt = `You reconcile new facts about a user against their existing memory.

For each NEW FACT below, decide one action against the CANDIDATE MEMORIES
(memories that scored similar to it). Use the memory's alias number, never
its real id, when referring to an existing memory.

Actions:
- ADD: the fact is new information, nothing existing captures it.
- UPDATE: an existing memory (by alias) should be replaced with refined text
  that supersedes it.
- DELETE: an existing memory (by alias) is now contradicted and should be
  removed, with nothing to replace it.
- NONE: the fact is already fully captured by an existing memory, do nothing.

Return ONLY valid JSON in this exact shape:
{"memory": [{"id": "<alias as a string, or empty string for ADD>", "text": "...", "event": "ADD|UPDATE|DELETE|NONE", "old_memory": "<previous text, for UPDATE/DELETE>"}]}

NEW FACTS:
%s

CANDIDATE MEMORIES (alias: text):
%s`

// reconciliationAction is one parsed line of the LLM's decision. Alias is a
// string because the model is asked to quote it like every other field, and
// ADD actions carry it as "" rather than omitting it.
type reconciliationAction struct {
	Alias   string `json:"id"`
	Text    string `json:"text"`
	Event   string `json:"event"`
	OldText string `json:"old_memory"`
}

type reconciliationPayload struct {
	Memory []reconciliationAction `json:"memory"`
}

// Reconciler merges newly-extracted facts into the memory graph: searching
// for near-duplicates, asking a single LLM call to decide ADD/UPDATE/DELETE/
// NOOP per fact, and applying the decisions.
type Reconciler struct {
	store    *Store
	embedder *EmbeddingClient
	provider providers.Provider
	model    string
	db       *sql.DB
}

func NewReconciler(store *Store, embedder *EmbeddingClient, provider providers.Provider, model string, db *sql.DB) *Reconciler {
	return &Reconciler{store: store, embedder: embedder, provider: provider, model: model, db: db}
}

// minCandidateScore filters out weak search hits before they're offered to
// the consolidation LLM call.
const minCandidateScore = 0.1

// Reconcile embeds each fact, searches for near-duplicate existing memories,
// and applies a single batched ADD/UPDATE/DELETE/NOOP decision per fact.
// Failures on an individual action are logged and skipped; the batch as a
// whole never aborts on a single bad action.
func (r *Reconciler) Reconcile(ctx context.Context, facts []string, userID string) {
	if len(facts) == 0 {
		return
	}

	vectors, err := r.embedder.EmbedBatch(ctx, facts)
	if err != nil {
		slog.Warn("memory: reconcile embed batch failed", "error", err)
		return
	}

	candidatesByFact := make([][]Node, len(facts))
	var wg sync.WaitGroup
	for i := range facts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			candidatesByFact[i] = r.store.Search(ctx, vectors[i], []string{userID}, 5)
		}(i)
	}
	wg.Wait()

	dedup := make(map[string]Node)
	for _, hits := range candidatesByFact {
		for _, n := range hits {
			if n.Score < minCandidateScore {
				continue
			}
			if n.Kind == KindTopicMention || n.Kind == KindEmotionalContext {
				continue
			}
			if existing, ok := dedup[n.ID]; !ok || n.Score > existing.Score {
				dedup[n.ID] = n
			}
		}
	}

	ordered := make([]Node, 0, len(dedup))
	for _, n := range dedup {
		ordered = append(ordered, n)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Score > ordered[j].Score })

	aliasToNode := make(map[int]Node, len(ordered))
	var candidateLines strings.Builder
	for i, n := range ordered {
		aliasToNode[i] = n
		fmt.Fprintf(&candidateLines, "%d: %s\n", i, n.Text)
	}
	if candidateLines.Len() == 0 {
		candidateLines.WriteString("(none)")
	}

	var factLines strings.Builder
	for _, f := range facts {
		fmt.Fprintf(&factLines, "- %s\n", f)
	}

	resp, err := r.provider.Chat(ctx, providers.ChatRequest{
		Model: r.model,
		Messages: []providers.Message{
			{Role: "user", Content: fmt.Sprintf(consolidationPrompt, factLines.String(), candidateLines.String())},
		},
	})
	if err != nil {
		slog.Warn("memory: consolidation LLM call failed", "error", err)
		return
	}

	content := thinkTagRe.ReplaceAllString(resp.Content, "")
	content = stripFences(content)

	var payload reconciliationPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		slog.Warn("memory: consolidation response unparseable", "error", err)
		return
	}

	for _, action := range payload.Memory {
		if err := r.apply(ctx, action, aliasToNode, userID); err != nil {
			slog.Warn("memory: reconcile action failed", "event", action.Event, "error", err)
		}
	}
}

func (r *Reconciler) apply(ctx context.Context, action reconciliationAction, aliasToNode map[int]Node, userID string) error {
	switch strings.ToUpper(action.Event) {
	case string(EventAdd):
		vec, err := r.embedder.Embed(ctx, action.Text)
		if err != nil {
			return fmt.Errorf("embed new fact: %w", err)
		}
		id := uuid.New().String()
		classified := classifyCategory(action.Text)
		if err := r.store.InsertMemory(ctx, id, vec, action.Text, userID, map[string]string{"kind": string(KindFact), "category": classified}); err != nil {
			return err
		}
		r.logHistory(ctx, id, "", action.Text, EventAdd, userID)
		return nil

	case string(EventUpdate):
		node, ok := r.resolveAlias(action.Alias, aliasToNode)
		if !ok {
			return fmt.Errorf("update references unknown alias %v", action.Alias)
		}
		vec, err := r.embedder.Embed(ctx, action.Text)
		if err != nil {
			return fmt.Errorf("embed updated fact: %w", err)
		}
		if err := r.store.UpdateMemory(ctx, node.ID, vec, action.Text); err != nil {
			return err
		}
		r.logHistory(ctx, node.ID, node.Text, action.Text, EventUpdate, userID)
		return nil

	case string(EventDelete):
		node, ok := r.resolveAlias(action.Alias, aliasToNode)
		if !ok {
			return fmt.Errorf("delete references unknown alias %v", action.Alias)
		}
		if err := r.store.DeleteMemory(ctx, node.ID); err != nil {
			return err
		}
		r.logHistory(ctx, node.ID, node.Text, "", EventDelete, userID)
		return nil

	case string(EventNone), "":
		return nil

	default:
		return fmt.Errorf("unknown reconciliation event %q", action.Event)
	}
}

func (r *Reconciler) resolveAlias(alias string, aliasToNode map[int]Node) (Node, bool) {
	if alias == "" {
		return Node{}, false
	}
	n, err := strconv.Atoi(alias)
	if err != nil {
		return Node{}, false
	}
	node, ok := aliasToNode[n]
	return node, ok
}

func (r *Reconciler) logHistory(ctx context.Context, memoryID, oldText, newText string, event EventKind, userID string) {
	if r.db == nil {
		return
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO memory_history (id, memory_id, old_text, new_text, event, user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())`,
		uuid.New(), memoryID, oldText, newText, string(event), userID,
	)
	if err != nil {
		slog.Warn("memory: memory_history insert failed", "memory_id", memoryID, "error", err)
	}
}

// classifyCategory assigns a coarse category to a new fact using a small
// deterministic keyword classifier, avoiding an extra LLM round-trip for
// something this cheap to approximate.
func classifyCategory(text string) string {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, "prefer", "like", "favorite", "enjoy", "hate", "dislike"):
		return "preference"
	case containsAny(lower, "work", "job", "company", "career", "role", "manager"):
		return "work"
	case containsAny(lower, "live", "lives in", "from", "address", "city", "country"):
		return "location"
	case containsAny(lower, "name is", "called", "goes by"):
		return "identity"
	case containsAny(lower, "plan", "goal", "want to", "hope to", "intend"):
		return "goal"
	default:
		return "general"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
