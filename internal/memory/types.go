// Package memory implements the semantic memory plane: the vector+graph
// store, the embedding client, the fact extractor, the reconciler,
// emotional/topic context, and the per-turn orchestration service.
package memory

import "time"

// Kind classifies a memory node.
type Kind string

const (
	KindFact             Kind = "fact"
	KindTopicMention      Kind = "topic_mention"
	KindEmotionalContext Kind = "emotional_context"
)

// Node is a single persisted memory: a fact, topic mention, or emotional
// snapshot, carrying both its embedding and its spaced-repetition state.
type Node struct {
	ID          string
	Text        string
	UserID      string
	Vector      []float32
	Category    string
	Kind        Kind
	IsKey       bool
	Importance  float64
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Spaced-repetition (FSRS) state.
	Stability        float64
	Difficulty       float64
	RetrievalStrength float64
	StorageStrength  float64
	AccessCount      int
	LastAccessedAt   time.Time

	// Score is populated by Search results (cosine similarity); zero otherwise.
	Score float64

	// Metadata carries arbitrary exact-match filter keys (e.g. "category").
	Metadata map[string]string
}

// FsrsState is the spaced-repetition subset of a Node, addressable alone for
// BatchGetFsrsStates / UpdateFsrsState.
type FsrsState struct {
	MemoryID          string
	Stability         float64
	Difficulty        float64
	RetrievalStrength float64
	StorageStrength   float64
	AccessCount       int
	LastAccessedAt    time.Time
}

// Grade is the recall quality recorded by an access event.
type Grade string

const (
	GradeAgain Grade = "again"
	GradeHard  Grade = "hard"
	GradeGood  Grade = "good"
	GradeEasy  Grade = "easy"
)

// AccessEvent records one retrieval/recall of a memory.
type AccessEvent struct {
	MemoryID       string
	Grade          Grade
	SignalType     string
	Retrievability float64
	Timestamp      time.Time
}

// Entity is a named node in the relationship graph, scoped to a user.
type Entity struct {
	Name   string
	Type   string
	UserID string
}

// Relationship is a directed edge between two entities.
type Relationship struct {
	Source       string
	Relationship string
	Target       string
	UserID       string
}

// Filters constrains GetAll to exact-match metadata keys.
type Filters map[string]string

// EventKind is the reconciler's decision for one fact (and the
// memory-history append-only log's event column).
type EventKind string

const (
	EventAdd    EventKind = "ADD"
	EventUpdate EventKind = "UPDATE"
	EventDelete EventKind = "DELETE"
	EventNone   EventKind = "NONE"
)
