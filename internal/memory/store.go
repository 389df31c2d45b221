package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/nextlevelbuilder/aeon/internal/providers"
)

const vectorDimensions = 1536

// Store is the vector-indexed memory graph, backed by Neo4j. Every
// operation is best-effort: read paths return empty results on transport
// failure, write paths log and return. Nothing here ever panics or wraps a
// transport error back to the caller.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
	llm      providers.Provider // optional: used by AddEntityData's structured parse
	llmModel string
}

func NewStore(uri, username, password, database string) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	if database == "" {
		database = "neo4j"
	}
	return &Store{driver: driver, database: database}, nil
}

// SetEntityLLM wires an optional LLM provider used by AddEntityData's
// structured entity/relationship extraction.
func (s *Store) SetEntityLLM(p providers.Provider, model string) {
	s.llm = p
	s.llmModel = model
}

func (s *Store) Close(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Close(ctx)
}

func (s *Store) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.database})
}

// EnsureSchema creates the vector index on memory embeddings plus scalar
// indexes on user-id, is-key, memory kind, entity user-id, and entity name.
// Idempotent: any "already exists" error from the server is suppressed.
func (s *Store) EnsureSchema(ctx context.Context) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	stmts := []string{
		fmt.Sprintf(`CREATE VECTOR INDEX memory_embedding IF NOT EXISTS
			FOR (m:Memory) ON (m.embedding)
			OPTIONS {indexConfig: {
				%s: %d,
				%s: 'cosine'
			}}`,
			"`vector.dimensions`", vectorDimensions, "`vector.similarity_function`"),
		`CREATE INDEX memory_user_id IF NOT EXISTS FOR (m:Memory) ON (m.userId)`,
		`CREATE INDEX memory_is_key IF NOT EXISTS FOR (m:Memory) ON (m.isKey)`,
		`CREATE INDEX memory_kind IF NOT EXISTS FOR (m:Memory) ON (m.kind)`,
		`CREATE INDEX entity_user_id IF NOT EXISTS FOR (e:Entity) ON (e.userId)`,
		`CREATE INDEX entity_name IF NOT EXISTS FOR (e:Entity) ON (e.name)`,
	}

	for _, stmt := range stmts {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			return tx.Run(ctx, stmt, nil)
		})
		if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
			slog.Warn("memory: ensure schema statement failed", "error", err)
		}
	}
	return nil
}

// InsertMemory upserts a memory node. On first write, spaced-repetition
// fields are set to their defaults; on re-insert only text/vector/updated-at
// change.
func (s *Store) InsertMemory(ctx context.Context, id string, vec []float32, text, userID string, metadata map[string]string) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	kind := KindFact
	if metadata != nil {
		if k, ok := metadata["kind"]; ok && k != "" {
			kind = Kind(k)
		}
	}

	extra := make(map[string]any, len(metadata))
	for k, v := range metadata {
		extra[k] = v
	}
	extra["kind"] = string(kind)

	now := time.Now()
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
			MERGE (m:Memory {id: $id})
			ON CREATE SET
				m.userId = $userId, m.stability = 1.0, m.difficulty = 5.0,
				m.retrievalStrength = 1.0, m.storageStrength = 0.5,
				m.isKey = false, m.importanceWeight = 1.0, m.accessCount = 0,
				m.createdAt = $now
			SET
				m.text = $text, m.embedding = $vec, m.updatedAt = $now,
				m += $extra
		`, map[string]any{
			"id": id, "userId": userID, "text": text, "vec": vectorToFloat64(vec),
			"now": now.UnixMilli(), "extra": extra,
		})
	})
	if err != nil {
		slog.Error("memory: insert failed", "id", id, "error", err)
	}
	return nil
}

// Search returns the k memories closest (by cosine) to vec among userIDs.
// Over-fetches k×5 candidates before filtering and truncating.
func (s *Store) Search(ctx context.Context, vec []float32, userIDs []string, k int) []Node {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	fetch := k * 5
	if fetch <= 0 {
		fetch = k
	}

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			CALL db.index.vector.queryNodes('memory_embedding', $fetch, $vec)
			YIELD node, score
			RETURN node.id AS id, node.text AS text, node.userId AS userId,
			       node.category AS category, node.kind AS kind, node.isKey AS isKey,
			       node.importanceWeight AS importance, score
			ORDER BY score DESC
		`, map[string]any{"fetch": fetch, "vec": vectorToFloat64(vec)})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		slog.Warn("memory: search failed", "error", err)
		return nil
	}

	allowed := toSet(userIDs)
	records := result.([]*neo4j.Record)
	var out []Node
	for _, rec := range records {
		n := nodeFromRecord(rec)
		if len(allowed) > 0 && !allowed[n.UserID] {
			continue
		}
		out = append(out, n)
		if len(out) >= k {
			break
		}
	}
	return out
}

// GetAll returns up to limit memories among userIDs matching every key in
// filters by exact metadata equality.
func (s *Store) GetAll(ctx context.Context, userIDs []string, filters Filters, limit int) []Node {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	where := []string{"m.userId IN $userIds"}
	params := map[string]any{"userIds": userIDs, "limit": limit}
	for k, v := range filters {
		key := fmt.Sprintf("f_%s", sanitizeKey(k))
		where = append(where, fmt.Sprintf("m.%s = $%s", sanitizeKey(k), key))
		params[key] = v
	}

	query := fmt.Sprintf(`
		MATCH (m:Memory) WHERE %s
		RETURN m.id AS id, m.text AS text, m.userId AS userId, m.category AS category,
		       m.kind AS kind, m.isKey AS isKey, m.importanceWeight AS importance,
		       m.createdAt AS createdAt, m.topic AS topic, m.emotionalWeight AS emotionalWeight
		ORDER BY m.createdAt DESC LIMIT $limit
	`, strings.Join(where, " AND "))

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		slog.Warn("memory: get-all failed", "error", err)
		return nil
	}

	records := result.([]*neo4j.Record)
	out := make([]Node, 0, len(records))
	for _, rec := range records {
		out = append(out, nodeFromFullRecord(rec))
	}
	return out
}

// GetKeyMemories returns memories flagged isKey for the given userIDs,
// newest first, capped at limit.
func (s *Store) GetKeyMemories(ctx context.Context, userIDs []string, limit int) []Node {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (m:Memory) WHERE m.userId IN $userIds AND m.isKey = true
			RETURN m.id AS id, m.text AS text, m.userId AS userId, m.category AS category,
			       m.kind AS kind, m.isKey AS isKey, m.importanceWeight AS importance,
			       m.createdAt AS createdAt, m.topic AS topic, m.emotionalWeight AS emotionalWeight
			ORDER BY m.createdAt DESC LIMIT $limit
		`, map[string]any{"userIds": userIDs, "limit": limit})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		slog.Warn("memory: get key memories failed", "error", err)
		return nil
	}

	records := result.([]*neo4j.Record)
	out := make([]Node, 0, len(records))
	for _, rec := range records {
		out = append(out, nodeFromFullRecord(rec))
	}
	return out
}

// UpdateMemory overwrites text and embedding for an existing memory.
func (s *Store) UpdateMemory(ctx context.Context, id string, vec []float32, text string) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
			MATCH (m:Memory {id: $id})
			SET m.text = $text, m.embedding = $vec, m.updatedAt = $now
		`, map[string]any{"id": id, "text": text, "vec": vectorToFloat64(vec), "now": time.Now().UnixMilli()})
	})
	if err != nil {
		slog.Error("memory: update failed", "id", id, "error", err)
	}
	return nil
}

// DeleteMemory removes a memory node and detaches its edges.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `MATCH (m:Memory {id: $id}) DETACH DELETE m`, map[string]any{"id": id})
	})
	if err != nil {
		slog.Error("memory: delete failed", "id", id, "error", err)
	}
	return nil
}

// GetFsrsState loads the spaced-repetition state for one memory, scoped to userIDs.
func (s *Store) GetFsrsState(ctx context.Context, id string, userIDs []string) (*FsrsState, bool) {
	states := s.BatchGetFsrsStates(ctx, []string{id}, userIDs)
	if len(states) == 0 {
		return nil, false
	}
	return &states[0], true
}

// BatchGetFsrsStates loads spaced-repetition state for multiple memories.
func (s *Store) BatchGetFsrsStates(ctx context.Context, ids []string, userIDs []string) []FsrsState {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (m:Memory) WHERE m.id IN $ids AND m.userId IN $userIds
			RETURN m.id AS id, m.stability AS stability, m.difficulty AS difficulty,
			       m.retrievalStrength AS retrievalStrength, m.storageStrength AS storageStrength,
			       m.accessCount AS accessCount, m.lastAccessedAt AS lastAccessedAt
		`, map[string]any{"ids": ids, "userIds": userIDs})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		slog.Warn("memory: batch fsrs lookup failed", "error", err)
		return nil
	}

	records := result.([]*neo4j.Record)
	out := make([]FsrsState, 0, len(records))
	for _, rec := range records {
		out = append(out, FsrsState{
			MemoryID:          asString(rec, "id"),
			Stability:         asFloat(rec, "stability"),
			Difficulty:        asFloat(rec, "difficulty"),
			RetrievalStrength: asFloat(rec, "retrievalStrength"),
			StorageStrength:   asFloat(rec, "storageStrength"),
			AccessCount:       int(asFloat(rec, "accessCount")),
			LastAccessedAt:    asTime(rec, "lastAccessedAt"),
		})
	}
	return out
}

// UpdateFsrsState writes back a memory's spaced-repetition state.
func (s *Store) UpdateFsrsState(ctx context.Context, state FsrsState) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
			MATCH (m:Memory {id: $id})
			SET m.stability = $stability, m.difficulty = $difficulty,
			    m.retrievalStrength = $retrievalStrength, m.storageStrength = $storageStrength,
			    m.accessCount = $accessCount, m.lastAccessedAt = $lastAccessedAt
		`, map[string]any{
			"id": state.MemoryID, "stability": state.Stability, "difficulty": state.Difficulty,
			"retrievalStrength": state.RetrievalStrength, "storageStrength": state.StorageStrength,
			"accessCount": state.AccessCount, "lastAccessedAt": state.LastAccessedAt.UnixMilli(),
		})
	})
	if err != nil {
		slog.Error("memory: update fsrs state failed", "id", state.MemoryID, "error", err)
	}
	return nil
}

// RecordAccessEvent appends an access-event node linked to its memory.
func (s *Store) RecordAccessEvent(ctx context.Context, ev AccessEvent) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
			MATCH (m:Memory {id: $memoryId})
			CREATE (a:AccessEvent {
				grade: $grade, signalType: $signalType,
				retrievability: $retrievability, timestamp: $timestamp
			})
			CREATE (m)-[:ACCESSED]->(a)
		`, map[string]any{
			"memoryId": ev.MemoryID, "grade": string(ev.Grade), "signalType": ev.SignalType,
			"retrievability": ev.Retrievability, "timestamp": ev.Timestamp.UnixMilli(),
		})
	})
	if err != nil {
		slog.Error("memory: record access event failed", "memory_id", ev.MemoryID, "error", err)
	}
	return nil
}

// RecordSupersession links a new memory to the old one it replaces.
func (s *Store) RecordSupersession(ctx context.Context, oldID, newID, reason string, confidence float64, details string) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
			MATCH (old:Memory {id: $oldId}), (new:Memory {id: $newId})
			CREATE (new)-[:SUPERSEDES {reason: $reason, confidence: $confidence, details: $details}]->(old)
		`, map[string]any{"oldId": oldID, "newId": newID, "reason": reason, "confidence": confidence, "details": details})
	})
	if err != nil {
		slog.Error("memory: record supersession failed", "old", oldID, "new", newID, "error", err)
	}
	return nil
}

// SearchEntities does a case-insensitive substring search over entity names,
// falling back to all relationships when the substring yields nothing.
func (s *Store) SearchEntities(ctx context.Context, q string, userIDs []string, limit int) []string {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	rels := s.runRelationshipQuery(ctx, session, `
		MATCH (s:Entity)-[r:RELATES]->(t:Entity)
		WHERE s.userId IN $userIds AND toLower(s.name) CONTAINS toLower($q)
		RETURN s.name AS source, r.label AS relation, t.name AS target LIMIT $limit
	`, map[string]any{"userIds": userIDs, "q": q, "limit": limit})

	if len(rels) == 0 {
		return s.GetAllRelationships(ctx, userIDs, limit)
	}
	return rels
}

// GetAllRelationships returns every "source → relation → target" triple
// scoped to userIDs, capped at limit.
func (s *Store) GetAllRelationships(ctx context.Context, userIDs []string, limit int) []string {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)
	return s.runRelationshipQuery(ctx, session, `
		MATCH (s:Entity)-[r:RELATES]->(t:Entity)
		WHERE s.userId IN $userIds
		RETURN s.name AS source, r.label AS relation, t.name AS target LIMIT $limit
	`, map[string]any{"userIds": userIDs, "limit": limit})
}

func (s *Store) runRelationshipQuery(ctx context.Context, session neo4j.SessionWithContext, query string, params map[string]any) []string {
	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		slog.Warn("memory: relationship query failed", "error", err)
		return nil
	}
	records := result.([]*neo4j.Record)
	out := make([]string, 0, len(records))
	for _, rec := range records {
		out = append(out, fmt.Sprintf("%s → %s → %s", asString(rec, "source"), asString(rec, "relation"), asString(rec, "target")))
	}
	return out
}

// entityExtraction is the strict JSON shape AddEntityData's LLM helper parses.
type entityExtraction struct {
	Entities []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"entities"`
	Relationships []struct {
		Source       string `json:"source"`
		Relationship string `json:"relationship"`
		Target       string `json:"target"`
	} `json:"relationships"`
}

// AddEntityData parses text into entities/relationships via the optional LLM
// helper and upserts nodes + edges. Without an LLM helper, it inserts a
// single entity node named after the first 100 characters of text.
func (s *Store) AddEntityData(ctx context.Context, text, userID string) error {
	if s.llm == nil {
		name := text
		if len(name) > 100 {
			name = name[:100]
		}
		if err := s.upsertEntity(ctx, name, "", userID); err != nil {
			slog.Warn("memory: upsert entity failed", "name", name, "error", err)
		}
		return nil
	}

	resp, err := s.llm.Chat(ctx, providers.ChatRequest{
		Model: s.llmModel,
		Messages: []providers.Message{
			{Role: "user", Content: entityExtractionPrompt(text)},
		},
	})
	if err != nil {
		slog.Warn("memory: entity extraction LLM call failed", "error", err)
		return nil
	}

	extracted, ok := parseEntityExtraction(resp.Content)
	if !ok {
		return nil
	}

	for _, e := range extracted.Entities {
		if err := s.upsertEntity(ctx, e.Name, e.Type, userID); err != nil {
			slog.Warn("memory: upsert entity failed", "name", e.Name, "error", err)
		}
	}
	for _, r := range extracted.Relationships {
		label := sanitizeRelationLabel(r.Relationship)
		if err := s.upsertRelationship(ctx, r.Source, label, r.Target, userID); err != nil {
			slog.Warn("memory: upsert relationship failed", "source", r.Source, "target", r.Target, "error", err)
		}
	}
	return nil
}

func (s *Store) upsertEntity(ctx context.Context, name, entityType, userID string) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
			MERGE (e:Entity {name: $name, userId: $userId})
			ON CREATE SET e.type = $type
		`, map[string]any{"name": name, "type": entityType, "userId": userID})
	})
	return err
}

func (s *Store) upsertRelationship(ctx context.Context, source, label, target, userID string) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
			MERGE (s:Entity {name: $source, userId: $userId})
			MERGE (t:Entity {name: $target, userId: $userId})
			MERGE (s)-[r:RELATES {label: $label}]->(t)
		`, map[string]any{"source": source, "target": target, "label": label, "userId": userID})
	})
	return err
}

func entityExtractionPrompt(text string) string {
	return fmt.Sprintf(`Extract entities and relationships from the following text.

Return ONLY valid JSON in this exact shape:
{"entities":[{"name":"...","type":"..."}],"relationships":[{"source":"...","relationship":"...","target":"..."}]}

TEXT:
%s`, text)
}

func parseEntityExtraction(content string) (entityExtraction, bool) {
	content = stripFences(content)
	var out entityExtraction
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return out, false
	}
	return out, true
}

func sanitizeRelationLabel(label string) string {
	label = strings.ToUpper(label)
	var b strings.Builder
	for _, r := range label {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// stripFences removes a ```json / ``` fence wrapper if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func sanitizeKey(k string) string {
	var b strings.Builder
	for _, r := range k {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func toSet(ss []string) map[string]bool {
	m := make(map[string]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}

func vectorToFloat64(vec []float32) []float64 {
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v)
	}
	return out
}

func nodeFromRecord(rec *neo4j.Record) Node {
	return Node{
		ID:         asString(rec, "id"),
		Text:       asString(rec, "text"),
		UserID:     asString(rec, "userId"),
		Category:   asString(rec, "category"),
		Kind:       Kind(asString(rec, "kind")),
		IsKey:      asBool(rec, "isKey"),
		Importance: asFloat(rec, "importance"),
		Score:      asFloat(rec, "score"),
	}
}

// nodeFromFullRecord builds a Node from a record that also carries
// createdAt/topic/emotionalWeight columns (GetAll, GetKeyMemories).
func nodeFromFullRecord(rec *neo4j.Record) Node {
	n := nodeFromRecord(rec)
	n.CreatedAt = asTime(rec, "createdAt")
	meta := make(map[string]string)
	if topic := asString(rec, "topic"); topic != "" {
		meta["topic"] = topic
	}
	if ew := asString(rec, "emotionalWeight"); ew != "" {
		meta["emotionalWeight"] = ew
	}
	n.Metadata = meta
	return n
}

func asString(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func asBool(rec *neo4j.Record, key string) bool {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return false
	}
	b, _ := v.(bool)
	return b
}

func asFloat(rec *neo4j.Record, key string) float64 {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

func asTime(rec *neo4j.Record, key string) time.Time {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return time.Time{}
	}
	switch n := v.(type) {
	case int64:
		return time.UnixMilli(n)
	case float64:
		return time.UnixMilli(int64(n))
	}
	return time.Time{}
}
