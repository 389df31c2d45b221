// Package chathistory implements the relational chat-history store:
// the adapter → channel → conversation → message graph, plus cross-context
// helpers used by the memory service and the gateway's "history" command.
package chathistory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role distinguishes user and assistant messages.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChannelKind classifies a channel's conversational shape.
type ChannelKind string

const (
	ChannelDM   ChannelKind = "dm"
	ChannelText ChannelKind = "text"
	ChannelGroup ChannelKind = "group"
)

// Message is one stored turn.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           Role
	Content        string
	CreatedAt      time.Time
}

// Store persists the adapter/channel/conversation/message graph in Postgres.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureChannel upserts the adapter and channel rows, returning their ids.
func (s *Store) EnsureChannel(ctx context.Context, adapterType, adapterName, externalID, channelName string, kind ChannelKind) (adapterID, channelID uuid.UUID, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`SELECT id FROM adapters WHERE adapter_type = $1 AND adapter_name = $2`,
		adapterType, adapterName,
	).Scan(&adapterID)
	if err == sql.ErrNoRows {
		adapterID = uuid.New()
		_, err = tx.ExecContext(ctx,
			`INSERT INTO adapters (id, adapter_type, adapter_name) VALUES ($1, $2, $3)
			 ON CONFLICT (adapter_type, adapter_name) DO UPDATE SET adapter_name = EXCLUDED.adapter_name
			 RETURNING id`,
			adapterID, adapterType, adapterName,
		)
	}
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("ensure adapter: %w", err)
	}

	err = tx.QueryRowContext(ctx,
		`SELECT id FROM channels WHERE adapter_id = $1 AND external_id = $2`,
		adapterID, externalID,
	).Scan(&channelID)
	if err == sql.ErrNoRows {
		channelID = uuid.New()
		_, err = tx.ExecContext(ctx,
			`INSERT INTO channels (id, adapter_id, external_id, channel_name, channel_kind, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (adapter_id, external_id) DO UPDATE SET channel_name = EXCLUDED.channel_name`,
			channelID, adapterID, externalID, channelName, kind, time.Now(),
		)
	}
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("ensure channel: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("commit: %w", err)
	}
	return adapterID, channelID, nil
}

// GetOrCreateConversation reuses the newest non-archived conversation for
// (channelID, userID), else creates one chained to the previous.
func (s *Store) GetOrCreateConversation(ctx context.Context, channelID, userID uuid.UUID) (uuid.UUID, error) {
	var convID uuid.UUID
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM conversations
		 WHERE channel_id = $1 AND user_id = $2 AND archived = false
		 ORDER BY started_at DESC LIMIT 1`,
		channelID, userID,
	).Scan(&convID)
	if err == nil {
		return convID, nil
	}
	if err != sql.ErrNoRows {
		return uuid.Nil, fmt.Errorf("lookup conversation: %w", err)
	}

	var prevID sql.NullString
	_ = s.db.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE channel_id = $1 AND user_id = $2
		 ORDER BY started_at DESC LIMIT 1`,
		channelID, userID,
	).Scan(&prevID)

	convID = uuid.New()
	now := time.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, channel_id, user_id, previous_conversation_id, archived, started_at, last_activity)
		 VALUES ($1, $2, $3, $4, false, $5, $5)`,
		convID, channelID, userID, nullableUUID(prevID), now,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create conversation: %w", err)
	}
	return convID, nil
}

func nullableUUID(s sql.NullString) interface{} {
	if !s.Valid || s.String == "" {
		return nil
	}
	return s.String
}

// StoreExchange inserts both turns of an exchange and bumps the
// conversation's last-activity timestamp. The assistant timestamp must be
// strictly after the user's; zero timestamps are stamped at call time one
// millisecond apart.
func (s *Store) StoreExchange(ctx context.Context, conversationID, userID uuid.UUID, userMsg, assistantMsg string, userTs, assistantTs time.Time) error {
	if userTs.IsZero() {
		userTs = time.Now()
	}
	if assistantTs.IsZero() || !assistantTs.After(userTs) {
		assistantTs = userTs.Add(time.Millisecond)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), conversationID, RoleUser, userMsg, userTs,
	); err != nil {
		return fmt.Errorf("insert user message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), conversationID, RoleAssistant, assistantMsg, assistantTs,
	); err != nil {
		return fmt.Errorf("insert assistant message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET last_activity = $1 WHERE id = $2`, assistantTs, conversationID,
	); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	return tx.Commit()
}

// LoadRecentMessages returns the last `count` messages in ascending order.
func (s *Store) LoadRecentMessages(ctx context.Context, conversationID uuid.UUID, count int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, created_at FROM (
			SELECT id, conversation_id, role, content, created_at FROM messages
			WHERE conversation_id = $1 ORDER BY created_at DESC LIMIT $2
		) t ORDER BY created_at ASC`,
		conversationID, count,
	)
	if err != nil {
		return nil, fmt.Errorf("load recent messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// ConversationSummary is a lightweight row for GetUserConversations.
type ConversationSummary struct {
	ID           uuid.UUID
	ChannelID    uuid.UUID
	StartedAt    time.Time
	LastActivity time.Time
	Archived     bool
}

// GetUserConversations returns the most recent conversations across the
// given (linked) user ids, newest first.
func (s *Store) GetUserConversations(ctx context.Context, userIDs []uuid.UUID, limit int) ([]ConversationSummary, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, started_at, last_activity, archived FROM conversations
		 WHERE user_id = ANY($1) ORDER BY last_activity DESC LIMIT $2`,
		uuidArray(userIDs), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get user conversations: %w", err)
	}
	defer rows.Close()

	var out []ConversationSummary
	for rows.Next() {
		var c ConversationSummary
		if err := rows.Scan(&c.ID, &c.ChannelID, &c.StartedAt, &c.LastActivity, &c.Archived); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

// CrossContextEntry is a user message annotated for cross-platform display:
// "[adapterType channelName, X min ago] content".
type CrossContextEntry struct {
	Display   string
	Content   string
	CreatedAt time.Time
}

// GetRecentCrossContext joins adapter and channel names and returns the most
// recent user messages across the given (linked) user ids.
func (s *Store) GetRecentCrossContext(ctx context.Context, userIDs []uuid.UUID, limit int) ([]CrossContextEntry, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.adapter_type, ch.channel_name, m.content, m.created_at
		 FROM messages m
		 JOIN conversations c ON c.id = m.conversation_id
		 JOIN channels ch ON ch.id = c.channel_id
		 JOIN adapters a ON a.id = ch.adapter_id
		 WHERE c.user_id = ANY($1) AND m.role = $2
		 ORDER BY m.created_at DESC LIMIT $3`,
		uuidArray(userIDs), RoleUser, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get cross context: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	var out []CrossContextEntry
	for rows.Next() {
		var adapterType, channelName, content string
		var createdAt time.Time
		if err := rows.Scan(&adapterType, &channelName, &content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan cross context: %w", err)
		}
		minsAgo := int(now.Sub(createdAt).Minutes())
		out = append(out, CrossContextEntry{
			Display:   fmt.Sprintf("[%s %s, %d min ago] %s", adapterType, channelName, minsAgo, content),
			Content:   content,
			CreatedAt: createdAt,
		})
	}
	return out, nil
}

// CreateBackfillConversation creates an archived conversation with a
// historical start time, for backfill tooling (out of core scope, named
// here as the interface the backfill tool calls into).
func (s *Store) CreateBackfillConversation(ctx context.Context, channelID, userID uuid.UUID, startedAt time.Time) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, channel_id, user_id, archived, started_at, last_activity)
		 VALUES ($1, $2, $3, true, $4, $4)`,
		id, channelID, userID, startedAt,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create backfill conversation: %w", err)
	}
	return id, nil
}

// UpdateConversationActivity sets last_activity explicitly (backfill tooling).
func (s *Store) UpdateConversationActivity(ctx context.Context, conversationID uuid.UUID, lastActivity time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET last_activity = $1 WHERE id = $2`, lastActivity, conversationID)
	if err != nil {
		return fmt.Errorf("update conversation activity: %w", err)
	}
	return nil
}

func uuidArray(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
