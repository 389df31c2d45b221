package sessions

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aeon/internal/chathistory"
)

// activeChannelDefault is how long a channel stays "active" (eligible to
// reply without an explicit mention in group chats) after its last message.
const activeChannelDefault = 30 * time.Minute

// State is one channel's in-process conversation state: a serializing lock,
// a short cache of recent messages (refreshed from chathistory on miss),
// and the deadline past which the channel is no longer considered active.
type State struct {
	mu sync.Mutex

	ConversationID uuid.UUID
	Recent         []chathistory.Message
	ActiveUntil    time.Time
	TierOverride   string
}

// Lock serializes turns on this channel so concurrent inbound messages from
// the same chat never interleave.
func (s *State) Lock()   { s.mu.Lock() }
func (s *State) Unlock() { s.mu.Unlock() }

// Manager holds one State per session key, created lazily on first use.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*State
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*State)}
}

// GetOrCreate returns the State for key, creating it if absent.
func (m *Manager) GetOrCreate(key string) *State {
	m.mu.RLock()
	s, ok := m.sessions[key]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		return s
	}
	s = &State{}
	m.sessions[key] = s
	return s
}

// MarkActive extends the channel's active-until deadline from now.
func (s *State) MarkActive() {
	s.ActiveUntil = time.Now().Add(activeChannelDefault)
}

// IsActive reports whether the channel is still within its active window.
func (s *State) IsActive() bool {
	return time.Now().Before(s.ActiveUntil)
}

// Delete removes a session's cached state entirely.
func (m *Manager) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, key)
}

// Count returns the number of tracked sessions (for status reporting).
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
