// Package session holds per-conversation state: a bounded window of past
// question/answer turns used to condense follow-up queries and to carry
// history into generation.
package session

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound indicates the session id is unknown to the manager.
var ErrNotFound = errors.New("session not found")

// Citation identifies a source chunk referenced by an answer.
type Citation struct {
	Marker     int    `json:"marker"`
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Source     string `json:"source"`
	Score      float64
}

// Turn is one completed question/answer exchange.
type Turn struct {
	Question  string
	Answer    string
	Citations []Citation
}

// Conversation is a bounded FIFO of turns. Once the bound is reached the
// oldest turn is evicted on append. Safe for concurrent use.
type Conversation struct {
	mu    sync.Mutex
	id    string
	bound int
	turns []Turn
}

// ID returns the conversation id.
func (c *Conversation) ID() string { return c.id }

// Append records a completed turn, evicting the oldest if at capacity.
func (c *Conversation) Append(t Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.turns = append(c.turns, t)
	if len(c.turns) > c.bound {
		c.turns = c.turns[len(c.turns)-c.bound:]
	}
}

// Recent returns up to n most recent turns, oldest first. n <= 0 returns
// all retained turns.
func (c *Conversation) Recent(n int) []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n <= 0 || n > len(c.turns) {
		n = len(c.turns)
	}
	out := make([]Turn, n)
	copy(out, c.turns[len(c.turns)-n:])
	return out
}

// Len returns the number of retained turns.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

// Manager owns all live conversations, keyed by id. Safe for concurrent use.
type Manager struct {
	mu    sync.RWMutex
	bound int
	convs map[string]*Conversation
}

// NewManager creates a Manager whose conversations retain at most bound
// turns each.
func NewManager(bound int) *Manager {
	if bound <= 0 {
		bound = 5
	}
	return &Manager{
		bound: bound,
		convs: make(map[string]*Conversation),
	}
}

// New creates a conversation with a fresh id.
func (m *Manager) New() *Conversation {
	c := &Conversation{
		id:    uuid.NewString(),
		bound: m.bound,
	}

	m.mu.Lock()
	m.convs[c.id] = c
	m.mu.Unlock()
	return c
}

// Get returns the conversation for id, or ErrNotFound.
func (m *Manager) Get(id string) (*Conversation, error) {
	m.mu.RLock()
	c, ok := m.convs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// GetOrCreate returns the conversation for id, creating it if unknown.
// An empty id always creates a fresh conversation.
func (m *Manager) GetOrCreate(id string) *Conversation {
	if id == "" {
		return m.New()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.convs[id]; ok {
		return c
	}
	c := &Conversation{id: id, bound: m.bound}
	m.convs[id] = c
	return c
}

// End discards the conversation for id. Ending an unknown id is a no-op.
func (m *Manager) End(id string) {
	m.mu.Lock()
	delete(m.convs, id)
	m.mu.Unlock()
}
