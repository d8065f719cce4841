// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/kbchat/internal/turn"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation // keyed by conversation ID
	turns         map[string][]*TurnRecord // keyed by conversation ID
	err           error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		turns:         make(map[string][]*TurnRecord),
	}
}

// FailWith makes every subsequent write return err. Pass nil to clear.
func (m *MockStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SaveTurn stores a copy of rec.
func (m *MockStore) SaveTurn(ctx context.Context, rec *TurnRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	if rec.ConversationID == "" {
		return fmt.Errorf("conversation id is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = StatusComplete
	}

	conv, ok := m.conversations[rec.ConversationID]
	if !ok {
		conv = &Conversation{ID: rec.ConversationID, CreatedAt: rec.CreatedAt}
		m.conversations[rec.ConversationID] = conv
	}
	conv.UpdatedAt = rec.CreatedAt
	if conv.Title == "" && rec.Turn.Role == turn.RoleUser {
		conv.Title = titleFrom(rec.Turn.Content)
	}
	conv.TurnCount++

	// Make a copy to avoid external modification
	r := *rec
	r.Turn = rec.Turn.Clone()
	m.turns[rec.ConversationID] = append(m.turns[rec.ConversationID], &r)
	return nil
}

// ListTurns returns copies of a conversation's turns in recording order.
func (m *MockStore) ListTurns(ctx context.Context, conversationID string) ([]*TurnRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*TurnRecord
	for _, rec := range m.turns[conversationID] {
		r := *rec
		r.Turn = rec.Turn.Clone()
		out = append(out, &r)
	}
	return out, nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *conv
	return &c, nil
}

// ListConversations returns conversations, most recently updated first.
func (m *MockStore) ListConversations(ctx context.Context, limit int) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = defaultListLimit
	}

	out := make([]*Conversation, 0, len(m.conversations))
	for _, conv := range m.conversations {
		c := *conv
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteConversation removes a conversation and its turns.
func (m *MockStore) DeleteConversation(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	if _, ok := m.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(m.conversations, id)
	delete(m.turns, id)
	return nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
