// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject backend failures

package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation // keyed by conversation ID
	order         []string                 // conversation IDs in creation order
	messages      map[string][]*Message    // keyed by conversation ID
	users         map[string]*User         // keyed by username
	failures      map[string]error         // keyed by method name
	nextID        int
}

// Ensure MockStore implements Store.
var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
		users:         make(map[string]*User),
		failures:      make(map[string]error),
	}
}

// FailOn makes every subsequent call to the named method return err.
// Pass a nil err to clear the failure.
func (m *MockStore) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

// failure must be called with mu held.
func (m *MockStore) failure(method string) error {
	return m.failures[method]
}

// newID must be called with mu held.
func (m *MockStore) newID(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", prefix, m.nextID)
}

// CreateConversation stores a new conversation.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("CreateConversation"); err != nil {
		return err
	}

	if conv.ID == "" {
		conv.ID = m.newID("conv")
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}

	m.conversations[conv.ID] = copyConversation(conv)
	m.order = append(m.order, conv.ID)
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("GetConversation"); err != nil {
		return nil, err
	}

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(conv), nil
}

// FindConversationByParticipants returns the oldest direct conversation for the set.
func (m *MockStore) FindConversationByParticipants(ctx context.Context, participants []string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("FindConversationByParticipants"); err != nil {
		return nil, err
	}

	key := ParticipantKey(participants)
	for _, id := range m.order {
		conv := m.conversations[id]
		if !conv.IsGroup && ParticipantKey(conv.Participants) == key {
			return copyConversation(conv), nil
		}
	}
	return nil, ErrNotFound
}

// ListConversationsFor returns the identity's conversations, most recently active first.
func (m *MockStore) ListConversationsFor(ctx context.Context, identity string) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("ListConversationsFor"); err != nil {
		return nil, err
	}

	var result []*Conversation
	for _, id := range m.order {
		conv := m.conversations[id]
		if conv.HasParticipant(identity) {
			result = append(result, copyConversation(conv))
		}
	}

	slices.SortStableFunc(result, func(a, b *Conversation) int {
		return b.LastActivity().Compare(a.LastActivity())
	})
	return result, nil
}

// AppendMessage stores a message and updates conversation activity.
func (m *MockStore) AppendMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("AppendMessage"); err != nil {
		return err
	}

	if msg.ID == "" {
		msg.ID = m.newID("msg")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	msgCopy := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &msgCopy)

	if conv, ok := m.conversations[msg.ConversationID]; ok && m.failure("TouchConversation") == nil {
		ts := msg.Timestamp
		conv.LastMessageAt = &ts
	}
	return nil
}

// LatestMessage returns the most recently appended message.
func (m *MockStore) LatestMessage(ctx context.Context, conversationID string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("LatestMessage"); err != nil {
		return nil, err
	}

	msgs := m.messages[conversationID]
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	msgCopy := *msgs[len(msgs)-1]
	return &msgCopy, nil
}

// ListMessages retrieves messages for a conversation, limited by count.
// If limit <= 0, returns all messages.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("ListMessages"); err != nil {
		return nil, err
	}

	msgs := m.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	result := make([]*Message, len(msgs))
	for i, msg := range msgs {
		msgCopy := *msg
		result[i] = &msgCopy
	}
	return result, nil
}

// CreateUser stores a new user.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("CreateUser"); err != nil {
		return err
	}
	if _, exists := m.users[user.Username]; exists {
		return ErrUsernameExists
	}

	if user.ID == "" {
		user.ID = m.newID("user")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	userCopy := *user
	m.users[user.Username] = &userCopy
	return nil
}

// GetUserByUsername retrieves a user by username.
func (m *MockStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("GetUserByUsername"); err != nil {
		return nil, err
	}

	user, ok := m.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	userCopy := *user
	return &userCopy, nil
}

// Ping reports a configured "Ping" failure, if any.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failure("Ping")
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

func copyConversation(conv *Conversation) *Conversation {
	c := *conv
	c.Participants = slices.Clone(conv.Participants)
	if conv.LastMessageAt != nil {
		ts := *conv.LastMessageAt
		c.LastMessageAt = &ts
	}
	return &c
}
