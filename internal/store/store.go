// ABOUTME: Store interfaces and data types for chat-gateway persistence
// ABOUTME: Defines Conversation, Message, User and the interfaces every backend implements

package store

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrUsernameExists is returned when trying to create a user with an existing username.
var ErrUsernameExists = errors.New("username already exists")

// Conversation is a one-to-one or group chat between two or more identities.
type Conversation struct {
	ID            string
	Participants  []string // unique, initiator first
	IsGroup       bool
	Name          string // only meaningful for groups
	CreatedAt     time.Time
	LastMessageAt *time.Time // nil until the first message
}

// HasParticipant reports whether identity is a member of the conversation.
func (c *Conversation) HasParticipant(identity string) bool {
	return lo.Contains(c.Participants, identity)
}

// LastActivity returns the last message time, falling back to creation time.
func (c *Conversation) LastActivity() time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

// Message is a single immutable chat message.
type Message struct {
	ID             string
	ConversationID string
	Sender         string
	Body           string
	Timestamp      time.Time
}

// User is a registered account. Username is the identity used everywhere else.
type User struct {
	ID           string
	Username     string
	PasswordHash string // argon2id hash
	CreatedAt    time.Time
}

// participantKeySep cannot appear in a validated identity.
const participantKeySep = "\x00"

// ParticipantKey returns the normalized, order-independent key for a participant set.
// Direct conversations are looked up by this key.
func ParticipantKey(participants []string) string {
	normalized := lo.Uniq(participants)
	slices.Sort(normalized)
	return strings.Join(normalized, participantKeySep)
}

// ConversationStore defines conversation and message persistence.
type ConversationStore interface {
	// CreateConversation assigns ID and CreatedAt when they are empty.
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// FindConversationByParticipants returns the oldest non-group conversation with
	// exactly this participant set. It performs no locking; callers that check then
	// create can race.
	FindConversationByParticipants(ctx context.Context, participants []string) (*Conversation, error)
	ListConversationsFor(ctx context.Context, identity string) ([]*Conversation, error)

	// AppendMessage records the message and then updates the parent conversation's
	// last activity. The update is best-effort and never fails the append.
	AppendMessage(ctx context.Context, msg *Message) error
	LatestMessage(ctx context.Context, conversationID string) (*Message, error)

	// ListMessages returns messages in ascending timestamp order.
	// If limit > 0, only the most recent limit messages are returned.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)
}

// UserStore defines account persistence consumed by the auth package.
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// Store is the full persistence surface of the gateway.
type Store interface {
	ConversationStore
	UserStore

	// Ping checks that the backend is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
