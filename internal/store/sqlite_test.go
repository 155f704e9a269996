// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers conversation CRUD, pair lookup, message ordering/limiting, and users

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore creates a temporary SQLite store for testing.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_InMemory(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	conv := &Conversation{Participants: []string{"alice", "bob"}}
	require.NoError(t, s.CreateConversation(ctx, conv))

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, got.Participants)
}

func TestCreateAndGetConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := time.Now().UTC().Truncate(time.Millisecond)
	conv := &Conversation{
		Participants: []string{"carol", "alice", "bob"},
		IsGroup:      true,
		Name:         "book club",
		CreatedAt:    created,
	}
	require.NoError(t, s.CreateConversation(ctx, conv))
	require.NotEmpty(t, conv.ID, "store should assign an id")

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)

	assert.Equal(t, conv.ID, got.ID)
	assert.Equal(t, []string{"carol", "alice", "bob"}, got.Participants, "participant order is preserved")
	assert.True(t, got.IsGroup)
	assert.Equal(t, "book club", got.Name)
	assert.True(t, got.CreatedAt.Equal(created), "created_at: got %v want %v", got.CreatedAt, created)
	assert.Nil(t, got.LastMessageAt)
}

func TestGetConversation_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetConversation(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindConversationByParticipants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	direct := &Conversation{Participants: []string{"alice", "bob"}}
	require.NoError(t, s.CreateConversation(ctx, direct))

	group := &Conversation{Participants: []string{"alice", "bob"}, IsGroup: true, Name: "dupe pair group"}
	require.NoError(t, s.CreateConversation(ctx, group))

	t.Run("either order finds the direct conversation", func(t *testing.T) {
		for _, pair := range [][]string{{"alice", "bob"}, {"bob", "alice"}} {
			got, err := s.FindConversationByParticipants(ctx, pair)
			require.NoError(t, err)
			assert.Equal(t, direct.ID, got.ID)
		}
	})

	t.Run("unknown pair", func(t *testing.T) {
		_, err := s.FindConversationByParticipants(ctx, []string{"alice", "mallory"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("oldest wins when duplicates exist", func(t *testing.T) {
		dup := &Conversation{
			Participants: []string{"bob", "alice"},
			CreatedAt:    direct.CreatedAt.Add(time.Second),
		}
		require.NoError(t, s.CreateConversation(ctx, dup))

		got, err := s.FindConversationByParticipants(ctx, []string{"alice", "bob"})
		require.NoError(t, err)
		assert.Equal(t, direct.ID, got.ID)
	})
}

func TestAppendMessage_UpdatesLastActivity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := &Conversation{Participants: []string{"alice", "bob"}}
	require.NoError(t, s.CreateConversation(ctx, conv))

	msg := &Message{ConversationID: conv.ID, Sender: "alice", Body: "hi"}
	require.NoError(t, s.AppendMessage(ctx, msg))
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.Timestamp.IsZero())

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastMessageAt)
	assert.True(t, got.LastMessageAt.Equal(msg.Timestamp))
}

func TestAppendMessage_OrphanConversationStillRecorded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// No foreign key: the message is the durable record even without a parent.
	msg := &Message{ConversationID: "missing", Sender: "alice", Body: "into the void"}
	require.NoError(t, s.AppendMessage(ctx, msg))

	msgs, err := s.ListMessages(ctx, "missing", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "into the void", msgs[0].Body)
}

func TestListMessages_OrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := &Conversation{Participants: []string{"alice", "bob"}}
	require.NoError(t, s.CreateConversation(ctx, conv))

	base := time.Now().UTC().Truncate(time.Second)
	// Insert out of order to prove ordering is by timestamp
	bodies := map[int]string{2: "third", 0: "first", 1: "second"}
	for _, i := range []int{2, 0, 1} {
		require.NoError(t, s.AppendMessage(ctx, &Message{
			ConversationID: conv.ID,
			Sender:         "alice",
			Body:           bodies[i],
			Timestamp:      base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := s.ListMessages(ctx, conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "first", all[0].Body)
	assert.Equal(t, "second", all[1].Body)
	assert.Equal(t, "third", all[2].Body)

	tail, err := s.ListMessages(ctx, conv.ID, 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "second", tail[0].Body)
	assert.Equal(t, "third", tail[1].Body)

	latest, err := s.LatestMessage(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "third", latest.Body)
}

func TestListMessages_Empty(t *testing.T) {
	s := newTestStore(t)

	msgs, err := s.ListMessages(context.Background(), "nothing-here", 0)
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)

	_, err = s.LatestMessage(context.Background(), "nothing-here")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListConversationsFor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	older := &Conversation{Participants: []string{"alice", "bob"}, CreatedAt: base}
	newer := &Conversation{Participants: []string{"alice", "carol"}, CreatedAt: base.Add(time.Minute)}
	other := &Conversation{Participants: []string{"bob", "carol"}, CreatedAt: base}
	for _, c := range []*Conversation{older, newer, other} {
		require.NoError(t, s.CreateConversation(ctx, c))
	}

	convs, err := s.ListConversationsFor(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, newer.ID, convs[0].ID)
	assert.Equal(t, older.ID, convs[1].ID)

	// A message in the older conversation moves it to the front
	require.NoError(t, s.AppendMessage(ctx, &Message{ConversationID: older.ID, Sender: "bob", Body: "ping"}))

	convs, err = s.ListConversationsFor(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, older.ID, convs[0].ID)
	assert.Equal(t, []string{"alice", "bob"}, convs[0].Participants)

	none, err := s.ListConversationsFor(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := &User{Username: "alice", PasswordHash: "$2a$10$hash"}
	require.NoError(t, s.CreateUser(ctx, user))
	assert.NotEmpty(t, user.ID)

	got, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, "$2a$10$hash", got.PasswordHash)

	err = s.CreateUser(ctx, &User{Username: "alice", PasswordHash: "other"})
	assert.ErrorIs(t, err, ErrUsernameExists)

	_, err = s.GetUserByUsername(ctx, "bob")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
