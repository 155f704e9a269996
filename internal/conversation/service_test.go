// ABOUTME: Tests for the conversation Service
// ABOUTME: Verifies pair de-duplication, record-before-deliver, identity checks, and summaries

package conversation

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chat-gateway/internal/dedupe"
	"github.com/2389/chat-gateway/internal/delivery"
	"github.com/2389/chat-gateway/internal/store"
)

// mockDeliverer records DeliverTo calls and checks the message was stored first.
type mockDeliverer struct {
	store      store.ConversationStore
	err        error
	calls      int
	sawStored  bool
	lastConvID string
}

func (m *mockDeliverer) DeliverTo(ctx context.Context, conv *store.Conversation, msg *store.Message) ([]delivery.Outcome, error) {
	m.calls++
	m.lastConvID = conv.ID
	if m.store != nil {
		msgs, _ := m.store.ListMessages(ctx, conv.ID, 0)
		for _, stored := range msgs {
			if stored.ID == msg.ID {
				m.sawStored = true
			}
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return []delivery.Outcome{{Identity: msg.Sender, Status: delivery.StatusDelivered}}, nil
}

func createTestStore(t *testing.T) *store.SQLiteStore {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")
	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestService_CreateConversation_PairIsIdempotent(t *testing.T) {
	svc := New(createTestStore(t), nil, nil)
	ctx := context.Background()

	first, err := svc.CreateConversation(ctx, &CreateRequest{Initiator: "alice", Participants: []string{"bob"}})
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, []string{"alice", "bob"}, first.Conversation.Participants)

	again, err := svc.CreateConversation(ctx, &CreateRequest{Initiator: "alice", Participants: []string{"bob"}})
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, first.Conversation.ID, again.Conversation.ID)

	reversed, err := svc.CreateConversation(ctx, &CreateRequest{Initiator: "bob", Participants: []string{"alice"}})
	require.NoError(t, err)
	assert.Equal(t, first.Conversation.ID, reversed.Conversation.ID, "either order resolves to the same conversation")
}

func TestService_CreateConversation_GroupsAlwaysNew(t *testing.T) {
	svc := New(createTestStore(t), nil, nil)
	ctx := context.Background()

	req := &CreateRequest{Initiator: "alice", Participants: []string{"bob", "carol"}, IsGroup: true, Name: " team "}
	a, err := svc.CreateConversation(ctx, req)
	require.NoError(t, err)
	b, err := svc.CreateConversation(ctx, req)
	require.NoError(t, err)

	assert.NotEqual(t, a.Conversation.ID, b.Conversation.ID)
	assert.Equal(t, "team", a.Conversation.Name)
	assert.True(t, a.Conversation.IsGroup)
}

func TestService_CreateConversation_Validation(t *testing.T) {
	svc := New(store.NewMockStore(), nil, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		req     *CreateRequest
		wantErr error
	}{
		{"no initiator", &CreateRequest{Participants: []string{"bob"}}, ErrInvalidParticipants},
		{"only self", &CreateRequest{Initiator: "alice", Participants: []string{"alice"}}, ErrInvalidParticipants},
		{"blank participants", &CreateRequest{Initiator: "alice", Participants: []string{" ", ""}}, ErrInvalidParticipants},
		{"three without group", &CreateRequest{Initiator: "alice", Participants: []string{"bob", "carol"}}, ErrInvalidParticipants},
		{"initiator mismatch", &CreateRequest{Actor: "alice", Initiator: "mallory", Participants: []string{"bob"}}, ErrIdentityMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateConversation(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestService_CreateConversation_InitiatorDefaultsToActor(t *testing.T) {
	svc := New(store.NewMockStore(), nil, nil)

	res, err := svc.CreateConversation(context.Background(), &CreateRequest{Actor: "alice", Participants: []string{"bob"}})
	require.NoError(t, err)
	assert.Equal(t, "alice", res.Initiator)
	assert.Equal(t, []string{"alice", "bob"}, res.Conversation.Participants)
}

func TestService_CreateConversation_StoreFailure(t *testing.T) {
	s := store.NewMockStore()
	s.FailOn("FindConversationByParticipants", errors.New("db down"))
	svc := New(s, nil, nil)

	_, err := svc.CreateConversation(context.Background(), &CreateRequest{Initiator: "alice", Participants: []string{"bob"}})
	assert.Error(t, err)
}

func TestService_SendMessage_RecordsBeforeDelivering(t *testing.T) {
	testStore := createTestStore(t)
	deliverer := &mockDeliverer{store: testStore}
	svc := New(testStore, deliverer, nil)
	ctx := context.Background()

	created, err := svc.CreateConversation(ctx, &CreateRequest{Initiator: "alice", Participants: []string{"bob"}})
	require.NoError(t, err)

	res, err := svc.SendMessage(ctx, &SendRequest{Actor: "alice", ConversationID: created.Conversation.ID, Body: "hi"})
	require.NoError(t, err)

	assert.Equal(t, 1, deliverer.calls)
	assert.True(t, deliverer.sawStored, "message must be persisted before fan-out")
	assert.Equal(t, "alice", res.Message.Sender)
	require.Len(t, res.Outcomes, 1)

	history, err := svc.ListMessages(ctx, created.Conversation.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hi", history[0].Body)
}

func TestService_SendMessage_UnknownConversation(t *testing.T) {
	deliverer := &mockDeliverer{}
	svc := New(store.NewMockStore(), deliverer, nil)

	_, err := svc.SendMessage(context.Background(), &SendRequest{Actor: "alice", ConversationID: "missing", Body: "hi"})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Zero(t, deliverer.calls)
}

func TestService_SendMessage_NotParticipant(t *testing.T) {
	s := store.NewMockStore()
	deliverer := &mockDeliverer{}
	svc := New(s, deliverer, nil)
	ctx := context.Background()

	created, err := svc.CreateConversation(ctx, &CreateRequest{Initiator: "alice", Participants: []string{"bob"}})
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, &SendRequest{Actor: "mallory", ConversationID: created.Conversation.ID, Body: "hi"})
	assert.ErrorIs(t, err, ErrNotParticipant)
	assert.Zero(t, deliverer.calls)

	msgs, err := s.ListMessages(ctx, created.Conversation.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestService_SendMessage_SenderMismatch(t *testing.T) {
	svc := New(store.NewMockStore(), nil, nil)

	_, err := svc.SendMessage(context.Background(), &SendRequest{Actor: "alice", Sender: "bob", ConversationID: "c", Body: "hi"})
	assert.ErrorIs(t, err, ErrIdentityMismatch)
}

func TestService_SendMessage_PersistFailureSkipsDelivery(t *testing.T) {
	s := store.NewMockStore()
	deliverer := &mockDeliverer{}
	svc := New(s, deliverer, nil)
	ctx := context.Background()

	created, err := svc.CreateConversation(ctx, &CreateRequest{Initiator: "alice", Participants: []string{"bob"}})
	require.NoError(t, err)

	s.FailOn("AppendMessage", errors.New("disk full"))
	_, err = svc.SendMessage(ctx, &SendRequest{Actor: "alice", ConversationID: created.Conversation.ID, Body: "hi"})
	assert.Error(t, err)
	assert.Zero(t, deliverer.calls)
}

func TestService_SendMessage_DeliveryErrorNotReturned(t *testing.T) {
	s := store.NewMockStore()
	svc := New(s, &mockDeliverer{err: errors.New("encode failed")}, nil)
	ctx := context.Background()

	created, err := svc.CreateConversation(ctx, &CreateRequest{Initiator: "alice", Participants: []string{"bob"}})
	require.NoError(t, err)

	res, err := svc.SendMessage(ctx, &SendRequest{Actor: "alice", ConversationID: created.Conversation.ID, Body: "hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Message.ID)
	assert.Nil(t, res.Outcomes)
}

func TestService_SendMessage_DedupeKey(t *testing.T) {
	s := store.NewMockStore()
	deliverer := &mockDeliverer{}
	svc := New(s, deliverer, nil)
	cache := dedupe.New(time.Minute, 100)
	defer cache.Close()
	svc.SetDedupe(cache)
	ctx := context.Background()

	created, err := svc.CreateConversation(ctx, &CreateRequest{Initiator: "alice", Participants: []string{"bob"}})
	require.NoError(t, err)
	convID := created.Conversation.ID

	first, err := svc.SendMessage(ctx, &SendRequest{Actor: "alice", ConversationID: convID, Body: "hi", DedupeKey: "k1"})
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	retry, err := svc.SendMessage(ctx, &SendRequest{Actor: "alice", ConversationID: convID, Body: "hi", DedupeKey: "k1"})
	require.NoError(t, err)
	assert.True(t, retry.Duplicate)
	assert.Equal(t, first.Message.ID, retry.Message.ID)

	// Same key from a different sender is independent
	_, err = svc.SendMessage(ctx, &SendRequest{Actor: "bob", ConversationID: convID, Body: "hi", DedupeKey: "k1"})
	require.NoError(t, err)

	msgs, err := s.ListMessages(ctx, convID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
	assert.Equal(t, 2, deliverer.calls)
}

func TestService_SendMessage_DedupeReleasedOnFailure(t *testing.T) {
	s := store.NewMockStore()
	svc := New(s, nil, nil)
	cache := dedupe.New(time.Minute, 100)
	defer cache.Close()
	svc.SetDedupe(cache)
	ctx := context.Background()

	created, err := svc.CreateConversation(ctx, &CreateRequest{Initiator: "alice", Participants: []string{"bob"}})
	require.NoError(t, err)

	s.FailOn("AppendMessage", errors.New("transient"))
	_, err = svc.SendMessage(ctx, &SendRequest{Actor: "alice", ConversationID: created.Conversation.ID, Body: "hi", DedupeKey: "k"})
	require.Error(t, err)

	s.FailOn("AppendMessage", nil)
	res, err := svc.SendMessage(ctx, &SendRequest{Actor: "alice", ConversationID: created.Conversation.ID, Body: "hi", DedupeKey: "k"})
	require.NoError(t, err)
	assert.False(t, res.Duplicate, "a failed attempt must not mark the key")
}

func TestService_ListConversations(t *testing.T) {
	s := createTestStore(t)
	svc := New(s, nil, nil)
	ctx := context.Background()

	withBob, err := svc.CreateConversation(ctx, &CreateRequest{Initiator: "alice", Participants: []string{"bob"}})
	require.NoError(t, err)
	withCarol, err := svc.CreateConversation(ctx, &CreateRequest{Initiator: "carol", Participants: []string{"alice"}})
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, &SendRequest{Actor: "bob", ConversationID: withBob.Conversation.ID, Body: "latest"})
	require.NoError(t, err)

	summaries, err := svc.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, withBob.Conversation.ID, summaries[0].Conversation.ID)
	assert.Equal(t, "bob", summaries[0].Participant)
	require.NotNil(t, summaries[0].LastMessage)
	assert.Equal(t, "latest", summaries[0].LastMessage.Body)

	assert.Equal(t, withCarol.Conversation.ID, summaries[1].Conversation.ID)
	assert.Equal(t, "carol", summaries[1].Participant)
	assert.Nil(t, summaries[1].LastMessage)
}

func TestService_ListConversations_UnknownParticipant(t *testing.T) {
	s := store.NewMockStore()
	ctx := context.Background()
	// Stored data from older clients may list the viewer twice.
	require.NoError(t, s.CreateConversation(ctx, &store.Conversation{Participants: []string{"alice", "alice"}}))

	summaries, err := New(s, nil, nil).ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, UnknownParticipant, summaries[0].Participant)
}

func TestService_ListMessages_UnknownConversationIsEmpty(t *testing.T) {
	svc := New(createTestStore(t), nil, nil)

	msgs, err := svc.ListMessages(context.Background(), "missing", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
