// ABOUTME: Tests for the delivery router.
// ABOUTME: Verifies self-echo, absent/failed outcomes, and that one slow peer cannot stall the rest.

package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chat-gateway/internal/registry"
	"github.com/2389/chat-gateway/internal/store"
)

type recordingHandle struct {
	identity string
	id       string
	sendErr  error
	block    bool // wait for ctx before returning

	mu     sync.Mutex
	frames [][]byte
}

func (h *recordingHandle) Identity() string { return h.identity }
func (h *recordingHandle) ID() string       { return h.id }

func (h *recordingHandle) Send(ctx context.Context, frame []byte) error {
	if h.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if h.sendErr != nil {
		return h.sendErr
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, frame)
	return nil
}

func (h *recordingHandle) Close(code int, reason string) error { return nil }

func (h *recordingHandle) received() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]byte(nil), h.frames...)
}

type fixture struct {
	store    *store.MockStore
	registry *registry.Registry
	router   *Router
	conv     *store.Conversation
}

func newFixture(t *testing.T, participants []string, isGroup bool, writeTimeout time.Duration) *fixture {
	t.Helper()
	s := store.NewMockStore()
	reg := registry.New(nil)

	conv := &store.Conversation{Participants: participants, IsGroup: isGroup}
	require.NoError(t, s.CreateConversation(context.Background(), conv))

	return &fixture{
		store:    s,
		registry: reg,
		router:   NewRouter(s, reg, writeTimeout, nil),
		conv:     conv,
	}
}

func (f *fixture) connect(identity string) *recordingHandle {
	h := &recordingHandle{identity: identity, id: identity + "-conn"}
	f.registry.Register(h)
	return h
}

func TestDeliver_OnlyConnectedParticipantsIncludingSender(t *testing.T) {
	f := newFixture(t, []string{"alice", "bob", "carol"}, true, time.Second)
	alice := f.connect("alice")
	carol := f.connect("carol")

	msg := &store.Message{ID: "m1", ConversationID: f.conv.ID, Sender: "alice", Body: "hi", Timestamp: time.Now().UTC()}
	outcomes, err := f.router.Deliver(context.Background(), msg)
	require.NoError(t, err)

	require.Len(t, outcomes, 3)
	assert.Equal(t, Outcome{Identity: "alice", Status: StatusDelivered}, outcomes[0])
	assert.Equal(t, Outcome{Identity: "bob", Status: StatusAbsent}, outcomes[1])
	assert.Equal(t, Outcome{Identity: "carol", Status: StatusDelivered}, outcomes[2])

	for _, h := range []*recordingHandle{alice, carol} {
		frames := h.received()
		require.Len(t, frames, 1, "recipient %s", h.identity)

		var got map[string]any
		require.NoError(t, json.Unmarshal(frames[0], &got))
		assert.Equal(t, "new_message", got["type"])
		assert.Equal(t, f.conv.ID, got["chat_id"])
		assert.Equal(t, "alice", got["sender"])
		assert.Equal(t, "hi", got["message"])
		assert.Equal(t, true, got["is_group"])
		assert.Equal(t, "m1", got["message_id"])
	}
}

func TestDeliver_FailedPeerDoesNotStopFanOut(t *testing.T) {
	f := newFixture(t, []string{"alice", "bob", "carol"}, false, time.Second)
	f.connect("alice")
	broken := &recordingHandle{identity: "bob", id: "bob-conn", sendErr: errors.New("connection closed")}
	f.registry.Register(broken)
	carol := f.connect("carol")

	outcomes, err := f.router.Deliver(context.Background(), &store.Message{ConversationID: f.conv.ID, Sender: "alice", Body: "x"})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, outcomes[1].Status)
	assert.EqualError(t, outcomes[1].Err, "connection closed")
	assert.Len(t, carol.received(), 1)
	assert.Equal(t, 2, Count(outcomes, StatusDelivered))
}

func TestDeliver_SlowPeerBoundedByWriteTimeout(t *testing.T) {
	f := newFixture(t, []string{"alice", "bob"}, false, 20*time.Millisecond)
	f.registry.Register(&recordingHandle{identity: "alice", id: "a", block: true})
	bob := f.connect("bob")

	start := time.Now()
	outcomes, err := f.router.Deliver(context.Background(), &store.Message{ConversationID: f.conv.ID, Sender: "bob", Body: "x"})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StatusFailed, outcomes[0].Status)
	assert.ErrorIs(t, outcomes[0].Err, context.DeadlineExceeded)
	assert.Len(t, bob.received(), 1)
}

func TestDeliver_UnknownConversation(t *testing.T) {
	f := newFixture(t, []string{"alice", "bob"}, false, time.Second)
	alice := f.connect("alice")

	_, err := f.router.Deliver(context.Background(), &store.Message{ConversationID: "missing", Sender: "alice", Body: "x"})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, alice.received())
}

func TestDeliver_NobodyOnline(t *testing.T) {
	f := newFixture(t, []string{"alice", "bob"}, false, 0)

	outcomes, err := f.router.Deliver(context.Background(), &store.Message{ConversationID: f.conv.ID, Sender: "alice", Body: "x"})
	require.NoError(t, err)
	assert.Equal(t, 2, Count(outcomes, StatusAbsent))
}
