// ABOUTME: Tests for store helpers shared by every backend
// ABOUTME: Covers participant key normalization and time helpers

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParticipantKey_OrderIndependent(t *testing.T) {
	assert.Equal(t, ParticipantKey([]string{"alice", "bob"}), ParticipantKey([]string{"bob", "alice"}))
	assert.NotEqual(t, ParticipantKey([]string{"alice", "bob"}), ParticipantKey([]string{"alice", "carol"}))
}

func TestParticipantKey_DeduplicatesAndDoesNotMutate(t *testing.T) {
	in := []string{"bob", "alice", "bob"}
	assert.Equal(t, ParticipantKey([]string{"alice", "bob"}), ParticipantKey(in))
	assert.Equal(t, []string{"bob", "alice", "bob"}, in)
}

func TestParticipantKey_NoConcatenationCollision(t *testing.T) {
	assert.NotEqual(t, ParticipantKey([]string{"ab", "c"}), ParticipantKey([]string{"a", "bc"}))
}

func TestConversation_HasParticipant(t *testing.T) {
	conv := &Conversation{Participants: []string{"alice", "bob"}}
	assert.True(t, conv.HasParticipant("alice"))
	assert.False(t, conv.HasParticipant("carol"))
}

func TestConversation_LastActivity(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	conv := &Conversation{CreatedAt: created}
	assert.Equal(t, created, conv.LastActivity())

	last := created.Add(time.Hour)
	conv.LastMessageAt = &last
	assert.Equal(t, last, conv.LastActivity())
}
