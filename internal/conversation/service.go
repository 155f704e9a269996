// ABOUTME: Conversation service: creation with pair de-duplication, message submission, history
// ABOUTME: Record first, then act: a message is persisted before any fan-out is attempted

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/lo"

	"github.com/2389/chat-gateway/internal/dedupe"
	"github.com/2389/chat-gateway/internal/delivery"
	"github.com/2389/chat-gateway/internal/store"
)

var (
	// ErrNotParticipant is returned when the acting identity is not a member of the conversation.
	ErrNotParticipant = errors.New("not a participant in this conversation")

	// ErrInvalidParticipants is returned when a create request does not describe
	// a valid participant set.
	ErrInvalidParticipants = errors.New("invalid participants")

	// ErrIdentityMismatch is returned when a request claims to act as someone
	// other than the authenticated identity.
	ErrIdentityMismatch = errors.New("identity does not match session")
)

// UnknownParticipant is shown in summaries when no other participant exists.
const UnknownParticipant = "Unknown"

// Deliverer fans a persisted message out to connected participants.
type Deliverer interface {
	DeliverTo(ctx context.Context, conv *store.Conversation, msg *store.Message) ([]delivery.Outcome, error)
}

// Service is the conversation layer shared by websocket sessions and the HTTP API.
type Service struct {
	store     store.ConversationStore
	deliverer Deliverer
	dedupe    *dedupe.Cache
	logger    *slog.Logger
}

// New creates a new conversation Service. deliverer may be nil for
// read/create-only use.
func New(store store.ConversationStore, deliverer Deliverer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		deliverer: deliverer,
		logger:    logger.With("component", "conversation"),
	}
}

// SetDedupe enables retransmission detection for SendRequest.DedupeKey.
func (s *Service) SetDedupe(cache *dedupe.Cache) {
	s.dedupe = cache
}

// CreateRequest describes a conversation to open.
type CreateRequest struct {
	// Actor is the authenticated identity making the request. When set,
	// Initiator must be empty or equal to it.
	Actor        string
	Initiator    string
	Participants []string
	IsGroup      bool
	Name         string
}

// CreateResult is the resolved conversation and whether it was newly created.
type CreateResult struct {
	Conversation *store.Conversation
	Initiator    string
	Created      bool
}

// CreateConversation opens a conversation. For non-group requests an existing
// conversation between the same two identities is returned instead of creating
// a duplicate. The check and the create are not atomic.
func (s *Service) CreateConversation(ctx context.Context, req *CreateRequest) (*CreateResult, error) {
	initiator, err := resolveActor(req.Actor, req.Initiator)
	if err != nil {
		return nil, err
	}
	if initiator == "" {
		return nil, fmt.Errorf("%w: initiator is required", ErrInvalidParticipants)
	}

	others := lo.Filter(
		lo.Map(req.Participants, func(p string, _ int) string { return strings.TrimSpace(p) }),
		func(p string, _ int) bool { return p != "" },
	)
	participants := lo.Uniq(append([]string{initiator}, others...))

	if len(participants) < 2 {
		return nil, fmt.Errorf("%w: at least one other participant is required", ErrInvalidParticipants)
	}
	if !req.IsGroup && len(participants) != 2 {
		return nil, fmt.Errorf("%w: a non-group conversation has exactly two participants", ErrInvalidParticipants)
	}

	if !req.IsGroup {
		existing, err := s.store.FindConversationByParticipants(ctx, participants)
		if err == nil {
			s.logger.Debug("found existing conversation",
				"conversation_id", existing.ID,
				"initiator", initiator)
			return &CreateResult{Conversation: existing, Initiator: initiator}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("looking up conversation: %w", err)
		}
	}

	conv := &store.Conversation{
		Participants: participants,
		IsGroup:      req.IsGroup,
	}
	if req.IsGroup {
		conv.Name = strings.TrimSpace(req.Name)
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	s.logger.Info("conversation created",
		"conversation_id", conv.ID,
		"initiator", initiator,
		"participants", len(participants),
		"is_group", conv.IsGroup)

	return &CreateResult{Conversation: conv, Initiator: initiator, Created: true}, nil
}

// SendRequest is a message submission.
type SendRequest struct {
	// Actor is the authenticated identity. When set, Sender must be empty or equal to it.
	Actor          string
	ConversationID string
	Sender         string
	Body           string
	// DedupeKey, when set, identifies retransmissions of the same submission.
	DedupeKey string
}

// SendResult reports the stored message and the fan-out outcome.
type SendResult struct {
	Conversation *store.Conversation
	Message      *store.Message
	Outcomes     []delivery.Outcome
	// Duplicate is true when DedupeKey matched an earlier submission; nothing
	// was stored or delivered and Message carries only the original ID.
	Duplicate bool
}

// SendMessage records the message, then fans it out.
//
// The message is saved before any delivery attempt. A delivery failure to one
// recipient is reported in Outcomes and never returned as an error.
func (s *Service) SendMessage(ctx context.Context, req *SendRequest) (*SendResult, error) {
	sender, err := resolveActor(req.Actor, req.Sender)
	if err != nil {
		return nil, err
	}
	if sender == "" {
		return nil, fmt.Errorf("%w: sender is required", ErrIdentityMismatch)
	}

	conv, err := s.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("conversation %s: %w", req.ConversationID, err)
	}
	if !conv.HasParticipant(sender) {
		return nil, ErrNotParticipant
	}

	dedupeKey := ""
	if s.dedupe != nil && req.DedupeKey != "" {
		dedupeKey = strings.Join([]string{sender, conv.ID, req.DedupeKey}, "\x00")
		if originalID, dup := s.dedupe.CheckAndMark(dedupeKey); dup {
			s.logger.Debug("dropping retransmitted message",
				"conversation_id", conv.ID,
				"sender", sender,
				"dedupe_key", req.DedupeKey,
				"original_message_id", originalID)
			return &SendResult{
				Conversation: conv,
				Message:      &store.Message{ID: originalID, ConversationID: conv.ID, Sender: sender},
				Duplicate:    true,
			}, nil
		}
	}

	msg := &store.Message{
		ConversationID: conv.ID,
		Sender:         sender,
		Body:           req.Body,
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		if dedupeKey != "" {
			s.dedupe.Forget(dedupeKey)
		}
		return nil, fmt.Errorf("failed to record message: %w", err)
	}
	if dedupeKey != "" {
		s.dedupe.Set(dedupeKey, msg.ID)
	}

	s.logger.Debug("message recorded",
		"conversation_id", conv.ID,
		"message_id", msg.ID,
		"sender", sender)

	result := &SendResult{Conversation: conv, Message: msg}
	if s.deliverer == nil {
		return result, nil
	}

	outcomes, err := s.deliverer.DeliverTo(ctx, conv, msg)
	if err != nil {
		// Message is recorded; fan-out problems stay off the sender's error path
		s.logger.Error("fan-out failed",
			"conversation_id", conv.ID,
			"message_id", msg.ID,
			"error", err)
		return result, nil
	}
	result.Outcomes = outcomes
	return result, nil
}

// Summary is one row of a user's conversation list.
type Summary struct {
	Conversation *store.Conversation
	// Participant is the first participant other than the viewer.
	Participant string
	LastMessage *store.Message // nil if the conversation has no messages
}

// ListConversations returns identity's conversations, most recently active
// first, each with its latest message. The latest message is read separately
// from the listing and may be newer than the listing's ordering reflects.
func (s *Service) ListConversations(ctx context.Context, identity string) ([]*Summary, error) {
	convs, err := s.store.ListConversationsFor(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	summaries := make([]*Summary, 0, len(convs))
	for _, conv := range convs {
		summary := &Summary{
			Conversation: conv,
			Participant:  otherParticipant(conv, identity),
		}

		latest, err := s.store.LatestMessage(ctx, conv.ID)
		switch {
		case err == nil:
			summary.LastMessage = latest
		case errors.Is(err, store.ErrNotFound):
		default:
			return nil, fmt.Errorf("latest message for %s: %w", conv.ID, err)
		}

		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// ListMessages returns a conversation's history in ascending order. An unknown
// conversation yields an empty history.
func (s *Service) ListMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error) {
	return s.store.ListMessages(ctx, conversationID, limit)
}

// GetConversation returns a single conversation.
func (s *Service) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	return s.store.GetConversation(ctx, id)
}

func otherParticipant(conv *store.Conversation, identity string) string {
	others := lo.Without(conv.Participants, identity)
	if len(others) == 0 {
		return UnknownParticipant
	}
	return others[0]
}

// resolveActor applies the "defaults to, must equal" rule for claimed identities.
func resolveActor(actor, claimed string) (string, error) {
	claimed = strings.TrimSpace(claimed)
	if actor == "" {
		return claimed, nil
	}
	if claimed != "" && claimed != actor {
		return "", fmt.Errorf("%w: %q", ErrIdentityMismatch, claimed)
	}
	return actor, nil
}
