// ABOUTME: Fans a persisted message out to every connected participant.
// ABOUTME: Returns a per-recipient outcome list; peer write failures never abort the fan-out.

package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/2389/chat-gateway/internal/protocol"
	"github.com/2389/chat-gateway/internal/registry"
	"github.com/2389/chat-gateway/internal/store"
)

// Status is what happened when delivering to one participant.
type Status string

const (
	StatusDelivered Status = "delivered"
	StatusAbsent    Status = "absent"
	StatusFailed    Status = "failed"
)

// Outcome records the delivery result for one participant.
type Outcome struct {
	Identity string
	Status   Status
	Err      error // set only when Status is StatusFailed
}

// ConversationLookup is the slice of the store the router reads.
type ConversationLookup interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
}

// Directory resolves identities to live connections.
type Directory interface {
	Lookup(identity string) (registry.Handle, bool)
}

// Router delivers new_message frames to online participants.
type Router struct {
	conversations ConversationLookup
	directory     Directory
	writeTimeout  time.Duration
	logger        *slog.Logger
}

// NewRouter creates a Router. A writeTimeout of zero disables the per-write bound.
func NewRouter(conversations ConversationLookup, directory Directory, writeTimeout time.Duration, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		conversations: conversations,
		directory:     directory,
		writeTimeout:  writeTimeout,
		logger:        logger.With("component", "delivery"),
	}
}

// Deliver pushes msg to each participant of its conversation, sender included,
// in participant order. It returns an error only if the conversation cannot
// be resolved or the frame cannot be encoded.
func (r *Router) Deliver(ctx context.Context, msg *store.Message) ([]Outcome, error) {
	conv, err := r.conversations.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("resolving conversation %s: %w", msg.ConversationID, err)
	}
	return r.DeliverTo(ctx, conv, msg)
}

// DeliverTo is Deliver for a conversation the caller already holds.
func (r *Router) DeliverTo(ctx context.Context, conv *store.Conversation, msg *store.Message) ([]Outcome, error) {
	frame, err := protocol.Encode(&protocol.NewMessage{
		Type:           protocol.TypeNewMessage,
		ChatID:         conv.ID,
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		Sender:         msg.Sender,
		Message:        msg.Body,
		IsGroup:        conv.IsGroup,
		Timestamp:      msg.Timestamp,
	})
	if err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, 0, len(conv.Participants))
	for _, identity := range conv.Participants {
		h, ok := r.directory.Lookup(identity)
		if !ok {
			outcomes = append(outcomes, Outcome{Identity: identity, Status: StatusAbsent})
			continue
		}

		if err := r.send(ctx, h, frame); err != nil {
			r.logger.Warn("delivery failed",
				"conversation_id", conv.ID,
				"message_id", msg.ID,
				"recipient", identity,
				"connection_id", h.ID(),
				"error", err,
			)
			outcomes = append(outcomes, Outcome{Identity: identity, Status: StatusFailed, Err: err})
			continue
		}
		outcomes = append(outcomes, Outcome{Identity: identity, Status: StatusDelivered})
	}

	r.logger.Debug("message fanned out",
		"conversation_id", conv.ID,
		"message_id", msg.ID,
		"delivered", Count(outcomes, StatusDelivered),
		"absent", Count(outcomes, StatusAbsent),
		"failed", Count(outcomes, StatusFailed),
	)
	return outcomes, nil
}

func (r *Router) send(ctx context.Context, h registry.Handle, frame []byte) error {
	if r.writeTimeout <= 0 {
		return h.Send(ctx, frame)
	}
	ctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()
	return h.Send(ctx, frame)
}

// Count returns how many outcomes have the given status.
func Count(outcomes []Outcome, status Status) int {
	return lo.CountBy(outcomes, func(o Outcome) bool { return o.Status == status })
}
