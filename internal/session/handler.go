// ABOUTME: Per-connection session state machine: authenticate, register, dispatch frames, deregister
// ABOUTME: Frames from one connection are handled strictly in order; failures reply with error frames

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/2389/chat-gateway/internal/auth"
	"github.com/2389/chat-gateway/internal/conversation"
	"github.com/2389/chat-gateway/internal/protocol"
	"github.com/2389/chat-gateway/internal/registry"
	"github.com/2389/chat-gateway/internal/store"
)

const (
	defaultRequestTimeout = 5 * time.Second
	defaultWriteTimeout   = 10 * time.Second
)

// Options tunes session behavior.
type Options struct {
	// CloseSuperseded closes an identity's previous connection when it reconnects.
	// When false the old connection stays open but no longer receives fan-out.
	CloseSuperseded bool
	// RequestTimeout bounds the store work done for one inbound frame.
	RequestTimeout time.Duration
	// WriteTimeout bounds one reply write to the acting connection.
	WriteTimeout time.Duration
}

// Handler runs sessions. One Handler serves every connection.
type Handler struct {
	authority     auth.Authority
	registry      *registry.Registry
	conversations *conversation.Service
	opts          Options
	logger        *slog.Logger
}

// NewHandler creates a session Handler.
func NewHandler(authority auth.Authority, reg *registry.Registry, conversations *conversation.Service, opts Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	return &Handler{
		authority:     authority,
		registry:      reg,
		conversations: conversations,
		opts:          opts,
		logger:        logger.With("component", "session"),
	}
}

// Serve runs one connection until it closes. credential is the proof the
// client presented when connecting.
func (h *Handler) Serve(ctx context.Context, t Transport, credential string) {
	logger := h.logger.With("connection_id", t.ID())

	identity, err := h.authority.Authenticate(ctx, credential)
	if err != nil {
		logger.Warn("authentication failed", "error", err)
		_ = t.Close(CloseAuthFailed, "authentication failed")
		return
	}
	logger = logger.With("identity", identity)

	handle := &liveHandle{identity: identity, transport: t}
	if previous := h.registry.Register(handle); previous != nil && h.opts.CloseSuperseded {
		if err := previous.Close(CloseSessionReplaced, "session replaced"); err != nil {
			logger.Debug("closing superseded connection failed", "previous_connection_id", previous.ID(), "error", err)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("session panic",
				"panic", r,
				"stack", string(debug.Stack()))
			_ = t.Close(CloseInternalError, "internal error")
		}
		h.registry.Deregister(handle)
		_ = t.Close(CloseNormal, "session closed")
	}()

	logger.Info("session active")

	for {
		data, err := t.Read()
		if err != nil {
			switch {
			case errors.Is(err, ErrPeerClosed):
				logger.Info("client disconnected")
			case errors.Is(err, ErrClosed):
				logger.Info("session closed by server")
			default:
				logger.Warn("read failed", "error", err)
			}
			return
		}
		h.dispatch(ctx, handle, logger, data)
	}
}

func (h *Handler) dispatch(ctx context.Context, handle *liveHandle, logger *slog.Logger, data []byte) {
	frame, err := protocol.Decode(data)
	if err != nil {
		logger.Debug("rejecting frame", "error", err)
		h.replyError(ctx, handle, logger, err.Error())
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, h.opts.RequestTimeout)
	defer cancel()

	switch f := frame.(type) {
	case *protocol.CreateConversation:
		h.handleCreate(reqCtx, ctx, handle, logger, f)
	case *protocol.SendMessage:
		h.handleSend(reqCtx, ctx, handle, logger, f)
	case *protocol.Unhandled:
		logger.Debug("ignoring unhandled frame", "type", f.Type)
	}
}

func (h *Handler) handleCreate(reqCtx, ctx context.Context, handle *liveHandle, logger *slog.Logger, f *protocol.CreateConversation) {
	res, err := h.conversations.CreateConversation(reqCtx, &conversation.CreateRequest{
		Actor:        handle.identity,
		Initiator:    f.Initiator,
		Participants: f.Participants,
		IsGroup:      f.IsGroup,
		Name:         f.Name,
	})
	if err != nil {
		logger.Warn("create conversation failed", "error", err)
		h.replyError(ctx, handle, logger, errorMessage(err, "failed to create conversation"))
		return
	}

	conv := res.Conversation
	h.reply(ctx, handle, logger, protocol.Created(f.Dialect, conv.ID, res.Initiator, conv.Participants, conv.IsGroup, conv.Name))
}

func (h *Handler) handleSend(reqCtx, ctx context.Context, handle *liveHandle, logger *slog.Logger, f *protocol.SendMessage) {
	res, err := h.conversations.SendMessage(reqCtx, &conversation.SendRequest{
		Actor:          handle.identity,
		ConversationID: f.ConversationID,
		Sender:         f.Sender,
		Body:           f.Body,
		DedupeKey:      f.DedupeKey,
	})
	if err != nil {
		logger.Warn("send message failed", "conversation_id", f.ConversationID, "error", err)
		h.replyError(ctx, handle, logger, errorMessage(err, "failed to send message"))
		return
	}
	if res.Duplicate {
		logger.Debug("duplicate send dropped", "conversation_id", f.ConversationID, "message_id", res.Message.ID)
	}
}

// reply writes a frame to the acting connection only.
func (h *Handler) reply(ctx context.Context, handle *liveHandle, logger *slog.Logger, frame any) {
	data, err := protocol.Encode(frame)
	if err != nil {
		logger.Error("encoding reply failed", "error", err)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
	defer cancel()
	if err := handle.Send(writeCtx, data); err != nil {
		logger.Debug("reply not delivered", "error", err)
	}
}

func (h *Handler) replyError(ctx context.Context, handle *liveHandle, logger *slog.Logger, message string) {
	h.reply(ctx, handle, logger, protocol.NewErrorFrame(message))
}

// errorMessage maps a request failure to the text shown to the client.
// Unclassified failures get fallback so store internals are not leaked.
func errorMessage(err error, fallback string) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "conversation not found"
	case errors.Is(err, conversation.ErrNotParticipant):
		return conversation.ErrNotParticipant.Error()
	case errors.Is(err, conversation.ErrIdentityMismatch),
		errors.Is(err, conversation.ErrInvalidParticipants),
		errors.Is(err, protocol.ErrInvalidFrame):
		return err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("%s: timed out", fallback)
	default:
		return fallback
	}
}
