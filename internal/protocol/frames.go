// ABOUTME: Wire frames exchanged over a live chat connection.
// ABOUTME: Decodes inbound JSON into a closed set of frame types and encodes replies.

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Inbound frame type tags.
const (
	TypeCreateChat         = "create_chat"
	TypeCreateConversation = "create_conversation"
	TypeSendMessage        = "send_message"
)

// Outbound frame type tags.
const (
	TypeChatCreated         = "chat_created"
	TypeConversationCreated = "conversation_created"
	TypeNewMessage          = "new_message"
	TypeError               = "error"
)

// ErrInvalidFrame is returned for payloads that are not JSON objects with a type.
var ErrInvalidFrame = errors.New("invalid frame")

// Dialect records which naming scheme the client used for create requests,
// so replies come back in the same shape.
type Dialect int

const (
	// DialectChat is the original create_chat / chat_created naming.
	DialectChat Dialect = iota
	// DialectConversation is create_conversation / conversation_created.
	DialectConversation
)

// Frame is one decoded inbound frame: *CreateConversation, *SendMessage or *Unhandled.
type Frame interface {
	frame()
}

// CreateConversation asks for a new (or existing, for pairs) conversation.
type CreateConversation struct {
	Dialect      Dialect
	Initiator    string   // empty means the session identity
	Participants []string // everyone except possibly the initiator
	IsGroup      bool
	Name         string
}

// SendMessage submits a message to a conversation.
type SendMessage struct {
	ConversationID string
	Sender         string // empty means the session identity
	Body           string
	DedupeKey      string
}

// Unhandled is any well-formed frame whose type is not recognized.
type Unhandled struct {
	Type string
	Raw  json.RawMessage
}

func (*CreateConversation) frame() {}
func (*SendMessage) frame()        {}
func (*Unhandled) frame()          {}

type inboundFrame struct {
	Type           string          `json:"type"`
	Initiator      string          `json:"initiator"`
	Participant    json.RawMessage `json:"participant"`
	Participants   json.RawMessage `json:"participants"`
	IsGroup        bool            `json:"is_group"`
	Name           string          `json:"name"`
	ChatID         string          `json:"chat_id"`
	ConversationID string          `json:"conversation_id"`
	Sender         string          `json:"sender"`
	Message        *string         `json:"message"`
	Body           *string         `json:"body"`
	DedupeKey      string          `json:"dedupe_key"`
}

type frameHeader struct {
	Type string `json:"type"`
}

// Decode parses one inbound frame. Errors wrap ErrInvalidFrame.
// Only the type tag is checked for frames of unrecognized type.
func Decode(data []byte) (Frame, error) {
	var hdr frameHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return nil, ErrInvalidFrame
	}
	if hdr.Type == "" {
		return nil, ErrInvalidFrame
	}

	switch hdr.Type {
	case TypeCreateChat, TypeCreateConversation, TypeSendMessage:
	default:
		return &Unhandled{Type: hdr.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}

	var in inboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, ErrInvalidFrame
	}
	if in.Type == TypeSendMessage {
		return decodeSend(&in)
	}
	return decodeCreate(&in)
}

// DecodeCreateRequest parses a create request body that carries no type tag,
// as posted to the HTTP API. It accepts the same fields as a create frame.
func DecodeCreateRequest(data []byte) (*CreateConversation, error) {
	var in inboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, ErrInvalidFrame
	}
	if in.Type == "" {
		in.Type = TypeCreateChat
	}
	if in.Type != TypeCreateChat && in.Type != TypeCreateConversation {
		return nil, fmt.Errorf("%w: unexpected type %q", ErrInvalidFrame, in.Type)
	}
	return decodeCreate(&in)
}

func decodeCreate(in *inboundFrame) (*CreateConversation, error) {
	dialect := DialectChat
	if in.Type == TypeCreateConversation {
		dialect = DialectConversation
	}

	var participants []string
	for _, raw := range []json.RawMessage{in.Participants, in.Participant} {
		names, err := stringOrList(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: participant must be a string or list of strings", ErrInvalidFrame)
		}
		participants = append(participants, names...)
	}

	participants = lo.Uniq(lo.Filter(
		lo.Map(participants, func(p string, _ int) string { return strings.TrimSpace(p) }),
		func(p string, _ int) bool { return p != "" },
	))
	if len(participants) == 0 {
		return nil, fmt.Errorf("%w: participant is required", ErrInvalidFrame)
	}

	return &CreateConversation{
		Dialect:      dialect,
		Initiator:    strings.TrimSpace(in.Initiator),
		Participants: participants,
		IsGroup:      in.IsGroup,
		Name:         in.Name,
	}, nil
}

func decodeSend(in *inboundFrame) (*SendMessage, error) {
	id := in.ConversationID
	if id == "" {
		id = in.ChatID
	}
	if id == "" {
		return nil, fmt.Errorf("%w: chat_id is required", ErrInvalidFrame)
	}

	body := in.Message
	if body == nil {
		body = in.Body
	}
	if body == nil {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidFrame)
	}

	return &SendMessage{
		ConversationID: id,
		Sender:         strings.TrimSpace(in.Sender),
		Body:           *body,
		DedupeKey:      in.DedupeKey,
	}, nil
}

// stringOrList accepts "x", ["x","y"] or an absent field.
func stringOrList(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var list []string
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, err
	}
	return []string{single}, nil
}

// ChatCreated is the reply to create_chat.
type ChatCreated struct {
	Type        string `json:"type"`
	ChatID      string `json:"chat_id"`
	Participant string `json:"participant"`
}

// ConversationCreated is the reply to create_conversation.
type ConversationCreated struct {
	Type           string   `json:"type"`
	ChatID         string   `json:"chat_id"`
	ConversationID string   `json:"conversation_id"`
	Participants   []string `json:"participants"`
	IsGroup        bool     `json:"is_group"`
	Name           string   `json:"name,omitempty"`
}

// NewMessage is fanned out to every connected participant.
type NewMessage struct {
	Type           string    `json:"type"`
	ChatID         string    `json:"chat_id"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	Sender         string    `json:"sender"`
	Message        string    `json:"message"`
	IsGroup        bool      `json:"is_group"`
	Timestamp      time.Time `json:"timestamp"`
}

// Error reports a failed request on the connection that made it.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Created builds the create reply for the requested dialect. participants is
// the full stored participant list; initiator is the resolved initiator.
func Created(dialect Dialect, conversationID, initiator string, participants []string, isGroup bool, name string) any {
	if dialect == DialectChat {
		others := lo.Without(participants, initiator)
		participant := ""
		if len(others) > 0 {
			participant = others[0]
		}
		return &ChatCreated{
			Type:        TypeChatCreated,
			ChatID:      conversationID,
			Participant: participant,
		}
	}
	return &ConversationCreated{
		Type:           TypeConversationCreated,
		ChatID:         conversationID,
		ConversationID: conversationID,
		Participants:   participants,
		IsGroup:        isGroup,
		Name:           name,
	}
}

// NewErrorFrame builds an error frame.
func NewErrorFrame(message string) *Error {
	return &Error{Type: TypeError, Message: message}
}

// Encode marshals an outbound frame.
func Encode(frame any) ([]byte, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	return data, nil
}
