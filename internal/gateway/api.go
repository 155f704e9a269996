// ABOUTME: HTTP JSON API for accounts, conversation creation, and history queries
// ABOUTME: Mirrors the websocket operations for clients that poll instead of streaming

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/samber/lo"

	"github.com/2389/chat-gateway/internal/auth"
	"github.com/2389/chat-gateway/internal/conversation"
	"github.com/2389/chat-gateway/internal/protocol"
	"github.com/2389/chat-gateway/internal/store"
)

const maxRequestBody = 1 << 20

// CreateConversationResponse is the JSON response for POST /api/conversations.
type CreateConversationResponse struct {
	ChatID         string   `json:"chat_id"`
	ConversationID string   `json:"conversation_id"`
	Participants   []string `json:"participants"`
	IsGroup        bool     `json:"is_group"`
	Name           string   `json:"name,omitempty"`
	Created        bool     `json:"created"`
}

// ConversationSummaryResponse is one entry of GET /api/users/{identity}/conversations.
type ConversationSummaryResponse struct {
	ChatID       string    `json:"chat_id"`
	Participant  string    `json:"participant"`
	Participants []string  `json:"participants"`
	IsGroup      bool      `json:"is_group"`
	Name         string    `json:"name,omitempty"`
	LastMessage  string    `json:"last_message"`
	Timestamp    time.Time `json:"timestamp"`
}

// MessageResponse is one entry of GET /api/conversations/{id}/messages.
type MessageResponse struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// RegisterResponse is the JSON response for POST /api/register.
type RegisterResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// LoginResponse is the JSON response for POST /api/login.
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"` // seconds
}

// registerAPIRoutes registers API routes on the mux with or without auth middleware.
// Legacy paths are kept as aliases for older clients.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	var (
		create  http.Handler = http.HandlerFunc(g.handleCreateConversation)
		list    http.Handler = http.HandlerFunc(g.handleListConversations)
		history http.Handler = http.HandlerFunc(g.handleListMessages)
	)

	if g.accounts != nil {
		mux.HandleFunc("POST /api/register", g.handleRegister)
		mux.HandleFunc("POST /api/login", g.handleLogin)

		authMiddleware := auth.HTTPAuthMiddleware(g.authority)
		create = authMiddleware(create)
		list = authMiddleware(auth.RequirePathIdentity("identity")(list))
		history = authMiddleware(history)
	}

	mux.Handle("POST /api/conversations", create)
	mux.Handle("GET /api/users/{identity}/conversations", list)
	mux.Handle("GET /api/conversations/{id}/messages", history)

	mux.Handle("POST /create-chat", create)
	mux.Handle("GET /user-chats/{identity}", list)
	mux.Handle("GET /chat-messages/{id}", history)
}

func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	user, err := g.accounts.Register(r.Context(), req)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrInvalidAccount):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, store.ErrUsernameExists):
		g.sendJSONError(w, http.StatusConflict, "username already exists")
		return
	default:
		g.logger.Error("registration failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusCreated, RegisterResponse{ID: user.ID, Username: user.Username})
}

func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sess, err := g.accounts.Login(r.Context(), req)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrInvalidCredentials):
		g.sendJSONError(w, http.StatusUnauthorized, err.Error())
		return
	default:
		g.logger.Error("login failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, LoginResponse{Token: sess.Token, ExpiresIn: int64(sess.ExpiresIn / time.Second)})
}

func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "request body too large")
		return
	}

	f, err := protocol.DecodeCreateRequest(body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	actor := auth.IdentityFromContext(r.Context())
	if actor == "" {
		// Insecure mode: the body names the identities, so check their shape.
		named := append([]string{f.Initiator}, f.Participants...)
		if bad, found := lo.Find(named, func(id string) bool { return id != "" && !auth.ValidIdentity(id) }); found {
			g.sendJSONError(w, http.StatusBadRequest, "invalid identity: "+strconv.Quote(bad))
			return
		}
	}

	res, err := g.conversations.CreateConversation(r.Context(), &conversation.CreateRequest{
		Actor:        actor,
		Initiator:    f.Initiator,
		Participants: f.Participants,
		IsGroup:      f.IsGroup,
		Name:         f.Name,
	})
	switch {
	case err == nil:
	case errors.Is(err, conversation.ErrIdentityMismatch):
		g.sendJSONError(w, http.StatusForbidden, err.Error())
		return
	case errors.Is(err, conversation.ErrInvalidParticipants):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	default:
		g.logger.Error("create conversation failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	conv := res.Conversation
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	g.sendJSON(w, status, CreateConversationResponse{
		ChatID:         conv.ID,
		ConversationID: conv.ID,
		Participants:   conv.Participants,
		IsGroup:        conv.IsGroup,
		Name:           conv.Name,
		Created:        res.Created,
	})
}

func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")

	summaries, err := g.conversations.ListConversations(r.Context(), identity)
	if err != nil {
		g.logger.Error("listing conversations failed", "identity", identity, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := lo.Map(summaries, func(s *conversation.Summary, _ int) ConversationSummaryResponse {
		resp := ConversationSummaryResponse{
			ChatID:       s.Conversation.ID,
			Participant:  s.Participant,
			Participants: s.Conversation.Participants,
			IsGroup:      s.Conversation.IsGroup,
			Name:         s.Conversation.Name,
			Timestamp:    s.Conversation.LastActivity(),
		}
		if s.LastMessage != nil {
			resp.LastMessage = s.LastMessage.Body
		}
		return resp
	})
	g.sendJSON(w, http.StatusOK, response)
}

func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	if caller := auth.IdentityFromContext(r.Context()); caller != "" {
		conv, err := g.conversations.GetConversation(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "conversation not found")
			return
		}
		if err != nil {
			g.logger.Error("loading conversation failed", "conversation_id", id, "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if !conv.HasParticipant(caller) {
			g.sendJSONError(w, http.StatusForbidden, conversation.ErrNotParticipant.Error())
			return
		}
	}

	msgs, err := g.conversations.ListMessages(r.Context(), id, limit)
	if err != nil {
		g.logger.Error("listing messages failed", "conversation_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, lo.Map(msgs, func(m *store.Message, _ int) MessageResponse {
		return MessageResponse{
			ID:        m.ID,
			ChatID:    m.ConversationID,
			Sender:    m.Sender,
			Message:   m.Body,
			Timestamp: m.Timestamp,
		}
	}))
}

// sendJSON writes v as a JSON response with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("writing response failed", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}
