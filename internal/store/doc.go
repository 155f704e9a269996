// Package store provides durable storage for conversations, messages and accounts.
//
// # Architecture
//
// The package is interface-driven:
//
//   - ConversationStore: conversations and their message history
//   - UserStore: registered accounts
//   - Store: both of the above plus Ping and Close
//
// Three implementations exist:
//
//   - SQLiteStore: embedded database (modernc.org/sqlite), the default
//   - MongoStore: document store, for deployments that already run MongoDB
//   - MockStore: in-memory, with failure injection for tests
//
// # Data Models
//
//   - Conversation: two or more participants, optional group name, last activity
//   - Message: immutable sender/body/timestamp record
//   - User: username and bcrypt password hash
//
// # Direct Conversations
//
// A non-group conversation is identified by the unordered pair of its
// participants. Backends index ParticipantKey(participants) so the
// conversation service can check for an existing conversation before creating
// one. The index is not unique: two concurrent creates for the same pair can
// both succeed, and lookups then return the oldest.
//
// # Messages
//
// conversation_id on a message is a plain reference; no backend enforces it.
// AppendMessage writes the message first and then updates the parent's
// last_message_at. A failed update is logged and the append still succeeds.
//
// # Error Handling
//
//   - ErrNotFound: entity does not exist (including malformed MongoDB ids)
//   - ErrUsernameExists: CreateUser with a taken username
//
// Other errors are wrapped with context via fmt.Errorf("...: %w", err).
package store
