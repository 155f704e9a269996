// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message/user persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps sort lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every connection to :memory: opens a separate database
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
// messages.conversation_id is deliberately not a foreign key.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id              TEXT PRIMARY KEY,
			participant_key TEXT NOT NULL,
			is_group        INTEGER NOT NULL DEFAULT 0,
			name            TEXT NOT NULL DEFAULT '',
			created_at      TEXT NOT NULL,
			last_message_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_participant_key
			ON conversations(participant_key, is_group);

		CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id TEXT NOT NULL,
			identity        TEXT NOT NULL,
			position        INTEGER NOT NULL,

			PRIMARY KEY (conversation_id, identity)
		);

		CREATE INDEX IF NOT EXISTS idx_conversation_participants_identity
			ON conversation_participants(identity);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender          TEXT NOT NULL,
			body            TEXT NOT NULL,
			timestamp       TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_timestamp
			ON messages(conversation_id, timestamp);

		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			username      TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			created_at    TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateConversation stores a new conversation and its participant rows in one transaction.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, participant_key, is_group, name, created_at, last_message_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		conv.ID,
		ParticipantKey(conv.Participants),
		conv.IsGroup,
		conv.Name,
		formatTime(conv.CreatedAt),
		formatNullTime(conv.LastMessageAt),
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}

	for i, identity := range conv.Participants {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, identity, position)
			VALUES (?, ?, ?)
		`, conv.ID, identity, i)
		if err != nil {
			return fmt.Errorf("inserting participant %q: %w", identity, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing conversation: %w", err)
	}

	s.logger.Debug("created conversation",
		"conversation_id", conv.ID,
		"participants", conv.Participants,
		"is_group", conv.IsGroup)
	return nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, is_group, name, created_at, last_message_at
		FROM conversations
		WHERE id = ?
	`, id)

	conv, err := scanConversation(row)
	if err != nil {
		return nil, err
	}

	if err := s.loadParticipants(ctx, []*Conversation{conv}); err != nil {
		return nil, err
	}
	return conv, nil
}

// FindConversationByParticipants looks up the oldest direct conversation for a participant set.
func (s *SQLiteStore) FindConversationByParticipants(ctx context.Context, participants []string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, is_group, name, created_at, last_message_at
		FROM conversations
		WHERE participant_key = ? AND is_group = 0
		ORDER BY created_at ASC
		LIMIT 1
	`, ParticipantKey(participants))

	conv, err := scanConversation(row)
	if err != nil {
		return nil, err
	}

	if err := s.loadParticipants(ctx, []*Conversation{conv}); err != nil {
		return nil, err
	}
	return conv, nil
}

// ListConversationsFor returns every conversation the identity participates in,
// most recently active first.
func (s *SQLiteStore) ListConversationsFor(ctx context.Context, identity string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.is_group, c.name, c.created_at, c.last_message_at
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.identity = ?
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC
	`, identity)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	rows.Close()

	if err := s.loadParticipants(ctx, convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// loadParticipants fills Participants for each conversation in position order.
// Rows from the outer query must already be closed.
func (s *SQLiteStore) loadParticipants(ctx context.Context, convs []*Conversation) error {
	for _, conv := range convs {
		rows, err := s.db.QueryContext(ctx, `
			SELECT identity FROM conversation_participants
			WHERE conversation_id = ?
			ORDER BY position ASC
		`, conv.ID)
		if err != nil {
			return fmt.Errorf("querying participants: %w", err)
		}

		conv.Participants = conv.Participants[:0]
		for rows.Next() {
			var identity string
			if err := rows.Scan(&identity); err != nil {
				rows.Close()
				return fmt.Errorf("scanning participant: %w", err)
			}
			conv.Participants = append(conv.Participants, identity)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("iterating participants: %w", err)
		}
	}
	return nil
}

// AppendMessage inserts the message, then bumps the conversation's last_message_at.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender, body, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.Sender, msg.Body, formatTime(msg.Timestamp))
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	// The message row is the durable fact; a missed activity update only affects sorting.
	_, err = s.db.ExecContext(ctx, `
		UPDATE conversations SET last_message_at = ? WHERE id = ?
	`, formatTime(msg.Timestamp), msg.ConversationID)
	if err != nil {
		s.logger.Warn("failed to update conversation activity",
			"conversation_id", msg.ConversationID,
			"message_id", msg.ID,
			"error", err)
	}

	return nil
}

// LatestMessage returns the most recent message of a conversation.
func (s *SQLiteStore) LatestMessage(ctx context.Context, conversationID string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, sender, body, timestamp
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp DESC, rowid DESC
		LIMIT 1
	`, conversationID)
	return scanMessage(row)
}

// ListMessages retrieves messages for a conversation in ascending order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		// Take the newest N, then flip back to ascending
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, conversation_id, sender, body, timestamp FROM (
				SELECT id, conversation_id, sender, body, timestamp, rowid AS seq
				FROM messages
				WHERE conversation_id = ?
				ORDER BY timestamp DESC, rowid DESC
				LIMIT ?
			) ORDER BY timestamp ASC, seq ASC
		`, conversationID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, conversation_id, sender, body, timestamp
			FROM messages
			WHERE conversation_id = ?
			ORDER BY timestamp ASC, rowid ASC
		`, conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := []*Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return messages, nil
}

// CreateUser creates a new account.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`, user.ID, user.Username, user.PasswordHash, formatTime(user.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUsernameExists
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Info("created user", "id", user.ID, "username", user.Username)
	return nil
}

// GetUserByUsername retrieves an account by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE username = ?
	`, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	user.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &user, nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		conv          Conversation
		createdAt     string
		lastMessageAt sql.NullString
	)
	err := row.Scan(&conv.ID, &conv.IsGroup, &conv.Name, &createdAt, &lastMessageAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	conv.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if lastMessageAt.Valid {
		t, err := parseTime(lastMessageAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_message_at: %w", err)
		}
		conv.LastMessageAt = &t
	}
	return &conv, nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var ts string
	err := row.Scan(&msg.ID, &msg.ConversationID, &msg.Sender, &msg.Body, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}
	msg.Timestamp, err = parseTime(ts)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	return &msg, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
