// ABOUTME: MongoDB implementation of the Store interface using mongo-driver v2
// ABOUTME: Keeps conversations, messages and users as documents with the indexes lookups need

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection names.
const (
	collConversations = "conversations"
	collMessages      = "messages"
	collUsers         = "users"
)

// MongoStore implements the Store interface on a MongoDB database.
type MongoStore struct {
	client        *mongo.Client
	conversations *mongo.Collection
	messages      *mongo.Collection
	users         *mongo.Collection
	logger        *slog.Logger
}

// Ensure MongoStore implements Store.
var _ Store = (*MongoStore)(nil)

type conversationDoc struct {
	ID             bson.ObjectID `bson:"_id"`
	Participants   []string      `bson:"participants"`
	ParticipantKey string        `bson:"participant_key"`
	IsGroup        bool          `bson:"is_group"`
	Name           string        `bson:"name,omitempty"`
	CreatedAt      time.Time     `bson:"created_at"`
	LastMessageAt  *time.Time    `bson:"last_message_at"`
}

type messageDoc struct {
	ID             bson.ObjectID `bson:"_id"`
	ConversationID string        `bson:"conversation_id"`
	Sender         string        `bson:"sender"`
	Body           string        `bson:"body"`
	Timestamp      time.Time     `bson:"timestamp"`
}

type userDoc struct {
	ID           bson.ObjectID `bson:"_id"`
	Username     string        `bson:"username"`
	PasswordHash string        `bson:"password_hash"`
	CreatedAt    time.Time     `bson:"created_at"`
}

// NewMongoStore connects to uri, verifies the connection and ensures indexes on dbName.
func NewMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	logger := slog.Default().With("component", "store")

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	db := client.Database(dbName)
	s := &MongoStore{
		client:        client,
		conversations: db.Collection(collConversations),
		messages:      db.Collection(collMessages),
		users:         db.Collection(collUsers),
		logger:        logger,
	}

	if err := s.createIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	logger.Info("MongoDB store initialized", "database", dbName)
	return s, nil
}

// createIndexes is idempotent. participant_key is not unique, matching the
// check-then-create behavior of the other backends.
func (s *MongoStore) createIndexes(ctx context.Context) error {
	indexes := map[*mongo.Collection][]mongo.IndexModel{
		s.conversations: {
			{Keys: bson.D{{Key: "participants", Value: 1}}},
			{Keys: bson.D{{Key: "participant_key", Value: 1}, {Key: "is_group", Value: 1}}},
		},
		s.messages: {
			{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "timestamp", Value: 1}}},
		},
		s.users: {
			{
				Keys:    bson.D{{Key: "username", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}

	for coll, models := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("indexes for %s: %w", coll.Name(), err)
		}
	}
	return nil
}

// CreateConversation inserts a conversation document. IDs are ObjectID hex strings.
func (s *MongoStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	oid := bson.NewObjectID()
	if conv.ID != "" {
		parsed, err := bson.ObjectIDFromHex(conv.ID)
		if err != nil {
			return fmt.Errorf("conversation id %q is not an ObjectID: %w", conv.ID, err)
		}
		oid = parsed
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}

	doc := conversationDoc{
		ID:             oid,
		Participants:   conv.Participants,
		ParticipantKey: ParticipantKey(conv.Participants),
		IsGroup:        conv.IsGroup,
		Name:           conv.Name,
		CreatedAt:      conv.CreatedAt,
		LastMessageAt:  conv.LastMessageAt,
	}
	if _, err := s.conversations.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}

	conv.ID = oid.Hex()
	return nil
}

// GetConversation retrieves a conversation by ID. Malformed IDs are reported as not found.
func (s *MongoStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}

	var doc conversationDoc
	err = s.conversations.FindOne(ctx, bson.D{{Key: "_id", Value: oid}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding conversation: %w", err)
	}
	return doc.toConversation(), nil
}

// FindConversationByParticipants returns the oldest direct conversation for the set.
func (s *MongoStore) FindConversationByParticipants(ctx context.Context, participants []string) (*Conversation, error) {
	filter := bson.D{
		{Key: "participant_key", Value: ParticipantKey(participants)},
		{Key: "is_group", Value: false},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}})

	var doc conversationDoc
	err := s.conversations.FindOne(ctx, filter, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding conversation by participants: %w", err)
	}
	return doc.toConversation(), nil
}

// ListConversationsFor returns the identity's conversations, most recently active first.
// A conversation without messages counts as active when it was created.
func (s *MongoStore) ListConversationsFor(ctx context.Context, identity string) ([]*Conversation, error) {
	cur, err := s.conversations.Aggregate(ctx, conversationListPipeline(identity))
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}

	var docs []conversationDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding conversations: %w", err)
	}

	convs := make([]*Conversation, len(docs))
	for i := range docs {
		convs[i] = docs[i].toConversation()
	}
	return convs, nil
}

func conversationListPipeline(identity string) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "participants", Value: identity}}}},
		{{Key: "$addFields", Value: bson.D{
			{Key: "activity_at", Value: bson.D{
				{Key: "$ifNull", Value: bson.A{"$last_message_at", "$created_at"}},
			}},
		}}},
		{{Key: "$sort", Value: bson.D{
			{Key: "activity_at", Value: -1},
			{Key: "_id", Value: -1},
		}}},
		{{Key: "$project", Value: bson.D{{Key: "activity_at", Value: 0}}}},
	}
}

// AppendMessage inserts the message, then sets last_message_at on the conversation.
func (s *MongoStore) AppendMessage(ctx context.Context, msg *Message) error {
	oid := bson.NewObjectID()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	doc := messageDoc{
		ID:             oid,
		ConversationID: msg.ConversationID,
		Sender:         msg.Sender,
		Body:           msg.Body,
		Timestamp:      msg.Timestamp,
	}
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	msg.ID = oid.Hex()

	convID, err := bson.ObjectIDFromHex(msg.ConversationID)
	if err != nil {
		s.logger.Warn("message references malformed conversation id",
			"conversation_id", msg.ConversationID,
			"message_id", msg.ID)
		return nil
	}
	_, err = s.conversations.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: convID}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "last_message_at", Value: msg.Timestamp}}}},
	)
	if err != nil {
		s.logger.Warn("failed to update conversation activity",
			"conversation_id", msg.ConversationID,
			"message_id", msg.ID,
			"error", err)
	}
	return nil
}

// LatestMessage returns the most recent message of a conversation.
func (s *MongoStore) LatestMessage(ctx context.Context, conversationID string) (*Message, error) {
	opts := options.FindOne().SetSort(bson.D{
		{Key: "timestamp", Value: -1},
		{Key: "_id", Value: -1},
	})

	var doc messageDoc
	err := s.messages.FindOne(ctx, bson.D{{Key: "conversation_id", Value: conversationID}}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding latest message: %w", err)
	}
	return doc.toMessage(), nil
}

// ListMessages retrieves messages in ascending order; limit > 0 keeps the newest limit.
func (s *MongoStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	filter := bson.D{{Key: "conversation_id", Value: conversationID}}

	direction := 1
	if limit > 0 {
		direction = -1
	}
	opts := options.Find().SetSort(bson.D{
		{Key: "timestamp", Value: direction},
		{Key: "_id", Value: direction},
	})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}

	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding messages: %w", err)
	}

	messages := make([]*Message, len(docs))
	for i := range docs {
		messages[i] = docs[i].toMessage()
	}
	if direction < 0 {
		slices.Reverse(messages)
	}
	return messages, nil
}

// CreateUser inserts an account; the unique username index reports duplicates.
func (s *MongoStore) CreateUser(ctx context.Context, user *User) error {
	oid := bson.NewObjectID()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	doc := userDoc{
		ID:           oid,
		Username:     user.Username,
		PasswordHash: user.PasswordHash,
		CreatedAt:    user.CreatedAt,
	}
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrUsernameExists
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	user.ID = oid.Hex()
	s.logger.Info("created user", "id", user.ID, "username", user.Username)
	return nil
}

// GetUserByUsername retrieves an account by username.
func (s *MongoStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, bson.D{{Key: "username", Value: username}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding user: %w", err)
	}
	return &User{
		ID:           doc.ID.Hex(),
		Username:     doc.Username,
		PasswordHash: doc.PasswordHash,
		CreatedAt:    doc.CreatedAt,
	}, nil
}

// Ping checks the server connection.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (d *conversationDoc) toConversation() *Conversation {
	conv := &Conversation{
		ID:           d.ID.Hex(),
		Participants: d.Participants,
		IsGroup:      d.IsGroup,
		Name:         d.Name,
		CreatedAt:    d.CreatedAt.UTC(),
	}
	if d.LastMessageAt != nil {
		ts := d.LastMessageAt.UTC()
		conv.LastMessageAt = &ts
	}
	return conv
}

func (d *messageDoc) toMessage() *Message {
	return &Message{
		ID:             d.ID.Hex(),
		ConversationID: d.ConversationID,
		Sender:         d.Sender,
		Body:           d.Body,
		Timestamp:      d.Timestamp.UTC(),
	}
}
