package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	defaultChatsCollection = "chats"
	defaultMongoOpTimeout  = 5 * time.Second
)

// MongoOptions configures MongoStore.
type MongoOptions struct {
	Client     *mongo.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// MongoStore keeps one document per chat. Messages are appended to an
// embedded array with $push.
type MongoStore struct {
	client  *mongo.Client
	chats   *mongo.Collection
	timeout time.Duration
}

type chatDocument struct {
	ID        string            `bson:"_id"`
	UserID    string            `bson:"user_id"`
	CreatedAt time.Time         `bson:"created_at"`
	UpdatedAt time.Time         `bson:"updated_at"`
	Messages  []messageDocument `bson:"messages"`
}

type messageDocument struct {
	ID              string               `bson:"id"`
	Role            string               `bson:"role"`
	Content         string               `bson:"content"`
	ToolInvocations []invocationDocument `bson:"tool_invocations,omitempty"`
	CreatedAt       time.Time            `bson:"created_at"`
}

type invocationDocument struct {
	State      string `bson:"state"`
	ToolCallID string `bson:"tool_call_id"`
	ToolName   string `bson:"tool_name"`
	Args       string `bson:"args,omitempty"`
	Result     string `bson:"result,omitempty"`
}

// NewMongoStore returns a store backed by the given client.
func NewMongoStore(ctx context.Context, opts MongoOptions) (*MongoStore, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	coll := opts.Collection
	if coll == "" {
		coll = defaultChatsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultMongoOpTimeout
	}
	s := &MongoStore{
		client:  opts.Client,
		chats:   opts.Client.Database(opts.Database).Collection(coll),
		timeout: timeout,
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.chats.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "user_id", Value: 1}}}); err != nil {
		return nil, fmt.Errorf("create chats index: %w", err)
	}
	return s, nil
}

// DialMongo connects to uri and verifies the connection.
func DialMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, defaultMongoOpTimeout)
	defer cancel()
	if err := client.Ping(pctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

func (s *MongoStore) SaveChat(ctx context.Context, id, userID string) (*Chat, error) {
	now := time.Now().UTC()
	octx, cancel := s.withTimeout(ctx)
	defer cancel()
	update := bson.M{
		"$setOnInsert": bson.M{
			"user_id":    userID,
			"created_at": now,
			"updated_at": now,
			"messages":   bson.A{},
		},
	}
	if _, err := s.chats.UpdateOne(octx, bson.M{"_id": id}, update, options.Update().SetUpsert(true)); err != nil {
		return nil, fmt.Errorf("save chat: %w", err)
	}

	var doc chatDocument
	proj := options.FindOne().SetProjection(bson.M{"messages": 0})
	if err := s.chats.FindOne(octx, bson.M{"_id": id}, proj).Decode(&doc); err != nil {
		return nil, fmt.Errorf("load chat: %w", err)
	}
	if doc.UserID != userID {
		return nil, ErrForbidden
	}
	return doc.toChat(), nil
}

func (s *MongoStore) GetChat(ctx context.Context, id string) (*Chat, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc chatDocument
	if err := s.chats.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return doc.toChat(), nil
}

func (s *MongoStore) AppendMessages(ctx context.Context, chatID string, msgs []Message) error {
	now := time.Now().UTC()
	docs := make(bson.A, 0, len(msgs))
	for _, m := range stamp(msgs, now) {
		docs = append(docs, fromMessage(m))
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	update := bson.M{
		"$push": bson.M{"messages": bson.M{"$each": docs}},
		"$set":  bson.M{"updated_at": now},
	}
	res, err := s.chats.UpdateOne(ctx, bson.M{"_id": chatID}, update)
	if err != nil {
		return fmt.Errorf("append messages: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) DeleteChat(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.chats.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks connectivity to the primary.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (d chatDocument) toChat() *Chat {
	c := &Chat{ID: d.ID, UserID: d.UserID, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt}
	for _, m := range d.Messages {
		msg := Message{ID: m.ID, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt}
		for _, inv := range m.ToolInvocations {
			msg.ToolInvocations = append(msg.ToolInvocations, ToolInvocation(inv))
		}
		c.Messages = append(c.Messages, msg)
	}
	return c
}

func fromMessage(m Message) messageDocument {
	doc := messageDocument{ID: m.ID, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt}
	for _, inv := range m.ToolInvocations {
		doc.ToolInvocations = append(doc.ToolInvocations, invocationDocument(inv))
	}
	return doc
}
