package conversation

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Conversation kinds.
const (
	KindDirect = "direct"
	KindGroup  = "group"
)

// ConversationRepository is the conversation persistence interface.
type ConversationRepository interface {
	Create(ctx context.Context, conv *Conversation) error
	GetByID(ctx context.Context, id string) (*Conversation, error)
	ListByUser(ctx context.Context, userID string, limit int, cursor string) ([]*Conversation, string, bool, error)
	FindDirect(ctx context.Context, userA, userB string) (*Conversation, error)
	Touch(ctx context.Context, id, preview string, at time.Time) error
	NextSeq(ctx context.Context, id string) (int64, error)
}

// Conversation is the conversation data model. LastSeq is the high-water mark
// of the per-conversation message sequence; message ids are ordered by it.
// Identity lives in the string ID field, which every query keys on (it has a
// unique index); the driver-generated _id is never read back.
type Conversation struct {
	ID             string    `json:"id,omitempty" bson:"id" form:"id"`
	Kind           string    `bson:"kind" json:"kind"`
	Name           string    `bson:"name" json:"name"`
	Participants   []string  `bson:"participants" json:"participants"`
	LastSeq        int64     `bson:"last_seq" json:"-"`
	LastMessage    string    `bson:"last_message" json:"last_message,omitempty"`
	LastActivityAt time.Time `bson:"last_activity_at" json:"last_activity_at"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at" json:"updated_at"`
}

// HasParticipant reports whether userID belongs to the conversation.
// Identity is id equality only.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// ConversationStore is the MongoDB-backed conversation store.
type ConversationStore struct {
	collection *mongo.Collection
}

// NewConversationStore creates a conversation store.
func NewConversationStore(db *mongo.Database) *ConversationStore {
	return &ConversationStore{
		collection: db.Collection("conversations"),
	}
}

// Create persists a new conversation.
func (s *ConversationStore) Create(ctx context.Context, conv *Conversation) error {
	conv.ID = bson.NewObjectID().Hex()
	now := time.Now().UTC()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	conv.LastActivityAt = now
	conv.LastSeq = 0

	_, err := s.collection.InsertOne(ctx, conv)
	return err
}

// GetByID returns the conversation with the given id.
func (s *ConversationStore) GetByID(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	err := s.collection.FindOne(ctx, bson.M{"id": id}).Decode(&conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListByUser lists the conversations userID participates in, most recently
// active first, paged by a last_activity_at cursor.
func (s *ConversationStore) ListByUser(
	ctx context.Context, userID string, limit int, cursor string,
) (
	convs []*Conversation, nextCursor string, hasMore bool, err error,
) {
	filter := bson.M{
		"participants": userID,
	}

	opts := options.Find()
	opts.SetLimit(int64(limit + 1)) // one extra to detect another page
	opts.SetSort(bson.D{{Key: "last_activity_at", Value: -1}})

	if cursor != "" {
		cursorTime, parseErr := time.Parse(time.RFC3339Nano, cursor)
		if parseErr == nil {
			filter["last_activity_at"] = bson.M{"$lt": cursorTime}
		}
	}

	cursorResult, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, "", false, err
	}
	defer cursorResult.Close(ctx)

	convs = []*Conversation{}
	for cursorResult.Next(ctx) {
		var conv Conversation
		if err := cursorResult.Decode(&conv); err != nil {
			return nil, "", false, err
		}
		convs = append(convs, &conv)
	}

	hasMore = len(convs) > limit
	if hasMore {
		convs = convs[:limit]
	}

	if hasMore && len(convs) > 0 {
		nextCursor = convs[len(convs)-1].LastActivityAt.Format(time.RFC3339Nano)
	}

	return convs, nextCursor, hasMore, nil
}

// FindDirect returns the existing direct conversation between two users, or
// nil when none exists. Used for direct-pair dedup on create.
func (s *ConversationStore) FindDirect(ctx context.Context, userA, userB string) (*Conversation, error) {
	filter := bson.M{
		"kind":         KindDirect,
		"participants": bson.M{"$all": []string{userA, userB}, "$size": 2},
	}

	var conv Conversation
	err := s.collection.FindOne(ctx, filter).Decode(&conv)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// Touch updates the conversation preview and activity timestamps.
func (s *ConversationStore) Touch(ctx context.Context, id, preview string, at time.Time) error {
	_, err := s.collection.UpdateOne(ctx, bson.M{"id": id}, bson.M{
		"$set": bson.M{
			"last_message":     preview,
			"last_activity_at": at,
			"updated_at":       at,
		},
	})
	return err
}

// NextSeq atomically allocates the next message sequence number for the
// conversation. Safe across processes; callers still serialize append+fanout
// per conversation to keep fanout order aligned with sequence order.
func (s *ConversationStore) NextSeq(ctx context.Context, id string) (int64, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var conv Conversation
	err := s.collection.FindOneAndUpdate(ctx,
		bson.M{"id": id},
		bson.M{"$inc": bson.M{"last_seq": 1}},
		opts,
	).Decode(&conv)
	if err != nil {
		return 0, fmt.Errorf("allocate seq for conversation %s: %w", id, err)
	}

	return conv.LastSeq, nil
}
