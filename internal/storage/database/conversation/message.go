package conversation

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Message kinds.
const (
	MessageKindText  = "text"
	MessageKindImage = "image"
	MessageKindFile  = "file"
)

// MessageRepository is the message persistence interface.
type MessageRepository interface {
	Insert(ctx context.Context, message *Message) error
	GetByID(ctx context.Context, id string) (*Message, error)
	GetPage(ctx context.Context, conversationID, viewerID string, beforeSeq int64, limit int) ([]*Message, bool, error)
	GetSince(ctx context.Context, conversationID, viewerID string, afterSeq int64, limit int) ([]*Message, error)
	MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) ([]ReadSummary, error)
	UpdateContent(ctx context.Context, id, content string, at time.Time) (bool, error)
	AddTombstone(ctx context.Context, id, userID string) (bool, error)
	CountUnread(ctx context.Context, conversationID, userID string) (int, error)
}

// Message is the message data model. Seq is unique and monotonic within the
// conversation; the log is append-only and a message is never physically
// removed on behalf of a viewer (DeletedFor is a per-viewer tombstone set).
// Identity lives in the string ID field, which every query keys on (it has a
// unique index); the driver-generated _id is never read back.
type Message struct {
	ID             string        `json:"id,omitempty" bson:"id" form:"id"`
	ConversationID string        `bson:"conversation_id" json:"conversation_id"`
	Seq            int64         `bson:"seq" json:"seq"`
	AuthorID       string        `bson:"author_id" json:"author_id"`
	Content        string        `bson:"content" json:"content"`
	Kind           string        `bson:"kind" json:"kind"`
	Attachment     *Attachment   `bson:"attachment,omitempty" json:"attachment,omitempty"`
	CreatedAt      time.Time     `bson:"created_at" json:"created_at"`
	EditedAt       *time.Time    `bson:"edited_at,omitempty" json:"edited_at,omitempty"`
	ReadBy         []ReadReceipt `bson:"read_by" json:"read_by"`
	DeletedFor     []string      `bson:"deleted_for,omitempty" json:"-"`
}

// GetID returns the message id as a string.
func (m *Message) GetID() string {
	return m.ID
}

// ReadBySet returns the distinct user ids holding a receipt on the message.
func (m *Message) ReadBySet() map[string]bool {
	set := make(map[string]bool, len(m.ReadBy))
	for _, r := range m.ReadBy {
		set[r.UserID] = true
	}
	return set
}

// Attachment references externally stored file content.
type Attachment struct {
	URL  string `bson:"url" json:"url"`
	Name string `bson:"name,omitempty" json:"name,omitempty"`
	Mime string `bson:"mime,omitempty" json:"mime,omitempty"`
	Size int64  `bson:"size,omitempty" json:"size,omitempty"`
}

// ReadReceipt records that a user has read a message.
type ReadReceipt struct {
	UserID string    `bson:"user_id" json:"user_id"`
	ReadAt time.Time `bson:"read_at" json:"read_at"`
}

// ReadSummary identifies a message whose read-set changed in a MarkRead pass.
// ReadBy is the receipt set before the pass added the reader's receipt.
type ReadSummary struct {
	MessageID string
	AuthorID  string
	Seq       int64
	ReadBy    []ReadReceipt
}

// MessageStore is the MongoDB-backed message store.
type MessageStore struct {
	collection *mongo.Collection
}

// NewMessageStore creates a message store.
func NewMessageStore(db *mongo.Database) *MessageStore {
	return &MessageStore{
		collection: db.Collection("messages"),
	}
}

// Insert persists a new message. The caller assigns Seq before calling.
func (s *MessageStore) Insert(ctx context.Context, message *Message) error {
	message.ID = bson.NewObjectID().Hex()
	message.CreatedAt = time.Now().UTC()

	if message.ReadBy == nil {
		message.ReadBy = []ReadReceipt{}
	}

	_, err := s.collection.InsertOne(ctx, message)
	return err
}

// GetByID returns the message with the given id.
func (s *MessageStore) GetByID(ctx context.Context, id string) (*Message, error) {
	var message Message
	err := s.collection.FindOne(ctx, bson.M{"id": id}).Decode(&message)
	if err != nil {
		return nil, err
	}

	return &message, nil
}

// GetPage returns up to limit messages of the conversation with seq below
// beforeSeq (beforeSeq<=0 means "from the newest"), oldest first, with the
// viewer's tombstoned messages filtered out. The result is deterministic for
// a given cursor: the page is keyed on the immutable seq order.
func (s *MessageStore) GetPage(
	ctx context.Context, conversationID, viewerID string, beforeSeq int64, limit int,
) ([]*Message, bool, error) {
	filter := bson.M{
		"conversation_id": conversationID,
		"deleted_for":     bson.M{"$ne": viewerID},
	}
	if beforeSeq > 0 {
		filter["seq"] = bson.M{"$lt": beforeSeq}
	}

	opts := options.Find()
	opts.SetLimit(int64(limit + 1)) // one extra to detect another page
	opts.SetSort(bson.D{{Key: "seq", Value: -1}})

	cursorResult, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, false, err
	}
	defer cursorResult.Close(ctx)

	var newestFirst []*Message
	for cursorResult.Next(ctx) {
		var message Message
		if err := cursorResult.Decode(&message); err != nil {
			return nil, false, err
		}
		newestFirst = append(newestFirst, &message)
	}

	hasMore := len(newestFirst) > limit
	if hasMore {
		newestFirst = newestFirst[:limit]
	}

	// Flip to oldest-first for the caller.
	messages := make([]*Message, len(newestFirst))
	for i, m := range newestFirst {
		messages[len(newestFirst)-1-i] = m
	}

	return messages, hasMore, nil
}

// GetSince returns the messages of the conversation with seq above afterSeq,
// oldest first, with the viewer's tombstones filtered out. Backs the
// poll-delta path.
func (s *MessageStore) GetSince(
	ctx context.Context, conversationID, viewerID string, afterSeq int64, limit int,
) ([]*Message, error) {
	filter := bson.M{
		"conversation_id": conversationID,
		"seq":             bson.M{"$gt": afterSeq},
		"deleted_for":     bson.M{"$ne": viewerID},
	}

	opts := options.Find()
	opts.SetLimit(int64(limit))
	opts.SetSort(bson.D{{Key: "seq", Value: 1}})

	cursorResult, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursorResult.Close(ctx)

	var messages []*Message
	for cursorResult.Next(ctx) {
		var message Message
		if err := cursorResult.Decode(&message); err != nil {
			return nil, err
		}
		messages = append(messages, &message)
	}

	return messages, nil
}

// MarkRead adds a read receipt for readerID to every message of the
// conversation authored by someone else that readerID has not read yet, and
// returns a summary per changed message. Idempotent: the filter excludes
// messages already carrying the reader's receipt, so repeated calls add
// nothing and return an empty slice.
func (s *MessageStore) MarkRead(
	ctx context.Context, conversationID, readerID string, at time.Time,
) ([]ReadSummary, error) {
	filter := bson.M{
		"conversation_id": conversationID,
		"author_id":       bson.M{"$ne": readerID},
		"read_by.user_id": bson.M{"$ne": readerID},
	}

	// First collect the messages the pass will touch, for receipt fanout.
	opts := options.Find().SetProjection(bson.M{
		"id":        1,
		"author_id": 1,
		"seq":       1,
		"read_by":   1,
	})
	cursorResult, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursorResult.Close(ctx)

	var summaries []ReadSummary
	var ids []string
	for cursorResult.Next(ctx) {
		var m Message
		if err := cursorResult.Decode(&m); err != nil {
			return nil, err
		}
		summaries = append(summaries, ReadSummary{MessageID: m.ID, AuthorID: m.AuthorID, Seq: m.Seq, ReadBy: m.ReadBy})
		ids = append(ids, m.ID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	receipt := ReadReceipt{
		UserID: readerID,
		ReadAt: at,
	}

	// Keep the unread guard in the update filter: a concurrent pass for the
	// same reader then cannot push a duplicate receipt.
	update := bson.M{
		"$push": bson.M{"read_by": receipt},
	}
	_, err = s.collection.UpdateMany(ctx, bson.M{
		"id":              bson.M{"$in": ids},
		"read_by.user_id": bson.M{"$ne": readerID},
	}, update)
	if err != nil {
		return nil, err
	}

	return summaries, nil
}

// UpdateContent sets the message content and edit timestamp. Returns false
// when no such message exists.
func (s *MessageStore) UpdateContent(ctx context.Context, id, content string, at time.Time) (bool, error) {
	result, err := s.collection.UpdateOne(ctx, bson.M{"id": id}, bson.M{
		"$set": bson.M{
			"content":   content,
			"edited_at": at,
		},
	})
	if err != nil {
		return false, err
	}
	return result.MatchedCount > 0, nil
}

// AddTombstone adds userID to the message's per-viewer tombstone set.
// Idempotent via $addToSet. Returns false when no such message exists.
func (s *MessageStore) AddTombstone(ctx context.Context, id, userID string) (bool, error) {
	result, err := s.collection.UpdateOne(ctx, bson.M{"id": id}, bson.M{
		"$addToSet": bson.M{"deleted_for": userID},
	})
	if err != nil {
		return false, err
	}
	return result.MatchedCount > 0, nil
}

// CountUnread counts the messages of the conversation that userID has neither
// authored, read, nor deleted.
func (s *MessageStore) CountUnread(ctx context.Context, conversationID, userID string) (int, error) {
	count, err := s.collection.CountDocuments(ctx, bson.M{
		"conversation_id": conversationID,
		"author_id":       bson.M{"$ne": userID},
		"read_by.user_id": bson.M{"$ne": userID},
		"deleted_for":     bson.M{"$ne": userID},
	})
	return int(count), err
}
