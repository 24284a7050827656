package conversation

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CreateIndexes creates the indexes the stores query against.
func CreateIndexes(ctx context.Context, db *mongo.Database) error {
	messagesCollection := db.Collection("messages")

	// Conversation + seq is the primary access path: pages, deltas and the
	// per-conversation uniqueness of the sequence all ride on it.
	conversationSeqIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "conversation_id", Value: 1},
			{Key: "seq", Value: -1},
		},
		Options: options.Index().SetName("conversation_seq_idx").SetUnique(true),
	}

	messageIDIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "id", Value: 1},
		},
		Options: options.Index().SetName("message_id_idx").SetUnique(true),
	}

	readStatusIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "conversation_id", Value: 1},
			{Key: "read_by.user_id", Value: 1},
		},
		Options: options.Index().SetName("read_status_idx"),
	}

	messageIndexes := []mongo.IndexModel{
		conversationSeqIndex,
		messageIDIndex,
		readStatusIndex,
	}
	if _, err := messagesCollection.Indexes().CreateMany(ctx, messageIndexes); err != nil {
		return err
	}

	conversationsCollection := db.Collection("conversations")

	conversationIDIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "id", Value: 1},
		},
		Options: options.Index().SetName("conversation_id_idx").SetUnique(true),
	}

	participantActivityIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "participants", Value: 1},
			{Key: "last_activity_at", Value: -1},
		},
		Options: options.Index().SetName("participant_activity_idx"),
	}

	conversationIndexes := []mongo.IndexModel{
		conversationIDIndex,
		participantActivityIndex,
	}
	if _, err := conversationsCollection.Indexes().CreateMany(ctx, conversationIndexes); err != nil {
		return err
	}

	return nil
}
