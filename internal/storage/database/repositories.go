package database

import (
	"context"

	"chat-sync/internal/platform/logger"
	"chat-sync/internal/storage/database/conversation"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Repositories bundles the persistence stores.
type Repositories struct {
	Conversations *conversation.ConversationStore
	Messages      *conversation.MessageStore
}

// NewRepositories creates the store bundle against the configured database.
func NewRepositories() *Repositories {
	db := mongoDB
	if db == nil {
		return nil
	}

	ctx := context.Background()
	if err := conversation.CreateIndexes(ctx, db); err != nil {
		// Index creation failing must not block startup; queries degrade but
		// still work.
		logger.Warningf(ctx, "failed to create indexes: %v", err)
	}

	return &Repositories{
		Conversations: conversation.NewConversationStore(db),
		Messages:      conversation.NewMessageStore(db),
	}
}

// mongoDB holds the database handle shared by the stores.
var mongoDB *mongo.Database

// SetMongoDB sets the database handle used by NewRepositories.
func SetMongoDB(db *mongo.Database) {
	mongoDB = db
}
