package driver

import (
	"context"
	"fmt"
	"os"
	"time"

	"chat-sync/internal/platform/config"
	"chat-sync/internal/platform/logger"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var mongoClient *mongo.Client
var mongoDB *mongo.Database

// ConnectMongo connects using the loaded configuration.
func ConnectMongo() error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("configuration is not loaded")
	}

	return InitMongo(cfg.Database.Mongo)
}

// InitMongo initializes the MongoDB connection.
func InitMongo(cfg config.MongoConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ConnectTimeout)*time.Second)
	defer cancel()

	// Credentials come from the environment; config file values win for
	// backward compatibility.
	mongoUsername := os.Getenv("MONGO_USERNAME")
	mongoPassword := os.Getenv("MONGO_PASSWORD")
	if cfg.Username != "" {
		mongoUsername = cfg.Username
	}
	if cfg.Password != "" {
		mongoPassword = cfg.Password
	}

	clientOptions := options.Client().ApplyURI(cfg.URL)

	if mongoUsername != "" && mongoPassword != "" {
		clientOptions.SetAuth(options.Credential{
			Username: mongoUsername,
			Password: mongoPassword,
		})
		logger.Infof(ctx, "MongoDB connecting with authentication")
	} else {
		logger.Infof(ctx, "MongoDB connecting without authentication (development)")
	}

	clientOptions.SetMaxPoolSize(cfg.MaxPoolSize)
	clientOptions.SetMinPoolSize(cfg.MinPoolSize)
	clientOptions.SetMaxConnIdleTime(time.Duration(cfg.MaxConnIdleTime) * time.Second)
	clientOptions.SetServerSelectionTimeout(time.Duration(cfg.ServerSelectionTimeout) * time.Second)

	client, err := mongo.Connect(clientOptions)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	mongoClient = client
	mongoDB = client.Database(cfg.Database)

	logger.Infof(ctx, "MongoDB connected successfully")
	return nil
}

// GetMongoDatabase returns the database handle.
func GetMongoDatabase() *mongo.Database {
	return mongoDB
}

// GetMongoClient returns the client handle.
func GetMongoClient() *mongo.Client {
	return mongoClient
}

// IsConnected reports whether a connection was established.
func IsConnected() bool {
	return mongoClient != nil
}

// CloseMongo disconnects from MongoDB.
func CloseMongo() error {
	if mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return mongoClient.Disconnect(ctx)
	}
	return nil
}
