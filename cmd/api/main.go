package main

import (
	"context"
	"fmt"
	"os"

	"chat-sync/internal/audit"
	"chat-sync/internal/constants"
	"chat-sync/internal/delivery"
	"chat-sync/internal/messaging"
	"chat-sync/internal/platform/config"
	"chat-sync/internal/platform/driver"
	"chat-sync/internal/platform/logger"
	"chat-sync/internal/platform/server"
	"chat-sync/internal/storage/database"
)

func main() {
	if err := mainNoExit(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// mainNoExit keeps the wiring out of main so deferred cleanup runs before
// the process exits.
func mainNoExit() error {
	if err := logger.InitLogger(); err != nil {
		return err
	}
	defer logger.CloseLogger()

	ctx := context.Background()

	if err := config.Load(); err != nil {
		return err
	}
	cfg := config.Get()

	if err := driver.ConnectMongo(); err != nil {
		return err
	}
	defer func() {
		if err := driver.CloseMongo(); err != nil {
			logger.Errorf(ctx, "failed to close MongoDB connection: %v", err)
		}
	}()

	database.SetMongoDB(driver.GetMongoDatabase())
	repos := database.NewRepositories()
	if repos == nil {
		return fmt.Errorf("repository initialization failed")
	}

	buffer := constants.DefaultSubscriberBuffer
	if cfg.Limits.Stream.SubscriberBuffer > 0 {
		buffer = cfg.Limits.Stream.SubscriberBuffer
	}
	hub := delivery.NewHub(buffer)

	auditService := audit.NewAuditService(true)
	svc := messaging.NewService(repos.Conversations, repos.Messages, hub, auditService)

	api := server.NewAPI(svc, hub)

	logger.Infof(ctx, "starting chat-sync API server, environment: %s", config.GetEnv())
	return server.Start(api)
}
