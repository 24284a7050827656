package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chat-sync/internal/client/apiclient"
	"chat-sync/internal/client/sync"
	"chat-sync/internal/constants"
	"chat-sync/internal/delivery"
)

// A small interactive client: opens a direct conversation with a peer,
// follows it over SSE with the poller as fallback, and sends stdin lines as
// messages.
func main() {
	var (
		baseURL  = flag.String("server", "http://localhost:8080", "API server base URL")
		userID   = flag.String("user", "", "your user id")
		peerID   = flag.String("peer", "", "peer user id for a direct conversation")
		interval = flag.Duration("poll", constants.DefaultPollIntervalSeconds*time.Second, "poll interval")
	)
	flag.Parse()

	if *userID == "" || *peerID == "" {
		fmt.Fprintln(os.Stderr, "usage: client -user <id> -peer <id> [-server url]")
		os.Exit(1)
	}

	if err := run(*baseURL, *userID, *peerID, *interval); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(baseURL, userID, peerID string, pollInterval time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := apiclient.New(baseURL, constants.DefaultSendTimeoutSeconds*time.Second)

	conv, err := api.CreateConversation(ctx, "direct", "", userID, []string{peerID})
	if err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}
	fmt.Printf("conversation %s with %s\n", conv.ID, peerID)

	engine := sync.NewEngine(api, userID,
		sync.WithOnComposeRestore(func(content string) {
			fmt.Printf("[send failed, content restored] %s\n", content)
		}),
	)
	engine.SetConversation(conv.ID)

	backfill := sync.NewBackfill(api, engine, conv.ID, userID, constants.DefaultPageSize)
	if err := backfill.InitialLoad(ctx); err != nil {
		return err
	}
	for _, entry := range engine.Snapshot() {
		printEntry(userID, entry)
	}

	poller := sync.NewPoller(api, engine, userID, pollInterval, nil)
	go poller.Run(ctx)

	events, err := api.Stream(ctx, conv.ID, userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stream unavailable, relying on polling: %v\n", err)
	} else {
		go func() {
			for ev := range events {
				engine.ApplyEvent(ev)
				switch {
				case ev.Message != nil && ev.Message.AuthorID != userID:
					printEntry(userID, sync.Entry{
						AuthorID:  ev.Message.AuthorID,
						Content:   ev.Message.Content,
						CreatedAt: ev.Message.CreatedAt,
					})
				case ev.Type == delivery.EventReadUpdated:
					for _, state := range ev.ReadStates {
						if state.IsFullyRead {
							fmt.Printf("[%s read your message]\n", peerID)
						}
					}
				}
			}
		}()
	}

	if _, err := api.MarkRead(ctx, conv.ID, userID); err != nil {
		fmt.Fprintf(os.Stderr, "mark read failed: %v\n", err)
	}

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			engine.Send(line)
		}
		stop()
	}()

	<-ctx.Done()
	fmt.Println("bye")
	return nil
}

func printEntry(selfID string, entry sync.Entry) {
	who := entry.AuthorID
	if who == selfID {
		who = "me"
	}
	fmt.Printf("[%s] %s: %s\n", entry.CreatedAt.Local().Format("15:04:05"), who, entry.Content)
}
