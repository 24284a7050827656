package sync

import (
	"context"
	"fmt"

	"chat-sync/internal/constants"
	"chat-sync/internal/storage/database/conversation"
)

// PageFetcher is the slice of the HTTP client the backfill controller uses.
type PageFetcher interface {
	GetMessages(ctx context.Context, conversationID, userID, cursor string, limit int) ([]*conversation.Message, string, bool, error)
}

// Backfill pages backwards through a conversation's history and feeds every
// page into the reconciliation engine. The cursor always points before the
// oldest message already loaded, so a live append while paging can neither
// drop nor duplicate a message at the seam: new messages land after the
// cursor and are delivered by push or poll, never by an older page.
type Backfill struct {
	api            PageFetcher
	engine         *Engine
	conversationID string
	userID         string
	pageSize       int

	cursor      string
	canLoadMore bool
	loaded      bool
}

// NewBackfill creates a backfill controller for one conversation.
func NewBackfill(api PageFetcher, engine *Engine, conversationID, userID string, pageSize int) *Backfill {
	if pageSize <= 0 {
		pageSize = constants.DefaultPageSize
	}
	return &Backfill{
		api:            api,
		engine:         engine,
		conversationID: conversationID,
		userID:         userID,
		pageSize:       pageSize,
	}
}

// InitialLoad fetches the newest page and primes the cursor.
func (b *Backfill) InitialLoad(ctx context.Context) error {
	msgs, nextCursor, hasMore, err := b.api.GetMessages(ctx, b.conversationID, b.userID, "", b.pageSize)
	if err != nil {
		return fmt.Errorf("initial load: %w", err)
	}

	b.apply(msgs)
	b.cursor = nextCursor
	b.canLoadMore = hasMore
	b.loaded = true
	return nil
}

// LoadOlder fetches the page immediately before the current cursor. Once a
// short page comes back, CanLoadMore turns false and further calls are
// no-ops.
func (b *Backfill) LoadOlder(ctx context.Context) error {
	if !b.loaded {
		return b.InitialLoad(ctx)
	}
	if !b.canLoadMore {
		return nil
	}

	msgs, nextCursor, hasMore, err := b.api.GetMessages(ctx, b.conversationID, b.userID, b.cursor, b.pageSize)
	if err != nil {
		return fmt.Errorf("load older: %w", err)
	}

	b.apply(msgs)
	b.cursor = nextCursor
	b.canLoadMore = hasMore
	return nil
}

// CanLoadMore reports whether older history remains.
func (b *Backfill) CanLoadMore() bool {
	return b.canLoadMore
}

// apply hands a page to the engine. The stale-conversation guard lives in
// the engine: if the user has navigated away, the page is dropped there.
func (b *Backfill) apply(msgs []*conversation.Message) {
	b.engine.OnIncoming(msgs...)
}
