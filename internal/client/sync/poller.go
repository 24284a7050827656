package sync

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"chat-sync/internal/constants"
	"chat-sync/internal/platform/logger"
	"chat-sync/internal/storage/database/conversation"
)

// DeltaFetcher is the slice of the HTTP client the poller uses.
type DeltaFetcher interface {
	GetMessagesSince(ctx context.Context, conversationID, userID string, lastSeq int64) ([]*conversation.Message, error)
}

// Poller periodically fetches everything newer than the engine's watermark
// and feeds it through the same merge path as push events. It is a fallback
// for a dropped or lagging stream; running it alongside live push is safe
// because the engine's dedup rule, not the poller, prevents duplicates.
type Poller struct {
	api      DeltaFetcher
	engine   *Engine
	userID   string
	clock    clockwork.Clock
	interval time.Duration
}

// NewPoller creates a poller. A non-positive interval falls back to the
// default.
func NewPoller(api DeltaFetcher, engine *Engine, userID string, interval time.Duration, clock clockwork.Clock) *Poller {
	if interval <= 0 {
		interval = constants.DefaultPollIntervalSeconds * time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Poller{
		api:      api,
		engine:   engine,
		userID:   userID,
		clock:    clock,
		interval: interval,
	}
}

// Run polls until ctx ends.
func (p *Poller) Run(ctx context.Context) {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	conversationID := p.engine.ConversationID()
	if conversationID == "" {
		return
	}

	msgs, err := p.api.GetMessagesSince(ctx, conversationID, p.userID, p.engine.LastSeq())
	if err != nil {
		logger.Warningf(ctx, "poll delta failed: %v", err)
		return
	}
	if len(msgs) == 0 {
		return
	}

	p.engine.OnIncoming(msgs...)
}
