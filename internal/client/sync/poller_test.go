package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"chat-sync/internal/storage/database/conversation"
)

type fakeDelta struct {
	mu    sync.Mutex
	msgs  []*conversation.Message
	calls []int64
}

func (f *fakeDelta) GetMessagesSince(_ context.Context, conversationID, _ string, lastSeq int64) ([]*conversation.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, lastSeq)

	var out []*conversation.Message
	for _, msg := range f.msgs {
		if msg.ConversationID == conversationID && msg.Seq > lastSeq {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (f *fakeDelta) add(msgs ...*conversation.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
}

func (f *fakeDelta) watermarks() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.calls...)
}

func TestPollerFetchesDeltaAndAdvancesWatermark(t *testing.T) {
	fc := clockwork.NewFakeClock()
	delta := &fakeDelta{}
	delta.add(
		serverMessage("c1", 1, "bob", "one"),
		serverMessage("c1", 2, "bob", "two"),
	)

	engine := NewEngine(&fakeSendAPI{}, "alice")
	engine.SetConversation("c1")

	poller := NewPoller(delta, engine, "alice", 5*time.Second, fc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go poller.Run(ctx)

	fc.BlockUntil(1)
	fc.Advance(5 * time.Second)

	waitFor(t, func() bool { return len(engine.Snapshot()) == 2 })
	if engine.LastSeq() != 2 {
		t.Fatalf("LastSeq = %d, want 2", engine.LastSeq())
	}

	// The next poll starts from the new watermark and picks up only the new
	// message.
	delta.add(serverMessage("c1", 3, "bob", "three"))
	fc.BlockUntil(1)
	fc.Advance(5 * time.Second)

	waitFor(t, func() bool { return len(engine.Snapshot()) == 3 })

	marks := delta.watermarks()
	if len(marks) < 2 {
		t.Fatalf("expected at least 2 polls, got %d", len(marks))
	}
	if marks[0] != 0 || marks[len(marks)-1] != 2 {
		t.Fatalf("watermarks = %v", marks)
	}
}

func TestPollerSafeAlongsidePush(t *testing.T) {
	fc := clockwork.NewFakeClock()
	delta := &fakeDelta{}

	engine := NewEngine(&fakeSendAPI{}, "alice")
	engine.SetConversation("c1")

	// The same message arrives by push first, then by poll.
	msg := serverMessage("c1", 1, "bob", "hello")
	engine.OnIncoming(msg)
	delta.add(msg)

	poller := NewPoller(delta, engine, "alice", 5*time.Second, fc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go poller.Run(ctx)

	fc.BlockUntil(1)
	fc.Advance(5 * time.Second)

	// Give the poll a moment; the engine must still hold a single copy.
	time.Sleep(50 * time.Millisecond)
	if got := len(engine.Snapshot()); got != 1 {
		t.Fatalf("poll duplicated a pushed message: %d entries", got)
	}
}

func TestPollerIdleWithoutConversation(t *testing.T) {
	fc := clockwork.NewFakeClock()
	delta := &fakeDelta{}

	engine := NewEngine(&fakeSendAPI{}, "alice")

	poller := NewPoller(delta, engine, "alice", 5*time.Second, fc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go poller.Run(ctx)

	fc.BlockUntil(1)
	fc.Advance(5 * time.Second)

	time.Sleep(50 * time.Millisecond)
	if marks := delta.watermarks(); len(marks) != 0 {
		t.Fatalf("poller polled with no active conversation: %v", marks)
	}
}
