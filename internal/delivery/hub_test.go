package delivery

import (
	"fmt"
	"testing"
	"time"

	"chat-sync/internal/storage/database/conversation"
)

func TestPublishPreservesOrder(t *testing.T) {
	hub := NewHub(16)
	sub := hub.Subscribe("conv-1", "alice")
	defer sub.Close()

	for i := 1; i <= 5; i++ {
		hub.Publish("conv-1", Event{
			Type:           EventMessageCreated,
			ConversationID: "conv-1",
			Message:        &conversation.Message{ID: fmt.Sprintf("m%d", i), Seq: int64(i)},
		})
	}

	for i := 1; i <= 5; i++ {
		select {
		case ev := <-sub.Events():
			if ev.Message.Seq != int64(i) {
				t.Fatalf("event %d out of order: seq %d", i, ev.Message.Seq)
			}
		case <-time.After(time.Second):
			t.Fatal("event missing")
		}
	}
}

func TestPublishScopedToConversation(t *testing.T) {
	hub := NewHub(4)
	inConv := hub.Subscribe("conv-1", "alice")
	defer inConv.Close()
	other := hub.Subscribe("conv-2", "alice")
	defer other.Close()

	hub.Publish("conv-1", Event{Type: EventMessageCreated, ConversationID: "conv-1"})

	select {
	case <-inConv.Events():
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}
	select {
	case <-other.Events():
		t.Fatal("event leaked across conversations")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishToUser(t *testing.T) {
	hub := NewHub(4)
	alice := hub.Subscribe("conv-1", "alice")
	defer alice.Close()
	bob := hub.Subscribe("conv-1", "bob")
	defer bob.Close()

	hub.PublishToUser("conv-1", "alice", Event{Type: EventReadUpdated, ConversationID: "conv-1", ReaderID: "bob"})

	select {
	case ev := <-alice.Events():
		if ev.ReaderID != "bob" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("target user did not receive event")
	}
	select {
	case <-bob.Events():
		t.Fatal("user-scoped event leaked")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub(1)
	sub := hub.Subscribe("conv-1", "alice")
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			hub.Publish("conv-1", Event{Type: EventMessageCreated, ConversationID: "conv-1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	// Exactly the buffered event survives.
	received := 0
drain:
	for {
		select {
		case <-sub.Events():
			received++
		default:
			break drain
		}
	}
	if received != 1 {
		t.Fatalf("expected 1 buffered event, got %d", received)
	}
}

func TestCloseRemovesSubscriber(t *testing.T) {
	hub := NewHub(4)
	sub := hub.Subscribe("conv-1", "alice")

	if got := hub.SubscriberCount("conv-1"); got != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", got)
	}

	sub.Close()
	sub.Close() // repeated close is fine

	if got := hub.SubscriberCount("conv-1"); got != 0 {
		t.Fatalf("SubscriberCount after close = %d, want 0", got)
	}

	hub.Publish("conv-1", Event{Type: EventMessageCreated, ConversationID: "conv-1"})
	select {
	case <-sub.Events():
		t.Fatal("closed subscriber received event")
	case <-time.After(50 * time.Millisecond):
	}
}
