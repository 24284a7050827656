package messaging

import (
	"testing"
	"time"

	"chat-sync/internal/storage/database/conversation"
)

func groupWith(participants ...string) *conversation.Conversation {
	return &conversation.Conversation{
		ID:           "conv-001",
		Kind:         conversation.KindGroup,
		Participants: participants,
	}
}

func messageBy(author string, readers ...string) *conversation.Message {
	msg := &conversation.Message{
		ID:       "msg-001",
		AuthorID: author,
	}
	for _, r := range readers {
		msg.ReadBy = append(msg.ReadBy, conversation.ReadReceipt{UserID: r, ReadAt: time.Now()})
	}
	return msg
}

func TestGroupReadAggregation(t *testing.T) {
	conv := groupWith("author", "u1", "u2", "u3", "u4")

	msg := messageBy("author", "u1", "u2", "u3")
	if got := ReadCount(conv, msg); got != 3 {
		t.Fatalf("ReadCount = %d, want 3", got)
	}
	if IsFullyRead(conv, msg) {
		t.Fatal("IsFullyRead true with one reader missing")
	}

	msg = messageBy("author", "u1", "u2", "u3", "u4")
	if got := ReadCount(conv, msg); got != 4 {
		t.Fatalf("ReadCount = %d, want 4", got)
	}
	if !IsFullyRead(conv, msg) {
		t.Fatal("IsFullyRead false with every reader present")
	}
}

func TestReadCountIgnoresAuthorAndStrangers(t *testing.T) {
	conv := groupWith("author", "u1", "u2")

	// The author's own receipt and a non-participant's receipt do not count.
	msg := messageBy("author", "author", "stranger", "u1")
	if got := ReadCount(conv, msg); got != 1 {
		t.Fatalf("ReadCount = %d, want 1", got)
	}
}

func TestIsReadDirectOnly(t *testing.T) {
	direct := &conversation.Conversation{
		ID:           "conv-002",
		Kind:         conversation.KindDirect,
		Participants: []string{"alice", "bob"},
	}

	msg := messageBy("alice")
	if IsRead(direct, msg) {
		t.Fatal("unread message reported read")
	}

	msg = messageBy("alice", "bob")
	if !IsRead(direct, msg) {
		t.Fatal("read message reported unread")
	}

	group := groupWith("alice", "bob", "carol")
	if IsRead(group, messageBy("alice", "bob", "carol")) {
		t.Fatal("IsRead must be false for group conversations")
	}
}
