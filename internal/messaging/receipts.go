package messaging

import (
	"chat-sync/internal/delivery"
	"chat-sync/internal/storage/database/conversation"
)

// Receipt aggregation. Receipts are stored per reader on the message; these
// helpers answer the two questions a conversation view asks: "read?" for a
// direct conversation and "read by N" for a group. Receipt holders who are no
// longer participants are ignored.

// IsRead reports whether the other party of a direct conversation has read
// the message. It is always false for group conversations; use ReadCount for
// those.
func IsRead(conv *conversation.Conversation, msg *conversation.Message) bool {
	if conv.Kind != conversation.KindDirect {
		return false
	}
	set := msg.ReadBySet()
	for _, p := range conv.Participants {
		if p != msg.AuthorID && set[p] {
			return true
		}
	}
	return false
}

// ReadCount returns the number of distinct participants other than the
// author holding a receipt on the message.
func ReadCount(conv *conversation.Conversation, msg *conversation.Message) int {
	set := msg.ReadBySet()
	n := 0
	for _, p := range conv.Participants {
		if p != msg.AuthorID && set[p] {
			n++
		}
	}
	return n
}

// IsFullyRead reports whether every participant other than the author has
// read the message.
func IsFullyRead(conv *conversation.Conversation, msg *conversation.Message) bool {
	others := 0
	for _, p := range conv.Participants {
		if p != msg.AuthorID {
			others++
		}
	}
	return others > 0 && ReadCount(conv, msg) == others
}

// readStateFor summarizes a message's receipt state for the author's
// read.updated event.
func readStateFor(conv *conversation.Conversation, msg *conversation.Message) delivery.ReadState {
	state := delivery.ReadState{
		MessageID: msg.ID,
		ReadCount: ReadCount(conv, msg),
	}
	if conv.Kind == conversation.KindDirect {
		state.IsFullyRead = IsRead(conv, msg)
	} else {
		state.IsFullyRead = IsFullyRead(conv, msg)
	}
	return state
}
