package delivery

import (
	"context"
	"sync"

	"chat-sync/internal/platform/logger"
	"chat-sync/internal/storage/database/conversation"

	"github.com/google/uuid"
)

// Event types carried on the real-time channel.
const (
	EventMessageCreated = "message.created"
	EventMessageEdited  = "message.edited"
	EventMessageDeleted = "message.deleted"
	EventReadUpdated    = "read.updated"
)

// Event is the envelope pushed to subscribers. Message is set for created and
// edited events; MessageID for deleted events; ReaderID, MessageIDs and
// ReadStates for read updates.
type Event struct {
	Type           string                `json:"type"`
	ConversationID string                `json:"conversation_id"`
	Message        *conversation.Message `json:"message,omitempty"`
	MessageID      string                `json:"message_id,omitempty"`
	ReaderID       string                `json:"reader_id,omitempty"`
	MessageIDs     []string              `json:"message_ids,omitempty"`
	ReadStates     []ReadState           `json:"read_states,omitempty"`
}

// ReadState is the aggregated receipt state of one message after a read pass,
// computed for the message's author.
type ReadState struct {
	MessageID   string `json:"message_id"`
	ReadCount   int    `json:"read_count"`
	IsFullyRead bool   `json:"is_fully_read"`
}

// Subscriber is one live subscription to a conversation's event feed.
type Subscriber struct {
	id             string
	userID         string
	conversationID string
	events         chan Event
	hub            *Hub
	once           sync.Once
}

// Events returns the subscriber's event feed.
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// UserID returns the subscribing user's id.
func (s *Subscriber) UserID() string {
	return s.userID
}

// Close detaches the subscriber from the hub. The events channel is left
// open: a publish that snapshotted this subscriber concurrently may still be
// delivering into it. Consumers select on their own context, not on channel
// close.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

// Hub fans newly appended messages and receipt updates out to all live
// subscribers of a conversation. It holds no history: a subscriber that was
// absent when an event was published recovers through the store (backfill or
// poll delta), never through the hub.
type Hub struct {
	mu            sync.RWMutex
	conversations map[string]map[string]*Subscriber
	buffer        int
}

// NewHub creates a hub with the given per-subscriber channel buffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 1
	}
	return &Hub{
		conversations: make(map[string]map[string]*Subscriber),
		buffer:        buffer,
	}
}

// Subscribe attaches a new subscriber to the conversation's feed.
func (h *Hub) Subscribe(conversationID, userID string) *Subscriber {
	sub := &Subscriber{
		id:             uuid.New().String(),
		userID:         userID,
		conversationID: conversationID,
		events:         make(chan Event, h.buffer),
		hub:            h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.conversations[conversationID]
	if !ok {
		subs = make(map[string]*Subscriber)
		h.conversations[conversationID] = subs
	}
	subs[sub.id] = sub

	return sub
}

func (h *Hub) remove(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.conversations[sub.conversationID]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(h.conversations, sub.conversationID)
		}
	}
}

// Publish delivers the event to every subscriber of the conversation.
// Callers serialize publishes per conversation, so each subscriber channel
// receives events for one conversation in publish order. A subscriber whose
// buffer is full loses the event; it catches up via backfill or the poller.
func (h *Hub) Publish(conversationID string, ev Event) {
	for _, sub := range h.snapshot(conversationID) {
		h.deliver(sub, ev)
	}
}

// PublishToUser delivers the event only to the given user's subscriptions on
// the conversation. Used for receipt updates (author only) and tombstone
// events (requester only).
func (h *Hub) PublishToUser(conversationID, userID string, ev Event) {
	for _, sub := range h.snapshot(conversationID) {
		if sub.userID == userID {
			h.deliver(sub, ev)
		}
	}
}

// SubscriberCount returns the number of live subscriptions on a conversation.
func (h *Hub) SubscriberCount(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conversations[conversationID])
}

// snapshot collects subscribers under RLock so delivery happens lock-free.
func (h *Hub) snapshot(conversationID string) []*Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs, ok := h.conversations[conversationID]
	if !ok || len(subs) == 0 {
		return nil
	}

	out := make([]*Subscriber, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub)
	}
	return out
}

func (h *Hub) deliver(sub *Subscriber, ev Event) {
	select {
	case sub.events <- ev:
	default:
		// Dropped: the durable log is the recovery path, not the hub.
		logger.Warning(context.Background(), "subscriber buffer full, dropping event",
			logger.WithConversationID(sub.conversationID),
			logger.WithUserID(sub.userID),
			logger.WithDetails(map[string]interface{}{"event_type": ev.Type}))
	}
}
