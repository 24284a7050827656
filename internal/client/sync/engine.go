package sync

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"chat-sync/internal/constants"
	"chat-sync/internal/delivery"
	"chat-sync/internal/storage/database/conversation"
)

// DeliveryState tracks a local message's round trip to the server.
type DeliveryState string

const (
	StatePending   DeliveryState = "pending"
	StateConfirmed DeliveryState = "confirmed"
	StateFailed    DeliveryState = "failed"
)

// Entry is one item of the visible message list: either a confirmed server
// message or an optimistic placeholder awaiting confirmation.
type Entry struct {
	ID        string
	TempID    string
	Seq       int64
	AuthorID  string
	Content   string
	Kind      string
	CreatedAt time.Time
	EditedAt  *time.Time
	ReadBy    []conversation.ReadReceipt
	State     DeliveryState
}

// API is the slice of the HTTP client the engine depends on.
type API interface {
	SendMessage(ctx context.Context, conversationID, authorID, content, kind string) (*conversation.Message, error)
}

// Engine owns the visible, ordered message list for one active conversation.
// Every mutation source, optimistic sends, push events, poll deltas, backfill
// pages and receipt updates, goes through the engine's single lock, so
// mutations apply one at a time in arrival order. That serialization is what
// makes the dedup rules in merge correct when the same message arrives on
// two channels at once.
type Engine struct {
	api         API
	userID      string
	clock       clockwork.Clock
	sendTimeout time.Duration

	onChange         func()
	onComposeRestore func(content string)

	mu             sync.Mutex
	conversationID string
	epoch          int
	entries        []*Entry
	lastSeq        int64
}

// Option customizes the engine.
type Option func(*Engine)

// WithClock swaps the clock (tests).
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithSendTimeout bounds how long a send may stay pending.
func WithSendTimeout(d time.Duration) Option {
	return func(e *Engine) { e.sendTimeout = d }
}

// WithOnChange registers a callback fired after every list mutation.
func WithOnChange(fn func()) Option {
	return func(e *Engine) { e.onChange = fn }
}

// WithOnComposeRestore registers the callback that hands failed-send content
// back to the compose box.
func WithOnComposeRestore(fn func(content string)) Option {
	return func(e *Engine) { e.onComposeRestore = fn }
}

// NewEngine creates a reconciliation engine for the given user.
func NewEngine(api API, userID string, opts ...Option) *Engine {
	e := &Engine{
		api:         api,
		userID:      userID,
		clock:       clockwork.NewRealClock(),
		sendTimeout: constants.DefaultSendTimeoutSeconds * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetConversation switches the active conversation and clears local state.
// The epoch bump makes in-flight results for the old conversation stale, so
// a late response cannot leak into the new view.
func (e *Engine) SetConversation(conversationID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.conversationID = conversationID
	e.epoch++
	e.entries = nil
	e.lastSeq = 0
}

// ConversationID returns the active conversation.
func (e *Engine) ConversationID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conversationID
}

// LastSeq returns the highest confirmed seq the engine has seen. The poller
// uses it as the delta watermark.
func (e *Engine) LastSeq() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSeq
}

// Snapshot returns a copy of the visible list in display order.
func (e *Engine) Snapshot() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Entry, len(e.entries))
	for i, entry := range e.entries {
		out[i] = *entry
	}
	return out
}

// Send inserts an optimistic entry at the tail and issues the append in the
// background. It returns the temp id immediately; the caller is never
// blocked on the network. On failure or timeout the entry turns failed and
// the content is handed back through the compose-restore callback, with no
// automatic retry.
func (e *Engine) Send(content string) string {
	e.mu.Lock()

	tempID := uuid.New().String()
	conversationID := e.conversationID
	epoch := e.epoch

	e.entries = append(e.entries, &Entry{
		TempID:    tempID,
		AuthorID:  e.userID,
		Content:   content,
		Kind:      conversation.MessageKindText,
		CreatedAt: e.clock.Now(),
		State:     StatePending,
	})
	e.mu.Unlock()
	e.notify()

	go e.performSend(epoch, conversationID, tempID, content)
	return tempID
}

// Resend retries a failed entry. The old entry is removed and the content is
// sent again under a fresh temp id, so a successful resend leaves exactly
// one copy.
func (e *Engine) Resend(tempID string) string {
	e.mu.Lock()

	var content string
	found := false
	for i, entry := range e.entries {
		if entry.TempID == tempID && entry.State == StateFailed {
			content = entry.Content
			e.entries = append(e.entries[:i], e.entries[i+1:]...)
			found = true
			break
		}
	}
	e.mu.Unlock()

	if !found {
		return ""
	}
	e.notify()
	return e.Send(content)
}

func (e *Engine) performSend(epoch int, conversationID, tempID, content string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		msg *conversation.Message
		err error
	}
	done := make(chan result, 1)

	go func() {
		msg, err := e.api.SendMessage(ctx, conversationID, e.userID, content, conversation.MessageKindText)
		done <- result{msg, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			e.failSend(epoch, tempID, content)
			return
		}
		e.confirmSend(epoch, tempID, res.msg)
	case <-e.clock.After(e.sendTimeout):
		e.failSend(epoch, tempID, content)
	}
}

// confirmSend replaces the optimistic entry in place, keeping its list
// position, and marks it confirmed.
func (e *Engine) confirmSend(epoch int, tempID string, msg *conversation.Message) {
	e.mu.Lock()

	if epoch != e.epoch {
		e.mu.Unlock()
		return
	}

	for _, entry := range e.entries {
		if entry.TempID == tempID {
			confirmEntry(entry, msg)
			if msg.Seq > e.lastSeq {
				e.lastSeq = msg.Seq
			}
			break
		}
	}
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) failSend(epoch int, tempID, content string) {
	e.mu.Lock()

	if epoch != e.epoch {
		e.mu.Unlock()
		return
	}

	for _, entry := range e.entries {
		if entry.TempID == tempID && entry.State == StatePending {
			entry.State = StateFailed
			break
		}
	}
	restore := e.onComposeRestore
	e.mu.Unlock()

	if restore != nil {
		restore(content)
	}
	e.notify()
}

// OnIncoming merges server messages into the list. It is the single merge
// path for push events, poll deltas and backfill pages. Dedup priority:
//
//  1. A confirmed entry with the same id already exists: update it in place.
//  2. A pending entry by the same author with the same content exists: this
//     message is its server echo, confirm it in place. Content matching is a
//     last resort for echoes that arrive on the push or poll channel before
//     the send response does; identity is otherwise id-only.
//  3. Otherwise insert at the chronological position given by seq.
//
// Messages for a conversation other than the active one are stale and
// dropped.
func (e *Engine) OnIncoming(msgs ...*conversation.Message) {
	e.mu.Lock()

	changed := false
	for _, msg := range msgs {
		if msg == nil || msg.ConversationID != e.conversationID {
			continue
		}
		if e.merge(msg) {
			changed = true
		}
		if msg.Seq > e.lastSeq {
			e.lastSeq = msg.Seq
		}
	}
	e.mu.Unlock()

	if changed {
		e.notify()
	}
}

// merge applies the dedup rule for one message. Caller holds the lock.
func (e *Engine) merge(msg *conversation.Message) bool {
	// Rule 1: already known by id.
	for _, entry := range e.entries {
		if entry.ID != "" && entry.ID == msg.ID {
			updateEntry(entry, msg)
			return true
		}
	}

	// Rule 2: server echo of a pending optimistic entry.
	for _, entry := range e.entries {
		if entry.State == StatePending &&
			entry.AuthorID == msg.AuthorID &&
			entry.Kind == msg.Kind &&
			entry.Content == msg.Content {
			confirmEntry(entry, msg)
			return true
		}
	}

	// Rule 3: new message, insert in seq order among confirmed entries.
	e.insertChronological(msg)
	return true
}

func (e *Engine) insertChronological(msg *conversation.Message) {
	entry := &Entry{
		ID:        msg.ID,
		Seq:       msg.Seq,
		AuthorID:  msg.AuthorID,
		Content:   msg.Content,
		Kind:      msg.Kind,
		CreatedAt: msg.CreatedAt,
		EditedAt:  msg.EditedAt,
		ReadBy:    msg.ReadBy,
		State:     StateConfirmed,
	}

	// Position among confirmed entries only; pending entries stay at the
	// tail.
	pos := sort.Search(len(e.entries), func(i int) bool {
		other := e.entries[i]
		if other.State == StatePending || other.State == StateFailed {
			return true
		}
		return other.Seq > msg.Seq
	})

	e.entries = append(e.entries, nil)
	copy(e.entries[pos+1:], e.entries[pos:])
	e.entries[pos] = entry
}

// ApplyEvent feeds one push event through the merge path.
func (e *Engine) ApplyEvent(ev delivery.Event) {
	switch ev.Type {
	case delivery.EventMessageCreated, delivery.EventMessageEdited:
		e.OnIncoming(ev.Message)

	case delivery.EventMessageDeleted:
		// The server scopes deleted events to the requesting viewer, so a
		// received tombstone always applies to this view.
		e.removeByID(ev.MessageID)

	case delivery.EventReadUpdated:
		e.applyReceipts(ev.ReaderID, ev.MessageIDs)
	}
}

func (e *Engine) removeByID(messageID string) {
	e.mu.Lock()

	removed := false
	for i, entry := range e.entries {
		if entry.ID == messageID {
			e.entries = append(e.entries[:i], e.entries[i+1:]...)
			removed = true
			break
		}
	}
	e.mu.Unlock()

	if removed {
		e.notify()
	}
}

func (e *Engine) applyReceipts(readerID string, messageIDs []string) {
	ids := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		ids[id] = true
	}

	e.mu.Lock()
	changed := false
	for _, entry := range e.entries {
		if !ids[entry.ID] {
			continue
		}
		if hasReceipt(entry.ReadBy, readerID) {
			continue
		}
		entry.ReadBy = append(entry.ReadBy, conversation.ReadReceipt{
			UserID: readerID,
			ReadAt: e.clock.Now(),
		})
		changed = true
	}
	e.mu.Unlock()

	if changed {
		e.notify()
	}
}

func (e *Engine) notify() {
	if e.onChange != nil {
		e.onChange()
	}
}

func confirmEntry(entry *Entry, msg *conversation.Message) {
	entry.ID = msg.ID
	entry.Seq = msg.Seq
	entry.AuthorID = msg.AuthorID
	entry.Content = msg.Content
	entry.Kind = msg.Kind
	entry.CreatedAt = msg.CreatedAt
	entry.EditedAt = msg.EditedAt
	entry.ReadBy = msg.ReadBy
	entry.State = StateConfirmed
}

// updateEntry refreshes mutable fields of a confirmed entry from a newer
// server copy (edits and receipts); identity fields never change.
func updateEntry(entry *Entry, msg *conversation.Message) {
	entry.Content = msg.Content
	entry.EditedAt = msg.EditedAt
	if len(msg.ReadBy) > len(entry.ReadBy) {
		entry.ReadBy = msg.ReadBy
	}
}

func hasReceipt(receipts []conversation.ReadReceipt, userID string) bool {
	for _, r := range receipts {
		if r.UserID == userID {
			return true
		}
	}
	return false
}
