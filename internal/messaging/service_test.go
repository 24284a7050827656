package messaging

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"chat-sync/internal/audit"
	"chat-sync/internal/delivery"
	"chat-sync/internal/storage/database/conversation"
)

type fakeConversations struct {
	mu    sync.Mutex
	convs map[string]*conversation.Conversation
	next  int
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{convs: make(map[string]*conversation.Conversation)}
}

func (f *fakeConversations) Create(_ context.Context, conv *conversation.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.next++
	conv.ID = fmt.Sprintf("conv-%03d", f.next)
	now := time.Now().UTC()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	conv.LastActivityAt = now
	f.convs[conv.ID] = conv
	return nil
}

func (f *fakeConversations) GetByID(_ context.Context, id string) (*conversation.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	conv, ok := f.convs[id]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	copied := *conv
	return &copied, nil
}

func (f *fakeConversations) ListByUser(_ context.Context, userID string, limit int, _ string) ([]*conversation.Conversation, string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*conversation.Conversation
	for _, conv := range f.convs {
		if conv.HasParticipant(userID) {
			copied := *conv
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, "", false, nil
}

func (f *fakeConversations) FindDirect(_ context.Context, userA, userB string) (*conversation.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, conv := range f.convs {
		if conv.Kind != conversation.KindDirect || len(conv.Participants) != 2 {
			continue
		}
		if conv.HasParticipant(userA) && conv.HasParticipant(userB) {
			copied := *conv
			return &copied, nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (f *fakeConversations) Touch(_ context.Context, id, preview string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	conv, ok := f.convs[id]
	if !ok {
		return mongo.ErrNoDocuments
	}
	conv.LastMessage = preview
	conv.LastActivityAt = at
	return nil
}

func (f *fakeConversations) NextSeq(_ context.Context, id string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	conv, ok := f.convs[id]
	if !ok {
		return 0, mongo.ErrNoDocuments
	}
	conv.LastSeq++
	return conv.LastSeq, nil
}

type fakeMessages struct {
	mu   sync.Mutex
	msgs []*conversation.Message
	next int
}

func (f *fakeMessages) Insert(_ context.Context, message *conversation.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.next++
	message.ID = fmt.Sprintf("msg-%03d", f.next)
	message.CreatedAt = time.Now().UTC()
	if message.ReadBy == nil {
		message.ReadBy = []conversation.ReadReceipt{}
	}
	copied := *message
	f.msgs = append(f.msgs, &copied)
	return nil
}

func (f *fakeMessages) GetByID(_ context.Context, id string) (*conversation.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, msg := range f.msgs {
		if msg.ID == id {
			copied := *msg
			return &copied, nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (f *fakeMessages) GetPage(_ context.Context, conversationID, viewerID string, beforeSeq int64, limit int) ([]*conversation.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var filtered []*conversation.Message
	for _, msg := range f.msgs {
		if msg.ConversationID != conversationID {
			continue
		}
		if tombstoned(msg, viewerID) {
			continue
		}
		if beforeSeq > 0 && msg.Seq >= beforeSeq {
			continue
		}
		copied := *msg
		filtered = append(filtered, &copied)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Seq < filtered[j].Seq })

	hasMore := false
	if len(filtered) > limit {
		hasMore = true
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered, hasMore, nil
}

func (f *fakeMessages) GetSince(_ context.Context, conversationID, viewerID string, afterSeq int64, limit int) ([]*conversation.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*conversation.Message
	for _, msg := range f.msgs {
		if msg.ConversationID != conversationID || msg.Seq <= afterSeq || tombstoned(msg, viewerID) {
			continue
		}
		copied := *msg
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeMessages) MarkRead(_ context.Context, conversationID, readerID string, at time.Time) ([]conversation.ReadSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var summaries []conversation.ReadSummary
	for _, msg := range f.msgs {
		if msg.ConversationID != conversationID || msg.AuthorID == readerID {
			continue
		}
		if msg.ReadBySet()[readerID] {
			continue
		}
		summaries = append(summaries, conversation.ReadSummary{
			MessageID: msg.ID,
			AuthorID:  msg.AuthorID,
			Seq:       msg.Seq,
			ReadBy:    append([]conversation.ReadReceipt{}, msg.ReadBy...),
		})
		msg.ReadBy = append(msg.ReadBy, conversation.ReadReceipt{UserID: readerID, ReadAt: at})
	}
	return summaries, nil
}

func (f *fakeMessages) UpdateContent(_ context.Context, id, content string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, msg := range f.msgs {
		if msg.ID == id {
			msg.Content = content
			edited := at
			msg.EditedAt = &edited
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeMessages) AddTombstone(_ context.Context, id, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, msg := range f.msgs {
		if msg.ID != id {
			continue
		}
		if tombstoned(msg, userID) {
			return false, nil
		}
		msg.DeletedFor = append(msg.DeletedFor, userID)
		return true, nil
	}
	return false, nil
}

func (f *fakeMessages) CountUnread(_ context.Context, conversationID, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for _, msg := range f.msgs {
		if msg.ConversationID == conversationID && msg.AuthorID != userID &&
			!msg.ReadBySet()[userID] && !tombstoned(msg, userID) {
			count++
		}
	}
	return count, nil
}

func tombstoned(msg *conversation.Message, userID string) bool {
	for _, id := range msg.DeletedFor {
		if id == userID {
			return true
		}
	}
	return false
}

func newTestService(t *testing.T) (*Service, *fakeConversations, *fakeMessages, *delivery.Hub) {
	t.Helper()
	convs := newFakeConversations()
	msgs := &fakeMessages{}
	hub := delivery.NewHub(16)
	svc := NewService(convs, msgs, hub, audit.NewAuditService(false))
	return svc, convs, msgs, hub
}

func mustCreateGroup(t *testing.T, svc *Service, creator string, others ...string) *conversation.Conversation {
	t.Helper()
	conv, err := svc.CreateConversation(context.Background(), conversation.KindGroup, "test group", creator, others)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	return conv
}

func TestAppendRejectsNonParticipant(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	conv := mustCreateGroup(t, svc, "alice", "bob")

	_, err := svc.Append(context.Background(), conv.ID, "mallory", "hi", "", nil)
	if !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
}

func TestAppendRejectsEmptyContent(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	conv := mustCreateGroup(t, svc, "alice", "bob")

	_, err := svc.Append(context.Background(), conv.ID, "alice", "   ", "", nil)
	if !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}

	// An attachment with no text is fine.
	if _, err := svc.Append(context.Background(), conv.ID, "alice", "", conversation.MessageKindImage,
		&conversation.Attachment{URL: "https://files.example/a.png"}); err != nil {
		t.Fatalf("attachment-only append failed: %v", err)
	}
}

func TestAppendAssignsSequentialSeqAndFansOut(t *testing.T) {
	svc, convs, _, hub := newTestService(t)
	conv := mustCreateGroup(t, svc, "alice", "bob")

	sub := hub.Subscribe(conv.ID, "bob")
	defer sub.Close()

	for i := 1; i <= 3; i++ {
		msg, err := svc.Append(context.Background(), conv.ID, "alice", fmt.Sprintf("message %d", i), "", nil)
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		if msg.Seq != int64(i) {
			t.Fatalf("expected seq %d, got %d", i, msg.Seq)
		}
	}

	for i := 1; i <= 3; i++ {
		select {
		case ev := <-sub.Events():
			if ev.Type != delivery.EventMessageCreated {
				t.Fatalf("expected created event, got %s", ev.Type)
			}
			if ev.Message.Seq != int64(i) {
				t.Fatalf("fanout out of order: expected seq %d, got %d", i, ev.Message.Seq)
			}
		case <-time.After(time.Second):
			t.Fatal("missing fanout event")
		}
	}

	stored, err := convs.GetByID(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.LastMessage != "message 3" {
		t.Fatalf("preview not updated, got %q", stored.LastMessage)
	}
}

func TestAppendConcurrentSendsLinearized(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	conv := mustCreateGroup(t, svc, "alice", "bob")

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		author := "alice"
		if i%2 == 1 {
			author = "bob"
		}
		go func(author string, i int) {
			defer wg.Done()
			if _, err := svc.Append(context.Background(), conv.ID, author, fmt.Sprintf("m%d", i), "", nil); err != nil {
				t.Errorf("Append: %v", err)
			}
		}(author, i)
	}
	wg.Wait()

	// Every reader sees the same total order.
	pageA, _, err := svc.Page(context.Background(), conv.ID, "alice", 0, n)
	if err != nil {
		t.Fatalf("Page alice: %v", err)
	}
	pageB, _, err := svc.Page(context.Background(), conv.ID, "bob", 0, n)
	if err != nil {
		t.Fatalf("Page bob: %v", err)
	}
	if len(pageA) != n || len(pageB) != n {
		t.Fatalf("expected %d messages, got %d and %d", n, len(pageA), len(pageB))
	}
	for i := range pageA {
		if pageA[i].Seq != int64(i+1) {
			t.Fatalf("gap in seq at %d: %d", i, pageA[i].Seq)
		}
		if pageA[i].ID != pageB[i].ID {
			t.Fatalf("readers disagree at position %d: %s vs %s", i, pageA[i].ID, pageB[i].ID)
		}
	}
}

func TestMarkReadIdempotentAndAuthorScoped(t *testing.T) {
	svc, _, _, hub := newTestService(t)
	conv := mustCreateGroup(t, svc, "alice", "bob", "carol")

	if _, err := svc.Append(context.Background(), conv.ID, "alice", "hello", "", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	authorSub := hub.Subscribe(conv.ID, "alice")
	defer authorSub.Close()
	bystanderSub := hub.Subscribe(conv.ID, "carol")
	defer bystanderSub.Close()

	count, err := svc.MarkRead(context.Background(), conv.ID, "bob")
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 newly read, got %d", count)
	}

	select {
	case ev := <-authorSub.Events():
		if ev.Type != delivery.EventReadUpdated || ev.ReaderID != "bob" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("author did not receive read update")
	}

	select {
	case ev := <-bystanderSub.Events():
		t.Fatalf("bystander received %s event", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}

	// Second call adds nothing and fans out nothing.
	count, err = svc.MarkRead(context.Background(), conv.ID, "bob")
	if err != nil {
		t.Fatalf("MarkRead again: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected idempotent re-read, got %d", count)
	}
	select {
	case ev := <-authorSub.Events():
		t.Fatalf("unexpected event after idempotent mark: %s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMarkReadEventCarriesReadState(t *testing.T) {
	svc, _, _, hub := newTestService(t)
	conv := mustCreateGroup(t, svc, "alice", "bob", "carol")

	msg, err := svc.Append(context.Background(), conv.ID, "alice", "status?", "", nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	authorSub := hub.Subscribe(conv.ID, "alice")
	defer authorSub.Close()

	if _, err := svc.MarkRead(context.Background(), conv.ID, "bob"); err != nil {
		t.Fatalf("MarkRead bob: %v", err)
	}
	select {
	case ev := <-authorSub.Events():
		if len(ev.ReadStates) != 1 {
			t.Fatalf("expected 1 read state, got %+v", ev.ReadStates)
		}
		state := ev.ReadStates[0]
		if state.MessageID != msg.ID || state.ReadCount != 1 || state.IsFullyRead {
			t.Fatalf("unexpected read state after first reader: %+v", state)
		}
	case <-time.After(time.Second):
		t.Fatal("author did not receive read update")
	}

	if _, err := svc.MarkRead(context.Background(), conv.ID, "carol"); err != nil {
		t.Fatalf("MarkRead carol: %v", err)
	}
	select {
	case ev := <-authorSub.Events():
		state := ev.ReadStates[0]
		if state.ReadCount != 2 || !state.IsFullyRead {
			t.Fatalf("unexpected read state after last reader: %+v", state)
		}
	case <-time.After(time.Second):
		t.Fatal("author did not receive second read update")
	}
}

func TestMarkReadEventReadStateDirect(t *testing.T) {
	svc, _, _, hub := newTestService(t)
	conv, err := svc.CreateConversation(context.Background(), conversation.KindDirect, "", "alice", []string{"bob"})
	if err != nil {
		t.Fatalf("create direct: %v", err)
	}

	if _, err := svc.Append(context.Background(), conv.ID, "alice", "ping", "", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	authorSub := hub.Subscribe(conv.ID, "alice")
	defer authorSub.Close()

	if _, err := svc.MarkRead(context.Background(), conv.ID, "bob"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	select {
	case ev := <-authorSub.Events():
		state := ev.ReadStates[0]
		if state.ReadCount != 1 || !state.IsFullyRead {
			t.Fatalf("direct message not read after the other party's mark: %+v", state)
		}
	case <-time.After(time.Second):
		t.Fatal("author did not receive read update")
	}
}

func TestEditAuthorAndTextOnly(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	conv := mustCreateGroup(t, svc, "alice", "bob")

	msg, err := svc.Append(context.Background(), conv.ID, "alice", "tpyo", "", nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	if _, err := svc.Edit(context.Background(), msg.ID, "bob", "hijacked"); !errors.Is(err, ErrNotAuthor) {
		t.Fatalf("expected ErrNotAuthor, got %v", err)
	}

	edited, err := svc.Edit(context.Background(), msg.ID, "alice", "typo")
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if edited.Content != "typo" || edited.EditedAt == nil {
		t.Fatalf("edit not applied: %+v", edited)
	}

	img, err := svc.Append(context.Background(), conv.ID, "alice", "", conversation.MessageKindImage,
		&conversation.Attachment{URL: "https://files.example/a.png"})
	if err != nil {
		t.Fatalf("Append image: %v", err)
	}
	if _, err := svc.Edit(context.Background(), img.ID, "alice", "caption"); !errors.Is(err, ErrNotText) {
		t.Fatalf("expected ErrNotText, got %v", err)
	}

	if _, err := svc.Edit(context.Background(), "msg-999", "alice", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSoftDeleteIsViewerScoped(t *testing.T) {
	svc, _, _, hub := newTestService(t)
	conv := mustCreateGroup(t, svc, "alice", "bob")

	msg, err := svc.Append(context.Background(), conv.ID, "alice", "secret", "", nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	bobSub := hub.Subscribe(conv.ID, "bob")
	defer bobSub.Close()
	aliceSub := hub.Subscribe(conv.ID, "alice")
	defer aliceSub.Close()

	if err := svc.SoftDelete(context.Background(), msg.ID, "bob"); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	select {
	case ev := <-bobSub.Events():
		if ev.Type != delivery.EventMessageDeleted || ev.MessageID != msg.ID {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("requester did not receive deleted event")
	}
	select {
	case ev := <-aliceSub.Events():
		t.Fatalf("other viewer received %s event", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}

	// Bob's view drops the message; Alice's keeps it.
	bobPage, _, err := svc.Page(context.Background(), conv.ID, "bob", 0, 10)
	if err != nil {
		t.Fatalf("Page bob: %v", err)
	}
	if len(bobPage) != 0 {
		t.Fatalf("tombstoned message still visible to deleter")
	}
	alicePage, _, err := svc.Page(context.Background(), conv.ID, "alice", 0, 10)
	if err != nil {
		t.Fatalf("Page alice: %v", err)
	}
	if len(alicePage) != 1 {
		t.Fatalf("message disappeared from other viewer")
	}

	// Deleting again, or deleting a missing message, is a no-op.
	if err := svc.SoftDelete(context.Background(), msg.ID, "bob"); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
	if err := svc.SoftDelete(context.Background(), "msg-999", "bob"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestCreateDirectConversationDeduplicates(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	first, err := svc.CreateConversation(context.Background(), conversation.KindDirect, "", "alice", []string{"bob"})
	if err != nil {
		t.Fatalf("create direct: %v", err)
	}
	second, err := svc.CreateConversation(context.Background(), conversation.KindDirect, "", "bob", []string{"alice"})
	if err != nil {
		t.Fatalf("create direct again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("direct conversation duplicated: %s vs %s", first.ID, second.ID)
	}

	_, err = svc.CreateConversation(context.Background(), conversation.KindDirect, "", "alice", []string{"bob", "carol"})
	if !errors.Is(err, ErrDirectParticipants) {
		t.Fatalf("expected ErrDirectParticipants, got %v", err)
	}
}

func TestPreviewTruncation(t *testing.T) {
	long := strings.Repeat("x", 80)
	preview := previewFor(conversation.MessageKindText, long)
	if len([]rune(preview)) != previewRunes+3 {
		t.Fatalf("unexpected preview length %d", len(preview))
	}
	if previewFor(conversation.MessageKindImage, "") != "[image]" {
		t.Fatal("image preview")
	}
}
