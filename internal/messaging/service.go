package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"chat-sync/internal/audit"
	"chat-sync/internal/constants"
	"chat-sync/internal/delivery"
	"chat-sync/internal/platform/logger"
	"chat-sync/internal/storage/database/conversation"
)

// Service is the single write path for conversations. All appends, edits,
// deletes and read marks go through it; the store is the source of truth and
// a message is durable before any subscriber hears about it.
type Service struct {
	conversations conversation.ConversationRepository
	messages      conversation.MessageRepository
	hub           *delivery.Hub
	audit         *audit.AuditService

	// locks serializes writers per conversation so that seq allocation,
	// persistence and fanout happen in the same order.
	locks sync.Map // conversation id -> *sync.Mutex
}

// NewService creates the messaging service.
func NewService(
	conversations conversation.ConversationRepository,
	messages conversation.MessageRepository,
	hub *delivery.Hub,
	auditService *audit.AuditService,
) *Service {
	return &Service{
		conversations: conversations,
		messages:      messages,
		hub:           hub,
		audit:         auditService,
	}
}

func (s *Service) conversationLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// getConversation loads a conversation, folding a missing document into
// ErrNotFound.
func (s *Service) getConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}
	return conv, nil
}

// CreateConversation creates a conversation. The creator is always included
// in the participant set. Creating a direct conversation for a pair that
// already has one returns the existing conversation instead of a duplicate.
func (s *Service) CreateConversation(
	ctx context.Context,
	kind, name, creatorID string,
	participants []string,
) (*conversation.Conversation, error) {
	members := uniqueWith(participants, creatorID)
	if len(members) == 0 {
		return nil, ErrNoParticipants
	}

	switch kind {
	case conversation.KindDirect:
		if len(members) != 2 {
			return nil, ErrDirectParticipants
		}
		existing, err := s.conversations.FindDirect(ctx, members[0], members[1])
		if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("find direct conversation: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	case conversation.KindGroup:
	default:
		return nil, fmt.Errorf("conversation kind %q: %w", kind, ErrUnsupportedKind)
	}

	conv := &conversation.Conversation{
		Kind:         kind,
		Name:         name,
		Participants: members,
	}
	if err := s.conversations.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	s.audit.LogConversationCreated(ctx, creatorID, conv.ID, kind)
	logger.Info(ctx, "conversation created",
		logger.WithUserID(creatorID),
		logger.WithConversationID(conv.ID),
		logger.WithAction("create_conversation"),
	)
	return conv, nil
}

// ListConversations pages through the caller's conversations, most recently
// active first.
func (s *Service) ListConversations(
	ctx context.Context,
	userID string,
	limit int,
	cursor string,
) ([]*conversation.Conversation, string, bool, error) {
	return s.conversations.ListByUser(ctx, userID, clampPageSize(limit), cursor)
}

// UnreadCount reports how many messages in the conversation the user has
// neither authored nor read.
func (s *Service) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	return s.messages.CountUnread(ctx, conversationID, userID)
}

// Append appends a message to the conversation log. It allocates the next
// seq, persists the message, refreshes the conversation preview and only
// then publishes the created event. Appends to the same conversation are
// serialized so fanout order matches log order.
func (s *Service) Append(
	ctx context.Context,
	conversationID, authorID, content, kind string,
	attachment *conversation.Attachment,
) (*conversation.Message, error) {
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(authorID) {
		s.audit.LogDenied(ctx, authorID, conversationID, "append", "not a participant")
		return nil, ErrNotParticipant
	}

	if kind == "" {
		kind = conversation.MessageKindText
	}
	switch kind {
	case conversation.MessageKindText, conversation.MessageKindImage, conversation.MessageKindFile:
	default:
		return nil, fmt.Errorf("message kind %q: %w", kind, ErrUnsupportedKind)
	}
	if strings.TrimSpace(content) == "" && attachment == nil {
		return nil, ErrEmptyContent
	}

	mu := s.conversationLock(conversationID)
	mu.Lock()
	defer mu.Unlock()

	seq, err := s.conversations.NextSeq(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("allocate seq: %w", err)
	}

	msg := &conversation.Message{
		ConversationID: conversationID,
		Seq:            seq,
		AuthorID:       authorID,
		Content:        content,
		Kind:           kind,
		Attachment:     attachment,
	}
	if err := s.messages.Insert(ctx, msg); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if err := s.conversations.Touch(ctx, conversationID, previewFor(kind, content), msg.CreatedAt); err != nil {
		// The message is durable; a stale preview is repaired by the next
		// append.
		logger.Warning(ctx, "update conversation preview failed",
			logger.WithConversationID(conversationID),
			logger.WithDetails(map[string]interface{}{"error": err.Error()}),
		)
	}

	s.hub.Publish(conversationID, delivery.Event{
		Type:           delivery.EventMessageCreated,
		ConversationID: conversationID,
		Message:        msg,
	})

	s.audit.LogMessageAppended(ctx, authorID, conversationID, msg.ID, kind)
	logger.Info(ctx, "message appended",
		logger.WithUserID(authorID),
		logger.WithConversationID(conversationID),
		logger.WithMessageID(msg.ID),
		logger.WithAction("append"),
	)
	return msg, nil
}

// Page returns messages older than beforeSeq, oldest first, tombstones for
// the viewer excluded. beforeSeq <= 0 starts from the newest message. The
// second result reports whether older messages remain.
func (s *Service) Page(
	ctx context.Context,
	conversationID, viewerID string,
	beforeSeq int64,
	limit int,
) ([]*conversation.Message, bool, error) {
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return nil, false, err
	}
	if !conv.HasParticipant(viewerID) {
		s.audit.LogDenied(ctx, viewerID, conversationID, "page", "not a participant")
		return nil, false, ErrNotParticipant
	}
	return s.messages.GetPage(ctx, conversationID, viewerID, beforeSeq, clampPageSize(limit))
}

// Since returns messages with seq greater than afterSeq, oldest first. It is
// the poll-delta read: a client that remembers the last seq it has seen can
// fetch exactly what it is missing.
func (s *Service) Since(
	ctx context.Context,
	conversationID, viewerID string,
	afterSeq int64,
) ([]*conversation.Message, error) {
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(viewerID) {
		s.audit.LogDenied(ctx, viewerID, conversationID, "since", "not a participant")
		return nil, ErrNotParticipant
	}
	return s.messages.GetSince(ctx, conversationID, viewerID, afterSeq, constants.MaxPageSize)
}

// MarkRead marks every message in the conversation not authored by the
// reader as read by them. Repeating the call is a no-op. Authors whose
// messages gained a receipt get a read.updated event; nobody else does.
func (s *Service) MarkRead(ctx context.Context, conversationID, readerID string) (int, error) {
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if !conv.HasParticipant(readerID) {
		s.audit.LogDenied(ctx, readerID, conversationID, "mark_read", "not a participant")
		return 0, ErrNotParticipant
	}

	readAt := time.Now().UTC()
	summaries, err := s.messages.MarkRead(ctx, conversationID, readerID, readAt)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	if len(summaries) == 0 {
		return 0, nil
	}

	byAuthor := make(map[string][]string)
	statesByAuthor := make(map[string][]delivery.ReadState)
	for _, sum := range summaries {
		// The summary carries the receipt set from before the pass; add the
		// new receipt so the aggregation reflects the stored state.
		after := &conversation.Message{
			ID:       sum.MessageID,
			AuthorID: sum.AuthorID,
			ReadBy:   append(append([]conversation.ReadReceipt{}, sum.ReadBy...), conversation.ReadReceipt{UserID: readerID, ReadAt: readAt}),
		}
		byAuthor[sum.AuthorID] = append(byAuthor[sum.AuthorID], sum.MessageID)
		statesByAuthor[sum.AuthorID] = append(statesByAuthor[sum.AuthorID], readStateFor(conv, after))
	}
	for authorID, ids := range byAuthor {
		s.hub.PublishToUser(conversationID, authorID, delivery.Event{
			Type:           delivery.EventReadUpdated,
			ConversationID: conversationID,
			ReaderID:       readerID,
			MessageIDs:     ids,
			ReadStates:     statesByAuthor[authorID],
		})
	}

	s.audit.LogMessagesRead(ctx, readerID, conversationID, len(summaries))
	return len(summaries), nil
}

// Edit replaces the content of a text message. Only the author may edit, and
// only text messages are editable.
func (s *Service) Edit(
	ctx context.Context,
	messageID, requesterID, content string,
) (*conversation.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
		}
		return nil, fmt.Errorf("load message %s: %w", messageID, err)
	}
	if msg.AuthorID != requesterID {
		s.audit.LogDenied(ctx, requesterID, msg.ConversationID, "edit", "not the author")
		return nil, ErrNotAuthor
	}
	if msg.Kind != conversation.MessageKindText {
		return nil, ErrNotText
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	now := time.Now().UTC()
	matched, err := s.messages.UpdateContent(ctx, messageID, content, now)
	if err != nil {
		return nil, fmt.Errorf("update message %s: %w", messageID, err)
	}
	if !matched {
		return nil, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}

	msg.Content = content
	msg.EditedAt = &now

	s.hub.Publish(msg.ConversationID, delivery.Event{
		Type:           delivery.EventMessageEdited,
		ConversationID: msg.ConversationID,
		Message:        msg,
	})

	s.audit.LogMessageEdited(ctx, requesterID, msg.ConversationID, messageID)
	return msg, nil
}

// SoftDelete hides a message from the requester's view. The log itself is
// untouched and other participants still see the message. Deleting a message
// that does not exist, or deleting it twice, is a no-op.
func (s *Service) SoftDelete(ctx context.Context, messageID, requesterID string) error {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil
		}
		return fmt.Errorf("load message %s: %w", messageID, err)
	}

	conv, err := s.getConversation(ctx, msg.ConversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(requesterID) {
		s.audit.LogDenied(ctx, requesterID, msg.ConversationID, "delete", "not a participant")
		return ErrNotParticipant
	}

	matched, err := s.messages.AddTombstone(ctx, messageID, requesterID)
	if err != nil {
		return fmt.Errorf("tombstone message %s: %w", messageID, err)
	}
	if !matched {
		// Already tombstoned for this user.
		return nil
	}

	s.hub.PublishToUser(msg.ConversationID, requesterID, delivery.Event{
		Type:           delivery.EventMessageDeleted,
		ConversationID: msg.ConversationID,
		MessageID:      messageID,
	})

	s.audit.LogMessageDeleted(ctx, requesterID, msg.ConversationID, messageID)
	return nil
}

// GetConversation returns the conversation if the caller participates in it.
func (s *Service) GetConversation(ctx context.Context, conversationID, userID string) (*conversation.Conversation, error) {
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return conv, nil
}

func clampPageSize(limit int) int {
	if limit <= 0 {
		return constants.DefaultPageSize
	}
	if limit > constants.MaxPageSize {
		return constants.MaxPageSize
	}
	return limit
}

const previewRunes = 50

// previewFor builds the conversation list preview for a message.
func previewFor(kind, content string) string {
	switch kind {
	case conversation.MessageKindImage:
		return "[image]"
	case conversation.MessageKindFile:
		return "[file]"
	}
	runes := []rune(content)
	if len(runes) > previewRunes {
		return string(runes[:previewRunes]) + "..."
	}
	return content
}

// uniqueWith deduplicates ids, keeping first-seen order, and guarantees that
// required is present.
func uniqueWith(ids []string, required string) []string {
	seen := make(map[string]bool, len(ids)+1)
	out := make([]string, 0, len(ids)+1)
	for _, id := range append([]string{required}, ids...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
