package audit

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// AuditService records message-log operations as structured audit events.
type AuditService struct {
	enabled bool
	logger  *log.Logger
}

// NewAuditService creates an audit service.
func NewAuditService(enabled bool) *AuditService {
	return &AuditService{
		enabled: enabled,
		logger:  log.Default(),
	}
}

// AuditEvent is one audit record.
type AuditEvent struct {
	Timestamp      time.Time              `json:"timestamp"`
	EventType      string                 `json:"event_type"`
	UserID         string                 `json:"user_id"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	MessageID      string                 `json:"message_id,omitempty"`
	Action         string                 `json:"action"`
	Result         string                 `json:"result"` // success, failure
	Details        map[string]interface{} `json:"details,omitempty"`
}

// LogConversationCreated records a conversation creation.
func (a *AuditService) LogConversationCreated(ctx context.Context, userID, conversationID, kind string) {
	if !a.enabled {
		return
	}

	a.log(AuditEvent{
		Timestamp:      time.Now(),
		EventType:      "conversation_created",
		UserID:         userID,
		ConversationID: conversationID,
		Action:         "create_conversation",
		Result:         "success",
		Details: map[string]interface{}{
			"kind": kind,
		},
	})
}

// LogMessageAppended records a message append.
func (a *AuditService) LogMessageAppended(ctx context.Context, userID, conversationID, messageID, kind string) {
	if !a.enabled {
		return
	}

	a.log(AuditEvent{
		Timestamp:      time.Now(),
		EventType:      "message_appended",
		UserID:         userID,
		ConversationID: conversationID,
		MessageID:      messageID,
		Action:         "append_message",
		Result:         "success",
		Details: map[string]interface{}{
			"message_kind": kind,
		},
	})
}

// LogMessagesRead records a read-receipt pass.
func (a *AuditService) LogMessagesRead(ctx context.Context, userID, conversationID string, count int) {
	if !a.enabled {
		return
	}

	a.log(AuditEvent{
		Timestamp:      time.Now(),
		EventType:      "messages_read",
		UserID:         userID,
		ConversationID: conversationID,
		Action:         "mark_read",
		Result:         "success",
		Details: map[string]interface{}{
			"marked_count": count,
		},
	})
}

// LogMessageEdited records a message edit.
func (a *AuditService) LogMessageEdited(ctx context.Context, userID, conversationID, messageID string) {
	if !a.enabled {
		return
	}

	a.log(AuditEvent{
		Timestamp:      time.Now(),
		EventType:      "message_edited",
		UserID:         userID,
		ConversationID: conversationID,
		MessageID:      messageID,
		Action:         "edit_message",
		Result:         "success",
	})
}

// LogMessageDeleted records a per-viewer soft delete.
func (a *AuditService) LogMessageDeleted(ctx context.Context, userID, conversationID, messageID string) {
	if !a.enabled {
		return
	}

	a.log(AuditEvent{
		Timestamp:      time.Now(),
		EventType:      "message_deleted",
		UserID:         userID,
		ConversationID: conversationID,
		MessageID:      messageID,
		Action:         "soft_delete_message",
		Result:         "success",
	})
}

// LogDenied records a rejected operation.
func (a *AuditService) LogDenied(ctx context.Context, userID, conversationID, action, reason string) {
	if !a.enabled {
		return
	}

	a.log(AuditEvent{
		Timestamp:      time.Now(),
		EventType:      "operation_denied",
		UserID:         userID,
		ConversationID: conversationID,
		Action:         action,
		Result:         "failure",
		Details: map[string]interface{}{
			"reason": reason,
		},
	})
}

func (a *AuditService) log(event AuditEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		a.logger.Printf("audit: failed to marshal event: %v", err)
		return
	}
	a.logger.Printf("AUDIT %s", data)
}
