package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chat-sync/internal/storage/database/conversation"
)

// Client talks to the sync API over HTTP. Construct one per server; there is
// no package-level connection state.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the server at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// envelope is the server's response wrapper.
type envelope struct {
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	Error      string          `json:"error"`
	Data       json.RawMessage `json:"data"`
	NextCursor string          `json:"next_cursor"`
	HasMore    bool            `json:"has_more"`
	Count      int             `json:"count"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*envelope, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    env.Error,
		}
	}

	return &env, nil
}

// CreateConversation creates a conversation and returns it. Creating a
// direct conversation that already exists returns the existing one.
func (c *Client) CreateConversation(
	ctx context.Context,
	kind, name, creatorID string,
	participants []string,
) (*conversation.Conversation, error) {
	env, err := c.do(ctx, http.MethodPost, "/api/v1/conversations", map[string]interface{}{
		"kind":         kind,
		"name":         name,
		"creator_id":   creatorID,
		"participants": participants,
	})
	if err != nil {
		return nil, err
	}

	var conv conversation.Conversation
	if err := json.Unmarshal(env.Data, &conv); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return &conv, nil
}

// ConversationSummary is one entry of the conversation list.
type ConversationSummary struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	Name           string    `json:"name"`
	Participants   []string  `json:"participants"`
	LastMessage    string    `json:"last_message"`
	LastActivityAt time.Time `json:"last_activity_at"`
	UnreadCount    int       `json:"unread_count"`
}

// ListConversations pages through the user's conversations.
func (c *Client) ListConversations(
	ctx context.Context,
	userID string,
	limit int,
	cursor string,
) ([]*ConversationSummary, string, bool, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	env, err := c.do(ctx, http.MethodGet, "/api/v1/conversations?"+q.Encode(), nil)
	if err != nil {
		return nil, "", false, err
	}

	var items []*ConversationSummary
	if err := json.Unmarshal(env.Data, &items); err != nil {
		return nil, "", false, fmt.Errorf("decode conversations: %w", err)
	}
	return items, env.NextCursor, env.HasMore, nil
}

// SendMessage appends a message and returns the server's copy, including
// its assigned id and seq.
func (c *Client) SendMessage(
	ctx context.Context,
	conversationID, authorID, content, kind string,
) (*conversation.Message, error) {
	env, err := c.do(ctx, http.MethodPost,
		"/api/v1/conversations/"+conversationID+"/messages",
		map[string]interface{}{
			"author_id": authorID,
			"content":   content,
			"kind":      kind,
		})
	if err != nil {
		return nil, err
	}

	var msg conversation.Message
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &msg, nil
}

// GetMessages fetches a page of history ending before cursor, oldest first.
// An empty cursor starts at the newest messages.
func (c *Client) GetMessages(
	ctx context.Context,
	conversationID, userID, cursor string,
	limit int,
) ([]*conversation.Message, string, bool, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	env, err := c.do(ctx, http.MethodGet,
		"/api/v1/conversations/"+conversationID+"/messages?"+q.Encode(), nil)
	if err != nil {
		return nil, "", false, err
	}

	var msgs []*conversation.Message
	if err := json.Unmarshal(env.Data, &msgs); err != nil {
		return nil, "", false, fmt.Errorf("decode messages: %w", err)
	}
	return msgs, env.NextCursor, env.HasMore, nil
}

// GetMessagesSince fetches everything newer than lastSeq, oldest first.
func (c *Client) GetMessagesSince(
	ctx context.Context,
	conversationID, userID string,
	lastSeq int64,
) ([]*conversation.Message, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("last_seq", strconv.FormatInt(lastSeq, 10))

	env, err := c.do(ctx, http.MethodGet,
		"/api/v1/conversations/"+conversationID+"/messages/since?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var msgs []*conversation.Message
	if err := json.Unmarshal(env.Data, &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return msgs, nil
}

// MarkRead marks the whole conversation read for the user and returns how
// many messages gained a receipt.
func (c *Client) MarkRead(ctx context.Context, conversationID, userID string) (int, error) {
	env, err := c.do(ctx, http.MethodPost,
		"/api/v1/conversations/"+conversationID+"/read",
		map[string]interface{}{"user_id": userID})
	if err != nil {
		return 0, err
	}
	return env.Count, nil
}

// EditMessage replaces the content of the user's own text message.
func (c *Client) EditMessage(
	ctx context.Context,
	messageID, userID, content string,
) (*conversation.Message, error) {
	env, err := c.do(ctx, http.MethodPatch,
		"/api/v1/messages/"+messageID,
		map[string]interface{}{
			"user_id": userID,
			"content": content,
		})
	if err != nil {
		return nil, err
	}

	var msg conversation.Message
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &msg, nil
}

// DeleteMessage hides the message from the user's own view.
func (c *Client) DeleteMessage(ctx context.Context, messageID, userID string) error {
	q := url.Values{}
	q.Set("user_id", userID)

	_, err := c.do(ctx, http.MethodDelete, "/api/v1/messages/"+messageID+"?"+q.Encode(), nil)
	return err
}
