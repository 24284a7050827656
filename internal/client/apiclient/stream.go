package apiclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"chat-sync/internal/delivery"
)

// Stream opens the conversation's SSE feed and returns a channel of events.
// The channel closes when the server drops the connection or ctx ends;
// heartbeats and the connected handshake are filtered out. The feed carries
// live events only, so a consumer that reconnects catches up through
// GetMessagesSince before trusting the stream again.
func (c *Client) Stream(ctx context.Context, conversationID, userID string) (<-chan delivery.Event, error) {
	q := url.Values{}
	q.Set("user_id", userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/conversations/"+conversationID+"/stream?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The shared client has a request timeout; a stream must not.
	streamClient := &http.Client{Transport: c.http.Transport}

	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "stream rejected"}
	}

	events := make(chan delivery.Event)

	go func() {
		defer close(events)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

		var eventType string
		var data strings.Builder

		for scanner.Scan() {
			line := scanner.Text()

			switch {
			case strings.HasPrefix(line, "event:"):
				eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))

			case strings.HasPrefix(line, "data:"):
				data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))

			case line == "":
				// Blank line ends the frame.
				if ev, ok := parseEvent(eventType, data.String()); ok {
					select {
					case events <- ev:
					case <-ctx.Done():
						return
					}
				}
				eventType = ""
				data.Reset()
			}
		}
	}()

	return events, nil
}

// parseEvent decodes one SSE frame. Frames that are not conversation events
// (ping, connected) are dropped.
func parseEvent(eventType, data string) (delivery.Event, bool) {
	switch eventType {
	case delivery.EventMessageCreated,
		delivery.EventMessageEdited,
		delivery.EventMessageDeleted,
		delivery.EventReadUpdated:
	default:
		return delivery.Event{}, false
	}

	var ev delivery.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return delivery.Event{}, false
	}
	ev.Type = eventType
	return ev, true
}
