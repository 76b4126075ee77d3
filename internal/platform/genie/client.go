// Package genie is a client for the Databricks Genie conversation API, the
// AI service that translates analyst questions into warehouse SQL.
package genie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrServiceUnavailable is returned for transport failures and non-2xx
// responses. Callers treat it as "the AI service cannot answer right now"
// and engage the fallback path.
var ErrServiceUnavailable = errors.New("genie: service unavailable")

// MessageStatus is the observed state of one conversation message.
type MessageStatus struct {
	Status             string
	SQL                string
	RowCount           int64
	SuggestedQuestions []string
	Error              string
}

// Client talks to one Genie space.
type Client struct {
	host       string
	token      string
	spaceID    string
	httpClient *http.Client
}

// NewClient builds a client for the given workspace host and space.
// Any of the three parameters may be empty; Configured() reports usability.
func NewClient(host, token, spaceID string) *Client {
	host = strings.TrimSuffix(host, "/")
	if host != "" && !strings.HasPrefix(host, "http") {
		host = "https://" + host
	}
	return &Client{
		host:    host,
		token:   token,
		spaceID: spaceID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Configured reports whether the client has everything it needs to make calls.
func (c *Client) Configured() bool {
	return c.host != "" && c.token != "" && c.spaceID != ""
}

type messagePayload struct {
	MessageID  string `json:"message_id"`
	ID         string `json:"id"`
	Status     string `json:"status"`
	Content    string `json:"content"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	Attachments []struct {
		Query *struct {
			Query string `json:"query"`
		} `json:"query"`
		Text *struct {
			Content string `json:"content"`
		} `json:"text"`
	} `json:"attachments"`
	QueryResult *struct {
		RowCount int64 `json:"row_count"`
	} `json:"query_result"`
	SuggestedQuestions []string `json:"suggested_questions"`
}

type startConversationResponse struct {
	ConversationID string          `json:"conversation_id"`
	Conversation   *struct {
		ID string `json:"id"`
	} `json:"conversation"`
	MessageID string          `json:"message_id"`
	Message   *messagePayload `json:"message"`
}

// StartConversation opens a new conversation with an initial question.
func (c *Client) StartConversation(ctx context.Context, text string) (conversationID, messageID string, err error) {
	url := fmt.Sprintf("%s/api/2.0/genie/spaces/%s/start-conversation", c.host, c.spaceID)

	var resp startConversationResponse
	if err := c.postJSON(ctx, url, map[string]string{"content": text}, &resp); err != nil {
		return "", "", err
	}

	conversationID = resp.ConversationID
	if conversationID == "" && resp.Conversation != nil {
		conversationID = resp.Conversation.ID
	}
	messageID = resp.MessageID
	if messageID == "" && resp.Message != nil {
		messageID = resp.Message.MessageID
		if messageID == "" {
			messageID = resp.Message.ID
		}
	}
	if conversationID == "" || messageID == "" {
		return "", "", fmt.Errorf("%w: start-conversation response missing ids", ErrServiceUnavailable)
	}
	return conversationID, messageID, nil
}

// ContinueConversation sends a follow-up question on an existing conversation.
func (c *Client) ContinueConversation(ctx context.Context, conversationID, text string) (messageID string, err error) {
	url := fmt.Sprintf("%s/api/2.0/genie/spaces/%s/conversations/%s/messages", c.host, c.spaceID, conversationID)

	var resp messagePayload
	if err := c.postJSON(ctx, url, map[string]string{"content": text}, &resp); err != nil {
		return "", err
	}

	messageID = resp.MessageID
	if messageID == "" {
		messageID = resp.ID
	}
	if messageID == "" {
		return "", fmt.Errorf("%w: message response missing id", ErrServiceUnavailable)
	}
	return messageID, nil
}

// GetMessage fetches the current status of a message.
func (c *Client) GetMessage(ctx context.Context, conversationID, messageID string) (*MessageStatus, error) {
	url := fmt.Sprintf("%s/api/2.0/genie/spaces/%s/conversations/%s/messages/%s", c.host, c.spaceID, conversationID, messageID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrServiceUnavailable, httpResp.StatusCode)
	}

	var payload messagePayload
	if err := json.NewDecoder(httpResp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrServiceUnavailable, err)
	}
	return payload.toStatus(), nil
}

func (p *messagePayload) toStatus() *MessageStatus {
	st := &MessageStatus{
		Status:             p.Status,
		SuggestedQuestions: p.SuggestedQuestions,
	}
	for _, a := range p.Attachments {
		if a.Query != nil && a.Query.Query != "" {
			st.SQL = a.Query.Query
		}
	}
	if p.QueryResult != nil {
		st.RowCount = p.QueryResult.RowCount
	}
	if p.Error != nil {
		st.Error = p.Error.Message
	}
	return st
}

func (c *Client) postJSON(ctx context.Context, url string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encode request: %v", ErrServiceUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrServiceUnavailable, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrServiceUnavailable, err)
	}
	return nil
}
