package line

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultAPIBase = "https://api.line.me"

// replyTimeout bounds each outbound messaging call.
const replyTimeout = 10 * time.Second

// Client sends reply and push messages to the chat platform.
type Client struct {
	channelAccessToken string
	apiBase            string
	httpClient         *http.Client
}

// NewClient creates a messaging client. baseURL is empty outside of tests.
func NewClient(channelAccessToken, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultAPIBase
	}
	return &Client{
		channelAccessToken: channelAccessToken,
		apiBase:            baseURL,
		httpClient:         &http.Client{Timeout: replyTimeout},
	}
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type replyRequest struct {
	ReplyToken string        `json:"replyToken"`
	Messages   []textMessage `json:"messages"`
}

type pushRequest struct {
	To       string        `json:"to"`
	Messages []textMessage `json:"messages"`
}

// ReplyMessage answers an inbound event through its single-use reply token.
func (c *Client) ReplyMessage(ctx context.Context, replyToken, text string) error {
	if replyToken == "" {
		return fmt.Errorf("reply token is required")
	}
	return c.post(ctx, "/v2/bot/message/reply", replyRequest{
		ReplyToken: replyToken,
		Messages:   []textMessage{{Type: "text", Text: text}},
	})
}

// PushMessage sends a message to a conversation without a reply token.
func (c *Client) PushMessage(ctx context.Context, to, text string) error {
	if to == "" {
		return fmt.Errorf("push target is required")
	}
	return c.post(ctx, "/v2/bot/message/push", pushRequest{
		To:       to,
		Messages: []textMessage{{Type: "text", Text: text}},
	})
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode message payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build messaging request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.channelAccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("messaging request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("messaging API returned %d: %s", resp.StatusCode, string(detail))
	}

	return nil
}
