package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client is the outbound WhatsApp gateway adapter. It speaks a minimal
// Cloud-API-shaped REST surface: text replies and typing indicators.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	log     *slog.Logger
}

// NewClient creates an outbound WhatsApp client for the given gateway.
func NewClient(baseURL, token string, log *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.With("component", "whatsapp"),
	}
}

// SendText delivers a text reply to the conversation.
func (c *Client) SendText(ctx context.Context, conversationID string, text string) error {
	return c.post(ctx, "/messages", map[string]any{
		"to":   conversationID,
		"type": "text",
		"text": map[string]string{"body": text},
	})
}

// SendTyping marks the conversation as "composing" while a reply is being
// prepared. Failures here are advisory; callers may ignore them.
func (c *Client) SendTyping(ctx context.Context, conversationID string) error {
	return c.post(ctx, "/typing", map[string]any{
		"to":     conversationID,
		"status": "composing",
	})
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call whatsapp gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("whatsapp gateway %s: %s: %s", path, resp.Status, string(respBody))
	}
	return nil
}
