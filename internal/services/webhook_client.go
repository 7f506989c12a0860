package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tropichat/relay/internal/events"
	"go.uber.org/zap"
)

// WebhookClient posts mirrored chat events to an external endpoint.
type WebhookClient struct {
	url        string
	httpClient *http.Client
	log        *zap.Logger
}

func NewWebhookClient(url string, log *zap.Logger) *WebhookClient {
	return &WebhookClient{
		url: url,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

type WebhookPayload struct {
	Event     string         `json:"event"`
	Data      map[string]any `json:"data"`
	Text      string         `json:"text"`
	Forwarded time.Time      `json:"forwarded_at"`
}

// Forward delivers one event. Any non-2xx answer is an error.
func (c *WebhookClient) Forward(ctx context.Context, event events.Event) error {
	body, err := json.Marshal(WebhookPayload{
		Event:     event.Type,
		Data:      event.Payload,
		Text:      Summarize(event),
		Forwarded: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	c.log.Debug("event forwarded", zap.String("type", event.Type))
	return nil
}

// Summarize renders an event as one human readable line.
func Summarize(event events.Event) string {
	switch event.Type {
	case events.EventChatMessage:
		return fmt.Sprintf("%s: %s", event.Username(), event.Content())
	case events.EventUserJoined:
		return fmt.Sprintf("%s joined the chat", event.Username())
	case events.EventUserLeft:
		return fmt.Sprintf("%s left the chat", event.Username())
	}
	return fmt.Sprintf("Event: %s", event.Type)
}
