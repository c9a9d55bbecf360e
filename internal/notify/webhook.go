package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"taskbeat/internal/core"
)

type webhookPayload struct {
	Title     string `json:"title"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// WebhookSender posts a JSON payload to the channel URL.
type WebhookSender struct {
	client *http.Client
	now    func() time.Time
}

// NewWebhookSender creates a webhook sender.
func NewWebhookSender(client *http.Client) *WebhookSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookSender{client: client, now: time.Now}
}

func (w *WebhookSender) Send(ctx context.Context, ch core.Channel, title, body string) error {
	if ch.URL == "" {
		return fmt.Errorf("webhook url is empty")
	}
	payload, err := json.Marshal(webhookPayload{
		Title:     title,
		Message:   body,
		Timestamp: w.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	return postJSON(ctx, w.client, ch.URL, payload, "webhook")
}

func postJSON(ctx context.Context, client *http.Client, url string, payload []byte, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create %s request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s notification: %w", name, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 16<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status: %d", name, resp.StatusCode)
	}
	return nil
}
