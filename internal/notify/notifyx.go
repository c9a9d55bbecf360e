package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"taskbeat/internal/core"
)

// DefaultNotifyXBaseURL is the public NotifyX send endpoint; the API key is appended as a path segment.
const DefaultNotifyXBaseURL = "https://www.notifyx.cn/api/v1/send"

// NotifyXSender pushes through a NotifyX-style API keyed by the channel's APIKey.
type NotifyXSender struct {
	baseURL string
	client  *http.Client
}

// NewNotifyXSender creates a NotifyX sender. An empty baseURL uses DefaultNotifyXBaseURL.
func NewNotifyXSender(baseURL string, client *http.Client) *NotifyXSender {
	if baseURL == "" {
		baseURL = DefaultNotifyXBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &NotifyXSender{baseURL: strings.TrimSuffix(baseURL, "/"), client: client}
}

func (n *NotifyXSender) Send(ctx context.Context, ch core.Channel, title, body string) error {
	if ch.APIKey == "" {
		return fmt.Errorf("notifyx api key is empty")
	}
	payload, err := json.Marshal(map[string]string{
		"title":   title,
		"content": body,
	})
	if err != nil {
		return fmt.Errorf("encode notifyx payload: %w", err)
	}
	return postJSON(ctx, n.client, n.baseURL+"/"+url.PathEscape(ch.APIKey), payload, "notifyx")
}
