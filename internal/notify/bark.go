package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"taskbeat/internal/core"
)

// BarkSender sends notifications via the Bark app. The channel URL is the device push URL.
type BarkSender struct {
	client *http.Client
}

// NewBarkSender creates a Bark sender.
func NewBarkSender(client *http.Client) *BarkSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &BarkSender{client: client}
}

func (b *BarkSender) Send(ctx context.Context, ch core.Channel, title, body string) error {
	if ch.URL == "" {
		return fmt.Errorf("bark url is empty")
	}
	reqURL := strings.TrimSuffix(ch.URL, "/")

	// POST with query params keeps long bodies out of the path.
	form := url.Values{}
	form.Set("title", title)
	form.Set("body", body)
	form.Set("group", "taskbeat")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, nil)
	if err != nil {
		return fmt.Errorf("create bark request: %w", err)
	}
	req.URL.RawQuery = form.Encode()

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("send bark notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("bark api returned status: %d", resp.StatusCode)
	}
	return nil
}
