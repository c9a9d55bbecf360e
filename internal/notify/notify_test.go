package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"taskbeat/internal/core"
)

func TestDispatchAtLeastOneChannel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		webhookErr  error
		emailErr    error
		wantSuccess bool
		wantError   string
	}{
		{name: "all succeed", wantSuccess: true},
		{name: "one fails", webhookErr: errors.New("boom"), wantSuccess: true},
		{name: "all fail", webhookErr: errors.New("boom"), emailErr: errors.New("smtp down"), wantError: "webhook: boom; email: smtp down"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := NewDispatcher(Config{RatePerSec: 100}, zerolog.Nop())
			d.Register(core.ChannelWebhook, SenderFunc(func(ctx context.Context, ch core.Channel, title, body string) error {
				return tt.webhookErr
			}))
			d.Register(core.ChannelEmail, SenderFunc(func(ctx context.Context, ch core.Channel, title, body string) error {
				return tt.emailErr
			}))
			res := d.Dispatch(context.Background(), []core.Channel{
				{Kind: core.ChannelWebhook, Enabled: true, URL: "http://hook"},
				{Kind: core.ChannelEmail, Enabled: true, Address: "a@b.c"},
			}, "t", "b")
			if res.Success != tt.wantSuccess {
				t.Fatalf("Success = %v, want %v", res.Success, tt.wantSuccess)
			}
			if res.Error != tt.wantError {
				t.Fatalf("Error = %q, want %q", res.Error, tt.wantError)
			}
			if len(res.Outcomes) != 2 {
				t.Fatalf("outcomes = %d, want 2", len(res.Outcomes))
			}
		})
	}
}

func TestDispatchUnsupportedAndPanickingSenders(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(Config{RatePerSec: 100}, zerolog.Nop())
	d.Register(core.ChannelBark, SenderFunc(func(ctx context.Context, ch core.Channel, title, body string) error {
		panic("kaboom")
	}))
	res := d.Dispatch(context.Background(), []core.Channel{
		{Kind: core.ChannelBark, Enabled: true, URL: "http://bark"},
		{Kind: core.ChannelTelegram, Enabled: true, ChatID: "1"},
	}, "t", "b")
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Error, "sender panic: kaboom") || !strings.Contains(res.Error, `channel "telegram" is not supported`) {
		t.Fatalf("unexpected error: %q", res.Error)
	}
}

func TestDispatchNoChannels(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(Config{}, zerolog.Nop())
	res := d.Dispatch(context.Background(), nil, "t", "b")
	if res.Success || res.Error == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestWebhookSender(t *testing.T) {
	t.Parallel()
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.Client())
	if err := s.Send(context.Background(), core.Channel{Kind: core.ChannelWebhook, URL: srv.URL}, "Title", "Body"); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if got.Title != "Title" || got.Message != "Body" || got.Timestamp == "" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestWebhookSenderNon2xx(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookSender(srv.Client()).Send(context.Background(), core.Channel{URL: srv.URL}, "t", "b")
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected 502 error, got %v", err)
	}
}

func TestNotifyXSender(t *testing.T) {
	t.Parallel()
	var path string
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
	}))
	defer srv.Close()

	s := NewNotifyXSender(srv.URL+"/api/v1/send/", srv.Client())
	if err := s.Send(context.Background(), core.Channel{APIKey: "key-123"}, "T", "C"); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if path != "/api/v1/send/key-123" {
		t.Fatalf("path = %q", path)
	}
	if body["title"] != "T" || body["content"] != "C" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestBarkSender(t *testing.T) {
	t.Parallel()
	var query map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		q := r.URL.Query()
		query = map[string]string{"title": q.Get("title"), "body": q.Get("body"), "group": q.Get("group")}
	}))
	defer srv.Close()

	s := NewBarkSender(srv.Client())
	if err := s.Send(context.Background(), core.Channel{URL: srv.URL + "/devicekey/"}, "Hi", "there"); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if query["title"] != "Hi" || query["body"] != "there" || query["group"] != "taskbeat" {
		t.Fatalf("unexpected query: %v", query)
	}
}

func TestEmailSender(t *testing.T) {
	t.Parallel()
	s := NewEmailSender(SMTPConfig{Host: "smtp.example.com", From: "bot@example.com", Username: "u", Password: "p"})
	s.now = func() time.Time { return time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC) }

	var gotAddr string
	var gotTo []string
	var gotMsg string
	s.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}
	if err := s.Send(context.Background(), core.Channel{Address: "me@example.com"}, "Sub\nject", "line1\nline2"); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if gotAddr != "smtp.example.com:587" {
		t.Fatalf("addr = %q", gotAddr)
	}
	if len(gotTo) != 1 || gotTo[0] != "me@example.com" {
		t.Fatalf("to = %v", gotTo)
	}
	if !strings.Contains(gotMsg, "Subject: Sub ject\r\n") || !strings.HasSuffix(gotMsg, "line1\r\nline2") {
		t.Fatalf("unexpected message:\n%s", gotMsg)
	}
}

func TestEmailSenderRespectsContext(t *testing.T) {
	t.Parallel()
	s := NewEmailSender(SMTPConfig{Host: "smtp.example.com", From: "bot@example.com"})
	block := make(chan struct{})
	defer close(block)
	s.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		<-block
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Send(ctx, core.Channel{Address: "me@example.com"}, "t", "b")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}
