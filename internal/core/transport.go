package core

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// FetchRequest describes one outbound keepalive request.
type FetchRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
}

// FetchResponse is the transport's view of a completed request.
type FetchResponse struct {
	OK         bool
	Status     int
	StatusText string
}

// HTTPTransport performs keepalive requests. Deadlines come from ctx.
type HTTPTransport interface {
	Fetch(ctx context.Context, req FetchRequest) (*FetchResponse, error)
}

type httpTransport struct {
	client *http.Client
}

// NewHTTPTransport returns an HTTPTransport backed by client (http.DefaultClient when nil).
func NewHTTPTransport(client *http.Client) HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpTransport{client: client}
}

func (t *httpTransport) Fetch(ctx context.Context, req FetchRequest) (*FetchResponse, error) {
	var body io.Reader
	if req.Body != "" && (req.Method == http.MethodPost || req.Method == http.MethodPut) {
		body = strings.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return &FetchResponse{
		OK:         resp.StatusCode >= 200 && resp.StatusCode < 400,
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
	}, nil
}
