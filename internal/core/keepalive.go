package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Executor runs one attempt of a task and always yields a result.
type Executor interface {
	Run(ctx context.Context, task *Task, cfg *TaskConfig) ExecutionResult
}

// KeepaliveExecutor pings the configured endpoint.
type KeepaliveExecutor struct {
	transport HTTPTransport
	logger    zerolog.Logger
}

// NewKeepaliveExecutor creates a keepalive executor.
func NewKeepaliveExecutor(transport HTTPTransport, logger zerolog.Logger) *KeepaliveExecutor {
	if transport == nil {
		transport = NewHTTPTransport(nil)
	}
	return &KeepaliveExecutor{
		transport: transport,
		logger:    logger,
	}
}

// Run performs the request, hard-capped by the task timeout.
func (e *KeepaliveExecutor) Run(ctx context.Context, task *Task, cfg *TaskConfig) (result ExecutionResult) {
	timeout := cfg.RequestTimeout()
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	headers := cfg.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	req := FetchRequest{
		URL:     cfg.URL,
		Method:  cfg.Method,
		Headers: headers,
	}
	if cfg.Method == "POST" || cfg.Method == "PUT" {
		req.Body = cfg.Body
	}

	startedAt := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = ExecutionResult{
				Success:      false,
				ResponseTime: time.Since(startedAt),
				Error:        fmt.Sprintf("keepalive panic: %v", r),
				Timestamp:    time.Now().UTC(),
			}
		}
	}()

	resp, err := e.transport.Fetch(reqCtx, req)
	elapsed := time.Since(startedAt)
	result = ExecutionResult{ResponseTime: elapsed, Timestamp: time.Now().UTC()}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			result.Error = fmt.Sprintf("request timed out after %dms", timeout.Milliseconds())
		} else {
			result.Error = err.Error()
		}
		e.logger.Debug().Str("task_id", task.ID).Str("url", cfg.URL).Err(err).Msg("keepalive request failed")
		return result
	}

	code := resp.Status
	result.StatusCode = &code
	if !resp.OK {
		result.Error = fmt.Sprintf("HTTP %d: %s", resp.Status, resp.StatusText)
		return result
	}
	result.Success = true
	return result
}
