package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	"taskbeat/internal/core"
	"taskbeat/internal/lock"
	"taskbeat/internal/store"
)

type failingExecutor struct{}

func (failingExecutor) Run(ctx context.Context, task *core.Task, cfg *core.TaskConfig) core.ExecutionResult {
	code := 503
	return core.ExecutionResult{StatusCode: &code, Error: "HTTP 503: Service Unavailable", Timestamp: time.Now().UTC()}
}

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(ctx context.Context, channels []core.Channel, title, body string) core.DispatchResult {
	return core.DispatchResult{Success: true}
}

func newTestMCP(t *testing.T) (*MCPServer, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := zerolog.Nop()
	sched, err := core.NewScheduler(st, st,
		map[core.TaskKind]core.Executor{core.TaskKindKeepalive: failingExecutor{}},
		core.NewRecorder(st, st, st, 0, logger),
		core.NewAlerter(st, st, nopDispatcher{}, time.UTC, logger),
		lock.NewMemory(), core.SchedulerConfig{Location: time.UTC}, logger)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	task := &core.Task{
		ID: "k1", OwnerID: "u1", Name: "ping api", Kind: core.TaskKindKeepalive, Enabled: true,
		Config: json.RawMessage(`{"url":"https://example.com/health","method":"GET"}`),
	}
	if err := st.InsertTask(context.Background(), task); err != nil {
		t.Fatalf("insert task: %v", err)
	}
	return NewMCPServer(st, sched, logger, time.UTC, "test"), st
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	switch c := res.Content[0].(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	default:
		t.Fatalf("unexpected content type %T", c)
		return ""
	}
}

func TestListAndGetTask(t *testing.T) {
	s, _ := newTestMCP(t)
	ctx := context.Background()

	res, err := s.handleListTasks(ctx, call(nil))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if text := resultText(t, res); !strings.Contains(text, "k1") || !strings.Contains(text, "ping api") || !strings.Contains(text, "last run: never") {
		t.Fatalf("list output:\n%s", text)
	}

	res, _ = s.handleListTasks(ctx, call(map[string]any{"owner_id": "nobody"}))
	if text := resultText(t, res); text != "no tasks found" {
		t.Fatalf("filtered list output: %q", text)
	}

	res, _ = s.handleGetTask(ctx, call(map[string]any{"task_id": "missing"}))
	if !res.IsError || !strings.Contains(resultText(t, res), "task not found") {
		t.Fatalf("missing task result: %+v", res)
	}
}

func TestRunTaskAndListLogs(t *testing.T) {
	s, st := newTestMCP(t)
	ctx := context.Background()

	res, err := s.handleRunTask(ctx, call(map[string]any{"task_id": "k1"}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	text := resultText(t, res)
	if !strings.Contains(text, "Status: failure") || !strings.Contains(text, "HTTP status: 503") {
		t.Fatalf("run output:\n%s", text)
	}

	res, _ = s.handleListLogs(ctx, call(map[string]any{"task_id": "k1", "limit": float64(5)}))
	if text := resultText(t, res); !strings.Contains(text, "1 execution(s)") || !strings.Contains(text, "HTTP 503") {
		t.Fatalf("logs output:\n%s", text)
	}

	task, err := st.GetTask(ctx, "k1")
	if err != nil || task.LastStatus == nil || *task.LastStatus != core.StatusFailure {
		t.Fatalf("task after run: %+v, %v", task, err)
	}
}

func TestSetEnabledAndTick(t *testing.T) {
	s, _ := newTestMCP(t)
	ctx := context.Background()

	res, _ := s.handleTick(ctx, call(nil))
	if text := resultText(t, res); !strings.HasPrefix(text, "processed 1 task(s)") {
		t.Fatalf("tick output: %q", text)
	}

	res, _ = s.handleSetTaskEnabled(ctx, call(map[string]any{"task_id": "k1", "enabled": false}))
	if res.IsError {
		t.Fatalf("set enabled failed: %s", resultText(t, res))
	}
	res, _ = s.handleTick(ctx, call(nil))
	if text := resultText(t, res); text != "processed 0 task(s)" {
		t.Fatalf("tick after disable: %q", text)
	}

	res, _ = s.handleSetTaskEnabled(ctx, call(map[string]any{"task_id": "missing", "enabled": true}))
	if !res.IsError {
		t.Fatal("expected error for missing task")
	}
}
