package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"taskbeat/internal/core"
	"taskbeat/internal/store"
)

// MCPServer exposes task inspection and manual execution as MCP tools.
type MCPServer struct {
	store     *store.Store
	scheduler *core.Scheduler
	logger    zerolog.Logger
	location  *time.Location
	srv       *server.MCPServer
}

// NewMCPServer creates a new MCP server instance with all tools registered.
func NewMCPServer(store *store.Store, scheduler *core.Scheduler, logger zerolog.Logger, location *time.Location, version string) *MCPServer {
	if location == nil {
		location = time.Local
	}
	s := &MCPServer{
		store:     store,
		scheduler: scheduler,
		logger:    logger,
		location:  location,
	}
	s.srv = server.NewMCPServer(
		"taskbeat",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	s.registerTools(s.srv)
	return s
}

// Run serves the MCP protocol on stdio until stdin closes.
func (s *MCPServer) Run() error {
	s.logger.Info().Msg("MCP server starting on stdio")
	return server.ServeStdio(s.srv)
}

// HTTPHandler serves the same tools over streamable HTTP.
func (s *MCPServer) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.srv)
}

func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("taskbeat_list_tasks",
		mcp.WithDescription("List scheduled tasks, optionally for a single owner"),
		mcp.WithString("owner_id",
			mcp.Description("Only list tasks owned by this user"),
		),
	), s.handleListTasks)

	mcpServer.AddTool(mcp.NewTool("taskbeat_get_task",
		mcp.WithDescription("Show a task with its config and last run state"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleGetTask)

	mcpServer.AddTool(mcp.NewTool("taskbeat_set_task_enabled",
		mcp.WithDescription("Enable or disable a task"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
		mcp.WithBoolean("enabled",
			mcp.Required(),
			mcp.Description("Whether the scheduler should consider the task"),
		),
	), s.handleSetTaskEnabled)

	mcpServer.AddTool(mcp.NewTool("taskbeat_run_task",
		mcp.WithDescription("Execute a task now, ignoring its due date, and report the result"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleRunTask)

	mcpServer.AddTool(mcp.NewTool("taskbeat_list_logs",
		mcp.WithDescription("Show the execution history of a task, newest first"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of entries, default 20"),
			mcp.Min(1),
			mcp.Max(100),
		),
	), s.handleListLogs)

	mcpServer.AddTool(mcp.NewTool("taskbeat_tick",
		mcp.WithDescription("Run one scheduler pass over all enabled tasks"),
	), s.handleTick)

	s.logger.Debug().Int("count", 6).Msg("MCP tools registered")
}

func (s *MCPServer) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner := strings.TrimSpace(mcp.ParseString(request, "owner_id", ""))
	tasks, err := s.store.ListTasks(ctx, owner)
	if err != nil {
		s.logger.Error().Err(err).Msg("list tasks")
		return mcp.NewToolResultError(fmt.Sprintf("list tasks failed: %v", err)), nil
	}
	if len(tasks) == 0 {
		return mcp.NewToolResultText("no tasks found"), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d task(s):\n\n", len(tasks))
	for _, t := range tasks {
		state := "on"
		if !t.Enabled {
			state = "off"
		}
		fmt.Fprintf(&sb, "[%s] %s  %s (%s)\n", state, t.ID, t.Name, t.Kind)
		fmt.Fprintf(&sb, "  owner: %s\n", t.OwnerID)
		if due := s.nextDue(t); due != "" {
			fmt.Fprintf(&sb, "  next due: %s\n", due)
		}
		fmt.Fprintf(&sb, "  last run: %s\n\n", s.lastRun(t))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *MCPServer) handleGetTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, errResult := s.loadTask(ctx, request)
	if errResult != nil {
		return errResult, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Task ID: %s\n", task.ID)
	fmt.Fprintf(&sb, "Name: %s\n", task.Name)
	fmt.Fprintf(&sb, "Kind: %s\n", task.Kind)
	fmt.Fprintf(&sb, "Owner: %s\n", task.OwnerID)
	fmt.Fprintf(&sb, "Enabled: %t\n", task.Enabled)
	fmt.Fprintf(&sb, "Config: %s\n", string(task.Config))
	if due := s.nextDue(task); due != "" {
		fmt.Fprintf(&sb, "Next due: %s\n", due)
	}
	fmt.Fprintf(&sb, "Last run: %s\n", s.lastRun(task))
	fmt.Fprintf(&sb, "Created: %s\n", formatTime(&task.CreatedAt, s.location))
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *MCPServer) handleSetTaskEnabled(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	enabled := mcp.ParseBoolean(request, "enabled", true)
	if err := s.store.SetTaskEnabled(ctx, taskID, enabled); err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("update task failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("task %s enabled=%t", taskID, enabled)), nil
}

func (s *MCPServer) handleRunTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, errResult := s.loadTask(ctx, request)
	if errResult != nil {
		return errResult, nil
	}
	result, err := s.scheduler.RunTaskNow(ctx, task.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run task failed: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Task %s executed\n", task.ID)
	fmt.Fprintf(&sb, "Status: %s\n", core.StatusOf(result.Success))
	fmt.Fprintf(&sb, "Response time: %dms\n", result.ResponseTime.Milliseconds())
	if result.StatusCode != nil {
		fmt.Fprintf(&sb, "HTTP status: %d\n", *result.StatusCode)
	}
	if result.Error != "" {
		fmt.Fprintf(&sb, "Error: %s\n", result.Error)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *MCPServer) handleListLogs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	limit := int(mcp.ParseFloat64(request, "limit", 20))

	entries, err := s.store.ListLogs(ctx, taskID, limit, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list logs failed: %v", err)), nil
	}
	if len(entries) == 0 {
		return mcp.NewToolResultText("no executions recorded for this task"), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d execution(s):\n\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(&sb, "[%s] %s  %dms", e.Status, formatTime(&e.ExecutedAt, s.location), e.ResponseTimeMS)
		if e.StatusCode != nil {
			fmt.Fprintf(&sb, "  HTTP %d", *e.StatusCode)
		}
		if e.ErrorMessage != nil {
			fmt.Fprintf(&sb, "  %s", truncateString(*e.ErrorMessage, 120))
		}
		sb.WriteString("\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *MCPServer) handleTick(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summary, err := s.scheduler.Tick(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("tick failed: %v", err)), nil
	}
	text := fmt.Sprintf("processed %d task(s)", summary.Processed)
	if len(summary.Errors) > 0 {
		text += "\nerrors:\n  " + strings.Join(summary.Errors, "\n  ")
	}
	return mcp.NewToolResultText(text), nil
}

func (s *MCPServer) loadTask(ctx context.Context, request mcp.CallToolRequest) (*core.Task, *mcp.CallToolResult) {
	taskID := mcp.ParseString(request, "task_id", "")
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return nil, mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID))
		}
		return nil, mcp.NewToolResultError(fmt.Sprintf("load task failed: %v", err))
	}
	return task, nil
}

func (s *MCPServer) nextDue(task *core.Task) string {
	cfg, err := core.ParseTaskConfig(task.Kind, task.Config)
	if err != nil || cfg.ExecutionRule == nil {
		return ""
	}
	return formatTime(&cfg.ExecutionRule.EndDate, s.location)
}

func (s *MCPServer) lastRun(task *core.Task) string {
	if task.LastExecutedAt == nil {
		return "never"
	}
	status := "-"
	if task.LastStatus != nil {
		status = string(*task.LastStatus)
	}
	return fmt.Sprintf("%s (%s)", formatTime(task.LastExecutedAt, s.location), status)
}

func formatTime(t *time.Time, loc *time.Location) string {
	if t == nil {
		return "-"
	}
	return t.In(loc).Format("2006-01-02 15:04:05")
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
