package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ChannelOutcome is the result of sending through a single channel.
type ChannelOutcome struct {
	Kind  ChannelKind `json:"kind"`
	Error string      `json:"error,omitempty"`
}

// DispatchResult aggregates per-channel outcomes. Success means at least one channel delivered.
type DispatchResult struct {
	Success  bool             `json:"success"`
	Error    string           `json:"error,omitempty"`
	Outcomes []ChannelOutcome `json:"outcomes,omitempty"`
}

// Dispatcher delivers a message through a set of channels.
type Dispatcher interface {
	Dispatch(ctx context.Context, channels []Channel, title, body string) DispatchResult
}

// NotificationExecutor renders a reminder and hands it to the dispatcher.
type NotificationExecutor struct {
	settings   SettingsStore
	dispatcher Dispatcher
	location   *time.Location
	now        func() time.Time
	logger     zerolog.Logger
}

// NewNotificationExecutor creates a notification executor.
func NewNotificationExecutor(settings SettingsStore, dispatcher Dispatcher, location *time.Location, logger zerolog.Logger) *NotificationExecutor {
	if location == nil {
		location = time.Local
	}
	return &NotificationExecutor{
		settings:   settings,
		dispatcher: dispatcher,
		location:   location,
		now:        time.Now,
		logger:     logger,
	}
}

// Run sends the rendered message through the owner's available channels.
func (e *NotificationExecutor) Run(ctx context.Context, task *Task, cfg *TaskConfig) (result ExecutionResult) {
	startedAt := time.Now()
	finish := func(success bool, errMsg string) ExecutionResult {
		return ExecutionResult{
			Success:      success,
			ResponseTime: time.Since(startedAt),
			Error:        errMsg,
			Timestamp:    e.now().UTC(),
		}
	}
	defer func() {
		if r := recover(); r != nil {
			result = finish(false, fmt.Sprintf("notification panic: %v", r))
		}
	}()

	settings, err := e.settings.GetSettingsForUser(ctx, task.OwnerID)
	if err != nil {
		return finish(false, fmt.Sprintf("load notification settings: %v", err))
	}
	if settings == nil {
		return finish(false, fmt.Sprintf("notification settings not found for user %s", task.OwnerID))
	}
	channels := settings.AvailableChannels()
	if len(channels) == 0 {
		return finish(false, "no notification channel configured")
	}

	title, body := RenderNotification(task, cfg, e.now(), e.location)
	res := e.dispatcher.Dispatch(ctx, channels, title, body)
	if !res.Success {
		e.logger.Debug().Str("task_id", task.ID).Str("err", res.Error).Msg("notification dispatch failed")
	}
	return finish(res.Success, res.Error)
}

// RenderNotification builds the title and body for a notification task.
// With a recurrence rule the body carries the due status and a rule summary.
func RenderNotification(task *Task, cfg *TaskConfig, now time.Time, loc *time.Location) (string, string) {
	title := strings.TrimSpace(cfg.Title)
	if title == "" {
		title = task.Name
	}
	rule := cfg.ExecutionRule
	if rule == nil {
		return title, cfg.Message
	}

	var sb strings.Builder
	sb.WriteString(cfg.Message)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "Due: %s (%s)\n", rule.EndDate.In(loc).Format("2006-01-02"), DueStatus(rule.EndDate, now, loc))
	fmt.Fprintf(&sb, "Recurrence: every %d %s", rule.Interval, plural(rule.Interval, string(rule.Unit)))
	if rule.AutoRenew {
		sb.WriteString(", auto-renew on")
	} else {
		sb.WriteString(", auto-renew off")
	}
	if rule.HasAdvanceWindow() {
		fmt.Fprintf(&sb, ", reminder %d %s ahead", rule.ReminderAdvanceValue,
			plural(rule.ReminderAdvanceValue, string(rule.ReminderAdvanceUnit)))
	}
	return title, sb.String()
}

// DueStatus describes the calendar-day distance between now and due.
func DueStatus(due, now time.Time, loc *time.Location) string {
	days := CalendarDaysBetween(now, due, loc)
	switch {
	case days == 0:
		return "due today"
	case days > 0:
		return fmt.Sprintf("due in %d %s", days, plural(days, "day"))
	default:
		return fmt.Sprintf("overdue by %d %s", -days, plural(-days, "day"))
	}
}

// CalendarDaysBetween counts calendar days from a to b in loc, ignoring the time of day.
func CalendarDaysBetween(a, b time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	a, b = a.In(loc), b.In(loc)
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

func plural(n int, unit string) string {
	if n == 1 {
		return unit
	}
	return unit + "s"
}
