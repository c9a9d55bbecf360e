package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// AlertKind names which alert, if any, an execution triggered.
type AlertKind string

const (
	AlertNone     AlertKind = "none"
	AlertFailure  AlertKind = "failure"
	AlertRecovery AlertKind = "recovery"
)

// AlertOutcome reports what the alerter decided and whether delivery succeeded.
type AlertOutcome struct {
	Kind                AlertKind
	Sent                bool
	ConsecutiveFailures int
}

// Alerter raises failure and recovery alerts from execution history.
type Alerter struct {
	logs       LogStore
	settings   SettingsStore
	dispatcher Dispatcher
	location   *time.Location
	logger     zerolog.Logger
}

// NewAlerter creates an alerter.
func NewAlerter(logs LogStore, settings SettingsStore, dispatcher Dispatcher, location *time.Location, logger zerolog.Logger) *Alerter {
	if location == nil {
		location = time.Local
	}
	return &Alerter{
		logs:       logs,
		settings:   settings,
		dispatcher: dispatcher,
		location:   location,
		logger:     logger,
	}
}

// AfterExecution runs once per execution, after recording. It never fails the caller.
func (a *Alerter) AfterExecution(ctx context.Context, task *Task, result ExecutionResult) (out AlertOutcome) {
	out.Kind = AlertNone
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().Str("task_id", task.ID).Interface("panic", r).Msg("alerter panic")
		}
	}()

	if result.Success {
		return a.checkRecovery(ctx, task, result)
	}
	return a.checkFailure(ctx, task, result)
}

func (a *Alerter) checkFailure(ctx context.Context, task *Task, result ExecutionResult) AlertOutcome {
	out := AlertOutcome{Kind: AlertNone}
	settings, err := a.settings.GetSettingsForUser(ctx, task.OwnerID)
	if err != nil {
		a.logger.Error().Str("task_id", task.ID).Err(err).Msg("load settings for failure alert")
		return out
	}
	if settings == nil {
		return out
	}
	threshold := settings.Threshold()
	entries, err := a.logs.RecentLogsForTask(ctx, task.ID, threshold)
	if err != nil {
		a.logger.Error().Str("task_id", task.ID).Err(err).Msg("load recent logs for failure alert")
		return out
	}
	out.ConsecutiveFailures = ConsecutiveFailures(entries)
	if out.ConsecutiveFailures < threshold {
		return out
	}
	channels := settings.AvailableChannels()
	if len(channels) == 0 {
		return out
	}

	out.Kind = AlertFailure
	title := fmt.Sprintf("[taskbeat] task failing: %s", task.Name)
	res := a.dispatcher.Dispatch(ctx, channels, title, a.failureBody(task, result, out.ConsecutiveFailures))
	out.Sent = res.Success
	a.logResult(task, out, res)
	return out
}

func (a *Alerter) checkRecovery(ctx context.Context, task *Task, result ExecutionResult) AlertOutcome {
	out := AlertOutcome{Kind: AlertNone}
	entries, err := a.logs.RecentLogsForTask(ctx, task.ID, 2)
	if err != nil {
		a.logger.Error().Str("task_id", task.ID).Err(err).Msg("load recent logs for recovery alert")
		return out
	}
	if !IsRecovery(entries) {
		return out
	}
	settings, err := a.settings.GetSettingsForUser(ctx, task.OwnerID)
	if err != nil {
		a.logger.Error().Str("task_id", task.ID).Err(err).Msg("load settings for recovery alert")
		return out
	}
	channels := settings.AvailableChannels()
	if len(channels) == 0 {
		return out
	}

	out.Kind = AlertRecovery
	title := fmt.Sprintf("[taskbeat] task recovered: %s", task.Name)
	body := fmt.Sprintf("Task %q (%s) succeeded again at %s.",
		task.Name, task.Kind, result.Timestamp.In(a.location).Format(time.RFC3339))
	res := a.dispatcher.Dispatch(ctx, channels, title, body)
	out.Sent = res.Success
	a.logResult(task, out, res)
	return out
}

func (a *Alerter) failureBody(task *Task, result ExecutionResult, failures int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task %q (%s) failed %d time(s) in a row.\n", task.Name, task.Kind, failures)
	if result.StatusCode != nil {
		fmt.Fprintf(&sb, "Status code: %d\n", *result.StatusCode)
	}
	if result.Error != "" {
		fmt.Fprintf(&sb, "Error: %s\n", result.Error)
	}
	fmt.Fprintf(&sb, "Time: %s", result.Timestamp.In(a.location).Format(time.RFC3339))
	return sb.String()
}

func (a *Alerter) logResult(task *Task, out AlertOutcome, res DispatchResult) {
	if res.Success {
		a.logger.Info().Str("task_id", task.ID).Str("alert", string(out.Kind)).Msg("alert sent")
		return
	}
	a.logger.Warn().Str("task_id", task.ID).Str("alert", string(out.Kind)).Str("err", res.Error).Msg("alert delivery failed on all channels")
}

// ConsecutiveFailures counts trailing failures in newest-first entries.
func ConsecutiveFailures(entries []*LogEntry) int {
	count := 0
	for _, e := range entries {
		if e.Status != StatusFailure {
			break
		}
		count++
	}
	return count
}

// IsRecovery reports a failure -> success transition in the two newest entries.
func IsRecovery(entries []*LogEntry) bool {
	if len(entries) < 2 {
		return false
	}
	return entries[0].Status == StatusSuccess && entries[1].Status == StatusFailure
}
