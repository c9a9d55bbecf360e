package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Recorder persists execution outcomes and advances recurrence state.
type Recorder struct {
	tasks     TaskStore
	logs      LogStore
	settings  SettingsStore
	retention int
	now       func() time.Time
	logger    zerolog.Logger
}

// NewRecorder creates a recorder. retention <= 0 disables log pruning.
// settings may be nil; when set, pruning never drops below the owner's failure threshold.
func NewRecorder(tasks TaskStore, logs LogStore, settings SettingsStore, retention int, logger zerolog.Logger) *Recorder {
	return &Recorder{
		tasks:     tasks,
		logs:      logs,
		settings:  settings,
		retention: retention,
		now:       time.Now,
		logger:    logger,
	}
}

// Record appends the log row and writes the task's run state.
//
// cfg may be nil when the task config could not be parsed; the rule is then left alone.
// Errors are logged here and returned for the tick summary.
func (r *Recorder) Record(ctx context.Context, task *Task, cfg *TaskConfig, result ExecutionResult) error {
	now := r.now().UTC()
	status := StatusOf(result.Success)

	details, err := json.Marshal(result)
	if err != nil {
		details = nil
	}
	entry := &LogEntry{
		ID:             uuid.NewString(),
		TaskID:         task.ID,
		Status:         status,
		ResponseTimeMS: result.ResponseTime.Milliseconds(),
		StatusCode:     result.StatusCode,
		Details:        details,
		ExecutedAt:     now,
	}
	if result.Error != "" {
		msg := result.Error
		entry.ErrorMessage = &msg
	}

	var errs []error
	if err := r.logs.AppendExecutionLog(ctx, entry); err != nil {
		r.logger.Error().Str("task_id", task.ID).Err(err).Msg("append execution log")
		errs = append(errs, fmt.Errorf("append execution log: %w", err))
	}

	state := RunState{LastExecutedAt: now, LastStatus: status}
	if next, ok := r.renewal(task, cfg, result, now); ok {
		encoded, err := next.Encode()
		if err != nil {
			r.logger.Error().Str("task_id", task.ID).Err(err).Msg("encode renewed config")
			errs = append(errs, err)
		} else {
			state.Config = encoded
		}
	}
	if err := r.tasks.UpdateTaskRunState(ctx, task.ID, state); err != nil {
		r.logger.Error().Str("task_id", task.ID).Err(err).Msg("update task run state")
		errs = append(errs, fmt.Errorf("update task run state: %w", err))
	}

	r.prune(ctx, task)
	return errors.Join(errs...)
}

// prune trims old logs, keeping at least as many rows as the failure threshold
// so consecutive failures stay countable.
func (r *Recorder) prune(ctx context.Context, task *Task) {
	if r.retention <= 0 {
		return
	}
	keep := r.retention
	if r.settings != nil {
		settings, err := r.settings.GetSettingsForUser(ctx, task.OwnerID)
		if err != nil {
			r.logger.Warn().Str("task_id", task.ID).Err(err).Msg("load settings for pruning, skipping")
			return
		}
		if settings != nil {
			keep = max(keep, settings.Threshold())
		}
	}
	if err := r.logs.PruneExecutionLogs(ctx, task.ID, keep); err != nil {
		r.logger.Warn().Str("task_id", task.ID).Err(err).Msg("prune execution logs")
	}
}

// renewal returns a copy of cfg with the due date advanced, when auto-renew applies.
func (r *Recorder) renewal(task *Task, cfg *TaskConfig, result ExecutionResult, now time.Time) (*TaskConfig, bool) {
	if !result.Success || cfg == nil || cfg.ExecutionRule == nil || !cfg.ExecutionRule.AutoRenew {
		return nil, false
	}
	rule := *cfg.ExecutionRule
	if now.Before(rule.EndDate) {
		// Fired inside the reminder window: the real due instant has not passed yet.
		r.logger.Debug().Str("task_id", task.ID).Time("due", rule.EndDate).Msg("early execution, due date kept")
		return nil, false
	}
	prev := rule.EndDate
	rule.EndDate = NextDue(prev, rule.Unit, rule.Interval)
	next := *cfg
	next.ExecutionRule = &rule
	r.logger.Info().Str("task_id", task.ID).Time("from", prev).Time("to", rule.EndDate).Msg("due date renewed")
	return &next, true
}
