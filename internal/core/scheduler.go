package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ErrTaskBusy is returned when another execution of the same task holds its lock.
var ErrTaskBusy = errors.New("task is already running")

// TaskStore is the task persistence used by the engine.
type TaskStore interface {
	ListEnabledTasks(ctx context.Context) ([]*Task, error)
	GetTask(ctx context.Context, id string) (*Task, error)
	UpdateTaskRunState(ctx context.Context, id string, state RunState) error
}

// LogStore is the append-only execution log.
type LogStore interface {
	AppendExecutionLog(ctx context.Context, entry *LogEntry) error
	// RecentLogsForTask returns up to limit entries, newest first.
	RecentLogsForTask(ctx context.Context, taskID string, limit int) ([]*LogEntry, error)
	PruneExecutionLogs(ctx context.Context, taskID string, keep int) error
}

// SettingsStore returns nil settings (and no error) for users without any.
type SettingsStore interface {
	GetSettingsForUser(ctx context.Context, userID string) (*NotificationSettings, error)
}

// Locker serializes work on a key. ok is false when the key is already held.
type Locker interface {
	TryLock(ctx context.Context, key string) (unlock func(), ok bool, err error)
}

// TickSummary reports one scheduler pass.
type TickSummary struct {
	Processed int      `json:"processed"`
	Errors    []string `json:"errors"`
}

// SchedulerConfig tunes the tick loop.
type SchedulerConfig struct {
	TickSpec string
	Workers  int
	Location *time.Location
}

// Scheduler evaluates enabled tasks each tick and runs the due ones.
type Scheduler struct {
	tasks     TaskStore
	settings  SettingsStore
	executors map[TaskKind]Executor
	recorder  *Recorder
	alerter   *Alerter
	locker    Locker
	logger    zerolog.Logger
	location  *time.Location
	workers   int
	now       func() time.Time

	cron     *cron.Cron
	schedule cron.Schedule

	ctx context.Context
}

// NewScheduler constructs a scheduler with the given dependencies.
func NewScheduler(tasks TaskStore, settings SettingsStore, executors map[TaskKind]Executor, recorder *Recorder, alerter *Alerter, locker Locker, cfg SchedulerConfig, logger zerolog.Logger) (*Scheduler, error) {
	location := cfg.Location
	if location == nil {
		location = time.Local
	}
	spec := cfg.TickSpec
	if spec == "" {
		spec = "* * * * *"
	}
	schedule, err := ParseCron(spec)
	if err != nil {
		return nil, fmt.Errorf("tick spec: %w", err)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	if locker == nil {
		return nil, errors.New("scheduler requires a locker")
	}
	return &Scheduler{
		tasks:     tasks,
		settings:  settings,
		executors: executors,
		recorder:  recorder,
		alerter:   alerter,
		locker:    locker,
		logger:    logger,
		location:  location,
		workers:   workers,
		now:       time.Now,
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLocation(location),
		),
		schedule: schedule,
	}, nil
}

// Location returns the zone used for due-ness checks.
func (s *Scheduler) Location() *time.Location {
	return s.location
}

// Start begins the tick loop. ctx is used for every tick run by the loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Schedule(s.schedule, cron.FuncJob(s.runTick))
	s.cron.Start()
}

// Stop stops the loop and returns a context that is done once running ticks finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runTick() {
	started := time.Now()
	summary, err := s.Tick(s.ctxOrBackground())
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduler tick")
		return
	}
	ev := s.logger.Info()
	if len(summary.Errors) > 0 {
		ev = s.logger.Warn().Strs("errors", summary.Errors)
	}
	ev.Int("processed", summary.Processed).Dur("took", time.Since(started)).Msg("tick complete")
}

// Tick loads enabled tasks, runs the due ones and returns a summary.
// A failure in one task never stops the others.
func (s *Scheduler) Tick(ctx context.Context) (TickSummary, error) {
	summary := TickSummary{Errors: []string{}}
	tasks, err := s.tasks.ListEnabledTasks(ctx)
	if err != nil {
		return summary, fmt.Errorf("list enabled tasks: %w", err)
	}
	now := s.now().In(s.location)

	var mu sync.Mutex
	var wg sync.WaitGroup
	jobs := make(chan string)
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				ran, _, errs := s.process(ctx, id, now, true)
				mu.Lock()
				if ran {
					summary.Processed++
				}
				summary.Errors = append(summary.Errors, errs...)
				mu.Unlock()
			}
		}()
	}
	for _, t := range tasks {
		if !t.Enabled {
			continue
		}
		jobs <- t.ID
	}
	close(jobs)
	wg.Wait()

	sort.Strings(summary.Errors)
	return summary, nil
}

// RunTaskNow executes a task immediately, bypassing the due check.
func (s *Scheduler) RunTaskNow(ctx context.Context, taskID string) (*ExecutionResult, error) {
	ran, result, errs := s.process(ctx, taskID, s.now().In(s.location), false)
	if !ran {
		if len(errs) > 0 {
			return nil, errors.New(errs[0])
		}
		return nil, ErrTaskBusy
	}
	return result, nil
}

// process runs Evaluate -> Execute -> Record -> Alert for one task under its lock.
func (s *Scheduler) process(ctx context.Context, taskID string, now time.Time, checkDue bool) (bool, *ExecutionResult, []string) {
	unlock, ok, err := s.locker.TryLock(ctx, "task:"+taskID)
	if err != nil {
		return false, nil, []string{fmt.Sprintf("task %s: lock: %v", taskID, err)}
	}
	if !ok {
		s.logger.Debug().Str("task_id", taskID).Msg("skipping task, another execution holds its lock")
		return false, nil, nil
	}
	defer unlock()

	// Re-read under the lock so a concurrent tick's renewal is visible.
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return false, nil, []string{fmt.Sprintf("task %s: load: %v", taskID, err)}
	}
	if checkDue && !task.Enabled {
		return false, nil, nil
	}

	var errs []string
	var result ExecutionResult
	cfg, cfgErr := ParseTaskConfig(task.Kind, task.Config)
	if cfgErr != nil {
		errs = append(errs, fmt.Sprintf("task %s: invalid config: %v", task.ID, cfgErr))
		result = ExecutionResult{
			Success:   false,
			Error:     fmt.Sprintf("invalid task config: %v", cfgErr),
			Timestamp: time.Now().UTC(),
		}
		cfg = nil
	} else {
		if checkDue && !s.isDue(ctx, task, cfg, now) {
			return false, nil, nil
		}
		var execErr string
		result, execErr = s.execute(ctx, task, cfg)
		if execErr != "" {
			errs = append(errs, fmt.Sprintf("task %s: %s", task.ID, execErr))
		}
	}

	if err := s.recorder.Record(ctx, task, cfg, result); err != nil {
		errs = append(errs, fmt.Sprintf("task %s: record: %v", task.ID, err))
	}
	s.alerter.AfterExecution(ctx, task, result)

	s.logger.Debug().
		Str("task_id", task.ID).
		Str("kind", string(task.Kind)).
		Bool("success", result.Success).
		Dur("elapsed", result.ResponseTime).
		Msg("task executed")
	return true, &result, errs
}

func (s *Scheduler) isDue(ctx context.Context, task *Task, cfg *TaskConfig, now time.Time) bool {
	var settings *NotificationSettings
	if cfg.ExecutionRule != nil && cfg.ExecutionRule.HasAdvanceWindow() {
		st, err := s.settings.GetSettingsForUser(ctx, task.OwnerID)
		if err != nil {
			s.logger.Warn().Str("task_id", task.ID).Err(err).Msg("load settings for due check")
		}
		settings = st
	}
	return IsDue(task, cfg, now, settings)
}

// execute selects the executor by kind. The second return value is set when
// the executor itself misbehaved (missing or panicking).
func (s *Scheduler) execute(ctx context.Context, task *Task, cfg *TaskConfig) (result ExecutionResult, execErr string) {
	exec, ok := s.executors[task.Kind]
	if !ok {
		msg := fmt.Sprintf("no executor for kind %q", task.Kind)
		return ExecutionResult{Error: msg, Timestamp: time.Now().UTC()}, msg
	}
	defer func() {
		if r := recover(); r != nil {
			execErr = fmt.Sprintf("executor panic: %v", r)
			result = ExecutionResult{Error: execErr, Timestamp: time.Now().UTC()}
		}
	}()
	return exec.Run(ctx, task, cfg), ""
}

func (s *Scheduler) ctxOrBackground() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}
