package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"taskbeat/internal/core"
)

var ErrTaskNotFound = errors.New("task not found")

var (
	_ core.TaskStore     = (*Store)(nil)
	_ core.LogStore      = (*Store)(nil)
	_ core.SettingsStore = (*Store)(nil)
)

const taskColumns = `id, owner_id, name, kind, enabled, config, last_executed_at, last_status, created_at, updated_at`

func (s *Store) InsertTask(ctx context.Context, task *core.Task) error {
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	if len(task.Config) == 0 {
		task.Config = []byte("{}")
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.OwnerID, task.Name, task.Kind, boolToInt(task.Enabled), string(task.Config),
		nullableTime(task.LastExecutedAt), nullableStatus(task.LastStatus),
		formatTime(task.CreatedAt), formatTime(task.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*core.Task, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

// ListTasks returns tasks newest first. An empty ownerID lists every owner.
func (s *Store) ListTasks(ctx context.Context, ownerID string) ([]*core.Task, error) {
	if ownerID != "" {
		return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	}
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC`)
}

func (s *Store) ListEnabledTasks(ctx context.Context) ([]*core.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE enabled = 1 ORDER BY created_at`)
}

func (s *Store) SetTaskEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE tasks
		SET enabled = ?, updated_at = ?
		WHERE id = ?
	`, boolToInt(enabled), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update task enabled: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task rows: %w", err)
	}
	if rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// UpdateTaskRunState writes the last-run projection, and the renewed config
// when one is given, in a single statement.
func (s *Store) UpdateTaskRunState(ctx context.Context, id string, state core.RunState) error {
	var config any
	if state.Config != nil {
		config = string(state.Config)
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE tasks
		SET last_executed_at = ?, last_status = ?, config = COALESCE(?, config), updated_at = ?
		WHERE id = ?
	`, formatTime(state.LastExecutedAt), string(state.LastStatus), config, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update task run state: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task rows: %w", err)
	}
	if rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]*core.Task, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()
	var tasks []*core.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func scanTask(scanner interface {
	Scan(dest ...any) error
}) (*core.Task, error) {
	var (
		id         string
		ownerID    string
		name       string
		kind       string
		enabled    int
		config     string
		lastExec   sql.NullString
		lastStatus sql.NullString
		createdAt  string
		updatedAt  string
	)
	if err := scanner.Scan(&id, &ownerID, &name, &kind, &enabled, &config, &lastExec, &lastStatus, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	task := &core.Task{
		ID:        id,
		OwnerID:   ownerID,
		Name:      name,
		Kind:      core.TaskKind(kind),
		Enabled:   enabled != 0,
		Config:    []byte(config),
		CreatedAt: parseTime(createdAt),
		UpdatedAt: parseTime(updatedAt),
	}
	if lastExec.Valid {
		t := parseTime(lastExec.String)
		task.LastExecutedAt = &t
	}
	if lastStatus.Valid {
		st := core.ExecutionStatus(lastStatus.String)
		task.LastStatus = &st
	}
	return task, nil
}

func nullableStatus(value *core.ExecutionStatus) any {
	if value == nil {
		return nil
	}
	return string(*value)
}
