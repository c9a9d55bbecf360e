package store

import (
	"context"
	"database/sql"
	"fmt"

	"taskbeat/internal/core"
)

const logColumns = `id, task_id, status, response_time_ms, status_code, error_message, details, executed_at`

// AppendExecutionLog inserts an immutable log row.
func (s *Store) AppendExecutionLog(ctx context.Context, entry *core.LogEntry) error {
	var details any
	if len(entry.Details) > 0 {
		details = string(entry.Details)
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO execution_logs (`+logColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.TaskID, string(entry.Status), entry.ResponseTimeMS, nullableInt(entry.StatusCode),
		nullableString(entry.ErrorMessage), details, formatTime(entry.ExecutedAt))
	if err != nil {
		return fmt.Errorf("insert execution log: %w", err)
	}
	return nil
}

// RecentLogsForTask returns up to limit entries for a task, newest first.
// Ordering follows insertion, so rows written within the same instant keep their order.
func (s *Store) RecentLogsForTask(ctx context.Context, taskID string, limit int) ([]*core.LogEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	return s.queryLogs(ctx, `
		SELECT `+logColumns+`
		FROM execution_logs
		WHERE task_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, taskID, limit)
}

// ListLogs pages through a task's history, newest first.
func (s *Store) ListLogs(ctx context.Context, taskID string, limit, offset int) ([]*core.LogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.queryLogs(ctx, `
		SELECT `+logColumns+`
		FROM execution_logs
		WHERE task_id = ?
		ORDER BY seq DESC
		LIMIT ? OFFSET ?
	`, taskID, limit, offset)
}

// PruneExecutionLogs keeps the newest keep rows for a task and removes the rest.
func (s *Store) PruneExecutionLogs(ctx context.Context, taskID string, keep int) error {
	if keep <= 0 {
		return nil
	}
	_, err := s.DB.ExecContext(ctx, `
		DELETE FROM execution_logs
		WHERE task_id = ? AND seq NOT IN (
			SELECT seq FROM execution_logs
			WHERE task_id = ?
			ORDER BY seq DESC
			LIMIT ?
		)
	`, taskID, taskID, keep)
	if err != nil {
		return fmt.Errorf("prune execution logs: %w", err)
	}
	return nil
}

func (s *Store) queryLogs(ctx context.Context, query string, args ...any) ([]*core.LogEntry, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query execution logs: %w", err)
	}
	defer rows.Close()
	var entries []*core.LogEntry
	for rows.Next() {
		entry, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func scanLog(scanner interface {
	Scan(dest ...any) error
}) (*core.LogEntry, error) {
	var (
		id         string
		taskID     string
		status     string
		respTime   int64
		statusCode sql.NullInt64
		errMsg     sql.NullString
		details    sql.NullString
		executedAt string
	)
	if err := scanner.Scan(&id, &taskID, &status, &respTime, &statusCode, &errMsg, &details, &executedAt); err != nil {
		return nil, fmt.Errorf("scan execution log: %w", err)
	}
	entry := &core.LogEntry{
		ID:             id,
		TaskID:         taskID,
		Status:         core.ExecutionStatus(status),
		ResponseTimeMS: respTime,
		ExecutedAt:     parseTime(executedAt),
	}
	if statusCode.Valid {
		val := int(statusCode.Int64)
		entry.StatusCode = &val
	}
	if errMsg.Valid {
		entry.ErrorMessage = &errMsg.String
	}
	if details.Valid {
		entry.Details = []byte(details.String)
	}
	return entry, nil
}
