package api

import (
	"encoding/json"
	"net/http"
	"time"

	"taskbeat/internal/core"
)

type logResponse struct {
	ID             string          `json:"id"`
	TaskID         string          `json:"task_id"`
	Status         string          `json:"status"`
	ResponseTimeMS int64           `json:"response_time_ms"`
	StatusCode     *int            `json:"status_code,omitempty"`
	Error          *string         `json:"error,omitempty"`
	Details        json.RawMessage `json:"details,omitempty"`
	ExecutedAt     string          `json:"executed_at"`
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}

	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	if limit > 200 {
		limit = 200
	}
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
	entries, err := s.store.ListLogs(r.Context(), task.ID, limit, offset)
	if err != nil {
		s.logger.Error().Str("task_id", task.ID).Err(err).Msg("list logs")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list logs")
		return
	}

	resp := make([]logResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, logToResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func logToResponse(e *core.LogEntry) logResponse {
	return logResponse{
		ID:             e.ID,
		TaskID:         e.TaskID,
		Status:         string(e.Status),
		ResponseTimeMS: e.ResponseTimeMS,
		StatusCode:     e.StatusCode,
		Error:          e.ErrorMessage,
		Details:        e.Details,
		ExecutedAt:     e.ExecutedAt.UTC().Format(time.RFC3339Nano),
	}
}
