package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"taskbeat/internal/core"
	"taskbeat/internal/store"
)

type createTaskRequest struct {
	OwnerID string          `json:"owner_id"`
	Name    string          `json:"name"`
	Kind    core.TaskKind   `json:"kind"`
	Enabled *bool           `json:"enabled"`
	Config  json.RawMessage `json:"config"`
}

type updateTaskRequest struct {
	Enabled *bool `json:"enabled"`
}

type taskResponse struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"owner_id"`
	Name           string          `json:"name"`
	Kind           string          `json:"kind"`
	Enabled        bool            `json:"enabled"`
	Config         json.RawMessage `json:"config"`
	NextDueAt      *string         `json:"next_due_at,omitempty"`
	LastExecutedAt *string         `json:"last_executed_at,omitempty"`
	LastStatus     *string         `json:"last_status,omitempty"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
}

type runResponse struct {
	TaskID string               `json:"task_id"`
	Result core.ExecutionResult `json:"result"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.OwnerID = strings.TrimSpace(req.OwnerID)
	req.Name = strings.TrimSpace(req.Name)
	if req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "owner_id is required")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "name is required")
		return
	}
	cfg, err := core.ParseTaskConfig(req.Kind, req.Config)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_config", err.Error())
		return
	}
	encoded, err := cfg.Encode()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_config", err.Error())
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	task := &core.Task{
		ID:      uuid.NewString(),
		OwnerID: req.OwnerID,
		Name:    req.Name,
		Kind:    req.Kind,
		Enabled: enabled,
		Config:  encoded,
	}
	if err := s.store.InsertTask(r.Context(), task); err != nil {
		s.logger.Error().Err(err).Msg("insert task")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to insert task")
		return
	}
	s.logger.Info().Str("task_id", task.ID).Str("kind", string(task.Kind)).Msg("task created")
	writeJSON(w, http.StatusCreated, taskToResponse(task))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.URL.Query().Get("owner_id"))
	tasks, err := s.store.ListTasks(r.Context(), owner)
	if err != nil {
		s.logger.Error().Err(err).Msg("list tasks")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list tasks")
		return
	}
	res := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		res = append(res, taskToResponse(t))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

// handleUpdateTask toggles a task on or off. Config edits go through delete and create.
func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "enabled is required")
		return
	}
	if err := s.store.SetTaskEnabled(r.Context(), taskID, *req.Enabled); err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		s.logger.Error().Str("task_id", taskID).Err(err).Msg("update task")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update task")
		return
	}
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if err := s.store.DeleteTask(r.Context(), taskID); err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
		} else {
			s.logger.Error().Str("task_id", taskID).Err(err).Msg("delete task")
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete task")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRunTask executes a task now, ignoring its due date, and returns the result.
func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	result, err := s.scheduler.RunTaskNow(r.Context(), task.ID)
	if err != nil {
		if errors.Is(err, core.ErrTaskBusy) {
			writeError(w, http.StatusConflict, "conflict", "task is already running")
			return
		}
		s.logger.Error().Str("task_id", task.ID).Err(err).Msg("run task now")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to run task")
		return
	}
	writeJSON(w, http.StatusOK, runResponse{TaskID: task.ID, Result: *result})
}

func (s *Server) loadTask(w http.ResponseWriter, r *http.Request) (*core.Task, bool) {
	taskID := chi.URLParam(r, "taskID")
	task, err := s.store.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
		} else {
			s.logger.Error().Str("task_id", taskID).Err(err).Msg("get task")
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load task")
		}
		return nil, false
	}
	return task, true
}

func taskToResponse(task *core.Task) taskResponse {
	res := taskResponse{
		ID:        task.ID,
		OwnerID:   task.OwnerID,
		Name:      task.Name,
		Kind:      string(task.Kind),
		Enabled:   task.Enabled,
		Config:    task.Config,
		CreatedAt: task.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: task.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if task.LastExecutedAt != nil {
		formatted := task.LastExecutedAt.UTC().Format(time.RFC3339)
		res.LastExecutedAt = &formatted
	}
	if task.LastStatus != nil {
		status := string(*task.LastStatus)
		res.LastStatus = &status
	}
	if cfg, err := core.ParseTaskConfig(task.Kind, task.Config); err == nil && cfg.ExecutionRule != nil {
		formatted := cfg.ExecutionRule.EndDate.UTC().Format(time.RFC3339)
		res.NextDueAt = &formatted
	}
	return res
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}
