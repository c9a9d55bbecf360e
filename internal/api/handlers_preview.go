package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"taskbeat/internal/core"
)

const (
	defaultPreviewCount = 5
	maxPreviewCount     = 10
)

// previewRequest describes an unsaved task whose firings should be previewed.
type previewRequest struct {
	OwnerID string          `json:"owner_id"`
	Kind    core.TaskKind   `json:"kind"`
	Config  json.RawMessage `json:"config"`
	Now     string          `json:"now,omitempty"`
	Count   int             `json:"count,omitempty"`
}

type cycleResponse struct {
	DueAt       string  `json:"due_at"`
	WindowStart *string `json:"window_start,omitempty"`
	FirstFireAt *string `json:"first_fire_at,omitempty"`
}

type previewResponse struct {
	Mode          core.PreviewMode `json:"mode"`
	FiresNow      bool             `json:"fires_now"`
	ScheduleTimes []string         `json:"schedule_times,omitempty"`
	Cycles        []cycleResponse  `json:"cycles,omitempty"`
}

// handlePreviewConfig previews a task config before it is saved.
func (s *Server) handlePreviewConfig(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	cfg, err := core.ParseTaskConfig(req.Kind, req.Config)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	s.writePreview(r.Context(), w, strings.TrimSpace(req.OwnerID), cfg, req.Now, req.Count)
}

// handlePreviewTask previews a stored task's upcoming firings.
func (s *Server) handlePreviewTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	cfg, err := core.ParseTaskConfig(task.Kind, task.Config)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_config", err.Error())
		return
	}
	q := r.URL.Query()
	s.writePreview(r.Context(), w, task.OwnerID, cfg, q.Get("now"), parseIntDefault(q.Get("count"), defaultPreviewCount))
}

func (s *Server) writePreview(ctx context.Context, w http.ResponseWriter, ownerID string, cfg *core.TaskConfig, now string, count int) {
	if count <= 0 || count > maxPreviewCount {
		count = defaultPreviewCount
	}
	base := time.Now().In(s.location)
	if now != "" {
		parsed, err := time.Parse(time.RFC3339, now)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "now must be RFC3339")
			return
		}
		base = parsed.In(s.location)
	}

	var settings *core.NotificationSettings
	if ownerID != "" && cfg.ExecutionRule != nil && cfg.ExecutionRule.HasAdvanceWindow() {
		st, err := s.store.GetSettingsForUser(ctx, ownerID)
		if err != nil {
			s.logger.Error().Str("user_id", ownerID).Err(err).Msg("get settings for preview")
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load settings")
			return
		}
		settings = st
	}

	preview, err := core.PreviewTask(cfg, base, count, settings)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, previewToResponse(preview))
}

func previewToResponse(p core.Preview) previewResponse {
	resp := previewResponse{Mode: p.Mode, FiresNow: p.FiresNow}
	for _, t := range p.ScheduleTimes {
		resp.ScheduleTimes = append(resp.ScheduleTimes, t.UTC().Format(time.RFC3339))
	}
	for _, c := range p.Cycles {
		cr := cycleResponse{DueAt: c.DueAt.UTC().Format(time.RFC3339)}
		if c.WindowStart != nil {
			ws := c.WindowStart.UTC().Format(time.RFC3339)
			cr.WindowStart = &ws
		}
		if !c.FirstFireAt.IsZero() {
			ff := c.FirstFireAt.UTC().Format(time.RFC3339)
			cr.FirstFireAt = &ff
		}
		resp.Cycles = append(resp.Cycles, cr)
	}
	return resp
}
