package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"taskbeat/internal/core"
)

type settingsRequest struct {
	FailureThreshold int            `json:"failure_threshold"`
	AllowedTimeSlots []int          `json:"allowed_time_slots"`
	Channels         []core.Channel `json:"channels"`
}

type settingsResponse struct {
	UserID           string         `json:"user_id"`
	FailureThreshold int            `json:"failure_threshold"`
	AllowedTimeSlots []int          `json:"allowed_time_slots"`
	Channels         []core.Channel `json:"channels"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	settings, err := s.store.GetSettingsForUser(r.Context(), userID)
	if err != nil {
		s.logger.Error().Str("user_id", userID).Err(err).Msg("get settings")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load settings")
		return
	}
	if settings == nil {
		writeError(w, http.StatusNotFound, "not_found", "settings not found")
		return
	}
	writeJSON(w, http.StatusOK, settingsToResponse(settings))
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if err := validateSettings(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	settings := &core.NotificationSettings{
		UserID:           userID,
		FailureThreshold: req.FailureThreshold,
		AllowedTimeSlots: req.AllowedTimeSlots,
		Channels:         req.Channels,
	}
	if err := s.store.UpsertSettings(r.Context(), settings); err != nil {
		s.logger.Error().Str("user_id", userID).Err(err).Msg("upsert settings")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to save settings")
		return
	}
	writeJSON(w, http.StatusOK, settingsToResponse(settings))
}

func validateSettings(req settingsRequest) error {
	if req.FailureThreshold < 0 {
		return fmt.Errorf("failure_threshold must be non-negative")
	}
	for _, h := range req.AllowedTimeSlots {
		if h < 0 || h > 23 {
			return fmt.Errorf("allowed_time_slots: hour %d out of range 0-23", h)
		}
	}
	for i, ch := range req.Channels {
		switch ch.Kind {
		case core.ChannelEmail, core.ChannelWebhook, core.ChannelNotifyX, core.ChannelBark, core.ChannelTelegram:
		default:
			return fmt.Errorf("channels[%d]: unknown kind %q", i, ch.Kind)
		}
	}
	return nil
}

func settingsToResponse(settings *core.NotificationSettings) settingsResponse {
	slots := settings.AllowedTimeSlots
	if slots == nil {
		slots = []int{}
	}
	channels := settings.Channels
	if channels == nil {
		channels = []core.Channel{}
	}
	return settingsResponse{
		UserID:           settings.UserID,
		FailureThreshold: settings.Threshold(),
		AllowedTimeSlots: slots,
		Channels:         channels,
	}
}
