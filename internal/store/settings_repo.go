package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"taskbeat/internal/core"
)

var ErrSettingsNotFound = errors.New("notification settings not found")

// GetSettingsForUser returns nil settings and no error when the user has none.
func (s *Store) GetSettingsForUser(ctx context.Context, userID string) (*core.NotificationSettings, error) {
	var (
		threshold int
		slotsJSON string
		chansJSON string
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT failure_threshold, allowed_time_slots, channels
		FROM notification_settings WHERE user_id = ?
	`, userID).Scan(&threshold, &slotsJSON, &chansJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query notification settings: %w", err)
	}
	settings := &core.NotificationSettings{UserID: userID, FailureThreshold: threshold}
	if err := json.Unmarshal([]byte(slotsJSON), &settings.AllowedTimeSlots); err != nil {
		return nil, fmt.Errorf("decode allowed_time_slots: %w", err)
	}
	if err := json.Unmarshal([]byte(chansJSON), &settings.Channels); err != nil {
		return nil, fmt.Errorf("decode channels: %w", err)
	}
	return settings, nil
}

// UpsertSettings replaces a user's settings.
func (s *Store) UpsertSettings(ctx context.Context, settings *core.NotificationSettings) error {
	if settings.UserID == "" {
		return errors.New("settings user id is required")
	}
	slots := settings.AllowedTimeSlots
	if slots == nil {
		slots = []int{}
	}
	for _, h := range slots {
		if h < 0 || h > 23 {
			return fmt.Errorf("allowed time slot %d out of range 0-23", h)
		}
	}
	channels := settings.Channels
	if channels == nil {
		channels = []core.Channel{}
	}
	slotsJSON, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("encode allowed_time_slots: %w", err)
	}
	chansJSON, err := json.Marshal(channels)
	if err != nil {
		return fmt.Errorf("encode channels: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO notification_settings (user_id, failure_threshold, allowed_time_slots, channels, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			failure_threshold = excluded.failure_threshold,
			allowed_time_slots = excluded.allowed_time_slots,
			channels = excluded.channels,
			updated_at = excluded.updated_at
	`, settings.UserID, settings.FailureThreshold, string(slotsJSON), string(chansJSON), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert notification settings: %w", err)
	}
	return nil
}

// DeleteSettings removes a user's settings.
func (s *Store) DeleteSettings(ctx context.Context, userID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM notification_settings WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete notification settings: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSettingsNotFound
	}
	return nil
}
