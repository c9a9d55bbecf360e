package core

import (
	"encoding/json"
	"time"
)

// TaskKind selects the executor and the shape of a task's config.
type TaskKind string

const (
	TaskKindKeepalive    TaskKind = "keepalive"
	TaskKindNotification TaskKind = "notification"
)

// Valid reports whether k is one of the known task kinds.
func (k TaskKind) Valid() bool {
	return k == TaskKindKeepalive || k == TaskKindNotification
}

// ExecutionStatus is the outcome recorded for a single execution.
type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "success"
	StatusFailure ExecutionStatus = "failure"
)

// StatusOf maps a success flag to its recorded status.
func StatusOf(success bool) ExecutionStatus {
	if success {
		return StatusSuccess
	}
	return StatusFailure
}

// Task is a recurring unit of work owned by a user.
type Task struct {
	ID             string
	OwnerID        string
	Name           string
	Kind           TaskKind
	Enabled        bool
	Config         json.RawMessage
	LastExecutedAt *time.Time
	LastStatus     *ExecutionStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RunState is the last-run projection the recorder writes back to a task.
// A nil Config leaves the stored config untouched.
type RunState struct {
	LastExecutedAt time.Time
	LastStatus     ExecutionStatus
	Config         json.RawMessage
}

// ExecutionResult is the normalized outcome of one execution attempt.
type ExecutionResult struct {
	Success      bool          `json:"success"`
	ResponseTime time.Duration `json:"-"`
	StatusCode   *int          `json:"statusCode,omitempty"`
	Error        string        `json:"error,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// MarshalJSON renders the response time in milliseconds.
func (r ExecutionResult) MarshalJSON() ([]byte, error) {
	type alias ExecutionResult
	return json.Marshal(struct {
		alias
		ResponseTimeMS int64 `json:"responseTime"`
	}{alias: alias(r), ResponseTimeMS: r.ResponseTime.Milliseconds()})
}

// LogEntry is an immutable execution log row.
type LogEntry struct {
	ID             string
	TaskID         string
	Status         ExecutionStatus
	ResponseTimeMS int64
	StatusCode     *int
	ErrorMessage   *string
	Details        json.RawMessage
	ExecutedAt     time.Time
}

// ChannelKind identifies a notification delivery mechanism.
type ChannelKind string

const (
	ChannelEmail    ChannelKind = "email"
	ChannelWebhook  ChannelKind = "webhook"
	ChannelNotifyX  ChannelKind = "notifyx"
	ChannelBark     ChannelKind = "bark"
	ChannelTelegram ChannelKind = "telegram"
)

// Channel is one configured delivery mechanism for a user.
type Channel struct {
	Kind    ChannelKind `json:"kind" yaml:"kind"`
	Enabled bool        `json:"enabled" yaml:"enabled"`
	Address string      `json:"address,omitempty" yaml:"address,omitempty"`
	URL     string      `json:"url,omitempty" yaml:"url,omitempty"`
	APIKey  string      `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	ChatID  string      `json:"chatId,omitempty" yaml:"chatId,omitempty"`
}

// Configured reports whether the fields required by the channel kind are set.
func (c Channel) Configured() bool {
	switch c.Kind {
	case ChannelEmail:
		return c.Address != ""
	case ChannelWebhook, ChannelBark:
		return c.URL != ""
	case ChannelNotifyX:
		return c.APIKey != ""
	case ChannelTelegram:
		return c.ChatID != ""
	default:
		return false
	}
}

// NotificationSettings is the per-user alerting policy.
type NotificationSettings struct {
	UserID           string
	FailureThreshold int
	AllowedTimeSlots []int
	Channels         []Channel
}

// Threshold returns the effective failure threshold (never below 1).
func (s *NotificationSettings) Threshold() int {
	if s == nil || s.FailureThreshold < 1 {
		return 1
	}
	return s.FailureThreshold
}

// AvailableChannels returns the channels that are both enabled and fully configured.
func (s *NotificationSettings) AvailableChannels() []Channel {
	if s == nil {
		return nil
	}
	var out []Channel
	for _, ch := range s.Channels {
		if ch.Enabled && ch.Configured() {
			out = append(out, ch)
		}
	}
	return out
}

func (s *NotificationSettings) slotAllowed(hour int) bool {
	for _, h := range s.AllowedTimeSlots {
		if h == hour {
			return true
		}
	}
	return false
}
