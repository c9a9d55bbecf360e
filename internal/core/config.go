package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const defaultKeepaliveTimeout = 30 * time.Second

// RuleUnit is the step unit of a recurrence rule.
type RuleUnit string

const (
	UnitDay   RuleUnit = "day"
	UnitMonth RuleUnit = "month"
	UnitYear  RuleUnit = "year"
)

// AdvanceUnit is the unit of a reminder advance window.
type AdvanceUnit string

const (
	AdvanceDay  AdvanceUnit = "day"
	AdvanceHour AdvanceUnit = "hour"
)

// RecurrenceRule models "next due date" recurrence.
// EndDate is the instant at or after which the task fires; it only moves forward.
type RecurrenceRule struct {
	Unit                 RuleUnit    `json:"unit"`
	Interval             int         `json:"interval"`
	StartDate            time.Time   `json:"startDate"`
	EndDate              time.Time   `json:"endDate"`
	ReminderAdvanceValue int         `json:"reminderAdvanceValue,omitempty"`
	ReminderAdvanceUnit  AdvanceUnit `json:"reminderAdvanceUnit,omitempty"`
	AutoRenew            bool        `json:"autoRenew"`
}

// HasAdvanceWindow reports whether the rule may fire before EndDate.
func (r *RecurrenceRule) HasAdvanceWindow() bool {
	return r.ReminderAdvanceValue > 0 && r.ReminderAdvanceUnit != ""
}

// TaskConfig is the typed form of a task's config payload.
type TaskConfig struct {
	// keepalive
	URL     string            `json:"url,omitempty"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	Timeout int               `json:"timeout,omitempty"` // milliseconds

	// notification
	Message string `json:"message,omitempty"`
	Title   string `json:"title,omitempty"`

	Schedule      string          `json:"schedule,omitempty"`
	ExecutionRule *RecurrenceRule `json:"executionRule,omitempty"`
}

// RequestTimeout returns the keepalive hard cap, defaulting to 30s.
func (c *TaskConfig) RequestTimeout() time.Duration {
	if c.Timeout <= 0 {
		return defaultKeepaliveTimeout
	}
	return time.Duration(c.Timeout) * time.Millisecond
}

// ParseTaskConfig decodes and validates raw config for the given kind.
func ParseTaskConfig(kind TaskKind, raw json.RawMessage) (*TaskConfig, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown task kind %q", kind)
	}
	var cfg TaskConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("decode %s config: %w", kind, err)
		}
	}
	switch kind {
	case TaskKindKeepalive:
		if err := cfg.validateKeepalive(); err != nil {
			return nil, err
		}
	case TaskKindNotification:
		if strings.TrimSpace(cfg.Message) == "" {
			return nil, errors.New("notification config: message is required")
		}
	}
	if cfg.Schedule != "" {
		if _, err := ParseCron(cfg.Schedule); err != nil {
			return nil, fmt.Errorf("schedule: %w", err)
		}
	}
	if cfg.ExecutionRule != nil {
		if err := cfg.ExecutionRule.validate(); err != nil {
			return nil, fmt.Errorf("executionRule: %w", err)
		}
	}
	return &cfg, nil
}

// Encode serializes the config for persistence.
func (c *TaskConfig) Encode() (json.RawMessage, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode task config: %w", err)
	}
	return data, nil
}

func (c *TaskConfig) validateKeepalive() error {
	u, err := url.Parse(strings.TrimSpace(c.URL))
	if err != nil || c.URL == "" {
		return errors.New("keepalive config: url is required")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("keepalive config: unsupported url scheme %q", u.Scheme)
	}
	c.Method = strings.ToUpper(strings.TrimSpace(c.Method))
	switch c.Method {
	case "":
		c.Method = "GET"
	case "GET", "POST", "PUT", "DELETE":
	default:
		return fmt.Errorf("keepalive config: unsupported method %q", c.Method)
	}
	if c.Timeout < 0 {
		return errors.New("keepalive config: timeout must be non-negative")
	}
	return nil
}

func (r *RecurrenceRule) validate() error {
	switch r.Unit {
	case UnitDay, UnitMonth, UnitYear:
	default:
		return fmt.Errorf("unsupported unit %q", r.Unit)
	}
	if r.Interval < 1 {
		return errors.New("interval must be a positive integer")
	}
	if r.EndDate.IsZero() {
		return errors.New("endDate is required")
	}
	if r.ReminderAdvanceValue < 0 {
		return errors.New("reminderAdvanceValue must be non-negative")
	}
	switch r.ReminderAdvanceUnit {
	case "", AdvanceDay, AdvanceHour:
	default:
		return fmt.Errorf("unsupported reminderAdvanceUnit %q", r.ReminderAdvanceUnit)
	}
	return nil
}
