// Package seed imports tasks and notification settings from a YAML document.
package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	yaml "go.yaml.in/yaml/v3"

	"taskbeat/internal/core"
	"taskbeat/internal/store"
)

// Target is the persistence the importer writes to.
type Target interface {
	GetTask(ctx context.Context, id string) (*core.Task, error)
	InsertTask(ctx context.Context, task *core.Task) error
	UpsertSettings(ctx context.Context, settings *core.NotificationSettings) error
}

// Document is the top-level shape of a seed file.
type Document struct {
	Settings []SettingsDoc `yaml:"settings"`
	Tasks    []TaskDoc     `yaml:"tasks"`
}

// SettingsDoc is one user's notification settings.
type SettingsDoc struct {
	UserID           string         `yaml:"user_id"`
	FailureThreshold int            `yaml:"failure_threshold"`
	AllowedTimeSlots []int          `yaml:"allowed_time_slots"`
	Channels         []core.Channel `yaml:"channels"`
}

// TaskDoc is one task. ID is optional; tasks whose ID already exists are skipped.
type TaskDoc struct {
	ID      string         `yaml:"id"`
	OwnerID string         `yaml:"owner_id"`
	Name    string         `yaml:"name"`
	Kind    core.TaskKind  `yaml:"kind"`
	Enabled *bool          `yaml:"enabled"`
	Config  map[string]any `yaml:"config"`
}

// Result counts what an import changed.
type Result struct {
	Settings int `json:"settings"`
	Created  int `json:"created"`
	Skipped  int `json:"skipped"`
}

// Parse decodes a seed document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	return &doc, nil
}

// ImportFile reads path and applies it to target.
func ImportFile(ctx context.Context, target Target, path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read seed file: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return Result{}, err
	}
	return Import(ctx, target, doc)
}

// Import validates every entry before writing anything, then applies settings and tasks.
func Import(ctx context.Context, target Target, doc *Document) (Result, error) {
	var res Result
	tasks := make([]*core.Task, 0, len(doc.Tasks))
	for i, td := range doc.Tasks {
		task, err := buildTask(td)
		if err != nil {
			return res, fmt.Errorf("tasks[%d]: %w", i, err)
		}
		tasks = append(tasks, task)
	}
	for i, sd := range doc.Settings {
		if strings.TrimSpace(sd.UserID) == "" {
			return res, fmt.Errorf("settings[%d]: user_id is required", i)
		}
	}

	for _, sd := range doc.Settings {
		settings := &core.NotificationSettings{
			UserID:           strings.TrimSpace(sd.UserID),
			FailureThreshold: sd.FailureThreshold,
			AllowedTimeSlots: sd.AllowedTimeSlots,
			Channels:         sd.Channels,
		}
		if err := target.UpsertSettings(ctx, settings); err != nil {
			return res, fmt.Errorf("settings for %s: %w", settings.UserID, err)
		}
		res.Settings++
	}

	for _, task := range tasks {
		if _, err := target.GetTask(ctx, task.ID); err == nil {
			res.Skipped++
			continue
		} else if !errors.Is(err, store.ErrTaskNotFound) {
			return res, fmt.Errorf("check task %s: %w", task.ID, err)
		}
		if err := target.InsertTask(ctx, task); err != nil {
			return res, fmt.Errorf("insert task %s: %w", task.ID, err)
		}
		res.Created++
	}
	return res, nil
}

func buildTask(td TaskDoc) (*core.Task, error) {
	if strings.TrimSpace(td.OwnerID) == "" {
		return nil, errors.New("owner_id is required")
	}
	if strings.TrimSpace(td.Name) == "" {
		return nil, errors.New("name is required")
	}
	raw, err := json.Marshal(normalizeYAML(td.Config))
	if err != nil {
		return nil, fmt.Errorf("config yaml->json: %w", err)
	}
	cfg, err := core.ParseTaskConfig(td.Kind, raw)
	if err != nil {
		return nil, err
	}
	encoded, err := cfg.Encode()
	if err != nil {
		return nil, err
	}
	id := strings.TrimSpace(td.ID)
	if id == "" {
		id = uuid.NewString()
	}
	enabled := true
	if td.Enabled != nil {
		enabled = *td.Enabled
	}
	return &core.Task{
		ID:      id,
		OwnerID: strings.TrimSpace(td.OwnerID),
		Name:    strings.TrimSpace(td.Name),
		Kind:    td.Kind,
		Enabled: enabled,
		Config:  encoded,
	}, nil
}

// normalizeYAML ensures all map keys are strings so the result can be JSON-marshaled.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeYAML(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}
