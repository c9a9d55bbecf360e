package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestRecorder(store *memStore, at time.Time, retention int) *Recorder {
	r := NewRecorder(store, store, store, retention, zerolog.Nop())
	r.now = func() time.Time { return at }
	return r
}

func ruleTask(t *testing.T, rule RecurrenceRule) (*Task, *TaskConfig) {
	t.Helper()
	cfg := &TaskConfig{Message: "renew", ExecutionRule: &rule}
	return &Task{
		ID: "n1", OwnerID: "u1", Name: "Renew", Kind: TaskKindNotification, Enabled: true,
		Config: mustJSON(t, cfg),
	}, cfg
}

func storedRule(t *testing.T, store *memStore, id string) *RecurrenceRule {
	t.Helper()
	var cfg TaskConfig
	if err := json.Unmarshal(store.task(id).Config, &cfg); err != nil {
		t.Fatalf("decode stored config: %v", err)
	}
	return cfg.ExecutionRule
}

func TestRecorderAppendsLogAndRunState(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	task := &Task{ID: "k1", OwnerID: "u1", Kind: TaskKindKeepalive, Enabled: true}
	store.addTask(task)
	at := time.Date(2025, 1, 10, 0, 5, 0, 0, time.UTC)
	rec := newTestRecorder(store, at, 0)

	code := 503
	result := ExecutionResult{ResponseTime: 120 * time.Millisecond, StatusCode: &code, Error: "HTTP 503: Service Unavailable", Timestamp: at}
	if err := rec.Record(context.Background(), task, &TaskConfig{URL: "http://x"}, result); err != nil {
		t.Fatalf("Record error: %v", err)
	}

	logs, _ := store.RecentLogsForTask(context.Background(), "k1", 10)
	if len(logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(logs))
	}
	entry := logs[0]
	if entry.ID == "" || entry.Status != StatusFailure || entry.ResponseTimeMS != 120 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.StatusCode == nil || *entry.StatusCode != 503 {
		t.Fatalf("status code = %v", entry.StatusCode)
	}
	if entry.ErrorMessage == nil || *entry.ErrorMessage != "HTTP 503: Service Unavailable" {
		t.Fatalf("error message = %v", entry.ErrorMessage)
	}
	var details map[string]any
	if err := json.Unmarshal(entry.Details, &details); err != nil {
		t.Fatalf("details: %v", err)
	}
	if details["responseTime"] != float64(120) {
		t.Fatalf("details = %v", details)
	}

	stored := store.task("k1")
	if stored.LastStatus == nil || *stored.LastStatus != StatusFailure {
		t.Fatalf("last status = %v", stored.LastStatus)
	}
	if stored.LastExecutedAt == nil || !stored.LastExecutedAt.Equal(at) {
		t.Fatalf("last executed = %v", stored.LastExecutedAt)
	}
	if store.states[0].Config != nil {
		t.Fatal("failure must not touch config")
	}
}

func TestRecorderAutoRenew(t *testing.T) {
	t.Parallel()
	end := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		rule    RecurrenceRule
		at      time.Time
		success bool
		want    time.Time
	}{
		{
			name:    "on due day advances from end date",
			rule:    RecurrenceRule{Unit: UnitDay, Interval: 30, EndDate: end, AutoRenew: true},
			at:      time.Date(2025, 1, 10, 0, 5, 0, 0, time.UTC),
			success: true,
			want:    time.Date(2025, 2, 9, 0, 0, 0, 0, time.UTC),
		},
		{
			name:    "early reminder keeps end date",
			rule:    RecurrenceRule{Unit: UnitDay, Interval: 30, EndDate: end, AutoRenew: true, ReminderAdvanceValue: 3, ReminderAdvanceUnit: AdvanceDay},
			at:      time.Date(2025, 1, 7, 9, 0, 0, 0, time.UTC),
			success: true,
			want:    end,
		},
		{
			name:    "failure keeps end date",
			rule:    RecurrenceRule{Unit: UnitDay, Interval: 30, EndDate: end, AutoRenew: true},
			at:      time.Date(2025, 1, 10, 0, 5, 0, 0, time.UTC),
			success: false,
			want:    end,
		},
		{
			name:    "auto renew off keeps end date",
			rule:    RecurrenceRule{Unit: UnitDay, Interval: 30, EndDate: end},
			at:      time.Date(2025, 1, 10, 0, 5, 0, 0, time.UTC),
			success: true,
			want:    end,
		},
		{
			name:    "monthly",
			rule:    RecurrenceRule{Unit: UnitMonth, Interval: 1, EndDate: end, AutoRenew: true},
			at:      time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC),
			success: true,
			want:    time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store := newMemStore()
			task, cfg := ruleTask(t, tt.rule)
			store.addTask(task)
			rec := newTestRecorder(store, tt.at, 0)

			if err := rec.Record(context.Background(), task, cfg, ExecutionResult{Success: tt.success, Timestamp: tt.at}); err != nil {
				t.Fatalf("Record error: %v", err)
			}
			got := storedRule(t, store, task.ID)
			if !got.EndDate.Equal(tt.want) {
				t.Fatalf("EndDate = %s, want %s", got.EndDate, tt.want)
			}
			if !cfg.ExecutionRule.EndDate.Equal(tt.rule.EndDate) {
				t.Fatal("caller's config was mutated")
			}
		})
	}
}

func TestRecorderPrunesAndReportsErrors(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	task := &Task{ID: "k1", Kind: TaskKindKeepalive, Enabled: true}
	store.addTask(task)
	rec := newTestRecorder(store, time.Now(), 3)

	for i := 0; i < 5; i++ {
		if err := rec.Record(context.Background(), task, nil, ExecutionResult{Success: true}); err != nil {
			t.Fatalf("Record error: %v", err)
		}
	}
	if got := store.logCount("k1"); got != 3 {
		t.Fatalf("retained logs = %d, want 3", got)
	}

	store.appendErr = errors.New("disk full")
	err := rec.Record(context.Background(), task, nil, ExecutionResult{Success: true})
	if err == nil {
		t.Fatal("expected error")
	}
	if store.task("k1").LastStatus == nil {
		t.Fatal("run state must still be written when the log append fails")
	}
}

func TestRecorderPruneKeepsFailureThreshold(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		settings *NotificationSettings
		want     int
	}{
		{name: "no settings uses retention", settings: nil, want: 3},
		{name: "threshold below retention", settings: webhookSettings("u1", 2), want: 3},
		{name: "threshold above retention", settings: webhookSettings("u1", 5), want: 5},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store := newMemStore()
			if tt.settings != nil {
				store.settings["u1"] = tt.settings
			}
			task := &Task{ID: "k1", OwnerID: "u1", Kind: TaskKindKeepalive, Enabled: true}
			store.addTask(task)
			rec := newTestRecorder(store, time.Now(), 3)

			for i := 0; i < 8; i++ {
				if err := rec.Record(context.Background(), task, nil, ExecutionResult{}); err != nil {
					t.Fatalf("Record error: %v", err)
				}
			}
			if got := store.logCount("k1"); got != tt.want {
				t.Fatalf("retained logs = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRecorderSkipsPruneWhenSettingsFail(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	store.settingsErr = errors.New("settings unavailable")
	task := &Task{ID: "k1", OwnerID: "u1", Kind: TaskKindKeepalive, Enabled: true}
	store.addTask(task)
	rec := newTestRecorder(store, time.Now(), 2)

	for i := 0; i < 4; i++ {
		if err := rec.Record(context.Background(), task, nil, ExecutionResult{}); err != nil {
			t.Fatalf("Record error: %v", err)
		}
	}
	if got := store.logCount("k1"); got != 4 {
		t.Fatalf("retained logs = %d, want 4", got)
	}
}
