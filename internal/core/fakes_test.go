package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type memStore struct {
	mu       sync.Mutex
	tasks    map[string]*Task
	logs     map[string][]*LogEntry // oldest first
	settings map[string]*NotificationSettings
	states   []RunState

	appendErr   error
	settingsErr error
	pruned      map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		tasks:    make(map[string]*Task),
		logs:     make(map[string][]*LogEntry),
		settings: make(map[string]*NotificationSettings),
		pruned:   make(map[string]int),
	}
}

func (m *memStore) addTask(t *Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tasks[t.ID] = &cp
}

func (m *memStore) task(id string) *Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.tasks[id]
	return &cp
}

func (m *memStore) ListEnabledTasks(ctx context.Context) ([]*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Task
	for _, t := range m.tasks {
		if t.Enabled {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) GetTask(ctx context.Context, id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, errors.New("task not found")
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) UpdateTaskRunState(ctx context.Context, id string, state RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return errors.New("task not found")
	}
	at := state.LastExecutedAt
	status := state.LastStatus
	t.LastExecutedAt = &at
	t.LastStatus = &status
	if state.Config != nil {
		t.Config = state.Config
	}
	m.states = append(m.states, state)
	return nil
}

func (m *memStore) AppendExecutionLog(ctx context.Context, entry *LogEntry) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[entry.TaskID] = append(m.logs[entry.TaskID], entry)
	return nil
}

func (m *memStore) RecentLogsForTask(ctx context.Context, taskID string, limit int) ([]*LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.logs[taskID]
	var out []*LogEntry
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (m *memStore) PruneExecutionLogs(ctx context.Context, taskID string, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if all := m.logs[taskID]; len(all) > keep {
		m.logs[taskID] = all[len(all)-keep:]
	}
	m.pruned[taskID] = keep
	return nil
}

func (m *memStore) GetSettingsForUser(ctx context.Context, userID string) (*NotificationSettings, error) {
	if m.settingsErr != nil {
		return nil, m.settingsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings[userID], nil
}

func (m *memStore) logCount(taskID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.logs[taskID])
}

func (m *memStore) seedStatuses(taskID string, statuses ...ExecutionStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range statuses {
		m.logs[taskID] = append(m.logs[taskID], &LogEntry{TaskID: taskID, Status: s})
	}
}

type dispatchCall struct {
	channels []Channel
	title    string
	body     string
}

type fakeDispatcher struct {
	mu     sync.Mutex
	calls  []dispatchCall
	result DispatchResult
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, channels []Channel, title, body string) DispatchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, dispatchCall{channels: channels, title: title, body: body})
	return f.result
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type stubExecutor struct {
	mu     sync.Mutex
	runs   int
	result ExecutionResult
	panics bool
	block  chan struct{}
}

func (s *stubExecutor) Run(ctx context.Context, task *Task, cfg *TaskConfig) ExecutionResult {
	s.mu.Lock()
	s.runs++
	s.mu.Unlock()
	if s.block != nil {
		<-s.block
	}
	if s.panics {
		panic("executor exploded")
	}
	return s.result
}

func (s *stubExecutor) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse time %q: %v", value, err)
	}
	return ts
}

func webhookSettings(userID string, threshold int) *NotificationSettings {
	return &NotificationSettings{
		UserID:           userID,
		FailureThreshold: threshold,
		Channels: []Channel{
			{Kind: ChannelWebhook, Enabled: true, URL: "http://hook.example"},
		},
	}
}
