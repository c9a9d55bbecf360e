package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"taskbeat/internal/core"
)

type countingDispatcher struct {
	mu    sync.Mutex
	calls int
}

func (d *countingDispatcher) Dispatch(ctx context.Context, channels []core.Channel, title, body string) core.DispatchResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return core.DispatchResult{Success: true}
}

func TestRetentionBelowThresholdStillAlerts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	task := insertTask(t, st, "a", true)
	if err := st.UpsertSettings(ctx, &core.NotificationSettings{
		UserID:           "u1",
		FailureThreshold: 5,
		Channels:         []core.Channel{{Kind: core.ChannelWebhook, Enabled: true, URL: "http://hook.example"}},
	}); err != nil {
		t.Fatalf("UpsertSettings: %v", err)
	}

	disp := &countingDispatcher{}
	rec := core.NewRecorder(st, st, st, 3, zerolog.Nop())
	alerter := core.NewAlerter(st, st, disp, time.UTC, zerolog.Nop())

	code := 503
	result := core.ExecutionResult{StatusCode: &code, Error: "HTTP 503: Service Unavailable", Timestamp: time.Now().UTC()}
	var last core.AlertOutcome
	for i := 0; i < 8; i++ {
		if err := rec.Record(ctx, task, nil, result); err != nil {
			t.Fatalf("Record #%d: %v", i, err)
		}
		last = alerter.AfterExecution(ctx, task, result)
		if i < 4 && last.Kind != core.AlertNone {
			t.Fatalf("alert after %d failures, threshold is 5", i+1)
		}
	}
	if last.Kind != core.AlertFailure || last.ConsecutiveFailures != 5 {
		t.Fatalf("last outcome = %+v", last)
	}
	// Failures 5 through 8 each alert.
	if disp.calls != 4 {
		t.Fatalf("dispatches = %d, want 4", disp.calls)
	}
	if logs, _ := st.ListLogs(ctx, "a", 100, 0); len(logs) != 5 {
		t.Fatalf("retained logs = %d, want 5", len(logs))
	}
}
