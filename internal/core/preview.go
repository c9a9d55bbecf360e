package core

import "time"

// PreviewMode says what drives a task's firings.
type PreviewMode string

const (
	PreviewEveryTick PreviewMode = "every_tick"
	PreviewSchedule  PreviewMode = "schedule"
	PreviewRule      PreviewMode = "rule"
)

// Cycle is one due date of a recurrence rule and the first minute the task
// fires for it.
type Cycle struct {
	DueAt       time.Time
	WindowStart *time.Time
	// FirstFireAt is zero when no allowed slot falls in the searched range.
	FirstFireAt time.Time
}

// Preview describes a task's upcoming firings.
type Preview struct {
	Mode PreviewMode
	// FiresNow reports whether the task is due in from's minute.
	FiresNow bool
	// ScheduleTimes are the next cron firings after from, for PreviewSchedule.
	ScheduleTimes []time.Time
	// Cycles are the current and renewed due dates, for PreviewRule.
	Cycles []Cycle
}

// slotSearchLimit bounds the hour-by-hour scan for an allowed slot.
const slotSearchLimit = 8 * 24

// PreviewTask lists up to n upcoming firings of an enabled task as of from.
// from must be in the location used for allowed-time-slot checks. Rules that do
// not auto-renew yield a single cycle.
func PreviewTask(cfg *TaskConfig, from time.Time, n int, settings *NotificationSettings) (Preview, error) {
	if n <= 0 {
		n = 1
	}
	enabled := &Task{Enabled: true}
	rule := cfg.ExecutionRule
	if rule == nil {
		if cfg.Schedule == "" {
			return Preview{Mode: PreviewEveryTick, FiresNow: true}, nil
		}
		schedule, err := ParseCron(cfg.Schedule)
		if err != nil {
			return Preview{}, err
		}
		return Preview{
			Mode:          PreviewSchedule,
			FiresNow:      FiresInMinute(schedule, from),
			ScheduleTimes: NextOccurrences(schedule, from, n),
		}, nil
	}

	out := Preview{Mode: PreviewRule, FiresNow: IsDue(enabled, cfg, from, settings)}
	due := rule.EndDate
	// A cycle only renews once executed at or after its due date.
	earliest := from
	for len(out.Cycles) < n {
		cycle := Cycle{DueAt: due}
		start := due
		if rule.HasAdvanceWindow() {
			ws := due.Add(-AdvanceDuration(rule.ReminderAdvanceValue, rule.ReminderAdvanceUnit))
			cycle.WindowStart = &ws
			start = ws
		}
		if start.Before(earliest) {
			start = earliest
		}
		cycle.FirstFireAt = firstFire(rule, start.In(from.Location()), settings)
		out.Cycles = append(out.Cycles, cycle)

		if !rule.AutoRenew {
			break
		}
		if due.After(earliest) {
			earliest = due
		}
		due = NextDue(due, rule.Unit, rule.Interval)
	}
	return out, nil
}

// firstFire returns the first tick minute, starting with start's own minute,
// in which a rule inside its window fires.
func firstFire(rule *RecurrenceRule, start time.Time, settings *NotificationSettings) time.Time {
	minute := start.Truncate(time.Minute)
	if !rule.HasAdvanceWindow() || settings == nil || len(settings.AllowedTimeSlots) == 0 {
		return minute
	}
	hour := time.Date(minute.Year(), minute.Month(), minute.Day(), minute.Hour(), 0, 0, 0, minute.Location())
	if hour.Before(minute) {
		hour = hour.Add(time.Hour)
	}
	for i := 0; i < slotSearchLimit; i++ {
		if settings.slotAllowed(hour.Hour()) {
			return hour
		}
		hour = hour.Add(time.Hour)
	}
	return time.Time{}
}
