package core

import "time"

// AdvanceDuration converts a reminder advance value into a duration.
func AdvanceDuration(value int, unit AdvanceUnit) time.Duration {
	switch unit {
	case AdvanceDay:
		return time.Duration(value) * 24 * time.Hour
	case AdvanceHour:
		return time.Duration(value) * time.Hour
	default:
		return 0
	}
}

// NextDue advances a due date by one recurrence step.
// Month and year steps follow time.AddDate normalization (Jan 31 + 1 month = Mar 3).
func NextDue(due time.Time, unit RuleUnit, interval int) time.Time {
	due = due.UTC()
	switch unit {
	case UnitMonth:
		return due.AddDate(0, interval, 0)
	case UnitYear:
		return due.AddDate(interval, 0, 0)
	default:
		return due.AddDate(0, 0, interval)
	}
}

// IsDue decides whether a task should fire at now.
//
// now must already be in the location used for allowed-time-slot checks.
// A task without an execution rule fires whenever the tick fires, narrowed by
// its cron schedule when one is configured.
func IsDue(task *Task, cfg *TaskConfig, now time.Time, settings *NotificationSettings) bool {
	if task == nil || !task.Enabled || cfg == nil {
		return false
	}
	rule := cfg.ExecutionRule
	if rule == nil {
		if cfg.Schedule == "" {
			return true
		}
		schedule, err := ParseCron(cfg.Schedule)
		if err != nil {
			return false
		}
		return FiresInMinute(schedule, now)
	}

	target := rule.EndDate
	if !rule.HasAdvanceWindow() {
		return !now.Before(target)
	}

	windowStart := target.Add(-AdvanceDuration(rule.ReminderAdvanceValue, rule.ReminderAdvanceUnit))
	if now.Before(windowStart) {
		return false
	}
	if settings != nil && len(settings.AllowedTimeSlots) > 0 {
		// At most one fire per allowed hour.
		return settings.slotAllowed(now.Hour()) && now.Minute() == 0
	}
	return true
}
