// Package remind matches per-user reminder times against the clock and runs
// the periodic scan that dispatches notifications.
package remind

import (
	"fmt"
	"time"

	"github.com/commitstreak/streakd/internal/store"
)

// Period is the coarse time-of-day bucket a fired reminder falls into.
type Period string

const (
	// PeriodMorning covers local hours before 12:00.
	PeriodMorning Period = "morning"
	// PeriodAfternoon covers local hours from 12:00 until 17:00.
	PeriodAfternoon Period = "afternoon"
	// PeriodEvening covers local hours from 17:00 onward.
	PeriodEvening Period = "evening"
)

// clockFormat renders an instant as the zero-padded 24h wall clock reminders
// are configured with.
const clockFormat = "15:04"

// PeriodFor buckets a local hour into its reminder period.
func PeriodFor(hour int) Period {
	switch {
	case hour < 12:
		return PeriodMorning
	case hour < 17:
		return PeriodAfternoon
	default:
		return PeriodEvening
	}
}

// Due reports whether a reminder fires at the given instant: the reminder is
// enabled and the instant, rendered in the reminder's timezone, reads exactly
// the configured HH:MM. An unloadable timezone never fires.
func Due(reminder store.Reminder, now time.Time) (Period, bool) {
	if !reminder.Enabled {
		return "", false
	}
	loc, err := time.LoadLocation(reminder.Timezone)
	if err != nil {
		return "", false
	}
	local := now.In(loc)
	if local.Format(clockFormat) != reminder.Time {
		return "", false
	}
	return PeriodFor(local.Hour()), true
}

// IsWeekend reports whether the instant falls on Saturday or Sunday in the
// given zone. Used for the weekends-off preference.
func IsWeekend(loc *time.Location, now time.Time) bool {
	if loc == nil {
		loc = time.UTC
	}
	weekday := now.In(loc).Weekday()
	return weekday == time.Saturday || weekday == time.Sunday
}

// ValidateReminder checks a reminder before it is stored: HH:MM must parse
// as a zero-padded 24h clock and the timezone must be a loadable IANA name.
func ValidateReminder(reminder store.Reminder) error {
	parsed, err := time.Parse(clockFormat, reminder.Time)
	if err != nil || parsed.Format(clockFormat) != reminder.Time {
		return fmt.Errorf("reminder time %q must be zero-padded 24h HH:MM", reminder.Time)
	}
	if _, err := time.LoadLocation(reminder.Timezone); err != nil || reminder.Timezone == "" {
		return fmt.Errorf("reminder timezone %q is not a valid IANA zone", reminder.Timezone)
	}
	return nil
}
