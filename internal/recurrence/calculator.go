// Package recurrence computes the next fire time for a reminder schedule.
// ComputeNext is a pure function: given a frequency rule, the schedule's
// anchor time-of-day, and a reference instant, it returns the next
// occurrence strictly after the reference (except for one-shot schedules,
// which have no next occurrence).
//
// The anchor time-of-day is always applied to the result so the delivered
// time never drifts, even when the reference instant is late in the scan
// window or shifted by a recovery sweep.
package recurrence

import (
	"time"

	"habitpulse/internal/types"
)

// CustomSearchLimitDays bounds the day-by-day forward search for Custom
// frequency schedules. A non-empty weekday set always matches within 7 days;
// the limit exists purely as a termination guarantee.
const CustomSearchLimitDays = 14

// ComputeNext returns the next fire time after `from` for the given rule.
//
// Rules:
//   - Once: returns `from` unchanged. The caller must not reschedule; a Once
//     schedule takes its terminal transition instead.
//   - Daily: the next calendar day at the anchor time-of-day.
//   - Weekdays: the next calendar day, skipping forward past Saturday and
//     Sunday, at the anchor time-of-day.
//   - Weekly: seven calendar days forward at the anchor time-of-day.
//   - Custom: the nearest following date (searching up to
//     CustomSearchLimitDays) whose weekday is in the set, at the anchor
//     time-of-day. An empty set falls back to the Daily rule so the search
//     always terminates.
//
// For every kind except Once the result is strictly after `from`.
func ComputeNext(freq types.Frequency, anchor types.TimeOfDay, from time.Time) time.Time {
	switch freq.Kind {
	case types.FrequencyOnce:
		return from
	case types.FrequencyDaily:
		return anchor.On(from.AddDate(0, 0, 1))
	case types.FrequencyWeekdays:
		return nextBusinessDay(anchor, from)
	case types.FrequencyWeekly:
		return anchor.On(from.AddDate(0, 0, 7))
	case types.FrequencyCustom:
		return nextCustomDay(freq.CustomDays, anchor, from)
	default:
		// Unknown kinds are rejected by Frequency.Validate before reaching
		// the calculator; advance anyway so a corrupted record cannot wedge
		// the scan loop.
		return anchor.On(from.AddDate(0, 0, 1))
	}
}

// nextBusinessDay advances one day, then skips forward past the weekend.
func nextBusinessDay(anchor types.TimeOfDay, from time.Time) time.Time {
	d := from.AddDate(0, 0, 1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return anchor.On(d)
}

// nextCustomDay searches forward day-by-day for the next date whose weekday
// is in the set. The empty set degenerates to a +1 day advance.
func nextCustomDay(days types.WeekdaySet, anchor types.TimeOfDay, from time.Time) time.Time {
	if days.IsEmpty() {
		return anchor.On(from.AddDate(0, 0, 1))
	}
	for i := 1; i <= CustomSearchLimitDays; i++ {
		candidate := from.AddDate(0, 0, i)
		if days.Contains(candidate.Weekday()) {
			return anchor.On(candidate)
		}
	}
	// Unreachable for a non-empty set (every weekday repeats within 7 days);
	// kept as the same termination fallback as the empty set.
	return anchor.On(from.AddDate(0, 0, 1))
}
