package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitpulse/internal/types"
)

var anchor9am = types.TimeOfDay{Hour: 9, Minute: 0, Second: 0}

// Wednesday.
func midweek() time.Time {
	return time.Date(2025, 1, 1, 9, 0, 30, 0, time.UTC)
}

func TestComputeNext_Daily_NextDayAtAnchor(t *testing.T) {
	from := midweek() // evaluated 30s late
	next := ComputeNext(types.Frequency{Kind: types.FrequencyDaily}, anchor9am, from)

	assert.Equal(t, time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC), next)
	assert.True(t, next.After(from))
}

func TestComputeNext_Daily_AnchorPreservedFromLateEvaluation(t *testing.T) {
	// Evaluated hours late: the result must carry the anchor time-of-day,
	// not the evaluation time-of-day.
	from := time.Date(2025, 1, 1, 14, 37, 12, 0, time.UTC)
	next := ComputeNext(types.Frequency{Kind: types.FrequencyDaily}, anchor9am, from)

	assert.Equal(t, time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC), next)
}

func TestComputeNext_Weekdays_FridaySkipsToMonday(t *testing.T) {
	friday := time.Date(2025, 1, 3, 9, 0, 0, 0, time.UTC)
	next := ComputeNext(types.Frequency{Kind: types.FrequencyWeekdays}, anchor9am, friday)

	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC), next)
}

func TestComputeNext_Weekdays_MidweekAdvancesOneDay(t *testing.T) {
	next := ComputeNext(types.Frequency{Kind: types.FrequencyWeekdays}, anchor9am, midweek())
	assert.Equal(t, time.Thursday, next.Weekday())
}

func TestComputeNext_Weekly_SameWeekdaySevenDaysOut(t *testing.T) {
	from := midweek()
	next := ComputeNext(types.Frequency{Kind: types.FrequencyWeekly}, anchor9am, from)

	assert.Equal(t, from.Weekday(), next.Weekday())
	assert.Equal(t, time.Date(2025, 1, 8, 9, 0, 0, 0, time.UTC), next)
}

func TestComputeNext_Custom_TuesdayFindsNextWednesday(t *testing.T) {
	// 2025-01-07 is a Tuesday.
	tuesday := time.Date(2025, 1, 7, 9, 0, 0, 0, time.UTC)
	freq := types.Frequency{
		Kind:       types.FrequencyCustom,
		CustomDays: types.NewWeekdaySet(time.Monday, time.Wednesday),
	}

	next := ComputeNext(freq, anchor9am, tuesday)

	assert.Equal(t, time.Wednesday, next.Weekday())
	assert.Equal(t, time.Date(2025, 1, 8, 9, 0, 0, 0, time.UTC), next)
}

func TestComputeNext_Custom_SameWeekdayOnlyMovesOneFullWeek(t *testing.T) {
	// Only Wednesdays selected, evaluated on a Wednesday: the next
	// occurrence is the following Wednesday, never the same day.
	freq := types.Frequency{
		Kind:       types.FrequencyCustom,
		CustomDays: types.NewWeekdaySet(time.Wednesday),
	}

	next := ComputeNext(freq, anchor9am, midweek())

	assert.Equal(t, time.Wednesday, next.Weekday())
	assert.Equal(t, midweek().AddDate(0, 0, 7).Day(), next.Day())
}

func TestComputeNext_Custom_EmptySetFallsBackToNextDay(t *testing.T) {
	freq := types.Frequency{Kind: types.FrequencyCustom}
	from := midweek()

	next := ComputeNext(freq, anchor9am, from)

	assert.Equal(t, time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC), next)
	assert.True(t, next.After(from), "empty set fallback must still advance")
}

func TestComputeNext_Once_ReturnsFromUnchanged(t *testing.T) {
	from := midweek()
	next := ComputeNext(types.Frequency{Kind: types.FrequencyOnce}, anchor9am, from)
	assert.True(t, next.Equal(from))
}

// TestComputeNext_StrictlyFuture_AllRecurringKinds verifies the calculator's
// core postcondition: for every recurring kind, every non-empty custom set,
// and a spread of reference instants, the result is strictly after `from`.
func TestComputeNext_StrictlyFuture_AllRecurringKinds(t *testing.T) {
	references := []time.Time{
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),   // midnight
		time.Date(2025, 1, 3, 23, 59, 59, 0, time.UTC), // Friday end of day
		time.Date(2025, 1, 4, 9, 0, 0, 0, time.UTC),   // Saturday
		time.Date(2025, 6, 30, 12, 30, 45, 0, time.UTC),
	}
	anchors := []types.TimeOfDay{
		{Hour: 0, Minute: 0, Second: 0},
		{Hour: 9, Minute: 0, Second: 0},
		{Hour: 23, Minute: 59, Second: 59},
	}

	var freqs []types.Frequency
	for _, kind := range []types.FrequencyKind{types.FrequencyDaily, types.FrequencyWeekdays, types.FrequencyWeekly} {
		freqs = append(freqs, types.Frequency{Kind: kind})
	}
	// Every non-empty weekday set.
	for mask := types.WeekdaySet(1); mask < 1<<7; mask++ {
		freqs = append(freqs, types.Frequency{Kind: types.FrequencyCustom, CustomDays: mask})
	}

	for _, from := range references {
		for _, anchor := range anchors {
			for _, freq := range freqs {
				next := ComputeNext(freq, anchor, from)
				require.True(t, next.After(from),
					"kind=%s days=%v anchor=%s from=%s got %s",
					freq.Kind, freq.CustomDays.Weekdays(), anchor, from, next)
			}
		}
	}
}

// TestComputeNext_Custom_BoundedSearch verifies the search never needs more
// than seven iterations for a non-empty set: the result is always within
// seven days of the reference.
func TestComputeNext_Custom_BoundedSearch(t *testing.T) {
	from := midweek()
	for mask := types.WeekdaySet(1); mask < 1<<7; mask++ {
		freq := types.Frequency{Kind: types.FrequencyCustom, CustomDays: mask}
		next := ComputeNext(freq, anchor9am, from)
		require.False(t, next.After(from.AddDate(0, 0, CustomSearchLimitDays)),
			"days=%v produced %s, beyond the search bound", mask.Weekdays(), next)
	}
}

func TestComputeNext_AnchorAppliedNotInherited(t *testing.T) {
	// The result's time-of-day comes from the anchor even when `from`
	// carries sub-second noise or a different wall time.
	from := time.Date(2025, 1, 1, 9, 0, 30, 123456, time.UTC)
	anchor := types.TimeOfDay{Hour: 7, Minute: 15, Second: 0}

	next := ComputeNext(types.Frequency{Kind: types.FrequencyWeekly}, anchor, from)

	assert.Equal(t, 7, next.Hour())
	assert.Equal(t, 15, next.Minute())
	assert.Equal(t, 0, next.Second())
	assert.Equal(t, 0, next.Nanosecond())
}
