// Package types defines the shared domain model for the HabitPulse reminder
// platform: schedules, recipients, delivery attempts, health snapshots, and
// the structured error records written by the scheduling subsystem.
package types

import (
	"fmt"
	"time"
)

// ScheduleStatus is the lifecycle state of a reminder schedule.
type ScheduleStatus string

const (
	// ScheduleActive schedules are eligible for scanning and delivery.
	ScheduleActive ScheduleStatus = "active"
	// SchedulePaused schedules are retained but never scanned.
	SchedulePaused ScheduleStatus = "paused"
	// ScheduleArchived is terminal. Once schedules transition here after
	// their single fire attempt; recurring schedules only via owner CRUD.
	ScheduleArchived ScheduleStatus = "archived"
)

// FrequencyKind identifies the recurrence rule of a schedule. The set is
// closed: every consumer switches exhaustively over these five values.
type FrequencyKind string

const (
	FrequencyOnce     FrequencyKind = "once"
	FrequencyDaily    FrequencyKind = "daily"
	FrequencyWeekdays FrequencyKind = "weekdays"
	FrequencyWeekly   FrequencyKind = "weekly"
	FrequencyCustom   FrequencyKind = "custom"
)

// Valid reports whether k is one of the five known frequency kinds.
func (k FrequencyKind) Valid() bool {
	switch k {
	case FrequencyOnce, FrequencyDaily, FrequencyWeekdays, FrequencyWeekly, FrequencyCustom:
		return true
	}
	return false
}

// WeekdaySet is a bitmask over time.Weekday (bit 0 = Sunday ... bit 6 =
// Saturday). It is the day selector for FrequencyCustom schedules and is
// stored in the database as a SMALLINT.
type WeekdaySet uint8

// NewWeekdaySet builds a WeekdaySet from the given weekdays.
func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s |= 1 << uint(d)
	}
	return s
}

// Contains reports whether the set includes the given weekday.
func (s WeekdaySet) Contains(d time.Weekday) bool {
	return s&(1<<uint(d)) != 0
}

// IsEmpty reports whether no weekday is selected. An empty set on a Custom
// schedule is a degenerate configuration; the recurrence calculator falls
// back to a +1 day advance rather than searching forever.
func (s WeekdaySet) IsEmpty() bool {
	return s == 0
}

// Weekdays returns the selected weekdays in Sunday-first order.
func (s WeekdaySet) Weekdays() []time.Weekday {
	var days []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Contains(d) {
			days = append(days, d)
		}
	}
	return days
}

// Frequency is the closed tagged union of a schedule's recurrence rule.
// CustomDays is meaningful only when Kind == FrequencyCustom; it is zero
// for every other kind.
type Frequency struct {
	Kind       FrequencyKind `json:"kind"`
	CustomDays WeekdaySet    `json:"custom_days,omitempty"`
}

// Recurring reports whether the frequency produces more than one occurrence.
func (f Frequency) Recurring() bool {
	return f.Kind != FrequencyOnce
}

// Validate checks that the kind is known and that non-custom kinds carry no
// day selector. An empty CustomDays set is permitted (handled by the
// calculator's fallback) but a populated set on a non-custom kind indicates
// a corrupted record.
func (f Frequency) Validate() error {
	if !f.Kind.Valid() {
		return fmt.Errorf("unknown frequency kind %q", f.Kind)
	}
	if f.Kind != FrequencyCustom && !f.CustomDays.IsEmpty() {
		return fmt.Errorf("frequency kind %q must not carry custom days", f.Kind)
	}
	return nil
}

// TimeOfDay is a wall-clock anchor (hour/minute/second) independent of date.
// The recurrence calculator applies it to every computed occurrence so the
// fire time never drifts across cycles.
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
	Second int `json:"second"`
}

// TimeOfDayFrom extracts the wall-clock components of t.
func TimeOfDayFrom(t time.Time) TimeOfDay {
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}
}

// On returns the instant at this time-of-day on the calendar date of `date`,
// in date's location.
func (t TimeOfDay) On(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour, t.Minute, t.Second, 0, date.Location())
}

// String renders the anchor as HH:MM:SS for logging.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// Schedule is a recurring or one-time reminder configuration. NextFireAt and
// LastFireAttemptAt are mutated only by the ScheduleAdvancer and the
// MissedJobRecoverer; everything else belongs to owner-facing CRUD.
type Schedule struct {
	ID                string         `json:"id"`
	OwnerID           string         `json:"owner_id"`
	RecipientID       string         `json:"recipient_id"`
	Label             string         `json:"label"`
	Frequency         Frequency      `json:"frequency"`
	AnchorTimeOfDay   TimeOfDay      `json:"anchor_time_of_day"`
	NextFireAt        time.Time      `json:"next_fire_at"`
	Status            ScheduleStatus `json:"status"`
	LastFireAttemptAt *time.Time     `json:"last_fire_attempt_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// RecipientProfile is the delivery target resolved by the dispatcher.
// A recipient is eligible only when confirmed, not opted out, and carrying
// a contact address.
type RecipientProfile struct {
	ID             string `json:"id"`
	ContactAddress string `json:"contact_address"`
	OptedOut       bool   `json:"opted_out"`
	Confirmed      bool   `json:"confirmed"`
}

// Eligible reports whether the recipient may receive reminders.
func (r *RecipientProfile) Eligible() bool {
	return r != nil && r.Confirmed && !r.OptedOut && r.ContactAddress != ""
}

// AttemptOutcome is the recorded result of a delivery attempt.
type AttemptOutcome string

const (
	AttemptSent   AttemptOutcome = "sent"
	AttemptFailed AttemptOutcome = "failed"
)

// DeliveryAttempt is one append-only ledger entry. The pair
// (ScheduleID, ScheduledFireAt) is the idempotency key: the ledger accepts
// at most one row per pair, which is what makes re-dispatch of an unchanged
// due job a no-op.
type DeliveryAttempt struct {
	ID               string         `json:"id"`
	ScheduleID       string         `json:"schedule_id"`
	ScheduledFireAt  time.Time      `json:"scheduled_fire_at"`
	Outcome          AttemptOutcome `json:"outcome"`
	GatewayMessageID string         `json:"gateway_message_id,omitempty"`
	LatencySeconds   float64        `json:"latency_seconds"`
	CreatedAt        time.Time      `json:"created_at"`
}

// ErrorKind categorizes structured error records written to the error sink.
type ErrorKind string

const (
	// ErrKindAdvancePersist marks a nextFireAt advance that failed
	// persistence after exhausting local retries.
	ErrKindAdvancePersist ErrorKind = "advance_persist_failure"
	// ErrKindRecoveryPersist marks a recovery fast-forward that failed
	// persistence after exhausting local retries.
	ErrKindRecoveryPersist ErrorKind = "recovery_persist_failure"
	// ErrKindRecurrenceInvalid marks a computed next fire time that was not
	// strictly in the future. Fatal for the schedule instance.
	ErrKindRecurrenceInvalid ErrorKind = "recurrence_invalid"
	// ErrKindCorrectnessViolation marks a stuck schedule whose ledger shows
	// a completed attempt at the stuck fire time: the dispatch succeeded but
	// the advance was never persisted.
	ErrKindCorrectnessViolation ErrorKind = "correctness_violation"
)

// ErrorRecord is a structured error written to the error sink. These feed
// the HealthMonitor's recentErrorCount and the ops API.
type ErrorRecord struct {
	ID               string    `json:"id"`
	ScheduleID       string    `json:"schedule_id"`
	Kind             ErrorKind `json:"kind"`
	Message          string    `json:"message"`
	RetriesExhausted bool      `json:"retries_exhausted"`
	CreatedAt        time.Time `json:"created_at"`
}

// HealthStatus is the aggregate delivery health classification.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// HealthSnapshot is one persisted aggregation of delivery health.
type HealthSnapshot struct {
	ID                         string       `json:"id"`
	Timestamp                  time.Time    `json:"timestamp"`
	StuckScheduleCount         int          `json:"stuck_schedule_count"`
	RecentErrorCount           int          `json:"recent_error_count"`
	DeliverySuccessRatePercent float64      `json:"delivery_success_rate_percent"`
	OverallStatus              HealthStatus `json:"overall_status"`
}
