// Package scheduler implements the externally-triggered work cycles of the
// HabitPulse reminder subsystem: the due-job scan, the missed-job recovery
// sweep, and the periodic health check. No persistent daemon exists; each
// cycle is a single run-to-completion invocation driven by an external
// time-based trigger, and every service here is directly invocable without
// the trigger for testing and manual operations.
package scheduler

import (
	"fmt"
	"time"
)

// ScanInput defines the input for a due-job scan invocation. All fields are
// optional; zero values select the configured defaults. ReferenceTime exists
// for deterministic testing and manual backfill.
type ScanInput struct {
	ReferenceTime time.Time `json:"reference_time,omitempty"`
	Limit         int       `json:"limit,omitempty"` // caps jobs processed per invocation
}

// SweepInput defines the input for a recovery sweep invocation.
type SweepInput struct {
	ReferenceTime time.Time `json:"reference_time,omitempty"`
	Limit         int       `json:"limit,omitempty"`
}

// CheckInput defines the input for a health check invocation.
type CheckInput struct {
	ReferenceTime time.Time `json:"reference_time,omitempty"`
}

// CycleSummary is the only thing a scan cycle reports back to the trigger
// infrastructure: per-outcome counts plus the number of per-job failures
// that were isolated from the rest of the batch.
type CycleSummary struct {
	Due     int `json:"due"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Deduped int `json:"deduped"`
	Errors  int `json:"errors"`
}

// String renders the summary for the trigger's string result.
func (s CycleSummary) String() string {
	return fmt.Sprintf("due=%d sent=%d failed=%d skipped=%d deduped=%d errors=%d",
		s.Due, s.Sent, s.Failed, s.Skipped, s.Deduped, s.Errors)
}

// SweepSummary reports the result of one recovery sweep.
type SweepSummary struct {
	Stuck      int `json:"stuck"`
	Recovered  int `json:"recovered"`
	Violations int `json:"violations"`
	Errors     int `json:"errors"`
}

// String renders the summary for the trigger's string result.
func (s SweepSummary) String() string {
	return fmt.Sprintf("stuck=%d recovered=%d violations=%d errors=%d",
		s.Stuck, s.Recovered, s.Violations, s.Errors)
}

// Default cadence-derived tuning values. The scan window is five times the
// nominal one-minute poll interval: wide enough to tolerate delayed or
// skipped ticks, narrow enough that older staleness stays the recoverer's
// exclusive territory.
const (
	DefaultScanWindow     = 5 * time.Minute
	DefaultStuckThreshold = 5 * time.Minute
	DefaultSweepBatch     = 200
	DefaultScanBatch      = 500
	DefaultMaxConcurrency = 4
)
