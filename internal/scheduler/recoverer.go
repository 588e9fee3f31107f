package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"habitpulse/internal/delivery"
	"habitpulse/internal/recurrence"
	"habitpulse/internal/types"
)

// RecovererStore is the Recoverer's view of schedule persistence.
type RecovererStore interface {
	// ListStuckSchedules returns active recurring schedules whose next fire
	// time is at or before cutoff, oldest first, capped at limit.
	ListStuckSchedules(ctx context.Context, cutoff time.Time, limit int) ([]types.Schedule, error)

	// UpdateNextFireTime is the same compare-and-set the Advancer uses.
	UpdateNextFireTime(ctx context.Context, scheduleID string, prevFireAt, nextFireAt, attemptAt time.Time) (bool, error)
}

// AttemptChecker is the Recoverer's read-only view of the delivery ledger,
// used to distinguish a missed dispatch from a dispatched-but-never-advanced
// schedule.
type AttemptChecker interface {
	HasAttempt(ctx context.Context, scheduleID string, fireAt time.Time) (bool, error)
}

// Recoverer unsticks schedules whose next fire time fell behind the scan
// window: crashed invocations, extended downtime, advances that never
// persisted. It fast-forwards the schedule to its next natural occurrence
// and never sends anything itself; the user's mental model is "I get my
// reminder at the scheduled time or not at all", and a pile of late
// reminders after an outage would break it.
type Recoverer struct {
	store     RecovererStore
	ledger    AttemptChecker
	sink      ErrorSink
	threshold time.Duration
	batch     int
	retry     delivery.RetryPolicy
	sleep     func(time.Duration)
	logger    *slog.Logger
}

// RecovererConfig holds the dependencies for creating a Recoverer.
type RecovererConfig struct {
	Store  RecovererStore
	Ledger AttemptChecker
	Sink   ErrorSink
	// StuckThreshold is how far behind a schedule must be before the sweep
	// touches it; zero selects DefaultStuckThreshold. It must exceed the
	// scan window so the sweep and the scanner never fight over a job.
	StuckThreshold time.Duration
	// BatchLimit caps schedules per sweep; zero selects DefaultSweepBatch.
	BatchLimit int
	// Retry overrides the persistence retry policy; the zero value selects
	// delivery.PersistRetryPolicy.
	Retry  delivery.RetryPolicy
	Logger *slog.Logger
	// Sleep overrides the backoff sleep for tests.
	Sleep func(time.Duration)
}

// NewRecoverer creates a Recoverer.
func NewRecoverer(cfg RecovererConfig) *Recoverer {
	threshold := cfg.StuckThreshold
	if threshold <= 0 {
		threshold = DefaultStuckThreshold
	}
	batch := cfg.BatchLimit
	if batch <= 0 {
		batch = DefaultSweepBatch
	}
	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = delivery.PersistRetryPolicy
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Recoverer{
		store:     cfg.Store,
		ledger:    cfg.Ledger,
		sink:      cfg.Sink,
		threshold: threshold,
		batch:     batch,
		retry:     retry,
		sleep:     sleep,
		logger:    logger,
	}
}

// Sweep runs one recovery pass at the input's reference time (or now).
//
// For every stuck schedule it first consults the ledger: an existing attempt
// at the stuck fire time means the dispatch completed but the advance never
// persisted, which is a correctness violation worth an elevated record. With
// or without the violation, the remediation is the same: fast-forward the
// next fire time to the next occurrence computed from now, using the same
// compare-and-set and retry discipline the Advancer uses. The missed
// occurrence itself is intentionally dropped.
func (r *Recoverer) Sweep(ctx context.Context, input SweepInput) (SweepSummary, error) {
	now := input.ReferenceTime
	if now.IsZero() {
		now = time.Now().UTC()
	}
	limit := input.Limit
	if limit <= 0 {
		limit = r.batch
	}

	cutoff := now.Add(-r.threshold)
	stuck, err := r.store.ListStuckSchedules(ctx, cutoff, limit)
	if err != nil {
		return SweepSummary{}, fmt.Errorf("querying stuck schedules: %w", err)
	}

	summary := SweepSummary{Stuck: len(stuck)}
	if len(stuck) == 0 {
		r.logger.Info("recovery sweep complete, nothing stuck",
			"cutoff", cutoff.Format(time.RFC3339),
		)
		return summary, nil
	}

	r.logger.Warn("recovery sweep found stuck schedules",
		"count", len(stuck),
		"cutoff", cutoff.Format(time.RFC3339),
	)

	for i := range stuck {
		schedule := &stuck[i]
		if r.recoverOne(ctx, schedule, now, &summary) {
			summary.Recovered++
		}
	}

	r.logger.Info("recovery sweep complete",
		"stuck", summary.Stuck,
		"recovered", summary.Recovered,
		"violations", summary.Violations,
		"errors", summary.Errors,
	)
	return summary, nil
}

// recoverOne fast-forwards one stuck schedule. Returns true when this sweep
// persisted the fix.
func (r *Recoverer) recoverOne(ctx context.Context, schedule *types.Schedule, now time.Time, summary *SweepSummary) bool {
	stuckAt := schedule.NextFireAt

	attempted, err := r.ledger.HasAttempt(ctx, schedule.ID, stuckAt)
	if err != nil {
		// The ledger check is diagnostic; the fast-forward proceeds without it.
		r.logger.Error("ledger check failed during recovery",
			"schedule_id", schedule.ID,
			"error", err,
		)
	} else if attempted {
		summary.Violations++
		r.logger.Error("stuck schedule has a completed attempt: dispatched but never advanced",
			"schedule_id", schedule.ID,
			"stuck_fire_at", stuckAt.Format(time.RFC3339),
		)
		r.recordError(ctx, schedule.ID, types.ErrKindCorrectnessViolation,
			fmt.Sprintf("attempt exists for stuck fire time %s but schedule never advanced",
				stuckAt.Format(time.RFC3339)),
		)
	}

	next := recurrence.ComputeNext(schedule.Frequency, schedule.AnchorTimeOfDay, now)
	if !next.After(now) {
		r.logger.Error("recovery recurrence produced non-future fire time",
			"schedule_id", schedule.ID,
			"frequency", string(schedule.Frequency.Kind),
			"computed_next", next.Format(time.RFC3339),
		)
		r.recordError(ctx, schedule.ID, types.ErrKindRecurrenceInvalid,
			fmt.Sprintf("recovery computed non-future fire time %s", next.Format(time.RFC3339)))
		summary.Errors++
		return false
	}

	applied, err := retryPersist(r.retry, r.sleep, func() (bool, error) {
		return r.store.UpdateNextFireTime(ctx, schedule.ID, stuckAt, next, now)
	})
	if err != nil {
		r.logger.Error("failed to persist recovery after retries",
			"schedule_id", schedule.ID,
			"error", err,
		)
		r.recordError(ctx, schedule.ID, types.ErrKindRecoveryPersist,
			fmt.Sprintf("fast-forward to %s failed: %v", next.Format(time.RFC3339), err))
		summary.Errors++
		return false
	}
	if !applied {
		r.logger.Info("stuck schedule already repaired elsewhere",
			"schedule_id", schedule.ID,
			"stuck_fire_at", stuckAt.Format(time.RFC3339),
		)
		return false
	}

	schedule.NextFireAt = next
	r.logger.Info("stuck schedule recovered",
		"schedule_id", schedule.ID,
		"stuck_fire_at", stuckAt.Format(time.RFC3339),
		"next_fire_at", next.Format(time.RFC3339),
	)
	return true
}

func (r *Recoverer) recordError(ctx context.Context, scheduleID string, kind types.ErrorKind, message string) {
	rec := &types.ErrorRecord{
		ID:               uuid.New().String(),
		ScheduleID:       scheduleID,
		Kind:             kind,
		Message:          message,
		RetriesExhausted: kind == types.ErrKindRecoveryPersist,
		CreatedAt:        time.Now().UTC(),
	}
	if err := r.sink.Record(ctx, rec); err != nil {
		r.logger.Error("failed to record error sink entry",
			"schedule_id", scheduleID,
			"kind", string(kind),
			"error", err,
		)
	}
}
