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

// AdvancerStore is the Advancer's view of schedule persistence.
type AdvancerStore interface {
	// UpdateNextFireTime moves a schedule's next fire time from prevFireAt to
	// nextFireAt and stamps the fire attempt, as a single compare-and-set.
	// Returns applied=false when the stored fire time no longer matches
	// prevFireAt, meaning another invocation advanced the schedule first.
	UpdateNextFireTime(ctx context.Context, scheduleID string, prevFireAt, nextFireAt, attemptAt time.Time) (bool, error)

	// ArchiveSchedule transitions a one-time schedule to its terminal state
	// after its single fire attempt.
	ArchiveSchedule(ctx context.Context, scheduleID string, attemptAt time.Time) error
}

// ErrorSink records structured failures for the health monitor and the ops
// read API.
type ErrorSink interface {
	Record(ctx context.Context, record *types.ErrorRecord) error
}

// Advancer moves a schedule past a serviced occurrence. It runs after every
// dispatch regardless of the delivery outcome: a failed or skipped send must
// never leave the schedule due again on the next scan.
type Advancer struct {
	store  AdvancerStore
	sink   ErrorSink
	retry  delivery.RetryPolicy
	sleep  func(time.Duration)
	logger *slog.Logger
}

// AdvancerConfig holds the dependencies for creating an Advancer.
type AdvancerConfig struct {
	Store AdvancerStore
	Sink  ErrorSink
	// Retry overrides the persistence retry policy; the zero value selects
	// delivery.PersistRetryPolicy.
	Retry  delivery.RetryPolicy
	Logger *slog.Logger
	// Sleep overrides the backoff sleep for tests.
	Sleep func(time.Duration)
}

// NewAdvancer creates an Advancer.
func NewAdvancer(cfg AdvancerConfig) *Advancer {
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
	return &Advancer{
		store:  cfg.Store,
		sink:   cfg.Sink,
		retry:  retry,
		sleep:  sleep,
		logger: logger,
	}
}

// Advance computes and persists the schedule's next occurrence.
//
// One-time schedules are archived: a single attempt, delivered or not, is
// all they get. Recurring schedules get a next fire time from the recurrence
// calculator, validated to be strictly after both now and the occurrence
// just serviced; a non-advancing result is fatal for the schedule instance
// and leaves it unmodified.
//
// Persistence uses a compare-and-set on the previous fire time with bounded
// exponential-backoff retries. A clean compare-and-set miss means a
// concurrent invocation already advanced the schedule and is not an error.
// Exhausted retries are recorded in the error sink so the recovery sweep and
// the health monitor pick the schedule up.
func (a *Advancer) Advance(ctx context.Context, schedule *types.Schedule, now time.Time) error {
	if !schedule.Frequency.Recurring() {
		return a.archiveOnce(ctx, schedule, now)
	}

	prev := schedule.NextFireAt
	next := recurrence.ComputeNext(schedule.Frequency, schedule.AnchorTimeOfDay, prev)

	if !next.After(now) || !next.After(prev) {
		a.logger.Error("recurrence produced non-advancing fire time",
			"schedule_id", schedule.ID,
			"frequency", string(schedule.Frequency.Kind),
			"prev_fire_at", prev.Format(time.RFC3339),
			"computed_next", next.Format(time.RFC3339),
		)
		a.recordError(ctx, schedule.ID, types.ErrKindRecurrenceInvalid,
			fmt.Sprintf("computed next fire time %s does not advance past %s",
				next.Format(time.RFC3339), prev.Format(time.RFC3339)),
			false,
		)
		return types.NewAppError(
			types.ErrCodeInternalRecurrence,
			fmt.Sprintf("schedule %s: recurrence did not advance", schedule.ID),
			nil,
		)
	}

	applied, err := retryPersist(a.retry, a.sleep, func() (bool, error) {
		return a.store.UpdateNextFireTime(ctx, schedule.ID, prev, next, now)
	})
	if err != nil {
		a.logger.Error("failed to persist schedule advance after retries",
			"schedule_id", schedule.ID,
			"attempts", a.retry.MaxAttempts,
			"error", err,
		)
		a.recordError(ctx, schedule.ID, types.ErrKindAdvancePersist,
			fmt.Sprintf("advance to %s failed: %v", next.Format(time.RFC3339), err),
			true,
		)
		return fmt.Errorf("persisting advance for schedule %s: %w", schedule.ID, err)
	}
	if !applied {
		a.logger.Info("schedule already advanced by a concurrent invocation",
			"schedule_id", schedule.ID,
			"prev_fire_at", prev.Format(time.RFC3339),
		)
		return nil
	}

	schedule.NextFireAt = next
	schedule.LastFireAttemptAt = &now

	a.logger.Info("schedule advanced",
		"schedule_id", schedule.ID,
		"next_fire_at", next.Format(time.RFC3339),
	)
	return nil
}

// archiveOnce terminates a one-time schedule after its single attempt.
func (a *Advancer) archiveOnce(ctx context.Context, schedule *types.Schedule, now time.Time) error {
	_, err := retryPersist(a.retry, a.sleep, func() (bool, error) {
		return true, a.store.ArchiveSchedule(ctx, schedule.ID, now)
	})
	if err != nil {
		a.logger.Error("failed to archive one-time schedule after retries",
			"schedule_id", schedule.ID,
			"error", err,
		)
		a.recordError(ctx, schedule.ID, types.ErrKindAdvancePersist,
			fmt.Sprintf("archiving one-time schedule failed: %v", err),
			true,
		)
		return fmt.Errorf("archiving schedule %s: %w", schedule.ID, err)
	}

	schedule.Status = types.ScheduleArchived
	schedule.LastFireAttemptAt = &now

	a.logger.Info("one-time schedule archived", "schedule_id", schedule.ID)
	return nil
}

// recordError writes to the error sink, best effort. A sink failure is
// logged and dropped; it must not cascade into the batch.
func (a *Advancer) recordError(ctx context.Context, scheduleID string, kind types.ErrorKind, message string, exhausted bool) {
	rec := &types.ErrorRecord{
		ID:               uuid.New().String(),
		ScheduleID:       scheduleID,
		Kind:             kind,
		Message:          message,
		RetriesExhausted: exhausted,
		CreatedAt:        time.Now().UTC(),
	}
	if err := a.sink.Record(ctx, rec); err != nil {
		a.logger.Error("failed to record error sink entry",
			"schedule_id", scheduleID,
			"kind", string(kind),
			"error", err,
		)
	}
}

// retryPersist runs op under the policy's exponential backoff. A nil error
// stops immediately with op's applied result; errors are retried up to
// MaxAttempts before the last one is returned.
func retryPersist(policy delivery.RetryPolicy, sleep func(time.Duration), op func() (bool, error)) (bool, error) {
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			sleep(delivery.CalculateNextRetry(policy, attempt-1))
		}
		applied, err := op()
		if err == nil {
			return applied, nil
		}
		lastErr = err
	}
	return false, lastErr
}
