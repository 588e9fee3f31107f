package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"habitpulse/internal/types"
)

// Dispatcher resolves the recipient for a due schedule, enforces the ledger
// dedup guard, invokes the messaging gateway, and records the outcome. It is
// deliberately free of rescheduling logic: the ScheduleAdvancer runs after
// every dispatch regardless of what happened here.
type Dispatcher struct {
	ledger     LedgerStore
	recipients RecipientStore
	usage      UsageRecorder
	gateway    Gateway
	metrics    Metrics
	logger     types.Logger
}

// DispatcherConfig holds the dependencies for creating a Dispatcher.
type DispatcherConfig struct {
	Ledger     LedgerStore
	Recipients RecipientStore
	Usage      UsageRecorder
	Gateway    Gateway
	Metrics    Metrics
	Logger     types.Logger
}

// NewDispatcher creates a Dispatcher. Metrics may be nil (replaced by
// NoopMetrics); everything else is required.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = types.NewSlogLogger(nil)
	}
	return &Dispatcher{
		ledger:     cfg.Ledger,
		recipients: cfg.Recipients,
		usage:      cfg.Usage,
		gateway:    cfg.Gateway,
		metrics:    metrics,
		logger:     logger,
	}
}

// Dispatch processes one due schedule at the given reference time.
//
// Steps:
//  1. Dedup guard: an existing ledger attempt for
//     (schedule.ID, schedule.NextFireAt) means an earlier or overlapping
//     invocation already serviced this slot -- skip without touching the
//     gateway.
//  2. Recipient resolution: ineligible recipients are counted as skipped,
//     not treated as errors.
//  3. Lateness is computed and logged by tier; it never blocks delivery.
//  4. The gateway send is synchronous. A failure is captured, not retried.
//  5. The attempt (sent or failed, with its lateness) is always written to
//     the ledger.
//  6. On success only, the owner's usage counter is incremented.
//
// A non-nil error means an infrastructure failure prevented the step from
// completing; the caller still advances the schedule and isolates the
// failure from the rest of the batch.
func (d *Dispatcher) Dispatch(ctx context.Context, schedule *types.Schedule, now time.Time) (Outcome, error) {
	fireAt := schedule.NextFireAt

	// Step 1: dedup guard.
	exists, err := d.ledger.HasAttempt(ctx, schedule.ID, fireAt)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("dedup check for schedule %s: %w", schedule.ID, err)
	}
	if exists {
		d.logger.Info("attempt already recorded, skipping send",
			"schedule_id", schedule.ID,
			"scheduled_fire_at", fireAt.Format(time.RFC3339),
		)
		d.metrics.RecordDelivery(ctx, MetricDeduped)
		return OutcomeDeduped, nil
	}

	// Step 2: recipient resolution.
	recipient, err := d.recipients.GetRecipient(ctx, schedule.RecipientID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("resolving recipient %s: %w", schedule.RecipientID, err)
	}
	if !recipient.Eligible() {
		d.logger.Info("recipient ineligible, skipping delivery",
			"schedule_id", schedule.ID,
			"recipient_id", schedule.RecipientID,
			"reason", ineligibleReason(recipient),
		)
		d.metrics.RecordDelivery(ctx, MetricSkipped)
		return OutcomeSkipped, nil
	}

	// Step 3: lateness.
	lateness := now.Sub(fireAt)
	d.logLateness(schedule.ID, lateness)
	d.metrics.RecordLateness(ctx, lateness)

	// Step 4: synchronous send.
	result, sendErr := d.gateway.Send(ctx, recipient.ContactAddress, composeBody(schedule))

	// Step 5: the ledger write happens for both outcomes.
	attempt := &types.DeliveryAttempt{
		ID:              uuid.New().String(),
		ScheduleID:      schedule.ID,
		ScheduledFireAt: fireAt,
		LatencySeconds:  lateness.Seconds(),
		CreatedAt:       now,
	}
	outcome := OutcomeSent
	if sendErr != nil {
		outcome = OutcomeFailed
		attempt.Outcome = types.AttemptFailed
		d.logger.Error("gateway send failed",
			"schedule_id", schedule.ID,
			"recipient_id", recipient.ID,
			"error", sendErr,
		)
	} else {
		attempt.Outcome = types.AttemptSent
		attempt.GatewayMessageID = result.GatewayMessageID
	}

	created, err := d.ledger.RecordAttempt(ctx, attempt)
	if err != nil {
		return outcome, fmt.Errorf("recording attempt for schedule %s: %w", schedule.ID, err)
	}
	if !created {
		// The dedup check and this write raced with another invocation.
		// The duplicate send already happened; surface it for analytics.
		d.logger.Warn("concurrent attempt detected at ledger write",
			"schedule_id", schedule.ID,
			"scheduled_fire_at", fireAt.Format(time.RFC3339),
		)
	}

	if outcome == OutcomeFailed {
		d.metrics.RecordDelivery(ctx, MetricFailed)
		return OutcomeFailed, nil
	}

	d.metrics.RecordDelivery(ctx, MetricSent)
	d.logger.Info("reminder delivered",
		"schedule_id", schedule.ID,
		"gateway_message_id", result.GatewayMessageID,
		"lateness_seconds", lateness.Seconds(),
	)

	// Step 6: usage accounting, success only. A failed increment never
	// fails the dispatch; the reminder was already delivered.
	if err := d.usage.IncrementReminders(ctx, schedule.OwnerID); err != nil {
		d.logger.Warn("usage increment failed",
			"owner_id", schedule.OwnerID,
			"error", err,
		)
	}

	return OutcomeSent, nil
}

// logLateness logs the delivery lateness at a severity matching its tier:
// on-time (<60s), minor (60-120s), warning (>120s).
func (d *Dispatcher) logLateness(scheduleID string, lateness time.Duration) {
	switch {
	case lateness < LatenessMinor:
		d.logger.Info("dispatching on time",
			"schedule_id", scheduleID,
			"lateness_seconds", lateness.Seconds(),
		)
	case lateness <= LatenessWarning:
		d.logger.Info("dispatching with minor lateness",
			"schedule_id", scheduleID,
			"lateness_seconds", lateness.Seconds(),
		)
	default:
		d.logger.Warn("dispatching late",
			"schedule_id", scheduleID,
			"lateness_seconds", lateness.Seconds(),
		)
	}
}

// composeBody renders the reminder message text for a schedule.
func composeBody(schedule *types.Schedule) string {
	if schedule.Label == "" {
		return "Time for your habit check-in!"
	}
	return fmt.Sprintf("Time for your habit: %s", schedule.Label)
}

// ineligibleReason names why a recipient cannot receive reminders, for
// structured logging.
func ineligibleReason(r *types.RecipientProfile) string {
	switch {
	case r == nil:
		return "missing"
	case !r.Confirmed:
		return "unconfirmed"
	case r.OptedOut:
		return "opted_out"
	case r.ContactAddress == "":
		return "no_contact_address"
	default:
		return "unknown"
	}
}
