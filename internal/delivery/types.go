// Package delivery implements the reminder delivery pipeline: recipient
// resolution, idempotent dedup against the delivery ledger, the synchronous
// gateway send, and the unconditional ledger write that records every
// attempt's outcome and lateness.
package delivery

import (
	"context"
	"time"

	"habitpulse/internal/types"
)

// Outcome classifies the result of one dispatch of a due schedule.
type Outcome string

const (
	// OutcomeSent: the gateway accepted the message.
	OutcomeSent Outcome = "sent"
	// OutcomeFailed: the gateway send failed. Recorded once, never retried
	// within the same cycle; the next natural occurrence is the remediation.
	OutcomeFailed Outcome = "failed"
	// OutcomeSkipped: the recipient was missing, unconfirmed, opted out, or
	// had no contact address. Counted, not an error.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeDeduped: the ledger already holds an attempt for this
	// (schedule, fire time) pair; an earlier invocation processed it.
	OutcomeDeduped Outcome = "deduped"
)

// Lateness tier boundaries. Lateness never blocks delivery; it only selects
// the log severity and feeds the latency metric.
const (
	LatenessMinor   = 60 * time.Second
	LatenessWarning = 120 * time.Second
)

// SendResult is the gateway's acknowledgment of an accepted message.
type SendResult struct {
	GatewayMessageID string
	Status           string
}

// Gateway abstracts the external messaging provider. Send is synchronous,
// at-least-once, best-effort; a returned error means the message was not
// accepted.
type Gateway interface {
	Send(ctx context.Context, toAddress, body string) (SendResult, error)
}

// LedgerStore is the dispatcher's view of the delivery ledger.
type LedgerStore interface {
	// HasAttempt reports whether an attempt exists for the idempotency key
	// (scheduleID, fireAt).
	HasAttempt(ctx context.Context, scheduleID string, fireAt time.Time) (bool, error)

	// RecordAttempt performs an idempotent append using
	// INSERT ... ON CONFLICT DO NOTHING on the idempotency key. Returns
	// created=false when a concurrent invocation already recorded the pair.
	RecordAttempt(ctx context.Context, attempt *types.DeliveryAttempt) (created bool, err error)
}

// RecipientStore resolves delivery targets.
type RecipientStore interface {
	// GetRecipient returns the recipient profile, or nil when no profile
	// exists for the ID.
	GetRecipient(ctx context.Context, id string) (*types.RecipientProfile, error)
}

// UsageRecorder tracks per-owner reminder counts for the usage dashboard.
type UsageRecorder interface {
	// IncrementReminders bumps the owner's sent-reminder counter.
	IncrementReminders(ctx context.Context, ownerID string) error
}

// MetricResult is the dimension value attached to per-attempt metrics.
type MetricResult string

const (
	MetricSent    MetricResult = "sent"
	MetricFailed  MetricResult = "failed"
	MetricSkipped MetricResult = "skipped"
	MetricDeduped MetricResult = "deduped"
)

// Metrics abstracts telemetry emission for delivery outcomes.
type Metrics interface {
	RecordDelivery(ctx context.Context, result MetricResult)
	RecordLateness(ctx context.Context, lateness time.Duration)
}

// NoopMetrics discards all metrics. Used when telemetry is not configured
// and in tests.
type NoopMetrics struct{}

func (NoopMetrics) RecordDelivery(context.Context, MetricResult) {}
func (NoopMetrics) RecordLateness(context.Context, time.Duration) {}

// RetryPolicy defines the exponential backoff parameters for local,
// synchronous persistence retries.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// PersistRetryPolicy is the standard policy for schedule persistence writes:
// 3 attempts with exponential backoff from a 100 ms base.
var PersistRetryPolicy = RetryPolicy{
	MaxAttempts:   3,
	BaseDelay:     100 * time.Millisecond,
	MaxDelay:      2 * time.Second,
	BackoffFactor: 2.0,
}

// CalculateNextRetry computes the delay before retry number `attempt`
// (zero-based) using exponential backoff:
// delay = min(BaseDelay * BackoffFactor^attempt, MaxDelay).
func CalculateNextRetry(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(policy.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= policy.BackoffFactor
	}

	d := time.Duration(delay)
	if d > policy.MaxDelay {
		d = policy.MaxDelay
	}
	if d < 0 {
		// Guard against overflow
		d = policy.MaxDelay
	}

	return d
}
