package db

import (
	"context"
	"time"

	"habitpulse/internal/types"
)

// LedgerRepository provides data access for the delivery_attempts table, the
// append-only delivery ledger. The table carries a unique constraint on
// (schedule_id, scheduled_fire_at); that constraint, not application logic,
// is what makes duplicate sends impossible to record twice.
type LedgerRepository struct {
	db DBTX
}

// NewLedgerRepository creates a new LedgerRepository backed by the given
// database connection (pool or transaction).
func NewLedgerRepository(db DBTX) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// HasAttempt reports whether an attempt exists for the idempotency key
// (scheduleID, fireAt).
func (r *LedgerRepository) HasAttempt(ctx context.Context, scheduleID string, fireAt time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(
		   SELECT 1 FROM delivery_attempts
		   WHERE schedule_id = $1 AND scheduled_fire_at = $2
		 )`,
		scheduleID,
		fireAt,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check for existing attempt", err)
	}
	return exists, nil
}

// RecordAttempt appends one ledger entry idempotently:
//
//	INSERT INTO delivery_attempts (...)
//	VALUES (...)
//	ON CONFLICT (schedule_id, scheduled_fire_at) DO NOTHING
//
// Returns created=false when the key already exists, meaning a concurrent
// invocation recorded the pair between the caller's dedup check and this
// write.
func (r *LedgerRepository) RecordAttempt(ctx context.Context, attempt *types.DeliveryAttempt) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO delivery_attempts
		 (id, schedule_id, scheduled_fire_at, outcome, gateway_message_id, latency_seconds, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))
		 ON CONFLICT (schedule_id, scheduled_fire_at) DO NOTHING`,
		attempt.ID,
		attempt.ScheduleID,
		attempt.ScheduledFireAt,
		string(attempt.Outcome),
		nilIfEmpty(attempt.GatewayMessageID),
		attempt.LatencySeconds,
		nilIfZeroTime(attempt.CreatedAt),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to record delivery attempt", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CountAttemptsSince returns the sent and failed attempt counts created at
// or after since. The health monitor's success-rate aggregate.
func (r *LedgerRepository) CountAttemptsSince(ctx context.Context, since time.Time) (sent, failed int, err error) {
	err = r.db.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE outcome = 'sent'),
		        COUNT(*) FILTER (WHERE outcome = 'failed')
		 FROM delivery_attempts
		 WHERE created_at >= $1`,
		since,
	).Scan(&sent, &failed)
	if err != nil {
		return 0, 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count delivery attempts", err)
	}
	return sent, failed, nil
}

// ListAttempts returns a schedule's attempts, newest first. Backs the ops
// read API.
func (r *LedgerRepository) ListAttempts(ctx context.Context, scheduleID string, limit int) ([]types.DeliveryAttempt, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, schedule_id, scheduled_fire_at, outcome,
		        COALESCE(gateway_message_id, ''), latency_seconds, created_at
		 FROM delivery_attempts
		 WHERE schedule_id = $1
		 ORDER BY scheduled_fire_at DESC
		 LIMIT $2`,
		scheduleID,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query delivery attempts", err)
	}
	defer rows.Close()

	var attempts []types.DeliveryAttempt
	for rows.Next() {
		var a types.DeliveryAttempt
		if err := rows.Scan(
			&a.ID,
			&a.ScheduleID,
			&a.ScheduledFireAt,
			&a.Outcome,
			&a.GatewayMessageID,
			&a.LatencySeconds,
			&a.CreatedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan delivery attempt", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating delivery attempts", err)
	}
	return attempts, nil
}
