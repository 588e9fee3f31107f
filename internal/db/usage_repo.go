package db

import (
	"context"

	"habitpulse/internal/types"
)

// UsageRepository provides data access for the usage_counters table:
// per-owner monthly counts of delivered reminders, shown on the owner's
// usage dashboard.
type UsageRepository struct {
	db DBTX
}

// NewUsageRepository creates a new UsageRepository backed by the given
// database connection (pool or transaction).
func NewUsageRepository(db DBTX) *UsageRepository {
	return &UsageRepository{db: db}
}

// IncrementReminders bumps the owner's sent-reminder counter for the current
// calendar month, creating the row on first use.
func (r *UsageRepository) IncrementReminders(ctx context.Context, ownerID string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO usage_counters (owner_id, period_month, reminders_sent)
		 VALUES ($1, date_trunc('month', NOW()), 1)
		 ON CONFLICT (owner_id, period_month) DO UPDATE
		   SET reminders_sent = usage_counters.reminders_sent + 1`,
		ownerID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to increment reminder usage", err)
	}
	return nil
}

// GetRemindersSent returns the owner's counter for the current month, zero
// when no row exists yet.
func (r *UsageRepository) GetRemindersSent(ctx context.Context, ownerID string) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(reminders_sent), 0)
		 FROM usage_counters
		 WHERE owner_id = $1 AND period_month = date_trunc('month', NOW())`,
		ownerID,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to get reminder usage", err)
	}
	return count, nil
}
