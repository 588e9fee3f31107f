package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"habitpulse/internal/types"
)

// HealthRepository provides data access for the health_snapshots table.
type HealthRepository struct {
	db DBTX
}

// NewHealthRepository creates a new HealthRepository backed by the given
// database connection (pool or transaction).
func NewHealthRepository(db DBTX) *HealthRepository {
	return &HealthRepository{db: db}
}

// InsertHealthSnapshot appends one snapshot.
func (r *HealthRepository) InsertHealthSnapshot(ctx context.Context, snapshot *types.HealthSnapshot) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO health_snapshots
		 (id, ts, stuck_schedule_count, recent_error_count, delivery_success_rate, overall_status)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		snapshot.ID,
		snapshot.Timestamp,
		snapshot.StuckScheduleCount,
		snapshot.RecentErrorCount,
		snapshot.DeliverySuccessRatePercent,
		string(snapshot.OverallStatus),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert health snapshot", err)
	}
	return nil
}

// GetLatest returns the most recent snapshot. Backs the ops read API.
func (r *HealthRepository) GetLatest(ctx context.Context) (*types.HealthSnapshot, error) {
	var s types.HealthSnapshot
	var status string
	err := r.db.QueryRow(ctx,
		`SELECT id, ts, stuck_schedule_count, recent_error_count, delivery_success_rate, overall_status
		 FROM health_snapshots
		 ORDER BY ts DESC
		 LIMIT 1`,
	).Scan(
		&s.ID,
		&s.Timestamp,
		&s.StuckScheduleCount,
		&s.RecentErrorCount,
		&s.DeliverySuccessRatePercent,
		&status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSnapshot, "no health snapshot recorded yet", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve health snapshot", err)
	}
	s.OverallStatus = types.HealthStatus(status)
	return &s, nil
}
