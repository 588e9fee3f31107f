package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"habitpulse/internal/types"
)

// ScheduleRepository provides data access for the schedules table. It backs
// the scanner's due-window query, the advancer's compare-and-set, and the
// recoverer's stuck-schedule listing.
type ScheduleRepository struct {
	db DBTX
}

// NewScheduleRepository creates a new ScheduleRepository backed by the given
// database connection (pool or transaction).
func NewScheduleRepository(db DBTX) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

const scheduleColumns = `id, owner_id, recipient_id, label, frequency_kind, custom_days,
	        anchor_hour, anchor_minute, anchor_second, next_fire_at, status,
	        last_fire_attempt_at, created_at, updated_at`

// GetDueSchedules returns active schedules whose next fire time falls within
// [windowStart, windowEnd], oldest first. The lower bound keeps schedules
// that fell far behind out of the scan path; those belong to the recovery
// sweep.
func (r *ScheduleRepository) GetDueSchedules(ctx context.Context, windowStart, windowEnd time.Time, limit int) ([]types.Schedule, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+scheduleColumns+`
		 FROM schedules
		 WHERE status = 'active'
		   AND next_fire_at >= $1
		   AND next_fire_at <= $2
		 ORDER BY next_fire_at ASC
		 LIMIT $3`,
		windowStart,
		windowEnd,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query due schedules", err)
	}
	defer rows.Close()

	return collectSchedules(rows)
}

// GetSchedule returns one schedule by ID.
func (r *ScheduleRepository) GetSchedule(ctx context.Context, id string) (*types.Schedule, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+scheduleColumns+`
		 FROM schedules
		 WHERE id = $1`,
		id,
	)

	s, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSchedule, "schedule not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve schedule", err)
	}
	return s, nil
}

// UpdateNextFireTime advances a schedule's next fire time as a
// compare-and-set on the previous value:
//
//	UPDATE schedules
//	SET next_fire_at = $3, last_fire_attempt_at = $4, updated_at = NOW()
//	WHERE id = $1 AND next_fire_at = $2 AND status = 'active'
//
// Zero rows affected means the stored fire time no longer matches prevFireAt
// (a concurrent invocation advanced the schedule first) or the schedule left
// the active state; both are reported as applied=false, not errors.
func (r *ScheduleRepository) UpdateNextFireTime(ctx context.Context, scheduleID string, prevFireAt, nextFireAt, attemptAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE schedules
		 SET next_fire_at = $3, last_fire_attempt_at = $4, updated_at = NOW()
		 WHERE id = $1 AND next_fire_at = $2 AND status = 'active'`,
		scheduleID,
		prevFireAt,
		nextFireAt,
		attemptAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to update next fire time", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ArchiveSchedule transitions a schedule to its terminal archived state and
// stamps the fire attempt. Used for one-time schedules after their single
// attempt.
func (r *ScheduleRepository) ArchiveSchedule(ctx context.Context, scheduleID string, attemptAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE schedules
		 SET status = 'archived', last_fire_attempt_at = $2, updated_at = NOW()
		 WHERE id = $1`,
		scheduleID,
		attemptAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to archive schedule", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSchedule, "schedule not found", nil)
	}
	return nil
}

// ListStuckSchedules returns active recurring schedules whose next fire time
// is at or before cutoff, oldest first. One-time schedules are excluded:
// they are archived by their first attempt and have no next occurrence to
// fast-forward to.
func (r *ScheduleRepository) ListStuckSchedules(ctx context.Context, cutoff time.Time, limit int) ([]types.Schedule, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+scheduleColumns+`
		 FROM schedules
		 WHERE status = 'active'
		   AND frequency_kind <> 'once'
		   AND next_fire_at <= $1
		 ORDER BY next_fire_at ASC
		 LIMIT $2`,
		cutoff,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query stuck schedules", err)
	}
	defer rows.Close()

	return collectSchedules(rows)
}

// CountStuckSchedules counts active recurring schedules whose next fire time
// is at or before cutoff. The health monitor's stuck aggregate.
func (r *ScheduleRepository) CountStuckSchedules(ctx context.Context, cutoff time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM schedules
		 WHERE status = 'active'
		   AND frequency_kind <> 'once'
		   AND next_fire_at <= $1`,
		cutoff,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count stuck schedules", err)
	}
	return count, nil
}

// scanSchedule scans one schedule row in scheduleColumns order.
func scanSchedule(row pgx.Row) (*types.Schedule, error) {
	var (
		s          types.Schedule
		kind       string
		customDays int16
	)
	if err := row.Scan(
		&s.ID,
		&s.OwnerID,
		&s.RecipientID,
		&s.Label,
		&kind,
		&customDays,
		&s.AnchorTimeOfDay.Hour,
		&s.AnchorTimeOfDay.Minute,
		&s.AnchorTimeOfDay.Second,
		&s.NextFireAt,
		&s.Status,
		&s.LastFireAttemptAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.Frequency = types.Frequency{
		Kind:       types.FrequencyKind(kind),
		CustomDays: types.WeekdaySet(customDays),
	}
	return &s, nil
}

func collectSchedules(rows pgx.Rows) ([]types.Schedule, error) {
	var schedules []types.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan schedule", err)
		}
		schedules = append(schedules, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating schedules", err)
	}
	return schedules, nil
}
