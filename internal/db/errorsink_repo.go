package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"habitpulse/internal/types"
)

// ErrorSinkRepository provides data access for the scheduler_errors table:
// the durable sink for advance, recovery, and recurrence failures. Rows feed
// the health monitor's recent-error aggregate and the ops read API, and are
// eventually archived to object storage and pruned.
type ErrorSinkRepository struct {
	db DBTX
}

// NewErrorSinkRepository creates a new ErrorSinkRepository backed by the
// given database connection (pool or transaction).
func NewErrorSinkRepository(db DBTX) *ErrorSinkRepository {
	return &ErrorSinkRepository{db: db}
}

// Record appends one error record.
func (r *ErrorSinkRepository) Record(ctx context.Context, record *types.ErrorRecord) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO scheduler_errors
		 (id, schedule_id, kind, message, retries_exhausted, created_at)
		 VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`,
		record.ID,
		record.ScheduleID,
		string(record.Kind),
		record.Message,
		record.RetriesExhausted,
		nilIfZeroTime(record.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record scheduler error", err)
	}
	return nil
}

// CountErrorsSince counts records created at or after since. The health
// monitor's recent-error aggregate.
func (r *ErrorSinkRepository) CountErrorsSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM scheduler_errors WHERE created_at >= $1`,
		since,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count scheduler errors", err)
	}
	return count, nil
}

// ListRecent returns the newest records, newest first. Backs the ops read
// API.
func (r *ErrorSinkRepository) ListRecent(ctx context.Context, limit int) ([]types.ErrorRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, schedule_id, kind, message, retries_exhausted, created_at
		 FROM scheduler_errors
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query scheduler errors", err)
	}
	defer rows.Close()

	return collectErrorRecords(rows)
}

// ListOlderThan returns records created before cutoff, oldest first. The
// archival job reads these batches before pruning.
func (r *ErrorSinkRepository) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]types.ErrorRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, schedule_id, kind, message, retries_exhausted, created_at
		 FROM scheduler_errors
		 WHERE created_at < $1
		 ORDER BY created_at ASC
		 LIMIT $2`,
		cutoff,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query archivable scheduler errors", err)
	}
	defer rows.Close()

	return collectErrorRecords(rows)
}

// DeleteByIDs prunes exactly the given records and returns the number
// removed. The archival job passes the IDs it listed and uploaded, so rows
// beyond the batch stay in place for the next run.
func (r *ErrorSinkRepository) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM scheduler_errors WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to prune scheduler errors", err)
	}
	return tag.RowsAffected(), nil
}

func collectErrorRecords(rows pgx.Rows) ([]types.ErrorRecord, error) {
	var records []types.ErrorRecord
	for rows.Next() {
		var rec types.ErrorRecord
		var kind string
		if err := rows.Scan(
			&rec.ID,
			&rec.ScheduleID,
			&kind,
			&rec.Message,
			&rec.RetriesExhausted,
			&rec.CreatedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan scheduler error", err)
		}
		rec.Kind = types.ErrorKind(kind)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating scheduler errors", err)
	}
	return records, nil
}
