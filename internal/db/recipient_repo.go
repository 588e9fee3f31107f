package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"habitpulse/internal/types"
)

// RecipientRepository provides data access for the recipients table.
type RecipientRepository struct {
	db DBTX
}

// NewRecipientRepository creates a new RecipientRepository backed by the
// given database connection (pool or transaction).
func NewRecipientRepository(db DBTX) *RecipientRepository {
	return &RecipientRepository{db: db}
}

// GetRecipient returns the recipient profile, or nil when no profile exists.
// A missing recipient is an expected dispatch condition (the schedule is
// skipped), so it is not mapped to an error here.
func (r *RecipientRepository) GetRecipient(ctx context.Context, id string) (*types.RecipientProfile, error) {
	var p types.RecipientProfile
	err := r.db.QueryRow(ctx,
		`SELECT id, COALESCE(contact_address, ''), opted_out, confirmed
		 FROM recipients
		 WHERE id = $1 AND deleted_at IS NULL`,
		id,
	).Scan(&p.ID, &p.ContactAddress, &p.OptedOut, &p.Confirmed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve recipient", err)
	}
	return &p, nil
}
