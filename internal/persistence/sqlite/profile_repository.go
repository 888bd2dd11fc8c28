package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/example/campus-facilities/internal/persistence"
)

// ProfileRepository implements persistence.ProfileRepository using SQLite
type ProfileRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewProfileRepository creates a new SQLite profile repository
func NewProfileRepository(pool *ConnectionPool) *ProfileRepository {
	return &ProfileRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

// UpsertProfile mirrors an identity profile into the local table
func (r *ProfileRepository) UpsertProfile(ctx context.Context, profile persistence.Profile) error {
	if profile.UserID == "" {
		return persistence.ErrConstraintViolation
	}
	if profile.Role == "" {
		profile.Role = "student"
	}

	query := `
		INSERT INTO profiles (user_id, full_name, external_id, email, role)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			full_name = excluded.full_name,
			external_id = excluded.external_id,
			email = excluded.email,
			role = excluded.role
	`

	_, err := r.helper.Exec(ctx, query,
		profile.UserID,
		profile.FullName,
		profile.ExternalID,
		profile.Email,
		profile.Role,
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return nil
}

// GetProfile retrieves a profile by user ID
func (r *ProfileRepository) GetProfile(ctx context.Context, userID string) (persistence.Profile, error) {
	if userID == "" {
		return persistence.Profile{}, persistence.ErrNotFound
	}

	query := `SELECT user_id, full_name, external_id, email, role FROM profiles WHERE user_id = ?`

	var profile persistence.Profile
	err := r.helper.QueryRow(ctx, query, userID).Scan(
		&profile.UserID,
		&profile.FullName,
		&profile.ExternalID,
		&profile.Email,
		&profile.Role,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.Profile{}, persistence.ErrNotFound
		}
		return persistence.Profile{}, r.mapper.MapError(err)
	}

	return profile, nil
}
