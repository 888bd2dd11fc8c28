package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/example/campus-facilities/internal/persistence"
)

// FacilityRepository implements persistence.FacilityRepository using SQLite
type FacilityRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewFacilityRepository creates a new SQLite facility repository
func NewFacilityRepository(pool *ConnectionPool) *FacilityRepository {
	return &FacilityRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

// UpsertFacility mirrors a catalog entry into the local table
func (r *FacilityRepository) UpsertFacility(ctx context.Context, facility persistence.Facility) error {
	if facility.ID == "" {
		return persistence.ErrConstraintViolation
	}

	query := `
		INSERT INTO facilities (id, name, location, category)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			location = excluded.location,
			category = excluded.category
	`

	if _, err := r.helper.Exec(ctx, query, facility.ID, facility.Name, facility.Location, facility.Category); err != nil {
		return r.mapper.MapError(err)
	}
	return nil
}

// GetFacility retrieves a facility by ID
func (r *FacilityRepository) GetFacility(ctx context.Context, id string) (persistence.Facility, error) {
	if id == "" {
		return persistence.Facility{}, persistence.ErrNotFound
	}

	query := `SELECT id, name, location, category FROM facilities WHERE id = ?`

	var facility persistence.Facility
	err := r.helper.QueryRow(ctx, query, id).Scan(
		&facility.ID,
		&facility.Name,
		&facility.Location,
		&facility.Category,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.Facility{}, persistence.ErrNotFound
		}
		return persistence.Facility{}, r.mapper.MapError(err)
	}

	return facility, nil
}

// ListFacilities returns every facility ordered by name then ID
func (r *FacilityRepository) ListFacilities(ctx context.Context) ([]persistence.Facility, error) {
	query := `SELECT id, name, location, category FROM facilities ORDER BY name ASC, id ASC`

	rows, err := r.helper.Query(ctx, query)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	facilities := make([]persistence.Facility, 0)
	for rows.Next() {
		var facility persistence.Facility
		if err := rows.Scan(&facility.ID, &facility.Name, &facility.Location, &facility.Category); err != nil {
			return nil, r.mapper.MapError(err)
		}
		facilities = append(facilities, facility)
	}

	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}

	return facilities, nil
}
