package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/example/campus-facilities/internal/persistence"
)

const bookingColumns = `id, facility_id, user_id, date_label, time_label, reference_code,
	check_in_code, status, check_in_time, check_out_time, created_at`

// BookingRepository implements persistence.BookingRepository using SQLite
type BookingRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
	retry  *RetryHelper
}

// NewBookingRepository creates a new SQLite booking repository
func NewBookingRepository(pool *ConnectionPool) *BookingRepository {
	return &BookingRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
		retry:  NewRetryHelper(DefaultRetryConfig()),
	}
}

// CreateBooking inserts a new booking row
func (r *BookingRepository) CreateBooking(ctx context.Context, booking persistence.Booking) error {
	if booking.ID == "" || booking.ReferenceCode == "" {
		return persistence.ErrConstraintViolation
	}
	// An empty code is stored as NULL so lookups use the reference suffix.
	if booking.CheckInCode != nil && *booking.CheckInCode == "" {
		booking.CheckInCode = nil
	}

	query := `
		INSERT INTO bookings (` + bookingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := r.retry.WithRetry(ctx, func() error {
		_, err := r.helper.Exec(ctx, query,
			booking.ID,
			booking.FacilityID,
			booking.UserID,
			booking.DateLabel,
			booking.TimeLabel,
			booking.ReferenceCode,
			nullableString(booking.CheckInCode),
			booking.Status,
			nullableTimestamp(booking.CheckInTime),
			nullableTimestamp(booking.CheckOutTime),
			formatTimestamp(booking.CreatedAt),
		)
		return err
	})
	if err != nil {
		return r.mapper.MapError(err)
	}

	return nil
}

// GetBooking retrieves a booking by ID
func (r *BookingRepository) GetBooking(ctx context.Context, id string) (persistence.Booking, error) {
	if id == "" {
		return persistence.Booking{}, persistence.ErrNotFound
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`

	booking, err := scanBooking(r.helper.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.Booking{}, persistence.ErrNotFound
		}
		return persistence.Booking{}, r.mapper.MapError(err)
	}

	return booking, nil
}

// ListBookings returns bookings matching the filter, newest first
func (r *BookingRepository) ListBookings(ctx context.Context, filter persistence.BookingFilter) ([]persistence.Booking, error) {
	var (
		conditions []string
		args       []any
	)

	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.DateLabel != "" {
		conditions = append(conditions, "date_label = ?")
		args = append(args, filter.DateLabel)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"

	return r.queryBookings(ctx, query, args...)
}

// FindConfirmedByCode returns confirmed bookings on dateLabel matching code.
// Rows without a check-in code, or with an empty one, match on the last six
// characters of their reference code.
func (r *BookingRepository) FindConfirmedByCode(ctx context.Context, dateLabel, code string) ([]persistence.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = 'confirmed'
			AND date_label = ?
			AND (check_in_code = ? OR (NULLIF(check_in_code, '') IS NULL AND substr(reference_code, -6) = ?))
		ORDER BY created_at ASC, rowid ASC
	`

	return r.queryBookings(ctx, query, dateLabel, code, code)
}

// TransitionBooking moves a booking from transition.From to transition.To in
// a single conditional update. Timestamps already set on the row are kept.
func (r *BookingRepository) TransitionBooking(ctx context.Context, transition persistence.BookingTransition) (persistence.Booking, error) {
	if transition.ID == "" {
		return persistence.Booking{}, persistence.ErrNotFound
	}

	query := `
		UPDATE bookings
		SET status = ?,
			check_in_time = COALESCE(check_in_time, ?),
			check_out_time = COALESCE(check_out_time, ?)
		WHERE id = ? AND status = ?
	`

	// The row is re-read in the same transaction so the caller sees the
	// state its own update produced.
	var (
		rowsAffected int64
		current      persistence.Booking
	)
	err := r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			result, err := tx.ExecContext(ctx, query,
				transition.To,
				nullableTimestamp(transition.CheckInTime),
				nullableTimestamp(transition.CheckOutTime),
				transition.ID,
				transition.From,
			)
			if err != nil {
				return err
			}
			rowsAffected, err = result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get rows affected: %w", err)
			}
			current, err = scanBooking(tx.QueryRowContext(ctx,
				`SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, transition.ID))
			return err
		})
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.Booking{}, persistence.ErrNotFound
		}
		return persistence.Booking{}, r.mapper.MapError(err)
	}
	if rowsAffected == 0 {
		return current, fmt.Errorf("%w: booking %s is %s, expected %s",
			persistence.ErrStatusConflict, transition.ID, current.Status, transition.From)
	}

	return current, nil
}

func (r *BookingRepository) queryBookings(ctx context.Context, query string, args ...any) ([]persistence.Booking, error) {
	rows, err := r.helper.Query(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	bookings := make([]persistence.Booking, 0)
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, r.mapper.MapError(err)
		}
		bookings = append(bookings, booking)
	}

	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}

	return bookings, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (persistence.Booking, error) {
	var (
		booking      persistence.Booking
		checkInCode  sql.NullString
		checkInTime  sql.NullString
		checkOutTime sql.NullString
		createdAt    string
	)

	err := row.Scan(
		&booking.ID,
		&booking.FacilityID,
		&booking.UserID,
		&booking.DateLabel,
		&booking.TimeLabel,
		&booking.ReferenceCode,
		&checkInCode,
		&booking.Status,
		&checkInTime,
		&checkOutTime,
		&createdAt,
	)
	if err != nil {
		return persistence.Booking{}, err
	}

	booking.CheckInCode = stringPointer(checkInCode)
	if booking.CheckInTime, err = parseNullableTimestamp("check_in_time", checkInTime); err != nil {
		return persistence.Booking{}, err
	}
	if booking.CheckOutTime, err = parseNullableTimestamp("check_out_time", checkOutTime); err != nil {
		return persistence.Booking{}, err
	}
	if booking.CreatedAt, err = parseTimestamp("created_at", createdAt); err != nil {
		return persistence.Booking{}, err
	}

	return booking, nil
}
