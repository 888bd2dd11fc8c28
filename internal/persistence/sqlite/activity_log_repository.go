package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/example/campus-facilities/internal/persistence"
)

const activityLogColumns = `id, user_id, booking_id, action_type, description, changes, metadata,
	prev_digest, digest, created_at`

// ActivityLogRepository implements persistence.ActivityLogRepository using
// SQLite. Rows are protected from updates and deletes by schema triggers.
type ActivityLogRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
	retry  *RetryHelper
}

// NewActivityLogRepository creates a new SQLite activity log repository
func NewActivityLogRepository(pool *ConnectionPool) *ActivityLogRepository {
	return &ActivityLogRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
		retry:  NewRetryHelper(DefaultRetryConfig()),
	}
}

// AppendActivityLog inserts an audit row
func (r *ActivityLogRepository) AppendActivityLog(ctx context.Context, entry persistence.ActivityLog) error {
	if entry.ID == "" {
		return persistence.ErrConstraintViolation
	}
	if entry.Changes == "" {
		entry.Changes = "{}"
	}
	if entry.Metadata == "" {
		entry.Metadata = "{}"
	}

	query := `
		INSERT INTO activity_logs (` + activityLogColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := r.retry.WithRetry(ctx, func() error {
		_, err := r.helper.Exec(ctx, query,
			entry.ID,
			entry.UserID,
			nullableString(entry.BookingID),
			entry.ActionType,
			entry.Description,
			entry.Changes,
			entry.Metadata,
			entry.PrevDigest,
			entry.Digest,
			formatTimestamp(entry.CreatedAt),
		)
		return err
	})
	if err != nil {
		return r.mapper.MapError(err)
	}

	return nil
}

// ListActivityLogsByBooking returns the entries of one booking in insertion order,
// or reversed when newestFirst is set
func (r *ActivityLogRepository) ListActivityLogsByBooking(ctx context.Context, bookingID string, newestFirst bool) ([]persistence.ActivityLog, error) {
	order := "ASC"
	if newestFirst {
		order = "DESC"
	}

	query := `SELECT ` + activityLogColumns + ` FROM activity_logs
		WHERE booking_id = ?
		ORDER BY created_at ` + order + `, rowid ` + order

	return r.queryActivityLogs(ctx, query, bookingID)
}

// ListActivityLogsByUser returns a user's entries newest first. A limit of
// zero or less returns every entry.
func (r *ActivityLogRepository) ListActivityLogsByUser(ctx context.Context, userID string, limit int) ([]persistence.ActivityLog, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `SELECT ` + activityLogColumns + ` FROM activity_logs
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`

	return r.queryActivityLogs(ctx, query, userID, limit)
}

// LatestBookingDigest returns the digest of the newest entry for a booking
func (r *ActivityLogRepository) LatestBookingDigest(ctx context.Context, bookingID string) (string, error) {
	query := `
		SELECT digest FROM activity_logs
		WHERE booking_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`

	var digest string
	err := r.helper.QueryRow(ctx, query, bookingID).Scan(&digest)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", r.mapper.MapError(err)
	}

	return digest, nil
}

func (r *ActivityLogRepository) queryActivityLogs(ctx context.Context, query string, args ...any) ([]persistence.ActivityLog, error) {
	rows, err := r.helper.Query(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	entries := make([]persistence.ActivityLog, 0)
	for rows.Next() {
		var (
			entry     persistence.ActivityLog
			bookingID sql.NullString
			createdAt string
		)

		err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&bookingID,
			&entry.ActionType,
			&entry.Description,
			&entry.Changes,
			&entry.Metadata,
			&entry.PrevDigest,
			&entry.Digest,
			&createdAt,
		)
		if err != nil {
			return nil, r.mapper.MapError(err)
		}

		entry.BookingID = stringPointer(bookingID)
		if entry.CreatedAt, err = parseTimestamp("created_at", createdAt); err != nil {
			return nil, err
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}

	return entries, nil
}
