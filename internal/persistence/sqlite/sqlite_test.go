package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/campus-facilities/internal/persistence"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	storage, err := OpenPath(filepath.Join(t.TempDir(), "campus.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = storage.Close()
	})

	require.NoError(t, storage.Migrate(context.Background()))
	return storage
}

func insertBooking(t *testing.T, storage *Storage, id, reference string) persistence.Booking {
	t.Helper()
	code := "123456"
	booking := persistence.Booking{
		ID:            id,
		FacilityID:    "badminton-court",
		UserID:        "student-1",
		DateLabel:     "Sun, Nov 16",
		TimeLabel:     "8:00 AM - 9:00 AM",
		ReferenceCode: reference,
		CheckInCode:   &code,
		Status:        "confirmed",
		CreatedAt:     time.Date(2025, time.November, 16, 1, 30, 0, 0, time.UTC),
	}
	require.NoError(t, storage.CreateBooking(context.Background(), booking))
	return booking
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)

	require.NoError(t, storage.Migrate(ctx))

	facilities, err := storage.ListFacilities(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(facilities))
	for _, f := range facilities {
		ids = append(ids, f.ID)
	}
	assert.ElementsMatch(t, []string{"badminton-court", "futsal-court", "discussion-room-1", "music-room"}, ids)

	var applied int
	require.NoError(t, storage.pool.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&applied))
	assert.Equal(t, 3, applied)
}

func TestAppendOnlyTriggers(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)
	mapper := NewErrorMapper()
	db := storage.pool.DB()

	booking := insertBooking(t, storage, "b-1", "UTM000000001")
	require.NoError(t, storage.AppendActivityLog(ctx, persistence.ActivityLog{
		ID:          "log-1",
		UserID:      booking.UserID,
		BookingID:   &booking.ID,
		ActionType:  "created",
		Description: "Booked Badminton Court",
		Changes:     "{}",
		Metadata:    "{}",
		CreatedAt:   booking.CreatedAt,
	}))

	_, err := db.ExecContext(ctx, `UPDATE activity_logs SET description = 'edited' WHERE id = 'log-1'`)
	assert.ErrorIs(t, mapper.MapError(err), persistence.ErrConstraintViolation)

	_, err = db.ExecContext(ctx, `DELETE FROM activity_logs WHERE id = 'log-1'`)
	assert.ErrorIs(t, mapper.MapError(err), persistence.ErrConstraintViolation)

	_, err = db.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, booking.ID)
	assert.ErrorIs(t, mapper.MapError(err), persistence.ErrConstraintViolation)

	logs, err := storage.ListActivityLogsByBooking(ctx, booking.ID, false)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "Booked Badminton Court", logs[0].Description)
}

func TestBookingCheckConstraints(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)

	t.Run("unknown status", func(t *testing.T) {
		err := storage.CreateBooking(ctx, persistence.Booking{
			ID: "b-bad", FacilityID: "music-room", UserID: "u", DateLabel: "Sun, Nov 16",
			TimeLabel: "8:00 AM - 9:00 AM", ReferenceCode: "UTM00000BAD1", Status: "pending",
			CreatedAt: time.Now(),
		})
		assert.ErrorIs(t, err, persistence.ErrConstraintViolation)
	})

	t.Run("checked in without a check-in time", func(t *testing.T) {
		err := storage.CreateBooking(ctx, persistence.Booking{
			ID: "b-bad-2", FacilityID: "music-room", UserID: "u", DateLabel: "Sun, Nov 16",
			TimeLabel: "8:00 AM - 9:00 AM", ReferenceCode: "UTM00000BAD2", Status: "checked_in",
			CreatedAt: time.Now(),
		})
		assert.ErrorIs(t, err, persistence.ErrConstraintViolation)
	})

	t.Run("unknown action type", func(t *testing.T) {
		err := storage.AppendActivityLog(ctx, persistence.ActivityLog{
			ID: "log-bad", UserID: "u", ActionType: "deleted", Description: "nope",
			Changes: "{}", Metadata: "{}", CreatedAt: time.Now(),
		})
		assert.ErrorIs(t, err, persistence.ErrConstraintViolation)
	})
}

func TestTimestampsKeepNanosecondsInUTC(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)
	booking := insertBooking(t, storage, "b-ts", "UTM00000TS01")

	local := time.Date(2025, time.November, 16, 9, 45, 12, 987654321, time.FixedZone("MYT", 8*60*60))
	updated, err := storage.TransitionBooking(ctx, persistence.BookingTransition{
		ID: booking.ID, From: "confirmed", To: "checked_in", CheckInTime: &local,
	})
	require.NoError(t, err)
	require.NotNil(t, updated.CheckInTime)
	assert.True(t, local.Equal(*updated.CheckInTime))
	assert.Equal(t, time.UTC, updated.CheckInTime.Location())

	var raw string
	require.NoError(t, storage.pool.DB().QueryRowContext(ctx,
		`SELECT check_in_time FROM bookings WHERE id = ?`, booking.ID).Scan(&raw))
	assert.Equal(t, "2025-11-16T01:45:12.987654321Z", raw)
}

func TestLegacyCodeFallbackUsesReferenceSuffix(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)

	_, err := storage.pool.DB().ExecContext(ctx, `
		INSERT INTO bookings (id, facility_id, user_id, date_label, time_label, reference_code, status, created_at)
		VALUES ('legacy', 'music-room', 'u', 'Sun, Nov 16', '8:00 AM - 9:00 AM', 'UTM123456', 'confirmed', '2025-11-16T01:00:00.000000000Z')`)
	require.NoError(t, err)

	matches, err := storage.FindConfirmedByCode(ctx, "Sun, Nov 16", "123456")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Nil(t, matches[0].CheckInCode)
	assert.Equal(t, "legacy", matches[0].ID)
}

func TestErrorMapper(t *testing.T) {
	mapper := NewErrorMapper()
	assert.NoError(t, mapper.MapError(nil))
	assert.ErrorIs(t, mapper.MapError(assert.AnError), assert.AnError)
}
