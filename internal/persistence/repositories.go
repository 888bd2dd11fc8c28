package persistence

import "context"

// BookingRepository stores booking rows. Bookings are never deleted.
type BookingRepository interface {
	CreateBooking(ctx context.Context, booking Booking) error
	GetBooking(ctx context.Context, id string) (Booking, error)
	ListBookings(ctx context.Context, filter BookingFilter) ([]Booking, error)
	// FindConfirmedByCode returns confirmed bookings on dateLabel whose
	// check-in code, or reference code suffix when no check-in code is set,
	// equals code.
	FindConfirmedByCode(ctx context.Context, dateLabel, code string) ([]Booking, error)
	// TransitionBooking applies a conditional status update and returns the
	// updated row. It returns ErrNotFound or ErrStatusConflict without writing.
	TransitionBooking(ctx context.Context, transition BookingTransition) (Booking, error)
}

// ActivityLogRepository appends and reads audit rows.
type ActivityLogRepository interface {
	AppendActivityLog(ctx context.Context, entry ActivityLog) error
	ListActivityLogsByBooking(ctx context.Context, bookingID string, newestFirst bool) ([]ActivityLog, error)
	ListActivityLogsByUser(ctx context.Context, userID string, limit int) ([]ActivityLog, error)
	// LatestBookingDigest returns the digest of the most recent entry for the
	// booking, or an empty string when none exists.
	LatestBookingDigest(ctx context.Context, bookingID string) (string, error)
}

// FacilityRepository reads the facility catalog.
type FacilityRepository interface {
	GetFacility(ctx context.Context, id string) (Facility, error)
	ListFacilities(ctx context.Context) ([]Facility, error)
}

// ProfileRepository reads identity display profiles.
type ProfileRepository interface {
	GetProfile(ctx context.Context, userID string) (Profile, error)
}
