package application

import "context"

// BookingStore captures the persistence operations needed by the booking services.
// Implementations return persistence.ErrNotFound for unknown bookings and
// persistence.ErrStatusConflict when a transition precondition does not hold.
type BookingStore interface {
	CreateBooking(ctx context.Context, booking Booking) (Booking, error)
	GetBooking(ctx context.Context, id string) (Booking, error)
	ListBookings(ctx context.Context, query BookingQuery) ([]Booking, error)
	FindConfirmedByCode(ctx context.Context, dateLabel, code string) ([]Booking, error)
	TransitionBooking(ctx context.Context, transition BookingTransition) (Booking, error)
}

// ActivityStore persists audit entries.
type ActivityStore interface {
	AppendActivity(ctx context.Context, entry ActivityLogEntry) error
	ListActivityByBooking(ctx context.Context, bookingID string, order ListOrder) ([]ActivityLogEntry, error)
	ListActivityByUser(ctx context.Context, userID string, limit int) ([]ActivityLogEntry, error)
	LatestDigest(ctx context.Context, bookingID string) (string, error)
}

// AuditRecorder accepts audit entries without reporting failures to the caller.
type AuditRecorder interface {
	Append(ctx context.Context, entry ActivityLogEntry)
}

// DeadLetterSink receives audit entries that could not be written.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, entry ActivityLogEntry, cause error) error
}

// IdentityProvider resolves user IDs to campus identities. Unknown users are
// reported with ErrNotFound.
type IdentityProvider interface {
	LookupIdentity(ctx context.Context, userID string) (Identity, error)
}

// FacilityCatalog resolves facility IDs. Unknown facilities are reported with ErrNotFound.
type FacilityCatalog interface {
	LookupFacility(ctx context.Context, facilityID string) (Facility, error)
}
