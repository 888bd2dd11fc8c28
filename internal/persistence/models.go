package persistence

import "time"

// Booking is a reserved facility slot as stored in the bookings table.
type Booking struct {
	ID            string
	FacilityID    string
	UserID        string
	DateLabel     string
	TimeLabel     string
	ReferenceCode string
	CheckInCode   *string
	Status        string
	CheckInTime   *time.Time
	CheckOutTime  *time.Time
	CreatedAt     time.Time
}

// BookingTransition describes a conditional status update. The row is only
// written when its current status equals From.
type BookingTransition struct {
	ID           string
	From         string
	To           string
	CheckInTime  *time.Time
	CheckOutTime *time.Time
}

// BookingFilter narrows booking listings.
type BookingFilter struct {
	UserID    string
	DateLabel string
	Statuses  []string
}

// ActivityLog is one append-only audit row. Changes and Metadata hold JSON text.
type ActivityLog struct {
	ID          string
	UserID      string
	BookingID   *string
	ActionType  string
	Description string
	Changes     string
	Metadata    string
	PrevDigest  string
	Digest      string
	CreatedAt   time.Time
}

// Facility is a read-only catalog entry owned by the facility catalog.
type Facility struct {
	ID       string
	Name     string
	Location string
	Category string
}

// Profile is the display record of a campus identity.
type Profile struct {
	UserID     string
	FullName   string
	ExternalID string
	Email      string
	Role       string
}
