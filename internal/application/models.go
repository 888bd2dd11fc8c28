package application

import (
	"fmt"
	"time"
)

// Principal represents the authenticated user invoking a service method.
type Principal struct {
	UserID  string
	IsStaff bool
}

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	// StatusConfirmed is the initial state of every booking.
	StatusConfirmed BookingStatus = "confirmed"
	// StatusCheckedIn marks a booking whose holder has arrived.
	StatusCheckedIn BookingStatus = "checked_in"
	// StatusCompleted is terminal; the session has ended.
	StatusCompleted BookingStatus = "completed"
	// StatusCancelled is terminal; the slot was released before check-in.
	StatusCancelled BookingStatus = "cancelled"
)

// AllStatuses lists the booking states in lifecycle order.
var AllStatuses = []BookingStatus{StatusConfirmed, StatusCheckedIn, StatusCompleted, StatusCancelled}

// ParseBookingStatus converts a raw value into a BookingStatus.
func ParseBookingStatus(raw string) (BookingStatus, error) {
	for _, status := range AllStatuses {
		if string(status) == raw {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown booking status %q", raw)
}

// Label returns the display text recorded in audit diffs.
func (s BookingStatus) Label() string {
	switch s {
	case StatusConfirmed:
		return "Booked"
	case StatusCheckedIn:
		return "Checked In"
	case StatusCompleted:
		return "Completed"
	case StatusCancelled:
		return "Cancelled"
	}
	return string(s)
}

// Terminal reports whether no transition leaves the state.
func (s BookingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransitionTo reports whether the lifecycle has an edge from s to next.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	switch s {
	case StatusConfirmed:
		return next == StatusCheckedIn || next == StatusCancelled
	case StatusCheckedIn:
		return next == StatusCompleted
	}
	return false
}

// availableLabel is the pre-booking state shown in creation diffs.
const availableLabel = "Available"

// Booking represents a reserved facility slot.
type Booking struct {
	ID            string
	FacilityID    string
	UserID        string
	DateLabel     string
	TimeLabel     string
	ReferenceCode string
	CheckInCode   *string
	Status        BookingStatus
	CheckInTime   *time.Time
	CheckOutTime  *time.Time
	CreatedAt     time.Time
}

// EffectiveCheckInCode returns the code an operator enters at the desk.
// Bookings without a dedicated code fall back to the reference code suffix.
func (b Booking) EffectiveCheckInCode() string {
	if b.CheckInCode != nil && *b.CheckInCode != "" {
		return *b.CheckInCode
	}
	if len(b.ReferenceCode) < CheckInCodeLength {
		return b.ReferenceCode
	}
	return b.ReferenceCode[len(b.ReferenceCode)-CheckInCodeLength:]
}

// BookingQuery narrows booking listings.
type BookingQuery struct {
	UserID    string
	DateLabel string
	Statuses  []BookingStatus
}

// BookingTransition is a conditional status change applied by the store only
// when the booking is currently in From.
type BookingTransition struct {
	BookingID    string
	From         BookingStatus
	To           BookingStatus
	CheckInTime  *time.Time
	CheckOutTime *time.Time
}

// ActionType classifies audit entries.
type ActionType string

const (
	ActionCreated   ActionType = "created"
	ActionCancelled ActionType = "cancelled"
	ActionUpdated   ActionType = "updated"
	ActionCheckedIn ActionType = "checked_in"
	ActionCompleted ActionType = "completed"
)

// FieldChange is one old/new pair of an audit diff. Nil means no value.
type FieldChange struct {
	Old *string `json:"old"`
	New *string `json:"new"`
}

// Change builds a FieldChange, treating empty strings as absent values.
func Change(oldValue, newValue string) FieldChange {
	return FieldChange{Old: optionalString(oldValue), New: optionalString(newValue)}
}

// ActivityLogEntry is an append-only audit record.
type ActivityLogEntry struct {
	ID          string
	UserID      string
	BookingID   *string
	ActionType  ActionType
	Description string
	Changes     map[string]FieldChange
	Metadata    map[string]string
	PrevDigest  string
	Digest      string
	CreatedAt   time.Time
}

// ListOrder selects the ordering of audit listings.
type ListOrder string

const (
	// OrderOldestFirst is used by booking detail views.
	OrderOldestFirst ListOrder = "oldest_first"
	// OrderNewestFirst is used by activity feeds.
	OrderNewestFirst ListOrder = "newest_first"
)

// ParseListOrder converts a raw value into a ListOrder. Empty input selects
// OrderOldestFirst.
func ParseListOrder(raw string) (ListOrder, error) {
	switch ListOrder(raw) {
	case "", OrderOldestFirst:
		return OrderOldestFirst, nil
	case OrderNewestFirst:
		return OrderNewestFirst, nil
	}
	return "", fmt.Errorf("unknown list order %q", raw)
}

// Identity is the display record of a campus user resolved through the
// identity provider.
type Identity struct {
	UserID     string
	FullName   string
	ExternalID string
	Email      string
	Role       string
}

// IsStaff reports whether the identity carries a staff role.
func (i Identity) IsStaff() bool {
	return i.Role == RoleStaff || i.Role == RoleAdmin
}

const (
	RoleStudent = "student"
	RoleStaff   = "staff"
	RoleAdmin   = "admin"
)

// Facility is a catalog entry referenced by bookings.
type Facility struct {
	ID       string
	Name     string
	Location string
	Category string
}

// CreateBookingParams wraps the data required to create a booking.
type CreateBookingParams struct {
	FacilityID string
	UserID     string
	DateLabel  string
	TimeLabel  string
	Metadata   map[string]string
}

// SessionFilter narrows the staff view of a day's sessions.
type SessionFilter struct {
	Status     BookingStatus
	SearchText string
	DateLabel  string
}

// SessionView is a booking enriched with facility and holder details.
type SessionView struct {
	Booking          Booking
	StatusLabel      string
	FacilityName     string
	FacilityLocation string
	HolderName       string
	HolderExternalID string
	CheckInCode      string
}

// SessionList is the result of a day listing. Counts cover every booking of
// the day regardless of the status and search filters.
type SessionList struct {
	DateLabel string
	Sessions  []SessionView
	Counts    map[BookingStatus]int
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	copy := *value
	return &copy
}
