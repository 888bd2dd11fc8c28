package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/campus-facilities/internal/application"
	"github.com/example/campus-facilities/internal/persistence"
)

var (
	bookingCounter  uint64
	activityCounter uint64
	profileCounter  uint64
)

// 01:30 UTC on Nov 16 is 09:30 on "Sun, Nov 16" in Asia/Kuala_Lumpur.
var referenceTime = time.Date(2025, time.November, 16, 1, 30, 0, 0, time.UTC)

// CampusLocation is the fixed UTC+8 zone the fixtures assume.
var CampusLocation = time.FixedZone("MYT", 8*60*60)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ReferenceDateLabel is the date label of ReferenceTime in CampusLocation.
func ReferenceDateLabel() string {
	return application.DateLabel(referenceTime, CampusLocation)
}

// ---------------------------- Booking fixtures ----------------------------

// BookingFixture represents a deterministic booking row.
type BookingFixture struct {
	ID            string
	FacilityID    string
	UserID        string
	DateLabel     string
	TimeLabel     string
	ReferenceCode string
	CheckInCode   *string
	Status        application.BookingStatus
	CheckInTime   *time.Time
	CheckOutTime  *time.Time
	CreatedAt     time.Time
}

// BookingOption configures the generated booking fixture.
type BookingOption func(*BookingFixture)

// NewBookingFixture returns a confirmed booking for today with unique codes.
func NewBookingFixture(opts ...BookingOption) BookingFixture {
	idx := atomic.AddUint64(&bookingCounter, 1)
	code := fmt.Sprintf("%06d", 100000+idx%900000)
	fixture := BookingFixture{
		ID:            fmt.Sprintf("booking-%03d", idx),
		FacilityID:    "badminton-court",
		UserID:        "student-1",
		DateLabel:     ReferenceDateLabel(),
		TimeLabel:     "8:00 AM - 9:00 AM",
		ReferenceCode: fmt.Sprintf("UTMFX%07d", idx),
		CheckInCode:   &code,
		Status:        application.StatusConfirmed,
		CreatedAt:     referenceTime.Add(time.Duration(idx) * time.Second),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithBookingID overrides the generated booking ID.
func WithBookingID(id string) BookingOption {
	return func(f *BookingFixture) {
		f.ID = id
	}
}

// WithBookingUser sets the booking holder.
func WithBookingUser(userID string) BookingOption {
	return func(f *BookingFixture) {
		f.UserID = userID
	}
}

// WithBookingFacility sets the booked facility.
func WithBookingFacility(facilityID string) BookingOption {
	return func(f *BookingFixture) {
		f.FacilityID = facilityID
	}
}

// WithBookingSlot sets the date and time labels.
func WithBookingSlot(dateLabel, timeLabel string) BookingOption {
	return func(f *BookingFixture) {
		f.DateLabel = dateLabel
		f.TimeLabel = timeLabel
	}
}

// WithBookingReferenceCode overrides the reference code.
func WithBookingReferenceCode(code string) BookingOption {
	return func(f *BookingFixture) {
		f.ReferenceCode = code
	}
}

// WithBookingCheckInCode overrides the check-in code.
func WithBookingCheckInCode(code string) BookingOption {
	return func(f *BookingFixture) {
		f.CheckInCode = &code
	}
}

// WithoutBookingCheckInCode models a row created before check-in codes existed.
func WithoutBookingCheckInCode() BookingOption {
	return func(f *BookingFixture) {
		f.CheckInCode = nil
	}
}

// WithBookingCreatedAt sets the creation timestamp.
func WithBookingCreatedAt(t time.Time) BookingOption {
	return func(f *BookingFixture) {
		f.CreatedAt = t
	}
}

// WithBookingCheckedIn marks the booking as checked in at t.
func WithBookingCheckedIn(t time.Time) BookingOption {
	return func(f *BookingFixture) {
		f.Status = application.StatusCheckedIn
		f.CheckInTime = &t
		f.CheckOutTime = nil
	}
}

// WithBookingCompleted marks the booking as completed between in and out.
func WithBookingCompleted(in, out time.Time) BookingOption {
	return func(f *BookingFixture) {
		f.Status = application.StatusCompleted
		f.CheckInTime = &in
		f.CheckOutTime = &out
	}
}

// WithBookingCancelled marks the booking as cancelled.
func WithBookingCancelled() BookingOption {
	return func(f *BookingFixture) {
		f.Status = application.StatusCancelled
		f.CheckInTime = nil
		f.CheckOutTime = nil
	}
}

// Application returns the fixture as an application.Booking value.
func (f BookingFixture) Application() application.Booking {
	return application.Booking{
		ID:            f.ID,
		FacilityID:    f.FacilityID,
		UserID:        f.UserID,
		DateLabel:     f.DateLabel,
		TimeLabel:     f.TimeLabel,
		ReferenceCode: f.ReferenceCode,
		CheckInCode:   f.CheckInCode,
		Status:        f.Status,
		CheckInTime:   f.CheckInTime,
		CheckOutTime:  f.CheckOutTime,
		CreatedAt:     f.CreatedAt,
	}
}

// Persistence returns the fixture as a persistence.Booking value.
func (f BookingFixture) Persistence() persistence.Booking {
	return persistence.Booking{
		ID:            f.ID,
		FacilityID:    f.FacilityID,
		UserID:        f.UserID,
		DateLabel:     f.DateLabel,
		TimeLabel:     f.TimeLabel,
		ReferenceCode: f.ReferenceCode,
		CheckInCode:   f.CheckInCode,
		Status:        string(f.Status),
		CheckInTime:   f.CheckInTime,
		CheckOutTime:  f.CheckOutTime,
		CreatedAt:     f.CreatedAt,
	}
}

// --------------------------- Activity fixtures ---------------------------

// ActivityFixture represents a deterministic activity log row.
type ActivityFixture struct {
	ID          string
	UserID      string
	BookingID   *string
	ActionType  application.ActionType
	Description string
	Changes     string
	Metadata    string
	PrevDigest  string
	Digest      string
	CreatedAt   time.Time
}

// ActivityOption configures the generated activity fixture.
type ActivityOption func(*ActivityFixture)

// NewActivityFixture returns an "updated" entry without a booking.
func NewActivityFixture(opts ...ActivityOption) ActivityFixture {
	idx := atomic.AddUint64(&activityCounter, 1)
	fixture := ActivityFixture{
		ID:          fmt.Sprintf("activity-%03d", idx),
		UserID:      "student-1",
		ActionType:  application.ActionUpdated,
		Description: fmt.Sprintf("Activity %03d", idx),
		Changes:     "{}",
		Metadata:    "{}",
		CreatedAt:   referenceTime.Add(time.Duration(idx) * time.Second),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithActivityID overrides the generated entry ID.
func WithActivityID(id string) ActivityOption {
	return func(f *ActivityFixture) {
		f.ID = id
	}
}

// WithActivityBooking attaches the entry to a booking.
func WithActivityBooking(bookingID string) ActivityOption {
	return func(f *ActivityFixture) {
		f.BookingID = &bookingID
	}
}

// WithActivityUser sets the entry owner.
func WithActivityUser(userID string) ActivityOption {
	return func(f *ActivityFixture) {
		f.UserID = userID
	}
}

// WithActivityAction sets the action type.
func WithActivityAction(action application.ActionType) ActivityOption {
	return func(f *ActivityFixture) {
		f.ActionType = action
	}
}

// WithActivityDigests sets the chain digests.
func WithActivityDigests(prev, digest string) ActivityOption {
	return func(f *ActivityFixture) {
		f.PrevDigest = prev
		f.Digest = digest
	}
}

// WithActivityCreatedAt sets the creation timestamp.
func WithActivityCreatedAt(t time.Time) ActivityOption {
	return func(f *ActivityFixture) {
		f.CreatedAt = t
	}
}

// Persistence returns the fixture as a persistence.ActivityLog value.
func (f ActivityFixture) Persistence() persistence.ActivityLog {
	return persistence.ActivityLog{
		ID:          f.ID,
		UserID:      f.UserID,
		BookingID:   f.BookingID,
		ActionType:  string(f.ActionType),
		Description: f.Description,
		Changes:     f.Changes,
		Metadata:    f.Metadata,
		PrevDigest:  f.PrevDigest,
		Digest:      f.Digest,
		CreatedAt:   f.CreatedAt,
	}
}

// ---------------------------- Profile fixtures ----------------------------

// ProfileFixture represents a deterministic identity profile.
type ProfileFixture struct {
	UserID     string
	FullName   string
	ExternalID string
	Email      string
	Role       string
}

// ProfileOption configures the generated profile fixture.
type ProfileOption func(*ProfileFixture)

// NewProfileFixture returns a student profile.
func NewProfileFixture(opts ...ProfileOption) ProfileFixture {
	idx := atomic.AddUint64(&profileCounter, 1)
	id := fmt.Sprintf("user-%03d", idx)
	fixture := ProfileFixture{
		UserID:     id,
		FullName:   fmt.Sprintf("Student %03d", idx),
		ExternalID: fmt.Sprintf("A21EC%04d", idx),
		Email:      id + "@campus.example",
		Role:       application.RoleStudent,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithProfileUserID overrides the generated user ID.
func WithProfileUserID(id string) ProfileOption {
	return func(f *ProfileFixture) {
		f.UserID = id
	}
}

// WithProfileName sets the display name.
func WithProfileName(name string) ProfileOption {
	return func(f *ProfileFixture) {
		f.FullName = name
	}
}

// WithProfileExternalID sets the matric or staff number.
func WithProfileExternalID(id string) ProfileOption {
	return func(f *ProfileFixture) {
		f.ExternalID = id
	}
}

// WithProfileStaff gives the profile the staff role.
func WithProfileStaff() ProfileOption {
	return func(f *ProfileFixture) {
		f.Role = application.RoleStaff
	}
}

// Persistence returns the fixture as a persistence.Profile value.
func (f ProfileFixture) Persistence() persistence.Profile {
	return persistence.Profile{
		UserID:     f.UserID,
		FullName:   f.FullName,
		ExternalID: f.ExternalID,
		Email:      f.Email,
		Role:       f.Role,
	}
}

// Principal returns an application.Principal derived from the fixture.
func (f ProfileFixture) Principal() application.Principal {
	return application.Principal{UserID: f.UserID, IsStaff: f.Role == application.RoleStaff || f.Role == application.RoleAdmin}
}
