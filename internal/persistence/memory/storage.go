// Package memory provides an in-process implementation of the persistence
// repositories for development mode and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/example/campus-facilities/internal/persistence"
)

type bookingRecord struct {
	seq     uint64
	booking persistence.Booking
}

// Storage keeps bookings, activity logs, facilities and profiles in maps
// guarded by a single mutex.
type Storage struct {
	mu         sync.RWMutex
	seq        uint64
	bookings   map[string]bookingRecord
	references map[string]string
	logs       []persistence.ActivityLog
	facilities map[string]persistence.Facility
	profiles   map[string]persistence.Profile
}

var (
	_ persistence.BookingRepository     = (*Storage)(nil)
	_ persistence.ActivityLogRepository = (*Storage)(nil)
	_ persistence.FacilityRepository    = (*Storage)(nil)
	_ persistence.ProfileRepository     = (*Storage)(nil)
)

// New returns an empty Storage.
func New() *Storage {
	return &Storage{
		bookings:   make(map[string]bookingRecord),
		references: make(map[string]string),
		facilities: make(map[string]persistence.Facility),
		profiles:   make(map[string]persistence.Profile),
	}
}

// Close releases resources held by the storage. No-op for the in-memory implementation.
func (s *Storage) Close() error {
	return nil
}

// Migrate initialises the storage. No-op for the in-memory implementation.
func (s *Storage) Migrate(context.Context) error {
	return nil
}

// Ping always succeeds.
func (s *Storage) Ping(context.Context) error {
	return nil
}

// --- BookingRepository implementation ---

// CreateBooking stores a new booking.
func (s *Storage) CreateBooking(ctx context.Context, booking persistence.Booking) error {
	if booking.ID == "" || booking.ReferenceCode == "" {
		return persistence.ErrConstraintViolation
	}
	// An empty code is stored as absent so lookups use the reference suffix.
	if booking.CheckInCode != nil && *booking.CheckInCode == "" {
		booking.CheckInCode = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bookings[booking.ID]; ok {
		return fmt.Errorf("%w: booking %s already exists", persistence.ErrDuplicate, booking.ID)
	}
	if _, ok := s.references[booking.ReferenceCode]; ok {
		return fmt.Errorf("%w: reference code %s already exists", persistence.ErrDuplicate, booking.ReferenceCode)
	}

	s.seq++
	s.bookings[booking.ID] = bookingRecord{seq: s.seq, booking: cloneBooking(booking)}
	s.references[booking.ReferenceCode] = booking.ID
	return nil
}

// GetBooking retrieves a booking by ID.
func (s *Storage) GetBooking(ctx context.Context, id string) (persistence.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.bookings[id]
	if !ok {
		return persistence.Booking{}, persistence.ErrNotFound
	}

	return cloneBooking(record.booking), nil
}

// ListBookings returns bookings matching the filter, newest first.
func (s *Storage) ListBookings(ctx context.Context, filter persistence.BookingFilter) ([]persistence.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]bookingRecord, 0)
	for _, record := range s.bookings {
		if matchesBookingFilter(record.booking, filter) {
			records = append(records, record)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		a, b := records[i].booking, records[j].booking
		if a.CreatedAt.Equal(b.CreatedAt) {
			return records[i].seq > records[j].seq
		}
		return a.CreatedAt.After(b.CreatedAt)
	})

	return unwrapBookings(records), nil
}

// FindConfirmedByCode returns confirmed bookings on dateLabel matching code.
func (s *Storage) FindConfirmedByCode(ctx context.Context, dateLabel, code string) ([]persistence.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]bookingRecord, 0)
	for _, record := range s.bookings {
		b := record.booking
		if b.Status != "confirmed" || b.DateLabel != dateLabel {
			continue
		}
		if matchesCode(b, code) {
			records = append(records, record)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].seq < records[j].seq
	})

	return unwrapBookings(records), nil
}

// TransitionBooking applies a compare-and-swap status update.
func (s *Storage) TransitionBooking(ctx context.Context, transition persistence.BookingTransition) (persistence.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.bookings[transition.ID]
	if !ok {
		return persistence.Booking{}, persistence.ErrNotFound
	}

	booking := record.booking
	if booking.Status != transition.From {
		return cloneBooking(booking), fmt.Errorf("%w: booking %s is %s, expected %s",
			persistence.ErrStatusConflict, transition.ID, booking.Status, transition.From)
	}

	booking.Status = transition.To
	if booking.CheckInTime == nil && transition.CheckInTime != nil {
		booking.CheckInTime = cloneTime(transition.CheckInTime)
	}
	if booking.CheckOutTime == nil && transition.CheckOutTime != nil {
		booking.CheckOutTime = cloneTime(transition.CheckOutTime)
	}

	record.booking = booking
	s.bookings[transition.ID] = record
	return cloneBooking(booking), nil
}

// --- ActivityLogRepository implementation ---

// AppendActivityLog appends an audit row.
func (s *Storage) AppendActivityLog(ctx context.Context, entry persistence.ActivityLog) error {
	if entry.ID == "" {
		return persistence.ErrConstraintViolation
	}
	if entry.Changes == "" {
		entry.Changes = "{}"
	}
	if entry.Metadata == "" {
		entry.Metadata = "{}"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.logs {
		if existing.ID == entry.ID {
			return fmt.Errorf("%w: activity log %s already exists", persistence.ErrDuplicate, entry.ID)
		}
	}

	s.logs = append(s.logs, cloneActivityLog(entry))
	return nil
}

// ListActivityLogsByBooking returns a booking's entries in insertion order,
// or reversed when newestFirst is set.
func (s *Storage) ListActivityLogsByBooking(ctx context.Context, bookingID string, newestFirst bool) ([]persistence.ActivityLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]persistence.ActivityLog, 0)
	for _, entry := range s.logs {
		if entry.BookingID != nil && *entry.BookingID == bookingID {
			entries = append(entries, cloneActivityLog(entry))
		}
	}

	sortActivityLogs(entries)
	if newestFirst {
		slices.Reverse(entries)
	}
	return entries, nil
}

// ListActivityLogsByUser returns a user's entries newest first.
func (s *Storage) ListActivityLogsByUser(ctx context.Context, userID string, limit int) ([]persistence.ActivityLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]persistence.ActivityLog, 0)
	for _, entry := range s.logs {
		if entry.UserID == userID {
			entries = append(entries, cloneActivityLog(entry))
		}
	}

	sortActivityLogs(entries)
	slices.Reverse(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// LatestBookingDigest returns the digest of the newest entry for a booking.
func (s *Storage) LatestBookingDigest(ctx context.Context, bookingID string) (string, error) {
	entries, err := s.ListActivityLogsByBooking(ctx, bookingID, true)
	if err != nil || len(entries) == 0 {
		return "", err
	}
	return entries[0].Digest, nil
}

// --- FacilityRepository implementation ---

// UpsertFacility creates or replaces a facility.
func (s *Storage) UpsertFacility(ctx context.Context, facility persistence.Facility) error {
	if facility.ID == "" {
		return persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.facilities[facility.ID] = facility
	return nil
}

// GetFacility retrieves a facility by ID.
func (s *Storage) GetFacility(ctx context.Context, id string) (persistence.Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	facility, ok := s.facilities[id]
	if !ok {
		return persistence.Facility{}, persistence.ErrNotFound
	}
	return facility, nil
}

// ListFacilities returns all facilities ordered by name.
func (s *Storage) ListFacilities(ctx context.Context) ([]persistence.Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	facilities := make([]persistence.Facility, 0, len(s.facilities))
	for _, facility := range s.facilities {
		facilities = append(facilities, facility)
	}

	sort.Slice(facilities, func(i, j int) bool {
		if facilities[i].Name == facilities[j].Name {
			return facilities[i].ID < facilities[j].ID
		}
		return facilities[i].Name < facilities[j].Name
	})

	return facilities, nil
}

// --- ProfileRepository implementation ---

// UpsertProfile creates or replaces a profile.
func (s *Storage) UpsertProfile(ctx context.Context, profile persistence.Profile) error {
	if profile.UserID == "" {
		return persistence.ErrConstraintViolation
	}
	if profile.Role == "" {
		profile.Role = "student"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[profile.UserID] = profile
	return nil
}

// GetProfile retrieves a profile by user ID.
func (s *Storage) GetProfile(ctx context.Context, userID string) (persistence.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[userID]
	if !ok {
		return persistence.Profile{}, persistence.ErrNotFound
	}
	return profile, nil
}

// --- Helpers ---

func matchesBookingFilter(booking persistence.Booking, filter persistence.BookingFilter) bool {
	if filter.UserID != "" && booking.UserID != filter.UserID {
		return false
	}
	if filter.DateLabel != "" && booking.DateLabel != filter.DateLabel {
		return false
	}
	if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, booking.Status) {
		return false
	}
	return true
}

func matchesCode(booking persistence.Booking, code string) bool {
	if booking.CheckInCode != nil && *booking.CheckInCode != "" {
		return *booking.CheckInCode == code
	}
	ref := booking.ReferenceCode
	if len(ref) < 6 {
		return false
	}
	return ref[len(ref)-6:] == code
}

func sortActivityLogs(entries []persistence.ActivityLog) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}

func unwrapBookings(records []bookingRecord) []persistence.Booking {
	bookings := make([]persistence.Booking, len(records))
	for i, record := range records {
		bookings[i] = cloneBooking(record.booking)
	}
	return bookings
}

func cloneBooking(booking persistence.Booking) persistence.Booking {
	if booking.CheckInCode != nil {
		code := *booking.CheckInCode
		booking.CheckInCode = &code
	}
	booking.CheckInTime = cloneTime(booking.CheckInTime)
	booking.CheckOutTime = cloneTime(booking.CheckOutTime)
	return booking
}

func cloneActivityLog(entry persistence.ActivityLog) persistence.ActivityLog {
	if entry.BookingID != nil {
		id := *entry.BookingID
		entry.BookingID = &id
	}
	return entry
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	copy := *t
	return &copy
}
