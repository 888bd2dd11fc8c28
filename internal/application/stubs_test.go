package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/example/campus-facilities/internal/persistence"
)

var testReferenceTime = time.Date(2025, time.November, 16, 1, 30, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// bookingStoreStub keeps bookings in memory and applies transitions under a
// mutex so concurrent callers observe compare-and-swap semantics.
type bookingStoreStub struct {
	mu       sync.Mutex
	order    []string
	bookings map[string]Booking

	createErr     error
	createErrs    []error
	transitionErr error
	findErr       error
}

func newBookingStoreStub(bookings ...Booking) *bookingStoreStub {
	s := &bookingStoreStub{bookings: make(map[string]Booking)}
	for _, b := range bookings {
		s.bookings[b.ID] = b
		s.order = append(s.order, b.ID)
	}
	return s
}

func (s *bookingStoreStub) CreateBooking(ctx context.Context, booking Booking) (Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.createErrs) > 0 {
		err := s.createErrs[0]
		s.createErrs = s.createErrs[1:]
		if err != nil {
			return Booking{}, err
		}
	}
	if s.createErr != nil {
		return Booking{}, s.createErr
	}
	if _, ok := s.bookings[booking.ID]; ok {
		return Booking{}, persistence.ErrDuplicate
	}
	s.bookings[booking.ID] = booking
	s.order = append(s.order, booking.ID)
	return booking, nil
}

func (s *bookingStoreStub) GetBooking(ctx context.Context, id string) (Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return Booking{}, persistence.ErrNotFound
	}
	return b, nil
}

func (s *bookingStoreStub) ListBookings(ctx context.Context, query BookingQuery) ([]Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Booking
	for i := len(s.order) - 1; i >= 0; i-- {
		b := s.bookings[s.order[i]]
		if query.UserID != "" && b.UserID != query.UserID {
			continue
		}
		if query.DateLabel != "" && b.DateLabel != query.DateLabel {
			continue
		}
		if len(query.Statuses) > 0 && !slices.Contains(query.Statuses, b.Status) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *bookingStoreStub) FindConfirmedByCode(ctx context.Context, dateLabel, code string) ([]Booking, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Booking
	for _, id := range s.order {
		b := s.bookings[id]
		if b.Status == StatusConfirmed && b.DateLabel == dateLabel && b.EffectiveCheckInCode() == code {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *bookingStoreStub) TransitionBooking(ctx context.Context, change BookingTransition) (Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transitionErr != nil {
		return Booking{}, s.transitionErr
	}
	b, ok := s.bookings[change.BookingID]
	if !ok {
		return Booking{}, persistence.ErrNotFound
	}
	if b.Status != change.From {
		return b, fmt.Errorf("%w: %s", persistence.ErrStatusConflict, b.Status)
	}
	b.Status = change.To
	if b.CheckInTime == nil && change.CheckInTime != nil {
		at := *change.CheckInTime
		b.CheckInTime = &at
	}
	if b.CheckOutTime == nil && change.CheckOutTime != nil {
		at := *change.CheckOutTime
		b.CheckOutTime = &at
	}
	s.bookings[b.ID] = b
	return b, nil
}

// activityStoreStub records appended entries in insertion order.
type activityStoreStub struct {
	mu        sync.Mutex
	entries   []ActivityLogEntry
	appendErr error
	block     chan struct{}
}

func (s *activityStoreStub) AppendActivity(ctx context.Context, entry ActivityLogEntry) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.appendErr != nil {
		return s.appendErr
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *activityStoreStub) ListActivityByBooking(ctx context.Context, bookingID string, order ListOrder) ([]ActivityLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ActivityLogEntry
	for _, e := range s.entries {
		if e.BookingID != nil && *e.BookingID == bookingID {
			out = append(out, e)
		}
	}
	if order == OrderNewestFirst {
		slices.Reverse(out)
	}
	return out, nil
}

func (s *activityStoreStub) ListActivityByUser(ctx context.Context, userID string, limit int) ([]ActivityLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ActivityLogEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].UserID == userID {
			out = append(out, s.entries[i])
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *activityStoreStub) LatestDigest(ctx context.Context, bookingID string) (string, error) {
	entries, _ := s.ListActivityByBooking(ctx, bookingID, OrderNewestFirst)
	if len(entries) == 0 {
		return "", nil
	}
	return entries[0].Digest, nil
}

func (s *activityStoreStub) snapshot() []ActivityLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries)
}

// deadLetterRecorder captures dead-lettered entries.
type deadLetterRecorder struct {
	mu      sync.Mutex
	entries []ActivityLogEntry
	causes  []error
}

func (r *deadLetterRecorder) DeadLetter(ctx context.Context, entry ActivityLogEntry, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	r.causes = append(r.causes, cause)
	return nil
}

func (r *deadLetterRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// identityProviderMock is a testify mock of IdentityProvider.
type identityProviderMock struct {
	mock.Mock
}

func (m *identityProviderMock) LookupIdentity(ctx context.Context, userID string) (Identity, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(Identity), args.Error(1)
}

// staticDirectory resolves identities and facilities from maps.
type staticDirectory struct {
	identities map[string]Identity
	facilities map[string]Facility
	failUsers  map[string]bool
}

func (d staticDirectory) LookupIdentity(ctx context.Context, userID string) (Identity, error) {
	if d.failUsers[userID] {
		return Identity{}, errors.New("identity backend unavailable")
	}
	identity, ok := d.identities[userID]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return identity, nil
}

func (d staticDirectory) LookupFacility(ctx context.Context, facilityID string) (Facility, error) {
	facility, ok := d.facilities[facilityID]
	if !ok {
		return Facility{}, ErrNotFound
	}
	return facility, nil
}

// sequenceCodes returns predetermined codes in order, repeating the last one.
type sequenceCodes struct {
	mu         sync.Mutex
	references []string
	checkIns   []string
}

func (c *sequenceCodes) ReferenceCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return next(&c.references)
}

func (c *sequenceCodes) CheckInCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return next(&c.checkIns)
}

func next(values *[]string) string {
	v := (*values)[0]
	if len(*values) > 1 {
		*values = (*values)[1:]
	}
	return v
}

func sequentialIDs(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func confirmedBooking(id, userID, dateLabel, referenceCode, checkInCode string) Booking {
	b := Booking{
		ID:            id,
		FacilityID:    "badminton-court",
		UserID:        userID,
		DateLabel:     dateLabel,
		TimeLabel:     "8:00 AM - 9:00 AM",
		ReferenceCode: referenceCode,
		Status:        StatusConfirmed,
		CreatedAt:     testReferenceTime,
	}
	if checkInCode != "" {
		code := checkInCode
		b.CheckInCode = &code
	}
	return b
}
