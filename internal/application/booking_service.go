package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/example/campus-facilities/internal/persistence"
)

const maxCodeAttempts = 5

// BookingService creates and cancels bookings and serves their read views.
type BookingService struct {
	bookings    BookingStore
	audit       AuditRecorder
	activity    *AuditLog
	identities  IdentityProvider
	facilities  FacilityCatalog
	codes       CodeGenerator
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// BookingServiceDeps groups the collaborators of a BookingService. Audit,
// Facilities and Codes are optional.
type BookingServiceDeps struct {
	Bookings    BookingStore
	Audit       *AuditLog
	Identities  IdentityProvider
	Facilities  FacilityCatalog
	Codes       CodeGenerator
	IDGenerator func() string
	Now         func() time.Time
}

// NewBookingService constructs a booking service with the provided dependencies.
func NewBookingService(deps BookingServiceDeps) *BookingService {
	return NewBookingServiceWithLogger(deps, nil)
}

// NewBookingServiceWithLogger constructs a booking service with a specified logger.
func NewBookingServiceWithLogger(deps BookingServiceDeps, logger *slog.Logger) *BookingService {
	if deps.IDGenerator == nil {
		deps.IDGenerator = func() string { return "" }
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Codes == nil {
		deps.Codes = RandomCodes{}
	}
	svc := &BookingService{
		bookings:    deps.Bookings,
		activity:    deps.Audit,
		identities:  deps.Identities,
		facilities:  deps.Facilities,
		codes:       deps.Codes,
		idGenerator: deps.IDGenerator,
		now:         deps.Now,
		logger:      defaultLogger(logger),
	}
	if deps.Audit != nil {
		svc.audit = deps.Audit
	}
	return svc
}

func (s *BookingService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "BookingService", operation, attrs...)
}

// CreateBooking reserves a slot for an authenticated user. The audit entry is
// recorded after the booking is stored and never fails the operation.
func (s *BookingService) CreateBooking(ctx context.Context, params CreateBookingParams) (booking Booking, err error) {
	if s == nil {
		err = fmt.Errorf("BookingService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CreateBooking",
		"user_id", params.UserID,
		"facility_id", params.FacilityID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create booking", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("booking_id", booking.ID, "reference_code", booking.ReferenceCode).InfoContext(ctx, "booking created")
	}()

	if strings.TrimSpace(params.UserID) == "" {
		err = ErrUnauthenticated
		return
	}
	if err = s.requireIdentity(ctx, params.UserID); err != nil {
		return
	}

	params.FacilityID = strings.TrimSpace(params.FacilityID)
	params.DateLabel = strings.TrimSpace(params.DateLabel)
	params.TimeLabel = strings.TrimSpace(params.TimeLabel)

	vErr := validateBookingInput(params)
	facilityName := params.FacilityID
	if s.facilities != nil && params.FacilityID != "" {
		facility, lookupErr := s.facilities.LookupFacility(ctx, params.FacilityID)
		switch {
		case errors.Is(lookupErr, ErrNotFound):
			vErr.merge(newValidationError("facilityId", "unknown facility"))
		case lookupErr != nil:
			err = fmt.Errorf("%w: lookup facility: %v", ErrBookingFailed, lookupErr)
			return
		default:
			facilityName = facility.Name
		}
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	if s.bookings == nil {
		err = fmt.Errorf("%w: booking store not configured", ErrBookingFailed)
		return
	}

	checkInCode, err := s.uniqueCheckInCode(ctx, params.DateLabel)
	if err != nil {
		return
	}

	candidate := Booking{
		ID:          s.idGenerator(),
		FacilityID:  params.FacilityID,
		UserID:      params.UserID,
		DateLabel:   params.DateLabel,
		TimeLabel:   params.TimeLabel,
		CheckInCode: &checkInCode,
		Status:      StatusConfirmed,
		CreatedAt:   s.now(),
	}

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		candidate.ReferenceCode = s.codes.ReferenceCode()
		booking, err = s.bookings.CreateBooking(ctx, candidate)
		if err == nil {
			break
		}
		if !errors.Is(err, persistence.ErrDuplicate) || attempt == maxCodeAttempts {
			err = fmt.Errorf("%w: %v", ErrBookingFailed, err)
			return
		}
		logger.WarnContext(ctx, "reference code collision, regenerating", "attempt", attempt)
	}

	metadata := maps.Clone(params.Metadata)
	if metadata == nil {
		metadata = make(map[string]string)
	}
	metadata["reference_code"] = booking.ReferenceCode
	metadata["facility_id"] = booking.FacilityID

	s.record(ctx, ActivityLogEntry{
		UserID:      booking.UserID,
		BookingID:   optionalString(booking.ID),
		ActionType:  ActionCreated,
		Description: fmt.Sprintf("Booked %s for %s at %s", facilityName, booking.DateLabel, booking.TimeLabel),
		Changes: map[string]FieldChange{
			"status":   Change(availableLabel, StatusConfirmed.Label()),
			"timeSlot": Change("", booking.TimeLabel),
			"date":     Change("", booking.DateLabel),
		},
		Metadata: metadata,
	})

	return
}

// CancelBooking releases a confirmed booking. Only the holder or staff may cancel.
func (s *BookingService) CancelBooking(ctx context.Context, principal Principal, bookingID string) (booking Booking, err error) {
	if s == nil {
		err = fmt.Errorf("BookingService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CancelBooking",
		"principal_id", principal.UserID,
		"booking_id", bookingID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to cancel booking", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "booking cancelled")
	}()

	if principal.UserID == "" {
		err = ErrUnauthenticated
		return
	}
	if s.bookings == nil {
		err = fmt.Errorf("%w: booking store not configured", ErrBookingFailed)
		return
	}

	var existing Booking
	existing, err = s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		err = mapStoreError(err)
		return
	}
	if existing.UserID != principal.UserID && !principal.IsStaff {
		err = ErrUnauthorized
		return
	}

	booking, err = transition(ctx, s.bookings, BookingTransition{
		BookingID: bookingID,
		From:      StatusConfirmed,
		To:        StatusCancelled,
	})
	if err != nil {
		return
	}

	s.record(ctx, ActivityLogEntry{
		UserID:      booking.UserID,
		BookingID:   optionalString(booking.ID),
		ActionType:  ActionCancelled,
		Description: fmt.Sprintf("Cancelled booking %s for %s at %s", booking.ReferenceCode, booking.DateLabel, booking.TimeLabel),
		Changes: map[string]FieldChange{
			"status":   Change(StatusConfirmed.Label(), StatusCancelled.Label()),
			"timeSlot": Change(booking.TimeLabel, ""),
			"date":     Change(booking.DateLabel, ""),
		},
		Metadata: map[string]string{"actor_id": principal.UserID},
	})

	return
}

// GetBooking returns a booking visible to the principal.
func (s *BookingService) GetBooking(ctx context.Context, principal Principal, bookingID string) (Booking, error) {
	if s == nil {
		return Booking{}, fmt.Errorf("BookingService is nil")
	}
	if principal.UserID == "" {
		return Booking{}, ErrUnauthenticated
	}
	if s.bookings == nil {
		return Booking{}, ErrNotFound
	}

	booking, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return Booking{}, mapStoreError(err)
	}
	if booking.UserID != principal.UserID && !principal.IsStaff {
		return Booking{}, ErrUnauthorized
	}
	return booking, nil
}

// ListUserBookings returns the bookings of userID newest first.
func (s *BookingService) ListUserBookings(ctx context.Context, principal Principal, userID string) (bookings []Booking, err error) {
	if s == nil {
		err = fmt.Errorf("BookingService is nil")
		return
	}
	if principal.UserID == "" {
		return nil, ErrUnauthenticated
	}
	if userID == "" {
		userID = principal.UserID
	}
	if userID != principal.UserID && !principal.IsStaff {
		return nil, ErrUnauthorized
	}
	if s.bookings == nil {
		return nil, nil
	}

	bookings, err = s.bookings.ListBookings(ctx, BookingQuery{UserID: userID})
	if err != nil {
		err = mapStoreError(err)
		s.loggerWith(ctx, "ListUserBookings", "user_id", userID).
			ErrorContext(ctx, "failed to list bookings", "error", err, "error_kind", ErrorKind(err))
		return nil, err
	}
	return bookings, nil
}

// ListActivity returns the audit trail of a booking visible to the principal.
func (s *BookingService) ListActivity(ctx context.Context, principal Principal, bookingID string, order ListOrder) ([]ActivityLogEntry, error) {
	if _, err := s.GetBooking(ctx, principal, bookingID); err != nil {
		return nil, err
	}
	if s.activity == nil {
		return nil, nil
	}
	return s.activity.ListByBooking(ctx, bookingID, order)
}

// ListMyActivity returns the principal's activity feed newest first.
func (s *BookingService) ListMyActivity(ctx context.Context, principal Principal, limit int) ([]ActivityLogEntry, error) {
	if s == nil {
		return nil, fmt.Errorf("BookingService is nil")
	}
	if principal.UserID == "" {
		return nil, ErrUnauthenticated
	}
	if s.activity == nil {
		return nil, nil
	}
	return s.activity.ListByUser(ctx, principal.UserID, limit)
}

func (s *BookingService) requireIdentity(ctx context.Context, userID string) error {
	if s.identities == nil {
		return nil
	}
	if _, err := s.identities.LookupIdentity(ctx, userID); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnauthenticated) {
			return fmt.Errorf("%w: user %s did not resolve", ErrUnauthenticated, userID)
		}
		return fmt.Errorf("lookup identity: %w", err)
	}
	return nil
}

// uniqueCheckInCode draws a check-in code that no other confirmed booking on
// the same date uses. After maxCodeAttempts collisions the last code is kept
// and resolution reports the ambiguity.
func (s *BookingService) uniqueCheckInCode(ctx context.Context, dateLabel string) (string, error) {
	var code string
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code = s.codes.CheckInCode()
		existing, err := s.bookings.FindConfirmedByCode(ctx, dateLabel, code)
		if err != nil {
			return "", fmt.Errorf("%w: check-in code lookup: %v", ErrBookingFailed, err)
		}
		if len(existing) == 0 {
			return code, nil
		}
	}
	return code, nil
}

func (s *BookingService) record(ctx context.Context, entry ActivityLogEntry) {
	if s.audit == nil {
		return
	}
	s.audit.Append(ctx, entry)
}

func validateBookingInput(params CreateBookingParams) *ValidationError {
	vErr := &ValidationError{}
	if params.FacilityID == "" {
		vErr.add("facilityId", "is required")
	}
	if params.DateLabel == "" {
		vErr.add("dateLabel", "is required")
	}
	if params.TimeLabel == "" {
		vErr.add("timeLabel", "is required")
	}
	return vErr
}

// transition applies a conditional update and maps store failures onto the
// application error taxonomy.
func transition(ctx context.Context, store BookingStore, change BookingTransition) (Booking, error) {
	if !change.From.CanTransitionTo(change.To) {
		return Booking{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, change.From, change.To)
	}
	booking, err := store.TransitionBooking(ctx, change)
	if err != nil {
		return Booking{}, mapStoreError(err)
	}
	return booking, nil
}

func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound), errors.Is(err, ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrStatusConflict):
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %v", ErrBookingFailed, err)
}
