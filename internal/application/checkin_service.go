package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// CheckInService resolves operator-entered codes and checks confirmed
// bookings in.
type CheckInService struct {
	bookings BookingStore
	audit    AuditRecorder
	location *time.Location
	now      func() time.Time
	logger   *slog.Logger
}

// NewCheckInService constructs a check-in service. Dates default to the
// provided location; a nil location selects UTC.
func NewCheckInService(bookings BookingStore, audit *AuditLog, location *time.Location, now func() time.Time) *CheckInService {
	return NewCheckInServiceWithLogger(bookings, audit, location, now, nil)
}

// NewCheckInServiceWithLogger constructs a check-in service with a specified logger.
func NewCheckInServiceWithLogger(bookings BookingStore, audit *AuditLog, location *time.Location, now func() time.Time, logger *slog.Logger) *CheckInService {
	if location == nil {
		location = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	svc := &CheckInService{bookings: bookings, location: location, now: now, logger: defaultLogger(logger)}
	if audit != nil {
		svc.audit = audit
	}
	return svc
}

func (s *CheckInService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "CheckInService", operation, attrs...)
}

// Today returns the date label of the current day in the service location.
func (s *CheckInService) Today() string {
	return DateLabel(s.now(), s.location)
}

// ResolveCode finds the single confirmed booking on dateScope whose check-in
// code equals code. An empty dateScope means today. Several matches yield an
// *AmbiguousMatchError carrying the candidates.
func (s *CheckInService) ResolveCode(ctx context.Context, principal Principal, code, dateScope string) (booking Booking, err error) {
	if s == nil {
		err = fmt.Errorf("CheckInService is nil")
		return
	}

	dateScope = strings.TrimSpace(dateScope)
	if dateScope == "" {
		dateScope = s.Today()
	}

	logger := s.loggerWith(ctx, "ResolveCode",
		"principal_id", principal.UserID,
		"date_label", dateScope,
	)
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "check-in code not resolved", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("booking_id", booking.ID).InfoContext(ctx, "check-in code resolved")
	}()

	if err = requireStaff(principal); err != nil {
		return
	}

	var normalized string
	normalized, err = NormalizeCheckInCode(code)
	if err != nil {
		return
	}
	if s.bookings == nil {
		err = ErrNotFound
		return
	}

	var candidates []Booking
	candidates, err = s.bookings.FindConfirmedByCode(ctx, dateScope, normalized)
	if err != nil {
		err = mapStoreError(err)
		return
	}

	switch len(candidates) {
	case 0:
		err = ErrNotFound
	case 1:
		booking = candidates[0]
	default:
		err = &AmbiguousMatchError{Code: normalized, Candidates: candidates}
	}
	return
}

// CheckIn moves a confirmed booking to checked_in and stamps the check-in time.
func (s *CheckInService) CheckIn(ctx context.Context, principal Principal, bookingID string) (booking Booking, err error) {
	if s == nil {
		err = fmt.Errorf("CheckInService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CheckIn",
		"principal_id", principal.UserID,
		"booking_id", bookingID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to check in", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "booking checked in")
	}()

	if err = requireStaff(principal); err != nil {
		return
	}
	if s.bookings == nil {
		err = ErrNotFound
		return
	}

	at := s.now()
	booking, err = transition(ctx, s.bookings, BookingTransition{
		BookingID:   bookingID,
		From:        StatusConfirmed,
		To:          StatusCheckedIn,
		CheckInTime: &at,
	})
	if err != nil {
		return
	}

	if s.audit != nil {
		s.audit.Append(ctx, ActivityLogEntry{
			UserID:      booking.UserID,
			BookingID:   optionalString(booking.ID),
			ActionType:  ActionCheckedIn,
			Description: fmt.Sprintf("Checked in %s for %s at %s", booking.ReferenceCode, booking.DateLabel, booking.TimeLabel),
			Changes: map[string]FieldChange{
				"status": Change(StatusConfirmed.Label(), StatusCheckedIn.Label()),
			},
			Metadata: map[string]string{"actor_id": principal.UserID},
		})
	}
	return
}

// CheckInByCode resolves code on dateScope and checks the matching booking in.
func (s *CheckInService) CheckInByCode(ctx context.Context, principal Principal, code, dateScope string) (Booking, error) {
	booking, err := s.ResolveCode(ctx, principal, code, dateScope)
	if err != nil {
		return Booking{}, err
	}
	return s.CheckIn(ctx, principal, booking.ID)
}

func requireStaff(principal Principal) error {
	if principal.UserID == "" {
		return ErrUnauthenticated
	}
	if !principal.IsStaff {
		return ErrUnauthorized
	}
	return nil
}
