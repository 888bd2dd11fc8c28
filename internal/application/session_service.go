package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionCompletionService ends checked-in sessions.
type SessionCompletionService struct {
	bookings BookingStore
	audit    AuditRecorder
	now      func() time.Time
	logger   *slog.Logger
}

// NewSessionCompletionService constructs a session completion service.
func NewSessionCompletionService(bookings BookingStore, audit *AuditLog, now func() time.Time) *SessionCompletionService {
	return NewSessionCompletionServiceWithLogger(bookings, audit, now, nil)
}

// NewSessionCompletionServiceWithLogger constructs a session completion service with a specified logger.
func NewSessionCompletionServiceWithLogger(bookings BookingStore, audit *AuditLog, now func() time.Time, logger *slog.Logger) *SessionCompletionService {
	if now == nil {
		now = time.Now
	}
	svc := &SessionCompletionService{bookings: bookings, now: now, logger: defaultLogger(logger)}
	if audit != nil {
		svc.audit = audit
	}
	return svc
}

func (s *SessionCompletionService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "SessionCompletionService", operation, attrs...)
}

// EndSession moves a checked-in booking to completed and stamps the check-out time.
func (s *SessionCompletionService) EndSession(ctx context.Context, principal Principal, bookingID string) (booking Booking, err error) {
	if s == nil {
		err = fmt.Errorf("SessionCompletionService is nil")
		return
	}

	logger := s.loggerWith(ctx, "EndSession",
		"principal_id", principal.UserID,
		"booking_id", bookingID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to end session", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "session completed")
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
		BookingID:    bookingID,
		From:         StatusCheckedIn,
		To:           StatusCompleted,
		CheckOutTime: &at,
	})
	if err != nil {
		return
	}

	if s.audit != nil {
		s.audit.Append(ctx, ActivityLogEntry{
			UserID:      booking.UserID,
			BookingID:   optionalString(booking.ID),
			ActionType:  ActionCompleted,
			Description: fmt.Sprintf("Ended session %s for %s at %s", booking.ReferenceCode, booking.DateLabel, booking.TimeLabel),
			Changes: map[string]FieldChange{
				"status": Change(StatusCheckedIn.Label(), StatusCompleted.Label()),
			},
			Metadata: map[string]string{"actor_id": principal.UserID},
		})
	}
	return
}
