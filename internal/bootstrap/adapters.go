package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/example/campus-facilities/internal/application"
	"github.com/example/campus-facilities/internal/persistence"
)

// BookingStoreAdapter exposes a persistence.BookingRepository as an
// application.BookingStore.
type BookingStoreAdapter struct {
	repo persistence.BookingRepository
}

// NewBookingStoreAdapter wraps repo.
func NewBookingStoreAdapter(repo persistence.BookingRepository) *BookingStoreAdapter {
	return &BookingStoreAdapter{repo: repo}
}

var _ application.BookingStore = (*BookingStoreAdapter)(nil)

func (a *BookingStoreAdapter) CreateBooking(ctx context.Context, booking application.Booking) (application.Booking, error) {
	if err := a.repo.CreateBooking(ctx, toPersistenceBooking(booking)); err != nil {
		return application.Booking{}, err
	}
	stored, err := a.repo.GetBooking(ctx, booking.ID)
	if err != nil {
		return application.Booking{}, err
	}
	return toApplicationBooking(stored), nil
}

func (a *BookingStoreAdapter) GetBooking(ctx context.Context, id string) (application.Booking, error) {
	stored, err := a.repo.GetBooking(ctx, id)
	if err != nil {
		return application.Booking{}, err
	}
	return toApplicationBooking(stored), nil
}

func (a *BookingStoreAdapter) ListBookings(ctx context.Context, query application.BookingQuery) ([]application.Booking, error) {
	filter := persistence.BookingFilter{
		UserID:    query.UserID,
		DateLabel: query.DateLabel,
	}
	for _, status := range query.Statuses {
		filter.Statuses = append(filter.Statuses, string(status))
	}
	models, err := a.repo.ListBookings(ctx, filter)
	if err != nil {
		return nil, err
	}
	return toApplicationBookings(models), nil
}

func (a *BookingStoreAdapter) FindConfirmedByCode(ctx context.Context, dateLabel, code string) ([]application.Booking, error) {
	models, err := a.repo.FindConfirmedByCode(ctx, dateLabel, code)
	if err != nil {
		return nil, err
	}
	return toApplicationBookings(models), nil
}

// TransitionBooking returns the current booking alongside ErrStatusConflict so
// callers can report the state that blocked the change.
func (a *BookingStoreAdapter) TransitionBooking(ctx context.Context, transition application.BookingTransition) (application.Booking, error) {
	stored, err := a.repo.TransitionBooking(ctx, persistence.BookingTransition{
		ID:           transition.BookingID,
		From:         string(transition.From),
		To:           string(transition.To),
		CheckInTime:  transition.CheckInTime,
		CheckOutTime: transition.CheckOutTime,
	})
	if err != nil {
		if errors.Is(err, persistence.ErrStatusConflict) {
			return toApplicationBooking(stored), err
		}
		return application.Booking{}, err
	}
	return toApplicationBooking(stored), nil
}

// ActivityStoreAdapter exposes a persistence.ActivityLogRepository as an
// application.ActivityStore. Changes and metadata are stored as JSON text.
type ActivityStoreAdapter struct {
	repo persistence.ActivityLogRepository
}

// NewActivityStoreAdapter wraps repo.
func NewActivityStoreAdapter(repo persistence.ActivityLogRepository) *ActivityStoreAdapter {
	return &ActivityStoreAdapter{repo: repo}
}

var _ application.ActivityStore = (*ActivityStoreAdapter)(nil)

func (a *ActivityStoreAdapter) AppendActivity(ctx context.Context, entry application.ActivityLogEntry) error {
	model, err := toPersistenceActivityLog(entry)
	if err != nil {
		return err
	}
	return a.repo.AppendActivityLog(ctx, model)
}

func (a *ActivityStoreAdapter) ListActivityByBooking(ctx context.Context, bookingID string, order application.ListOrder) ([]application.ActivityLogEntry, error) {
	models, err := a.repo.ListActivityLogsByBooking(ctx, bookingID, order == application.OrderNewestFirst)
	if err != nil {
		return nil, err
	}
	return toApplicationActivityLogs(models)
}

func (a *ActivityStoreAdapter) ListActivityByUser(ctx context.Context, userID string, limit int) ([]application.ActivityLogEntry, error) {
	models, err := a.repo.ListActivityLogsByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	return toApplicationActivityLogs(models)
}

func (a *ActivityStoreAdapter) LatestDigest(ctx context.Context, bookingID string) (string, error) {
	return a.repo.LatestBookingDigest(ctx, bookingID)
}

// FacilityCatalogAdapter resolves facilities from the mirrored catalog table.
type FacilityCatalogAdapter struct {
	repo persistence.FacilityRepository
}

// NewFacilityCatalogAdapter wraps repo.
func NewFacilityCatalogAdapter(repo persistence.FacilityRepository) *FacilityCatalogAdapter {
	return &FacilityCatalogAdapter{repo: repo}
}

var _ application.FacilityCatalog = (*FacilityCatalogAdapter)(nil)

func (a *FacilityCatalogAdapter) LookupFacility(ctx context.Context, facilityID string) (application.Facility, error) {
	model, err := a.repo.GetFacility(ctx, facilityID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return application.Facility{}, fmt.Errorf("%w: facility %s", application.ErrNotFound, facilityID)
		}
		return application.Facility{}, err
	}
	return application.Facility{
		ID:       model.ID,
		Name:     model.Name,
		Location: model.Location,
		Category: model.Category,
	}, nil
}

func toPersistenceBooking(booking application.Booking) persistence.Booking {
	return persistence.Booking{
		ID:            booking.ID,
		FacilityID:    booking.FacilityID,
		UserID:        booking.UserID,
		DateLabel:     booking.DateLabel,
		TimeLabel:     booking.TimeLabel,
		ReferenceCode: booking.ReferenceCode,
		CheckInCode:   booking.CheckInCode,
		Status:        string(booking.Status),
		CheckInTime:   booking.CheckInTime,
		CheckOutTime:  booking.CheckOutTime,
		CreatedAt:     booking.CreatedAt,
	}
}

func toApplicationBooking(model persistence.Booking) application.Booking {
	return application.Booking{
		ID:            model.ID,
		FacilityID:    model.FacilityID,
		UserID:        model.UserID,
		DateLabel:     model.DateLabel,
		TimeLabel:     model.TimeLabel,
		ReferenceCode: model.ReferenceCode,
		CheckInCode:   model.CheckInCode,
		Status:        application.BookingStatus(model.Status),
		CheckInTime:   model.CheckInTime,
		CheckOutTime:  model.CheckOutTime,
		CreatedAt:     model.CreatedAt,
	}
}

func toApplicationBookings(models []persistence.Booking) []application.Booking {
	if len(models) == 0 {
		return nil
	}
	bookings := make([]application.Booking, 0, len(models))
	for _, model := range models {
		bookings = append(bookings, toApplicationBooking(model))
	}
	return bookings
}

func toPersistenceActivityLog(entry application.ActivityLogEntry) (persistence.ActivityLog, error) {
	changes, err := sonic.ConfigStd.MarshalToString(nonNilChanges(entry.Changes))
	if err != nil {
		return persistence.ActivityLog{}, fmt.Errorf("encode changes: %w", err)
	}
	metadata, err := sonic.ConfigStd.MarshalToString(nonNilMetadata(entry.Metadata))
	if err != nil {
		return persistence.ActivityLog{}, fmt.Errorf("encode metadata: %w", err)
	}
	return persistence.ActivityLog{
		ID:          entry.ID,
		UserID:      entry.UserID,
		BookingID:   entry.BookingID,
		ActionType:  string(entry.ActionType),
		Description: entry.Description,
		Changes:     changes,
		Metadata:    metadata,
		PrevDigest:  entry.PrevDigest,
		Digest:      entry.Digest,
		CreatedAt:   entry.CreatedAt,
	}, nil
}

func toApplicationActivityLog(model persistence.ActivityLog) (application.ActivityLogEntry, error) {
	changes := map[string]application.FieldChange{}
	if model.Changes != "" {
		if err := sonic.UnmarshalString(model.Changes, &changes); err != nil {
			return application.ActivityLogEntry{}, fmt.Errorf("decode changes of %s: %w", model.ID, err)
		}
	}
	metadata := map[string]string{}
	if model.Metadata != "" {
		if err := sonic.UnmarshalString(model.Metadata, &metadata); err != nil {
			return application.ActivityLogEntry{}, fmt.Errorf("decode metadata of %s: %w", model.ID, err)
		}
	}
	return application.ActivityLogEntry{
		ID:          model.ID,
		UserID:      model.UserID,
		BookingID:   model.BookingID,
		ActionType:  application.ActionType(model.ActionType),
		Description: model.Description,
		Changes:     changes,
		Metadata:    metadata,
		PrevDigest:  model.PrevDigest,
		Digest:      model.Digest,
		CreatedAt:   model.CreatedAt,
	}, nil
}

func toApplicationActivityLogs(models []persistence.ActivityLog) ([]application.ActivityLogEntry, error) {
	if len(models) == 0 {
		return nil, nil
	}
	entries := make([]application.ActivityLogEntry, 0, len(models))
	for _, model := range models {
		entry, err := toApplicationActivityLog(model)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func nonNilChanges(changes map[string]application.FieldChange) map[string]application.FieldChange {
	if changes == nil {
		return map[string]application.FieldChange{}
	}
	return changes
}

func nonNilMetadata(metadata map[string]string) map[string]string {
	if metadata == nil {
		return map[string]string{}
	}
	return metadata
}
