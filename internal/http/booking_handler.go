package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/campus-facilities/internal/application"
)

const defaultFeedLimit = 50

type bookingService interface {
	CreateBooking(ctx context.Context, params application.CreateBookingParams) (application.Booking, error)
	CancelBooking(ctx context.Context, principal application.Principal, bookingID string) (application.Booking, error)
	GetBooking(ctx context.Context, principal application.Principal, bookingID string) (application.Booking, error)
	ListUserBookings(ctx context.Context, principal application.Principal, userID string) ([]application.Booking, error)
	ListActivity(ctx context.Context, principal application.Principal, bookingID string, order application.ListOrder) ([]application.ActivityLogEntry, error)
	ListMyActivity(ctx context.Context, principal application.Principal, limit int) ([]application.ActivityLogEntry, error)
}

type BookingHandler struct {
	service   bookingService
	responder responder
	logger    *slog.Logger
}

func NewBookingHandler(service bookingService, logger *slog.Logger) *BookingHandler {
	base := defaultLogger(logger)
	return &BookingHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *BookingHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "BookingHandler", operation, attrs...)
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), "Create", "principal_id", principal.UserID)

	var req createBookingRequest
	if err := decodeRequest(r, &req); err != nil {
		h.rejectRequest(r.Context(), w, logger, err)
		return
	}

	booking, err := h.service.CreateBooking(r.Context(), application.CreateBookingParams{
		FacilityID: strings.TrimSpace(req.FacilityID),
		UserID:     principal.UserID,
		DateLabel:  strings.TrimSpace(req.Date),
		TimeLabel:  strings.TrimSpace(req.TimeSlot),
		Metadata:   req.Metadata,
	})
	if err != nil {
		logger.ErrorContext(r.Context(), "booking creation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("booking_id", booking.ID).InfoContext(r.Context(), "booking created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, bookingResponse{Booking: toBookingDTO(booking)})
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	bookingID, ok := bookingIDParam(r)
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidBookingID)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())

	booking, err := h.service.GetBooking(r.Context(), principal, bookingID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, bookingResponse{Booking: toBookingDTO(booking)})
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	bookingID, ok := bookingIDParam(r)
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidBookingID)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), "Cancel", "principal_id", principal.UserID, "booking_id", bookingID)

	booking, err := h.service.CancelBooking(r.Context(), principal, bookingID)
	if err != nil {
		logger.ErrorContext(r.Context(), "booking cancellation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "booking cancelled")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, bookingResponse{Booking: toBookingDTO(booking)})
}

func (h *BookingHandler) Activity(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	bookingID, ok := bookingIDParam(r)
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidBookingID)
		return
	}
	order, err := application.ParseListOrder(strings.TrimSpace(r.URL.Query().Get("order")))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, &application.ValidationError{
			FieldErrors: map[string]string{"order": "order must be oldest_first or newest_first"},
		})
		return
	}
	principal, _ := PrincipalFromContext(r.Context())

	entries, err := h.service.ListActivity(r.Context(), principal, bookingID, order)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, activityResponse{Entries: toActivityDTOs(entries)})
}

func (h *BookingHandler) Mine(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	bookings, err := h.service.ListUserBookings(r.Context(), principal, principal.UserID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	response := listBookingsResponse{Bookings: make([]bookingDTO, 0, len(bookings))}
	for _, booking := range bookings {
		response.Bookings = append(response.Bookings, toBookingDTO(booking))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, response)
}

func (h *BookingHandler) MyActivity(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	limit := defaultFeedLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.responder.handleServiceError(r.Context(), w, &application.ValidationError{
				FieldErrors: map[string]string{"limit": "limit must be a positive integer"},
			})
			return
		}
		limit = parsed
	}
	principal, _ := PrincipalFromContext(r.Context())

	entries, err := h.service.ListMyActivity(r.Context(), principal, limit)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, activityResponse{Entries: toActivityDTOs(entries)})
}

func (h *BookingHandler) rejectRequest(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, err error) {
	if errors.Is(err, errBadRequestBody) {
		logger.WarnContext(ctx, "failed to decode request", "error", err, "error_kind", "bad_request")
		h.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	h.responder.handleServiceError(ctx, w, err)
}

func bookingIDParam(r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "bookingID"))
	return id, id != ""
}

type createBookingRequest struct {
	FacilityID string            `json:"facility_id" validate:"required,max=64"`
	Date       string            `json:"date" validate:"required,max=32"`
	TimeSlot   string            `json:"time_slot" validate:"required,max=64"`
	Metadata   map[string]string `json:"metadata" validate:"omitempty,max=16"`
}

type bookingResponse struct {
	Booking bookingDTO `json:"booking"`
}

type listBookingsResponse struct {
	Bookings []bookingDTO `json:"bookings"`
}

type activityResponse struct {
	Entries []activityDTO `json:"entries"`
}

type bookingDTO struct {
	ID            string  `json:"id"`
	FacilityID    string  `json:"facility_id"`
	UserID        string  `json:"user_id"`
	Date          string  `json:"date"`
	TimeSlot      string  `json:"time_slot"`
	ReferenceCode string  `json:"reference_code"`
	CheckInCode   string  `json:"check_in_code"`
	Status        string  `json:"status"`
	StatusLabel   string  `json:"status_label"`
	CheckInTime   *string `json:"check_in_time,omitempty"`
	CheckOutTime  *string `json:"check_out_time,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

func toBookingDTO(booking application.Booking) bookingDTO {
	return bookingDTO{
		ID:            booking.ID,
		FacilityID:    booking.FacilityID,
		UserID:        booking.UserID,
		Date:          booking.DateLabel,
		TimeSlot:      booking.TimeLabel,
		ReferenceCode: booking.ReferenceCode,
		CheckInCode:   booking.EffectiveCheckInCode(),
		Status:        string(booking.Status),
		StatusLabel:   booking.Status.Label(),
		CheckInTime:   formatOptionalTime(booking.CheckInTime),
		CheckOutTime:  formatOptionalTime(booking.CheckOutTime),
		CreatedAt:     formatTime(booking.CreatedAt),
	}
}

type activityDTO struct {
	ID          string                             `json:"id"`
	UserID      string                             `json:"user_id"`
	BookingID   *string                            `json:"booking_id,omitempty"`
	ActionType  string                             `json:"action_type"`
	Description string                             `json:"description"`
	Changes     map[string]application.FieldChange `json:"changes"`
	Metadata    map[string]string                  `json:"metadata"`
	Digest      string                             `json:"digest,omitempty"`
	CreatedAt   string                             `json:"created_at"`
}

func toActivityDTOs(entries []application.ActivityLogEntry) []activityDTO {
	dtos := make([]activityDTO, 0, len(entries))
	for _, entry := range entries {
		changes := entry.Changes
		if changes == nil {
			changes = map[string]application.FieldChange{}
		}
		metadata := entry.Metadata
		if metadata == nil {
			metadata = map[string]string{}
		}
		dtos = append(dtos, activityDTO{
			ID:          entry.ID,
			UserID:      entry.UserID,
			BookingID:   entry.BookingID,
			ActionType:  string(entry.ActionType),
			Description: entry.Description,
			Changes:     changes,
			Metadata:    metadata,
			Digest:      entry.Digest,
			CreatedAt:   formatTime(entry.CreatedAt),
		})
	}
	return dtos
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := formatTime(*t)
	return &formatted
}
