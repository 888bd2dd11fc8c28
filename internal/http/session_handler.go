package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/campus-facilities/internal/application"
)

type checkInService interface {
	ResolveCode(ctx context.Context, principal application.Principal, code, dateScope string) (application.Booking, error)
	CheckInByCode(ctx context.Context, principal application.Principal, code, dateScope string) (application.Booking, error)
}

type sessionService interface {
	EndSession(ctx context.Context, principal application.Principal, bookingID string) (application.Booking, error)
}

type sessionQuery interface {
	ListToday(ctx context.Context, principal application.Principal, filter application.SessionFilter) (application.SessionList, error)
}

// SessionHandler serves the staff desk: code check-in, session completion
// and the day view.
type SessionHandler struct {
	checkIns  checkInService
	sessions  sessionService
	query     sessionQuery
	responder responder
	logger    *slog.Logger
}

func NewSessionHandler(checkIns checkInService, sessions sessionService, query sessionQuery, logger *slog.Logger) *SessionHandler {
	base := defaultLogger(logger)
	return &SessionHandler{
		checkIns:  checkIns,
		sessions:  sessions,
		query:     query,
		responder: newResponder(base),
		logger:    base,
	}
}

func (h *SessionHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "SessionHandler", operation, attrs...)
}

func (h *SessionHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.checkIns == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), "CheckIn", "principal_id", principal.UserID)

	var req checkInRequest
	if err := decodeRequest(r, &req); err != nil {
		h.rejectRequest(r.Context(), w, logger, err)
		return
	}

	booking, err := h.checkIns.CheckInByCode(r.Context(), principal, req.Code, req.Date)
	if err != nil {
		logger.WarnContext(r.Context(), "check-in failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("booking_id", booking.ID).InfoContext(r.Context(), "booking checked in")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, bookingResponse{Booking: toBookingDTO(booking)})
}

func (h *SessionHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.checkIns == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), "Resolve", "principal_id", principal.UserID)

	var req checkInRequest
	if err := decodeRequest(r, &req); err != nil {
		h.rejectRequest(r.Context(), w, logger, err)
		return
	}

	booking, err := h.checkIns.ResolveCode(r.Context(), principal, req.Code, req.Date)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, bookingResponse{Booking: toBookingDTO(booking)})
}

func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.sessions == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	bookingID, ok := bookingIDParam(r)
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidBookingID)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), "End", "principal_id", principal.UserID, "booking_id", bookingID)

	booking, err := h.sessions.EndSession(r.Context(), principal, bookingID)
	if err != nil {
		logger.WarnContext(r.Context(), "session end failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "session ended")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, bookingResponse{Booking: toBookingDTO(booking)})
}

func (h *SessionHandler) Today(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.query == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	query := r.URL.Query()
	filter := application.SessionFilter{
		SearchText: strings.TrimSpace(query.Get("q")),
		DateLabel:  strings.TrimSpace(query.Get("date")),
	}
	if raw := strings.TrimSpace(query.Get("status")); raw != "" && raw != "all" {
		status, err := application.ParseBookingStatus(raw)
		if err != nil {
			h.responder.handleServiceError(r.Context(), w, &application.ValidationError{
				FieldErrors: map[string]string{"status": "status is not a booking status"},
			})
			return
		}
		filter.Status = status
	}
	principal, _ := PrincipalFromContext(r.Context())

	list, err := h.query.ListToday(r.Context(), principal, filter)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toSessionListDTO(list))
}

func (h *SessionHandler) rejectRequest(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, err error) {
	if errors.Is(err, errBadRequestBody) {
		logger.WarnContext(ctx, "failed to decode request", "error", err, "error_kind", "bad_request")
		h.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	h.responder.handleServiceError(ctx, w, err)
}

type checkInRequest struct {
	Code string `json:"code" validate:"required,max=32"`
	Date string `json:"date" validate:"omitempty,max=32"`
}

type sessionDTO struct {
	Booking          bookingDTO `json:"booking"`
	StatusLabel      string     `json:"status_label"`
	FacilityName     string     `json:"facility_name"`
	FacilityLocation string     `json:"facility_location,omitempty"`
	HolderName       string     `json:"holder_name"`
	HolderExternalID string     `json:"holder_external_id,omitempty"`
	CheckInCode      string     `json:"check_in_code"`
}

type sessionListDTO struct {
	Date     string         `json:"date"`
	Sessions []sessionDTO   `json:"sessions"`
	Counts   map[string]int `json:"counts"`
}

func toSessionListDTO(list application.SessionList) sessionListDTO {
	dto := sessionListDTO{
		Date:     list.DateLabel,
		Sessions: make([]sessionDTO, 0, len(list.Sessions)),
		Counts:   make(map[string]int, len(application.AllStatuses)),
	}
	for _, status := range application.AllStatuses {
		dto.Counts[string(status)] = list.Counts[status]
	}
	for _, view := range list.Sessions {
		dto.Sessions = append(dto.Sessions, sessionDTO{
			Booking:          toBookingDTO(view.Booking),
			StatusLabel:      view.StatusLabel,
			FacilityName:     view.FacilityName,
			FacilityLocation: view.FacilityLocation,
			HolderName:       view.HolderName,
			HolderExternalID: view.HolderExternalID,
			CheckInCode:      view.CheckInCode,
		})
	}
	return dto
}
