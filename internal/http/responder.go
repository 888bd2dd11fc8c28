package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"

	"github.com/example/campus-facilities/internal/application"
)

const maxRequestBody = 64 << 10

var (
	errBadRequestBody   = errors.New("request body is not valid JSON")
	errInvalidBookingID = errors.New("booking id is required")
	errMissingToken     = errors.New("bearer token is required")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := sonic.ConfigStd.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := http.StatusText(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).WarnContext(ctx, "request rejected", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{Message: message})
}

func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	var (
		ambiguous *application.AmbiguousMatchError
		vErr      *application.ValidationError
	)
	switch {
	case errors.Is(err, application.ErrUnauthenticated):
		r.writeJSON(ctx, w, http.StatusUnauthorized, errorResponse{
			ErrorCode: "UNAUTHENTICATED",
			Message:   "Sign in to continue.",
		})
	case errors.Is(err, application.ErrUnauthorized):
		r.writeJSON(ctx, w, http.StatusForbidden, errorResponse{
			ErrorCode: "FORBIDDEN",
			Message:   "You are not allowed to perform this action.",
		})
	case errors.Is(err, application.ErrNotFound):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{
			ErrorCode: "NOT_FOUND",
			Message:   "No matching booking was found.",
		})
	case errors.As(err, &ambiguous):
		candidates := make([]bookingDTO, 0, len(ambiguous.Candidates))
		for _, booking := range ambiguous.Candidates {
			candidates = append(candidates, toBookingDTO(booking))
		}
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode:      "AMBIGUOUS_MATCH",
			Message:        fmt.Sprintf("Code %s matches %d bookings. Search manually.", ambiguous.Code, len(ambiguous.Candidates)),
			CandidateCount: len(ambiguous.Candidates),
			Candidates:     candidates,
		})
	case errors.Is(err, application.ErrAmbiguousMatch):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode: "AMBIGUOUS_MATCH",
			Message:   "The code matches more than one booking. Search manually.",
		})
	case errors.Is(err, application.ErrInvalidTransition):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode: "INVALID_TRANSITION",
			Message:   "The booking is not in a state that allows this action.",
		})
	case errors.As(err, &vErr):
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: "VALIDATION_FAILED",
			Message:   "Some fields are invalid.",
			Errors:    vErr.FieldErrors,
		})
	case errors.Is(err, application.ErrBookingFailed):
		r.writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{
			ErrorCode: "BOOKING_FAILED",
			Message:   "The booking could not be saved. Please try again.",
			Retryable: true,
		})
	default:
		r.loggerFor(ctx).ErrorContext(ctx, "unexpected service error", "error", err)
		r.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{
			ErrorCode: "INTERNAL",
			Message:   "Something went wrong on our side.",
		})
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

// decodeRequest reads a JSON body into dst and validates its struct tags.
// Decoding problems return errBadRequestBody; tag failures return a
// *application.ValidationError keyed by JSON field name.
func decodeRequest(r *http.Request, dst any) error {
	body := io.LimitReader(r.Body, maxRequestBody)
	if err := sonic.ConfigStd.NewDecoder(body).Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequestBody, err)
	}
	return validateRequest(dst)
}

func validateRequest(dst any) error {
	err := validate.Struct(dst)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	vErr := &application.ValidationError{FieldErrors: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		vErr.FieldErrors[fe.Field()] = validationMessage(fe)
	}
	return vErr
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s long", fe.Field(), fe.Param())
	default:
		return fe.Field() + " is invalid"
	}
}

type errorResponse struct {
	ErrorCode      string            `json:"error_code,omitempty"`
	Message        string            `json:"message"`
	Errors         map[string]string `json:"errors,omitempty"`
	Retryable      bool              `json:"retryable,omitempty"`
	CandidateCount int               `json:"candidate_count,omitempty"`
	Candidates     []bookingDTO      `json:"candidates,omitempty"`
}
