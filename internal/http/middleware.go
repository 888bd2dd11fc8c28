package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/example/campus-facilities/internal/application"
)

// RequestIDHeader carries the request ID in and out of the service.
const RequestIDHeader = "X-Request-Id"

// TokenVerifier resolves a bearer token to the identity that owns it.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (application.Identity, error)
}

// RequireIdentity rejects requests without a verifiable bearer token and
// stores the resulting principal in the request context.
func RequireIdentity(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				responder.writeJSON(r.Context(), w, http.StatusUnauthorized, errorResponse{
					ErrorCode: "UNAUTHENTICATED",
					Message:   errMissingToken.Error(),
				})
				return
			}

			identity, err := verifier.VerifyToken(r.Context(), token)
			if err != nil {
				if errors.Is(err, application.ErrUnauthenticated) {
					responder.writeJSON(r.Context(), w, http.StatusUnauthorized, errorResponse{
						ErrorCode: "UNAUTHENTICATED",
						Message:   "The session is invalid. Sign in again.",
					})
					return
				}
				responder.loggerFor(r.Context()).ErrorContext(r.Context(), "token verification failed", "error", err)
				responder.writeJSON(r.Context(), w, http.StatusServiceUnavailable, errorResponse{
					ErrorCode: "IDENTITY_UNAVAILABLE",
					Message:   "Sign-in could not be verified. Please try again.",
					Retryable: true,
				})
				return
			}

			principal := application.Principal{UserID: identity.UserID, IsStaff: identity.IsStaff()}
			ctx := ContextWithPrincipal(r.Context(), principal)
			if logger := LoggerFromContext(ctx); logger != nil {
				ctx = ContextWithLogger(ctx, logger.With("principal_id", principal.UserID))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogger attaches a request scoped logger and logs the outcome of
// every request. Incoming X-Request-Id values are kept.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)

			logger := base.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
			)

			ctx := ContextWithLogger(r.Context(), logger)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(ctx, level, "request completed",
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
			)
		})
	}
}

func extractBearerToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
