package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	Bookings   *BookingHandler
	Sessions   *SessionHandler
	Verifier   TokenVerifier
	Health     Pinger
	Logger     *slog.Logger
	Middleware []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	for _, mw := range cfg.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.Get("/healthz", healthHandler(cfg.Health, newResponder(cfg.Logger)))

	r.Group(func(r chi.Router) {
		if cfg.Verifier != nil {
			r.Use(RequireIdentity(cfg.Verifier, cfg.Logger))
		}

		if cfg.Bookings != nil {
			r.Post("/bookings", cfg.Bookings.Create)
			r.Route("/bookings/{bookingID}", func(r chi.Router) {
				r.Get("/", cfg.Bookings.Get)
				r.Post("/cancel", cfg.Bookings.Cancel)
				r.Get("/activity", cfg.Bookings.Activity)
			})
			r.Get("/me/bookings", cfg.Bookings.Mine)
			r.Get("/me/activity", cfg.Bookings.MyActivity)
		}

		if cfg.Sessions != nil {
			r.Post("/check-ins", cfg.Sessions.CheckIn)
			r.Post("/check-ins/resolve", cfg.Sessions.Resolve)
			r.Post("/sessions/{bookingID}/end", cfg.Sessions.End)
			r.Get("/sessions/today", cfg.Sessions.Today)
		}
	})

	return r
}

func healthHandler(pinger Pinger, responder responder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pinger != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := pinger.Ping(ctx); err != nil {
				responder.loggerFor(ctx).ErrorContext(ctx, "health check failed", "error", err)
				responder.writeJSON(r.Context(), w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
				return
			}
		}
		responder.writeJSON(r.Context(), w, http.StatusOK, healthResponse{Status: "ok"})
	}
}

type healthResponse struct {
	Status string `json:"status"`
}
