package http_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/campus-facilities/internal/application"
	httptransport "github.com/example/campus-facilities/internal/http"
	"github.com/example/campus-facilities/internal/persistence"
	"github.com/example/campus-facilities/internal/testfixtures"
)

type envelope struct {
	Booking struct {
		ID            string `json:"id"`
		ReferenceCode string `json:"reference_code"`
		CheckInCode   string `json:"check_in_code"`
		Status        string `json:"status"`
		StatusLabel   string `json:"status_label"`
		CheckInTime   string `json:"check_in_time"`
		CheckOutTime  string `json:"check_out_time"`
	} `json:"booking"`
	Bookings []struct {
		ID string `json:"id"`
	} `json:"bookings"`
	Entries []struct {
		ActionType string `json:"action_type"`
		Changes    map[string]struct {
			Old *string `json:"old"`
			New *string `json:"new"`
		} `json:"changes"`
	} `json:"entries"`
	Sessions []struct {
		HolderName   string `json:"holder_name"`
		FacilityName string `json:"facility_name"`
		CheckInCode  string `json:"check_in_code"`
	} `json:"sessions"`
	Counts         map[string]int    `json:"counts"`
	ErrorCode      string            `json:"error_code"`
	Errors         map[string]string `json:"errors"`
	Retryable      bool              `json:"retryable"`
	CandidateCount int               `json:"candidate_count"`
	Status         string            `json:"status"`
}

func do(t *testing.T, handler http.Handler, method, path, token, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var payload envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), &payload), rec.Body.String())
	}
	return rec.Code, payload
}

func newLifecycleRouter(t *testing.T) (http.Handler, *testfixtures.Services, *testfixtures.ServiceFactory) {
	t.Helper()
	harness := testfixtures.NewMemoryHarness(t)
	harness.SeedProfiles(t,
		testfixtures.NewProfileFixture(testfixtures.WithProfileUserID("student-1"), testfixtures.WithProfileName("Nur Aisyah")),
		testfixtures.NewProfileFixture(testfixtures.WithProfileUserID("staff-1"), testfixtures.WithProfileStaff()),
	)
	harness.SeedFacility(t, persistence.Facility{ID: "badminton-court", Name: "Badminton Court", Location: "Sports Complex"})

	factory := testfixtures.NewServiceFactory()
	services := factory.NewServices(t, harness)

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Bookings: httptransport.NewBookingHandler(services.Bookings, nil),
		Sessions: httptransport.NewSessionHandler(services.CheckIns, services.Sessions, services.Query, nil),
		Verifier: harness.IdentityProvider(),
	})
	return router, services, factory
}

func TestRouterBookingLifecycle(t *testing.T) {
	router, services, factory := newLifecycleRouter(t)
	today := factory.Clock.Today(factory.Location)

	status, health := do(t, router, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", health.Status)

	status, _ = do(t, router, http.MethodPost, "/bookings", "", `{}`)
	require.Equal(t, http.StatusUnauthorized, status)

	status, rejected := do(t, router, http.MethodPost, "/bookings", "student-1", `{"date":"`+today+`"}`)
	require.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Contains(t, rejected.Errors, "facility_id")
	assert.Contains(t, rejected.Errors, "time_slot")

	status, _ = do(t, router, http.MethodPost, "/bookings", "student-1", `{"facility_id":`)
	require.Equal(t, http.StatusBadRequest, status)

	status, created := do(t, router, http.MethodPost, "/bookings", "student-1",
		`{"facility_id":"badminton-court","date":"`+today+`","time_slot":"8:00 AM - 9:00 AM"}`)
	require.Equal(t, http.StatusCreated, status)
	bookingID := created.Booking.ID
	assert.Equal(t, "UTMSEQ000001", created.Booking.ReferenceCode)
	assert.Equal(t, "100001", created.Booking.CheckInCode)
	assert.Equal(t, "confirmed", created.Booking.Status)
	assert.Equal(t, "Booked", created.Booking.StatusLabel)

	status, forbidden := do(t, router, http.MethodPost, "/check-ins", "student-1", `{"code":"100001"}`)
	require.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", forbidden.ErrorCode)

	status, resolved := do(t, router, http.MethodPost, "/check-ins/resolve", "staff-1", `{"code":"100-001"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, bookingID, resolved.Booking.ID)
	assert.Equal(t, "confirmed", resolved.Booking.Status)

	status, checkedIn := do(t, router, http.MethodPost, "/check-ins", "staff-1", `{"code":"100001","date":"`+today+`"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "checked_in", checkedIn.Booking.Status)
	assert.NotEmpty(t, checkedIn.Booking.CheckInTime)

	status, conflict := do(t, router, http.MethodPost, "/bookings/"+bookingID+"/cancel", "student-1", "")
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "INVALID_TRANSITION", conflict.ErrorCode)

	status, day := do(t, router, http.MethodGet, "/sessions/today", "staff-1", "")
	require.Equal(t, http.StatusOK, status)
	require.Len(t, day.Sessions, 1)
	assert.Equal(t, "Nur Aisyah", day.Sessions[0].HolderName)
	assert.Equal(t, "Badminton Court", day.Sessions[0].FacilityName)
	assert.Equal(t, 1, day.Counts["checked_in"])
	assert.Equal(t, 0, day.Counts["confirmed"])

	status, filtered := do(t, router, http.MethodGet, "/sessions/today?status=confirmed", "staff-1", "")
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, filtered.Sessions)
	assert.Equal(t, 1, filtered.Counts["checked_in"])

	status, _ = do(t, router, http.MethodGet, "/sessions/today?status=pending", "staff-1", "")
	require.Equal(t, http.StatusUnprocessableEntity, status)

	status, ended := do(t, router, http.MethodPost, "/sessions/"+bookingID+"/end", "staff-1", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "completed", ended.Booking.Status)
	assert.NotEmpty(t, ended.Booking.CheckOutTime)

	require.NoError(t, services.Audit.Flush(context.Background()))

	status, trail := do(t, router, http.MethodGet, "/bookings/"+bookingID+"/activity?order=newest_first", "student-1", "")
	require.Equal(t, http.StatusOK, status)
	require.Len(t, trail.Entries, 3)
	assert.Equal(t, "completed", trail.Entries[0].ActionType)
	assert.Equal(t, "created", trail.Entries[2].ActionType)
	require.NotNil(t, trail.Entries[2].Changes["status"].Old)
	assert.Equal(t, "Available", *trail.Entries[2].Changes["status"].Old)

	status, _ = do(t, router, http.MethodGet, "/bookings/"+bookingID+"/activity?order=sideways", "student-1", "")
	require.Equal(t, http.StatusUnprocessableEntity, status)

	status, mine := do(t, router, http.MethodGet, "/me/bookings", "student-1", "")
	require.Equal(t, http.StatusOK, status)
	require.Len(t, mine.Bookings, 1)

	status, feed := do(t, router, http.MethodGet, "/me/activity?limit=1", "student-1", "")
	require.Equal(t, http.StatusOK, status)
	require.Len(t, feed.Entries, 1)

	status, _ = do(t, router, http.MethodGet, "/me/activity?limit=-1", "student-1", "")
	require.Equal(t, http.StatusUnprocessableEntity, status)

	status, missing := do(t, router, http.MethodGet, "/bookings/missing", "student-1", "")
	require.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", missing.ErrorCode)

	status, _ = do(t, router, http.MethodGet, "/bookings/"+bookingID, "stranger", "")
	require.Equal(t, http.StatusUnauthorized, status)
}

type stubCheckIns struct {
	err error
}

func (s stubCheckIns) ResolveCode(ctx context.Context, principal application.Principal, code, dateScope string) (application.Booking, error) {
	return application.Booking{}, s.err
}

func (s stubCheckIns) CheckInByCode(ctx context.Context, principal application.Principal, code, dateScope string) (application.Booking, error) {
	return application.Booking{}, s.err
}

type stubVerifier struct {
	identity application.Identity
	err      error
}

func (v stubVerifier) VerifyToken(ctx context.Context, token string) (application.Identity, error) {
	return v.identity, v.err
}

func TestSessionHandlerErrorMapping(t *testing.T) {
	staff := stubVerifier{identity: application.Identity{UserID: "staff-1", Role: application.RoleStaff}}

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		check      func(t *testing.T, payload envelope)
	}{
		{
			name: "ambiguous codes list the candidates",
			err: &application.AmbiguousMatchError{Code: "123456", Candidates: []application.Booking{
				testfixtures.NewBookingFixture().Application(),
				testfixtures.NewBookingFixture().Application(),
			}},
			wantStatus: http.StatusConflict,
			wantCode:   "AMBIGUOUS_MATCH",
			check: func(t *testing.T, payload envelope) {
				assert.Equal(t, 2, payload.CandidateCount)
			},
		},
		{
			name:       "failed writes are retryable",
			err:        application.ErrBookingFailed,
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "BOOKING_FAILED",
			check: func(t *testing.T, payload envelope) {
				assert.True(t, payload.Retryable)
			},
		},
		{
			name:       "malformed codes are validation failures",
			err:        &application.ValidationError{FieldErrors: map[string]string{"code": "code must be 6 digits"}},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "VALIDATION_FAILED",
			check: func(t *testing.T, payload envelope) {
				assert.Equal(t, "code must be 6 digits", payload.Errors["code"])
			},
		},
		{
			name:       "unexpected errors are internal",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := httptransport.NewRouter(httptransport.RouterConfig{
				Sessions: httptransport.NewSessionHandler(stubCheckIns{err: tc.err}, nil, nil, nil),
				Verifier: staff,
			})

			status, payload := do(t, router, http.MethodPost, "/check-ins", "token", `{"code":"123456"}`)
			assert.Equal(t, tc.wantStatus, status)
			assert.Equal(t, tc.wantCode, payload.ErrorCode)
			if tc.check != nil {
				tc.check(t, payload)
			}
		})
	}
}

func TestRequireIdentity(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := httptransport.PrincipalFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		if principal.IsStaff {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name     string
		header   string
		verifier stubVerifier
		want     int
	}{
		{name: "missing header", want: http.StatusUnauthorized},
		{name: "not a bearer token", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "rejected token", header: "Bearer bad", verifier: stubVerifier{err: application.ErrUnauthenticated}, want: http.StatusUnauthorized},
		{name: "identity provider down", header: "Bearer ok", verifier: stubVerifier{err: errors.New("connection refused")}, want: http.StatusServiceUnavailable},
		{name: "student", header: "Bearer ok", verifier: stubVerifier{identity: application.Identity{UserID: "u1", Role: application.RoleStudent}}, want: http.StatusNoContent},
		{name: "staff", header: "bearer ok", verifier: stubVerifier{identity: application.Identity{UserID: "u2", Role: application.RoleStaff}}, want: http.StatusAccepted},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := httptransport.RequireIdentity(tc.verifier, nil)(next)
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := httptransport.RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NotNil(t, httptransport.LoggerFromContext(r.Context()))
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/bookings", nil)
	req.Header.Set(httptransport.RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get(httptransport.RequestIDHeader))
	assert.Contains(t, buf.String(), `"request_id":"req-42"`)
	assert.Contains(t, buf.String(), `"status":201`)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me/bookings", nil))
	assert.Len(t, rec.Header().Get(httptransport.RequestIDHeader), 36)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("database is locked") }

func TestHealthzReportsStorageFailures(t *testing.T) {
	router := httptransport.NewRouter(httptransport.RouterConfig{Health: failingPinger{}})
	status, payload := do(t, router, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "unavailable", payload.Status)
}
