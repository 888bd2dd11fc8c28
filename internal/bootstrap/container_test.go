package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/samber/do"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/campus-facilities/internal/application"
	"github.com/example/campus-facilities/internal/cache"
	"github.com/example/campus-facilities/internal/config"
	"github.com/example/campus-facilities/internal/persistence"
	"github.com/example/campus-facilities/internal/persistence/memory"
)

func useMemoryStorage(t *testing.T) {
	t.Helper()
	t.Setenv("CAMPUS_STORAGE_DRIVER", "memory")
	t.Setenv("CAMPUS_LOG_LEVEL", "error")
	t.Setenv("CAMPUS_TIMEZONE", "Asia/Kuala_Lumpur")
}

func newTestApp(t *testing.T, opts Options) *App {
	t.Helper()
	if opts.LogOutput == nil {
		opts.LogOutput = io.Discard
	}
	app, err := NewApp(BuildContainer(opts))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Shutdown(ctx)
	})
	return app
}

func seedProfiles(t *testing.T, app *App, profiles ...persistence.Profile) {
	t.Helper()
	backend := do.MustInvoke[*Backend](app.Injector)
	store, ok := backend.Storage.(*memory.Storage)
	require.True(t, ok)
	for _, profile := range profiles {
		require.NoError(t, store.UpsertProfile(context.Background(), profile))
	}
}

func call(t *testing.T, handler http.Handler, method, path, token, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	payload := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(t, sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), &payload), rec.Body.String())
	}
	return rec.Code, payload
}

func TestContainerServesLifecycleOverMemoryStorage(t *testing.T) {
	useMemoryStorage(t)
	app := newTestApp(t, Options{Version: "test"})
	seedProfiles(t, app,
		persistence.Profile{UserID: "student-1", FullName: "Nur Aisyah", ExternalID: "A21EC0001", Role: application.RoleStudent},
		persistence.Profile{UserID: "staff-1", FullName: "Encik Hafiz", ExternalID: "S0042", Role: application.RoleStaff},
	)

	assert.Equal(t, config.StorageMemory, app.Config.StorageDriver)

	status, body := call(t, app.Handler, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	today := application.DateLabel(time.Now(), app.Config.Location)
	status, body = call(t, app.Handler, http.MethodPost, "/bookings", "student-1",
		`{"facility_id":"futsal-court","date":"`+today+`","time_slot":"5:00 PM - 6:00 PM"}`)
	require.Equal(t, http.StatusCreated, status, body)
	booking := body["booking"].(map[string]any)
	reference := booking["reference_code"].(string)
	assert.True(t, application.ValidReferenceCode(reference), reference)
	code := booking["check_in_code"].(string)
	assert.Len(t, code, 6)

	status, body = call(t, app.Handler, http.MethodPost, "/check-ins", "staff-1", `{"code":"`+code+`"}`)
	require.Equal(t, http.StatusOK, status, body)
	bookingID := body["booking"].(map[string]any)["id"].(string)

	status, body = call(t, app.Handler, http.MethodPost, "/sessions/"+bookingID+"/end", "staff-1", "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "completed", body["booking"].(map[string]any)["status"])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Audit.Flush(ctx))
	require.NoError(t, app.Audit.VerifyTrail(ctx, bookingID))

	entries, err := app.Audit.ListByBooking(ctx, bookingID, application.OrderOldestFirst)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, application.ActionCreated, entries[0].ActionType)
}

func TestContainerRejectsInvalidConfiguration(t *testing.T) {
	useMemoryStorage(t)
	t.Setenv("CAMPUS_STORAGE_DRIVER", "postgres")

	_, err := NewApp(BuildContainer(Options{LogOutput: io.Discard}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CAMPUS_STORAGE_DRIVER")
}

type recordingSink struct {
	mu     sync.Mutex
	causes []error
}

func (s *recordingSink) DeadLetter(_ context.Context, _ application.ActivityLogEntry, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.causes = append(s.causes, cause)
	return nil
}

func TestNewAppStopsAuditWriterWhenHandlerFails(t *testing.T) {
	useMemoryStorage(t)
	inj := BuildContainer(Options{LogOutput: io.Discard})

	sink := &recordingSink{}
	do.Override(inj, func(i *do.Injector) (*DeadLetters, error) {
		return &DeadLetters{DeadLetterSink: sink}, nil
	})
	var writer *AuditWriter
	do.Override(inj, func(i *do.Injector) (http.Handler, error) {
		writer = do.MustInvoke[*AuditWriter](i)
		return nil, errors.New("router unavailable")
	})

	_, err := NewApp(inj)
	require.ErrorContains(t, err, "router unavailable")
	require.NotNil(t, writer)

	writer.Append(context.Background(), application.ActivityLogEntry{UserID: "student-1", ActionType: application.ActionCreated})

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.causes, 1)
	assert.ErrorIs(t, sink.causes[0], application.ErrAuditLogClosed)
}

func TestContainerMigratesSQLiteStorage(t *testing.T) {
	t.Setenv("CAMPUS_STORAGE_DRIVER", "sqlite")
	t.Setenv("CAMPUS_SQLITE_DSN", filepath.Join(t.TempDir(), "campus.db"))
	t.Setenv("CAMPUS_LOG_LEVEL", "error")

	inj := BuildContainer(Options{LogOutput: io.Discard})
	backend, err := do.Invoke[*Backend](inj)
	require.NoError(t, err)
	t.Cleanup(func() { _ = inj.Shutdown() })

	assert.Equal(t, config.StorageSQLite, backend.Driver)
	facilities, err := backend.ListFacilities(context.Background())
	require.NoError(t, err)
	assert.Len(t, facilities, len(DefaultFacilities))
}

func TestContainerCachesLookupsInRedis(t *testing.T) {
	useMemoryStorage(t)
	mr := miniredis.RunT(t)
	t.Setenv("CAMPUS_REDIS_ADDR", mr.Addr())

	app := newTestApp(t, Options{})
	seedProfiles(t, app, persistence.Profile{UserID: "student-1", FullName: "Nur Aisyah", Role: application.RoleStudent})

	identities := do.MustInvoke[application.IdentityProvider](app.Injector)
	_, ok := identities.(*cache.IdentityCache)
	require.True(t, ok)

	got, err := identities.LookupIdentity(context.Background(), "student-1")
	require.NoError(t, err)
	assert.Equal(t, "Nur Aisyah", got.FullName)

	facilities := do.MustInvoke[application.FacilityCatalog](app.Injector)
	_, err = facilities.LookupFacility(context.Background(), "music-room")
	require.NoError(t, err)

	keys := mr.Keys()
	assert.Len(t, keys, 2)
}

func TestContainerLogsWithServiceName(t *testing.T) {
	useMemoryStorage(t)
	t.Setenv("CAMPUS_LOG_LEVEL", "info")
	var buf bytes.Buffer

	app := newTestApp(t, Options{LogOutput: &buf})
	app.Logger.Info("ready")

	assert.Contains(t, buf.String(), `"service":"campusd"`)
	assert.Contains(t, buf.String(), "using in-memory storage")
}
