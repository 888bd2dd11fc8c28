package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/campus-facilities/internal/application"
	"github.com/example/campus-facilities/internal/bootstrap"
	"github.com/example/campus-facilities/internal/identity"
	"github.com/example/campus-facilities/internal/persistence"
	"github.com/example/campus-facilities/internal/persistence/memory"
	"github.com/example/campus-facilities/internal/persistence/sqlite"
)

type catalogWriter interface {
	UpsertFacility(ctx context.Context, facility persistence.Facility) error
	UpsertProfile(ctx context.Context, profile persistence.Profile) error
}

// Harness provides repository access to one storage backend so the same
// tests can run against SQLite and the in-memory store.
type Harness struct {
	Name       string
	Bookings   persistence.BookingRepository
	Activity   persistence.ActivityLogRepository
	Facilities persistence.FacilityRepository
	Profiles   persistence.ProfileRepository

	catalog catalogWriter
	cleanup func()
}

// Close releases resources associated with the harness.
func (h *Harness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness opens a migrated SQLite database in a temporary
// directory. The harness is closed automatically when the test ends.
func NewSQLiteHarness(tb testing.TB) *Harness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "campus.db")
	storage, err := sqlite.OpenPath(path, nil)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	if err := storage.Migrate(context.Background()); err != nil {
		_ = storage.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	harness := &Harness{
		Name:       "sqlite",
		Bookings:   storage,
		Activity:   storage,
		Facilities: storage,
		Profiles:   storage,
		catalog:    storage,
		cleanup: func() {
			_ = storage.Close()
		},
	}
	tb.Cleanup(harness.Close)
	return harness
}

// NewMemoryHarness returns a harness over a fresh in-memory store.
func NewMemoryHarness(tb testing.TB) *Harness {
	tb.Helper()

	storage := memory.New()
	return &Harness{
		Name:       "memory",
		Bookings:   storage,
		Activity:   storage,
		Facilities: storage,
		Profiles:   storage,
		catalog:    storage,
	}
}

// Harnesses returns one harness per storage backend.
func Harnesses(tb testing.TB) []*Harness {
	tb.Helper()
	return []*Harness{NewMemoryHarness(tb), NewSQLiteHarness(tb)}
}

// SeedFacility stores a facility in the catalog mirror.
func (h *Harness) SeedFacility(tb testing.TB, facility persistence.Facility) {
	tb.Helper()
	if err := h.catalog.UpsertFacility(context.Background(), facility); err != nil {
		tb.Fatalf("failed to seed facility %s: %v", facility.ID, err)
	}
}

// SeedProfiles stores identity profiles.
func (h *Harness) SeedProfiles(tb testing.TB, profiles ...ProfileFixture) {
	tb.Helper()
	for _, profile := range profiles {
		if err := h.catalog.UpsertProfile(context.Background(), profile.Persistence()); err != nil {
			tb.Fatalf("failed to seed profile %s: %v", profile.UserID, err)
		}
	}
}

// SeedBookings stores bookings directly, bypassing the services.
func (h *Harness) SeedBookings(tb testing.TB, bookings ...BookingFixture) {
	tb.Helper()
	for _, booking := range bookings {
		if err := h.Bookings.CreateBooking(context.Background(), booking.Persistence()); err != nil {
			tb.Fatalf("failed to seed booking %s: %v", booking.ID, err)
		}
	}
}

// BookingStore exposes the harness bookings to the application layer.
func (h *Harness) BookingStore() application.BookingStore {
	return bootstrap.NewBookingStoreAdapter(h.Bookings)
}

// ActivityStore exposes the harness activity log to the application layer.
func (h *Harness) ActivityStore() application.ActivityStore {
	return bootstrap.NewActivityStoreAdapter(h.Activity)
}

// FacilityCatalog exposes the harness facilities to the application layer.
func (h *Harness) FacilityCatalog() application.FacilityCatalog {
	return bootstrap.NewFacilityCatalogAdapter(h.Facilities)
}

// IdentityProvider resolves identities from the harness profiles.
func (h *Harness) IdentityProvider() *identity.ProfileDirectory {
	return identity.NewProfileDirectory(h.Profiles)
}
