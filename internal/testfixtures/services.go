package testfixtures

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/example/campus-facilities/internal/application"
)

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers, codes and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Codes       *CodeSequence
	Location    *time.Location
	Logger      *slog.Logger
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
		Codes:       NewCodeSequence(),
		Location:    CampusLocation,
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	if factory.Codes == nil {
		factory.Codes = NewCodeSequence()
	}
	if factory.Location == nil {
		factory.Location = CampusLocation
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// WithLogger sets the logger handed to every service.
func WithLogger(logger *slog.Logger) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Logger = logger
	}
}

// Services bundles the lifecycle services over one harness.
type Services struct {
	Audit     *application.AuditLog
	Bookings  *application.BookingService
	CheckIns  *application.CheckInService
	Sessions  *application.SessionCompletionService
	Query     *application.SessionQuery
	Harness   *Harness
	Directory application.IdentityProvider
}

// NewServices wires every service to harness. The audit log is closed when
// the test ends.
func (f *ServiceFactory) NewServices(tb testing.TB, harness *Harness) *Services {
	tb.Helper()

	audit := application.NewAuditLog(harness.ActivityStore(), application.AuditLogOptions{
		IDGenerator: NewIDGenerator("log").NextFunc(),
		Now:         f.Clock.NowFunc(),
		Logger:      f.Logger,
	})
	tb.Cleanup(func() { _ = audit.Close(context.Background()) })

	bookings := harness.BookingStore()
	directory := harness.IdentityProvider()
	facilities := harness.FacilityCatalog()
	now := f.Clock.NowFunc()

	return &Services{
		Audit: audit,
		Bookings: application.NewBookingServiceWithLogger(application.BookingServiceDeps{
			Bookings:    bookings,
			Audit:       audit,
			Identities:  directory,
			Facilities:  facilities,
			Codes:       f.Codes,
			IDGenerator: f.IDGenerator.NextFunc(),
			Now:         now,
		}, f.Logger),
		CheckIns:  application.NewCheckInServiceWithLogger(bookings, audit, f.Location, now, f.Logger),
		Sessions:  application.NewSessionCompletionServiceWithLogger(bookings, audit, now, f.Logger),
		Query:     application.NewSessionQueryWithLogger(bookings, directory, facilities, f.Location, now, f.Logger),
		Harness:   harness,
		Directory: directory,
	}
}
