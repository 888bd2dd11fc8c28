package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"

	"github.com/example/campus-facilities/internal/application"
	"github.com/example/campus-facilities/internal/cache"
	"github.com/example/campus-facilities/internal/config"
	httptransport "github.com/example/campus-facilities/internal/http"
	"github.com/example/campus-facilities/internal/identity"
	"github.com/example/campus-facilities/internal/logging"
	"github.com/example/campus-facilities/internal/persistence"
	"github.com/example/campus-facilities/internal/persistence/memory"
	"github.com/example/campus-facilities/internal/persistence/sqlite"
	"github.com/example/campus-facilities/internal/queue"
	"github.com/example/campus-facilities/internal/telemetry"
)

// ServiceName identifies the daemon in logs and traces.
const ServiceName = "campusd"

const (
	connectTimeout  = 10 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Options controls how BuildContainer loads configuration.
type Options struct {
	// ConfigPath is an optional YAML file; CAMPUS_* variables override it.
	ConfigPath string
	Version    string
	// LogOutput defaults to os.Stdout.
	LogOutput io.Writer
}

// Storage is the repository surface shared by every storage driver.
type Storage interface {
	persistence.BookingRepository
	persistence.ActivityLogRepository
	persistence.FacilityRepository
	persistence.ProfileRepository
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Backend is the migrated storage selected by configuration.
type Backend struct {
	Storage
	Driver string
}

// Shutdown closes the underlying storage.
func (b *Backend) Shutdown() error { return b.Close() }

// RedisClient is only provided when a Redis address is configured.
type RedisClient struct {
	*redis.Client
}

// Shutdown closes the connection pool.
func (c *RedisClient) Shutdown() error { return c.Close() }

// DeadLetters is the sink for audit entries that could not be persisted.
type DeadLetters struct {
	application.DeadLetterSink
	closers []func() error
}

// Shutdown closes the broker channel and connection, if any.
func (d *DeadLetters) Shutdown() error {
	var errs []error
	for _, closeFn := range d.closers {
		if err := closeFn(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AuditWriter owns the audit log's writer goroutine.
type AuditWriter struct {
	*application.AuditLog
}

// Shutdown drains the queue. Closing twice is harmless.
func (w *AuditWriter) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return w.Close(ctx)
}

// Tracer owns the tracer provider installed at startup.
type Tracer struct {
	*telemetry.Tracing
}

// Shutdown flushes pending spans.
func (t *Tracer) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return t.Tracing.Shutdown(ctx)
}

// IdentityDirectory resolves bearer tokens and user IDs to identities.
type IdentityDirectory interface {
	application.IdentityProvider
	httptransport.TokenVerifier
}

// DefaultFacilities mirrors the catalog seeded by the SQLite migrations.
var DefaultFacilities = []persistence.Facility{
	{ID: "badminton-court", Name: "Badminton Court", Location: "Sports Complex, Hall A", Category: "sports"},
	{ID: "futsal-court", Name: "Futsal Court", Location: "Sports Complex, Field 2", Category: "sports"},
	{ID: "discussion-room-1", Name: "Discussion Room 1", Location: "Library, Level 2", Category: "study"},
	{ID: "music-room", Name: "Music Room", Location: "Student Centre, Level 1", Category: "arts"},
}

// BuildContainer registers every provider. Providers are lazy, so nothing is
// opened until a service is invoked.
func BuildContainer(opts Options) *do.Injector {
	inj := do.New()

	do.Provide(inj, func(i *do.Injector) (*config.Config, error) {
		cfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		return &cfg, nil
	})

	do.Provide(inj, func(i *do.Injector) (*slog.Logger, error) {
		cfg := do.MustInvoke[*config.Config](i)
		out := opts.LogOutput
		if out == nil {
			out = os.Stdout
		}
		return logging.New(out, cfg.LogLevel, cfg.LogFormat).With("service", ServiceName), nil
	})

	do.Provide(inj, func(i *do.Injector) (*Backend, error) {
		cfg := do.MustInvoke[*config.Config](i)
		log := do.MustInvoke[*slog.Logger](i)
		return openBackend(cfg, log)
	})

	do.Provide(inj, func(i *do.Injector) (*RedisClient, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if cfg.RedisAddr == "" {
			return nil, errors.New("redis is not configured")
		}
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		rdb, err := cache.New(ctx, cache.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return &RedisClient{Client: rdb}, nil
	})

	do.Provide(inj, func(i *do.Injector) (*DeadLetters, error) {
		cfg := do.MustInvoke[*config.Config](i)
		log := do.MustInvoke[*slog.Logger](i)
		if cfg.RabbitMQURL == "" {
			return &DeadLetters{DeadLetterSink: application.NewLogDeadLetterSink(log)}, nil
		}
		conn, err := amqp.DialConfig(cfg.RabbitMQURL, amqp.Config{
			Dial:       amqp.DefaultDial(connectTimeout),
			Properties: amqp.Table{"connection_name": ServiceName},
		})
		if err != nil {
			return nil, fmt.Errorf("dial rabbitmq: %w", err)
		}
		publisher, err := queue.NewDeadLetterPublisher(conn, cfg.RabbitMQExchange, log)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		log.Info("audit dead letters routed to rabbitmq", "exchange", cfg.RabbitMQExchange)
		return &DeadLetters{
			DeadLetterSink: publisher,
			closers:        []func() error{publisher.Close, conn.Close},
		}, nil
	})

	do.Provide(inj, func(i *do.Injector) (IdentityDirectory, error) {
		cfg := do.MustInvoke[*config.Config](i)
		log := do.MustInvoke[*slog.Logger](i)
		switch cfg.IdentityDriver {
		case config.IdentitySupabase:
			return identity.NewSupabaseProvider(identity.SupabaseConfig{
				URL:            cfg.SupabaseURL,
				AnonKey:        cfg.SupabaseAnonKey,
				ServiceRoleKey: cfg.SupabaseServiceRoleKey,
			}, log)
		default:
			backend := do.MustInvoke[*Backend](i)
			return identity.NewProfileDirectory(backend), nil
		}
	})

	do.Provide(inj, func(i *do.Injector) (application.IdentityProvider, error) {
		cfg := do.MustInvoke[*config.Config](i)
		directory := do.MustInvoke[IdentityDirectory](i)
		if cfg.RedisAddr == "" {
			return directory, nil
		}
		rdb, err := do.Invoke[*RedisClient](i)
		if err != nil {
			return nil, err
		}
		return cache.NewIdentityCache(directory, rdb.Client, cfg.CacheTTL, do.MustInvoke[*slog.Logger](i)), nil
	})

	do.Provide(inj, func(i *do.Injector) (application.FacilityCatalog, error) {
		cfg := do.MustInvoke[*config.Config](i)
		catalog := application.FacilityCatalog(NewFacilityCatalogAdapter(do.MustInvoke[*Backend](i)))
		if cfg.RedisAddr == "" {
			return catalog, nil
		}
		rdb, err := do.Invoke[*RedisClient](i)
		if err != nil {
			return nil, err
		}
		return cache.NewFacilityCache(catalog, rdb.Client, cfg.CacheTTL, do.MustInvoke[*slog.Logger](i)), nil
	})

	do.Provide(inj, func(i *do.Injector) (application.BookingStore, error) {
		return NewBookingStoreAdapter(do.MustInvoke[*Backend](i)), nil
	})

	do.Provide(inj, func(i *do.Injector) (*AuditWriter, error) {
		cfg := do.MustInvoke[*config.Config](i)
		audit := application.NewAuditLog(NewActivityStoreAdapter(do.MustInvoke[*Backend](i)), application.AuditLogOptions{
			QueueSize:   cfg.AuditQueueSize,
			Sink:        do.MustInvoke[*DeadLetters](i),
			IDGenerator: uuid.NewString,
			Now:         time.Now,
			Logger:      do.MustInvoke[*slog.Logger](i),
		})
		return &AuditWriter{AuditLog: audit}, nil
	})

	do.Provide(inj, func(i *do.Injector) (*application.BookingService, error) {
		deps := application.BookingServiceDeps{
			Bookings:    do.MustInvoke[application.BookingStore](i),
			Audit:       do.MustInvoke[*AuditWriter](i).AuditLog,
			Identities:  do.MustInvoke[application.IdentityProvider](i),
			Facilities:  do.MustInvoke[application.FacilityCatalog](i),
			Codes:       application.RandomCodes{},
			IDGenerator: uuid.NewString,
			Now:         time.Now,
		}
		return application.NewBookingServiceWithLogger(deps, do.MustInvoke[*slog.Logger](i)), nil
	})

	do.Provide(inj, func(i *do.Injector) (*application.CheckInService, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return application.NewCheckInServiceWithLogger(
			do.MustInvoke[application.BookingStore](i),
			do.MustInvoke[*AuditWriter](i).AuditLog,
			cfg.Location,
			time.Now,
			do.MustInvoke[*slog.Logger](i),
		), nil
	})

	do.Provide(inj, func(i *do.Injector) (*application.SessionCompletionService, error) {
		return application.NewSessionCompletionServiceWithLogger(
			do.MustInvoke[application.BookingStore](i),
			do.MustInvoke[*AuditWriter](i).AuditLog,
			time.Now,
			do.MustInvoke[*slog.Logger](i),
		), nil
	})

	do.Provide(inj, func(i *do.Injector) (*application.SessionQuery, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return application.NewSessionQueryWithLogger(
			do.MustInvoke[application.BookingStore](i),
			do.MustInvoke[application.IdentityProvider](i),
			do.MustInvoke[application.FacilityCatalog](i),
			cfg.Location,
			time.Now,
			do.MustInvoke[*slog.Logger](i),
		), nil
	})

	do.Provide(inj, func(i *do.Injector) (*httptransport.BookingHandler, error) {
		return httptransport.NewBookingHandler(
			do.MustInvoke[*application.BookingService](i),
			do.MustInvoke[*slog.Logger](i),
		), nil
	})

	do.Provide(inj, func(i *do.Injector) (*httptransport.SessionHandler, error) {
		return httptransport.NewSessionHandler(
			do.MustInvoke[*application.CheckInService](i),
			do.MustInvoke[*application.SessionCompletionService](i),
			do.MustInvoke[*application.SessionQuery](i),
			do.MustInvoke[*slog.Logger](i),
		), nil
	})

	do.Provide(inj, func(i *do.Injector) (http.Handler, error) {
		log := do.MustInvoke[*slog.Logger](i)
		router := httptransport.NewRouter(httptransport.RouterConfig{
			Bookings:   do.MustInvoke[*httptransport.BookingHandler](i),
			Sessions:   do.MustInvoke[*httptransport.SessionHandler](i),
			Verifier:   do.MustInvoke[IdentityDirectory](i),
			Health:     do.MustInvoke[*Backend](i),
			Logger:     log,
			Middleware: []func(http.Handler) http.Handler{httptransport.RequestLogger(log)},
		})
		return telemetry.Middleware(ServiceName, router), nil
	})

	do.Provide(inj, func(i *do.Injector) (*Tracer, error) {
		cfg := do.MustInvoke[*config.Config](i)
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		tracing, err := telemetry.SetupTracing(ctx, telemetry.Config{
			ServiceName: ServiceName,
			Version:     opts.Version,
			Endpoint:    cfg.OTelEndpoint,
			SampleRatio: cfg.OTelSampleRatio,
		})
		if err != nil {
			return nil, err
		}
		return &Tracer{Tracing: tracing}, nil
	})

	return inj
}

func openBackend(cfg *config.Config, log *slog.Logger) (*Backend, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	switch cfg.StorageDriver {
	case config.StorageMemory:
		storage := memory.New()
		for _, facility := range DefaultFacilities {
			if err := storage.UpsertFacility(ctx, facility); err != nil {
				return nil, err
			}
		}
		log.Warn("using in-memory storage; data is lost on exit")
		return &Backend{Storage: storage, Driver: config.StorageMemory}, nil
	default:
		storage, err := sqlite.OpenPath(cfg.SQLiteDSN, log)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		if err := storage.Migrate(ctx); err != nil {
			_ = storage.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		return &Backend{Storage: storage, Driver: config.StorageSQLite}, nil
	}
}

// App is a fully resolved container ready to serve.
type App struct {
	Injector *do.Injector
	Config   *config.Config
	Logger   *slog.Logger
	Handler  http.Handler
	Audit    *application.AuditLog
	Tracing  *telemetry.Tracing
}

// NewApp resolves every service eagerly so configuration and connection
// errors surface before the server starts listening. On failure every
// resolved service, including the audit writer, is shut down.
func NewApp(inj *do.Injector) (*App, error) {
	cfg, err := do.Invoke[*config.Config](inj)
	if err != nil {
		return nil, err
	}
	tracer, err := do.Invoke[*Tracer](inj)
	if err != nil {
		_ = inj.Shutdown()
		return nil, err
	}
	handler, err := do.Invoke[http.Handler](inj)
	if err != nil {
		_ = inj.Shutdown()
		return nil, err
	}
	return &App{
		Injector: inj,
		Config:   cfg,
		Logger:   do.MustInvoke[*slog.Logger](inj),
		Handler:  handler,
		Audit:    do.MustInvoke[*AuditWriter](inj).AuditLog,
		Tracing:  tracer.Tracing,
	}, nil
}

// Shutdown drains the audit queue within ctx, then shuts the container down.
// The container flushes spans before closing the broker, cache and storage
// connections.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.Audit.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close audit log: %w", err))
	}
	if err := a.Injector.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
