// Package cache provides Redis read-through caches for the identity and
// facility lookups used to decorate session listings.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/example/campus-facilities/internal/application"
)

const (
	// DefaultTTL bounds how stale a cached display record may get.
	DefaultTTL = 5 * time.Minute

	identityKeyPrefix = "campus:identity:"
	facilityKeyPrefix = "campus:facility:"
)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, opts Options) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cache: ping redis: %w", err)
	}
	return rdb, nil
}

// IdentityCache is a read-through cache in front of an IdentityProvider.
// Lookup errors, including not found, are never cached.
type IdentityCache struct {
	next   application.IdentityProvider
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

// NewIdentityCache decorates next. A non-positive ttl selects DefaultTTL.
func NewIdentityCache(next application.IdentityProvider, rdb redis.Cmdable, ttl time.Duration, logger *slog.Logger) *IdentityCache {
	return &IdentityCache{next: next, rdb: rdb, ttl: normalizeTTL(ttl), logger: defaultLogger(logger)}
}

var _ application.IdentityProvider = (*IdentityCache)(nil)

type cachedIdentity struct {
	UserID     string `json:"user_id"`
	FullName   string `json:"full_name"`
	ExternalID string `json:"external_id"`
	Email      string `json:"email"`
	Role       string `json:"role"`
}

func (c *IdentityCache) LookupIdentity(ctx context.Context, userID string) (application.Identity, error) {
	key := identityKeyPrefix + userID

	var hit cachedIdentity
	if ok := readThrough(ctx, c.rdb, c.logger, key, &hit); ok {
		return application.Identity(hit), nil
	}

	identity, err := c.next.LookupIdentity(ctx, userID)
	if err != nil {
		return application.Identity{}, err
	}
	store(ctx, c.rdb, c.logger, key, cachedIdentity(identity), c.ttl)
	return identity, nil
}

// Forget drops the cached identity of userID.
func (c *IdentityCache) Forget(ctx context.Context, userID string) error {
	return c.rdb.Del(ctx, identityKeyPrefix+userID).Err()
}

// FacilityCache is a read-through cache in front of a FacilityCatalog.
type FacilityCache struct {
	next   application.FacilityCatalog
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

// NewFacilityCache decorates next. A non-positive ttl selects DefaultTTL.
func NewFacilityCache(next application.FacilityCatalog, rdb redis.Cmdable, ttl time.Duration, logger *slog.Logger) *FacilityCache {
	return &FacilityCache{next: next, rdb: rdb, ttl: normalizeTTL(ttl), logger: defaultLogger(logger)}
}

var _ application.FacilityCatalog = (*FacilityCache)(nil)

type cachedFacility struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Category string `json:"category"`
}

func (c *FacilityCache) LookupFacility(ctx context.Context, facilityID string) (application.Facility, error) {
	key := facilityKeyPrefix + facilityID

	var hit cachedFacility
	if ok := readThrough(ctx, c.rdb, c.logger, key, &hit); ok {
		return application.Facility(hit), nil
	}

	facility, err := c.next.LookupFacility(ctx, facilityID)
	if err != nil {
		return application.Facility{}, err
	}
	store(ctx, c.rdb, c.logger, key, cachedFacility(facility), c.ttl)
	return facility, nil
}

// readThrough reports whether key held a decodable value. Redis failures are
// logged and treated as a miss.
func readThrough(ctx context.Context, rdb redis.Cmdable, logger *slog.Logger, key string, dst any) bool {
	raw, err := rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return false
	case err != nil:
		logger.WarnContext(ctx, "cache read failed", "key", key, "error", err)
		return false
	}
	if err := sonic.Unmarshal(raw, dst); err != nil {
		logger.WarnContext(ctx, "cache entry undecodable", "key", key, "error", err)
		return false
	}
	return true
}

func store(ctx context.Context, rdb redis.Cmdable, logger *slog.Logger, key string, value any, ttl time.Duration) {
	raw, err := sonic.Marshal(value)
	if err != nil {
		logger.WarnContext(ctx, "cache entry unencodable", "key", key, "error", err)
		return
	}
	if err := rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		logger.WarnContext(ctx, "cache write failed", "key", key, "error", err)
	}
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}
