package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment variable read by Load.
const EnvPrefix = "CAMPUS"

const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"

	IdentityProfiles = "profiles"
	IdentitySupabase = "supabase"
)

// Config captures the configuration of the campus facilities daemon.
type Config struct {
	HTTPPort      int
	StorageDriver string
	SQLiteDSN     string
	Timezone      string
	Location      *time.Location

	LogLevel  string
	LogFormat string

	IdentityDriver         string
	SupabaseURL            string
	SupabaseAnonKey        string
	SupabaseServiceRoleKey string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	RabbitMQURL      string
	RabbitMQExchange string
	AuditQueueSize   int

	OTelEndpoint    string
	OTelSampleRatio float64
}

// Load reads configuration from CAMPUS_* environment variables and, when
// path is not empty, a YAML file. Environment values win over the file.
//
// Defaults are applied for optional fields. Missing required values and
// invalid values are reported together.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := Config{
		StorageDriver:          strings.ToLower(strings.TrimSpace(v.GetString("storage_driver"))),
		SQLiteDSN:              strings.TrimSpace(v.GetString("sqlite_dsn")),
		Timezone:               strings.TrimSpace(v.GetString("timezone")),
		LogLevel:               strings.ToLower(strings.TrimSpace(v.GetString("log_level"))),
		LogFormat:              strings.ToLower(strings.TrimSpace(v.GetString("log_format"))),
		IdentityDriver:         strings.ToLower(strings.TrimSpace(v.GetString("identity_driver"))),
		SupabaseURL:            strings.TrimSpace(v.GetString("supabase_url")),
		SupabaseAnonKey:        strings.TrimSpace(v.GetString("supabase_anon_key")),
		SupabaseServiceRoleKey: strings.TrimSpace(v.GetString("supabase_service_role_key")),
		RedisAddr:              strings.TrimSpace(v.GetString("redis_addr")),
		RedisPassword:          v.GetString("redis_password"),
		RabbitMQURL:            strings.TrimSpace(v.GetString("rabbitmq_url")),
		RabbitMQExchange:       strings.TrimSpace(v.GetString("rabbitmq_exchange")),
		OTelEndpoint:           strings.TrimSpace(v.GetString("otel_endpoint")),
	}

	missing := make([]string, 0, 2)
	invalid := make([]string, 0, 4)

	if port, err := intValue(v, "http_port"); err != nil || port <= 0 || port > 65535 {
		invalid = append(invalid, envName("http_port"))
	} else {
		cfg.HTTPPort = port
	}

	switch cfg.StorageDriver {
	case StorageSQLite:
		if cfg.SQLiteDSN == "" {
			missing = append(missing, envName("sqlite_dsn"))
		}
	case StorageMemory:
	default:
		invalid = append(invalid, envName("storage_driver"))
	}

	if loc, err := time.LoadLocation(cfg.Timezone); err != nil {
		invalid = append(invalid, envName("timezone"))
	} else {
		cfg.Location = loc
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		invalid = append(invalid, envName("log_level"))
	}
	switch cfg.LogFormat {
	case "json", "text":
	default:
		invalid = append(invalid, envName("log_format"))
	}

	switch cfg.IdentityDriver {
	case IdentityProfiles:
	case IdentitySupabase:
		if cfg.SupabaseURL == "" {
			missing = append(missing, envName("supabase_url"))
		}
		if cfg.SupabaseAnonKey == "" {
			missing = append(missing, envName("supabase_anon_key"))
		}
		// User lookups go through the admin API.
		if cfg.SupabaseServiceRoleKey == "" {
			missing = append(missing, envName("supabase_service_role_key"))
		}
	default:
		invalid = append(invalid, envName("identity_driver"))
	}

	if db, err := intValue(v, "redis_db"); err != nil || db < 0 {
		invalid = append(invalid, envName("redis_db"))
	} else {
		cfg.RedisDB = db
	}

	if ttl, err := durationValue(v, "cache_ttl"); err != nil || ttl <= 0 {
		invalid = append(invalid, envName("cache_ttl"))
	} else {
		cfg.CacheTTL = ttl
	}

	if size, err := intValue(v, "audit_queue_size"); err != nil || size <= 0 {
		invalid = append(invalid, envName("audit_queue_size"))
	} else {
		cfg.AuditQueueSize = size
	}

	if ratio, err := floatValue(v, "otel_sample_ratio"); err != nil || ratio < 0 || ratio > 1 {
		invalid = append(invalid, envName("otel_sample_ratio"))
	} else {
		cfg.OTelSampleRatio = ratio
	}

	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", ")))
	}
	if len(invalid) > 0 {
		errs = append(errs, fmt.Errorf("invalid configuration values: %s", strings.Join(invalid, ", ")))
	}
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 8080)
	v.SetDefault("storage_driver", StorageSQLite)
	v.SetDefault("sqlite_dsn", "campus.db")
	v.SetDefault("timezone", "Asia/Kuala_Lumpur")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("identity_driver", IdentityProfiles)
	v.SetDefault("redis_db", 0)
	v.SetDefault("cache_ttl", "5m")
	v.SetDefault("rabbitmq_exchange", "campus.audit")
	v.SetDefault("audit_queue_size", 256)
	v.SetDefault("otel_sample_ratio", 1.0)
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(key)
}

// The typed viper getters swallow parse errors, so values go through cast.

func intValue(v *viper.Viper, key string) (int, error) {
	return cast.ToIntE(v.Get(key))
}

func floatValue(v *viper.Viper, key string) (float64, error) {
	return cast.ToFloat64E(v.Get(key))
}

func durationValue(v *viper.Viper, key string) (time.Duration, error) {
	return cast.ToDurationE(v.Get(key))
}
