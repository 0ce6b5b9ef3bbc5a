package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all configuration for the sleepyhooks service.
// Values are loaded from environment variables; see printUsage() for the full list.
type Config struct {
	DatabaseURL string `json:"database_url"`
	HTTPAddr    string `json:"http_addr"`

	TickInterval    time.Duration `json:"-"`
	TickIntervalStr string        `json:"tick_interval"`

	PoolDrainTimeout    time.Duration `json:"-"`
	PoolDrainTimeoutStr string        `json:"pool_drain_timeout"`

	// PoolMaxLookupFailures: 0 keeps unresolvable items forever.
	PoolMaxLookupFailures int `json:"pool_max_lookup_failures"`

	// PoolMaxItemAge: 0 disables age-based eviction.
	PoolMaxItemAge    time.Duration `json:"-"`
	PoolMaxItemAgeStr string        `json:"pool_max_item_age"`

	// EmptyDelayedPolicy: "evict" or "hold".
	EmptyDelayedPolicy string `json:"empty_delayed_policy"`

	// DeliveryTimeout: 0 means no client-side limit.
	DeliveryTimeout    time.Duration `json:"-"`
	DeliveryTimeoutStr string        `json:"delivery_timeout"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	// RedisAddr enables the config cache when set.
	RedisAddr         string        `json:"redis_addr,omitempty"`
	ConfigCacheTTL    time.Duration `json:"-"`
	ConfigCacheTTLStr string        `json:"config_cache_ttl"`

	// AMQPURL enables the AMQP submission consumer when set.
	AMQPURL   string `json:"amqp_url,omitempty"`
	AMQPQueue string `json:"amqp_queue"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPort    int    `json:"metrics_port"`

	CORSAllowedOrigins []string `json:"cors_allowed_origins"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		HTTPAddr:                  os.Getenv("HTTP_ADDR"),
		TickIntervalStr:           os.Getenv("TICK_INTERVAL"),
		PoolDrainTimeoutStr:       os.Getenv("POOL_DRAIN_TIMEOUT"),
		PoolMaxItemAgeStr:         os.Getenv("POOL_MAX_ITEM_AGE"),
		EmptyDelayedPolicy:        os.Getenv("EMPTY_DELAYED_POLICY"),
		DeliveryTimeoutStr:        os.Getenv("DELIVERY_TIMEOUT"),
		CircuitBreakerCooldownStr: os.Getenv("CIRCUIT_BREAKER_COOLDOWN"),
		DBOpTimeoutStr:            os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:      os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:      os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		HTTPShutdownTimeoutStr:    os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		ConfigCacheTTLStr:         os.Getenv("CONFIG_CACHE_TTL"),
		AMQPURL:                   os.Getenv("AMQP_URL"),
		AMQPQueue:                 os.Getenv("AMQP_QUEUE"),
		MetricsEnabled:            os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:               os.Getenv("METRICS_PATH"),
		LogLevel:                  os.Getenv("LOG_LEVEL"),
		LogFormat:                 os.Getenv("LOG_FORMAT"),
	}

	cfg.PoolMaxLookupFailures = intFromEnv("POOL_MAX_LOOKUP_FAILURES", 0, 0)
	cfg.CircuitBreakerThreshold = intFromEnv("CIRCUIT_BREAKER_THRESHOLD", 0, 0)
	cfg.DBMaxOpenConns = intFromEnv("DB_MAX_OPEN_CONNS", 25, 1)
	cfg.DBMaxIdleConns = intFromEnv("DB_MAX_IDLE_CONNS", 5, 1)
	cfg.MetricsPort = intFromEnv("METRICS_PORT", 9090, 1)

	// Support the platform PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}

	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
			}
		}
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	if cfg.EmptyDelayedPolicy == "" {
		cfg.EmptyDelayedPolicy = "evict"
	}
	if cfg.AMQPQueue == "" {
		cfg.AMQPQueue = "sleepyhooks.submissions"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "console"
	}

	// Parse durations; validation is handled separately by Validate().
	durations := []struct {
		str *string
		dst *time.Duration
		def string
	}{
		{&cfg.TickIntervalStr, &cfg.TickInterval, "100ms"},
		{&cfg.PoolDrainTimeoutStr, &cfg.PoolDrainTimeout, "30s"},
		{&cfg.PoolMaxItemAgeStr, &cfg.PoolMaxItemAge, "0s"},
		{&cfg.DeliveryTimeoutStr, &cfg.DeliveryTimeout, "30s"},
		{&cfg.CircuitBreakerCooldownStr, &cfg.CircuitBreakerCooldown, "2m"},
		{&cfg.DBOpTimeoutStr, &cfg.DBOpTimeout, "5s"},
		{&cfg.DBConnMaxLifetimeStr, &cfg.DBConnMaxLifetime, "30m"},
		{&cfg.DBConnMaxIdleTimeStr, &cfg.DBConnMaxIdleTime, "5m"},
		{&cfg.HTTPShutdownTimeoutStr, &cfg.HTTPShutdownTimeout, "10s"},
		{&cfg.ConfigCacheTTLStr, &cfg.ConfigCacheTTL, "5s"},
	}
	for _, d := range durations {
		if *d.str == "" {
			*d.str = d.def
		}
		if v, err := time.ParseDuration(*d.str); err == nil {
			*d.dst = v
		}
	}

	return cfg
}

// intFromEnv reads an integer variable, falling back to def when unset or
// below minimum.
func intFromEnv(name string, def, minimum int) int {
	s := os.Getenv(name)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < minimum {
		log.Warn().
			Str("component", "config").
			Str("var", name).
			Str("value", s).
			Int("default", def).
			Msgf("config: invalid %s (must be an integer >= %d), using default", name, minimum)
		return def
	}
	return n
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := c
	masked.DatabaseURL = maskSecret(c.DatabaseURL)
	masked.AMQPURL = maskSecret(c.AMQPURL)
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://", "amqp://", "amqps://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}
