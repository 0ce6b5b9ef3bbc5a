package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	// The tick period and drain bound must be strictly positive.
	positive := []struct {
		field string
		value string
	}{
		{"TICK_INTERVAL", cfg.TickIntervalStr},
		{"POOL_DRAIN_TIMEOUT", cfg.PoolDrainTimeoutStr},
	}
	for _, p := range positive {
		if err := checkDuration(p.field, p.value, true); err != nil {
			errs = append(errs, *err)
		}
	}

	nonNegative := []struct {
		field string
		value string
	}{
		{"POOL_MAX_ITEM_AGE", cfg.PoolMaxItemAgeStr},
		{"DELIVERY_TIMEOUT", cfg.DeliveryTimeoutStr},
		{"CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldownStr},
		{"DB_OP_TIMEOUT", cfg.DBOpTimeoutStr},
		{"DB_CONN_MAX_LIFETIME", cfg.DBConnMaxLifetimeStr},
		{"DB_CONN_MAX_IDLE_TIME", cfg.DBConnMaxIdleTimeStr},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr},
		{"CONFIG_CACHE_TTL", cfg.ConfigCacheTTLStr},
	}
	for _, n := range nonNegative {
		if err := checkDuration(n.field, n.value, false); err != nil {
			errs = append(errs, *err)
		}
	}

	if cfg.EmptyDelayedPolicy != "" && cfg.EmptyDelayedPolicy != "evict" && cfg.EmptyDelayedPolicy != "hold" {
		errs = append(errs, ValidationError{
			Field:   "EMPTY_DELAYED_POLICY",
			Message: fmt.Sprintf("must be 'evict' or 'hold', got %q", cfg.EmptyDelayedPolicy),
		})
	}

	if cfg.LogFormat != "" && cfg.LogFormat != "console" && cfg.LogFormat != "json" {
		errs = append(errs, ValidationError{
			Field:   "LOG_FORMAT",
			Message: fmt.Sprintf("must be 'console' or 'json', got %q", cfg.LogFormat),
		})
	}

	if cfg.LogLevel != "" {
		if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
			errs = append(errs, ValidationError{
				Field:   "LOG_LEVEL",
				Message: fmt.Sprintf("unknown level %q", cfg.LogLevel),
			})
		}
	}

	if cfg.MetricsEnabled && (cfg.MetricsPort < 1 || cfg.MetricsPort > 65535) {
		errs = append(errs, ValidationError{
			Field:   "METRICS_PORT",
			Message: fmt.Sprintf("must be between 1 and 65535, got %d", cfg.MetricsPort),
		})
	}

	if cfg.AMQPURL != "" {
		u, err := url.Parse(cfg.AMQPURL)
		if err != nil || (u.Scheme != "amqp" && u.Scheme != "amqps") {
			errs = append(errs, ValidationError{
				Field:   "AMQP_URL",
				Message: "must be an amqp:// or amqps:// URL",
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// checkDuration validates a duration string. Empty values are accepted and
// mean "use the default".
func checkDuration(field, value string, strictlyPositive bool) *ValidationError {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return &ValidationError{Field: field, Message: fmt.Sprintf("invalid duration: %v", err)}
	}
	if strictlyPositive && d <= 0 {
		return &ValidationError{Field: field, Message: "must be positive"}
	}
	if d < 0 {
		return &ValidationError{Field: field, Message: "must not be negative"}
	}
	return nil
}
