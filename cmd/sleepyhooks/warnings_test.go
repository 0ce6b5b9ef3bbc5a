package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/0xlunar/sleepy-webhooks/internal/config"
)

// captureLogOutput calls logConfigWarnings with the given config and returns
// the captured log output as a string.
func captureLogOutput(t *testing.T, cfg *config.Config) string {
	t.Helper()
	var buf bytes.Buffer
	original := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = original })

	logConfigWarnings(cfg)
	return buf.String()
}

// safeConfig is a configuration that triggers no warnings.
func safeConfig() *config.Config {
	return &config.Config{
		PoolMaxLookupFailures:   100,
		PoolMaxItemAge:          24 * time.Hour,
		EmptyDelayedPolicy:      "evict",
		DeliveryTimeout:         30 * time.Second,
		MetricsEnabled:          true,
		CircuitBreakerThreshold: 5,
		CORSAllowedOrigins:      []string{"https://app.example"},
	}
}

func TestLogConfigWarnings_SafeConfig(t *testing.T) {
	output := captureLogOutput(t, safeConfig())
	if output != "" {
		t.Errorf("expected no output, got: %s", output)
	}
}

func TestLogConfigWarnings_UnboundedRetention(t *testing.T) {
	cfg := safeConfig()
	cfg.PoolMaxLookupFailures = 0
	cfg.PoolMaxItemAge = 0
	output := captureLogOutput(t, cfg)

	if !strings.Contains(output, "POOL_MAX_LOOKUP_FAILURES=0 and POOL_MAX_ITEM_AGE=0") {
		t.Error("expected unbounded retention warning, got:", output)
	}
	if !strings.Contains(output, `"level":"warn"`) {
		t.Error("expected warn level, got:", output)
	}
}

func TestLogConfigWarnings_OneLimitIsEnough(t *testing.T) {
	cfg := safeConfig()
	cfg.PoolMaxLookupFailures = 0
	output := captureLogOutput(t, cfg)

	if strings.Contains(output, "POOL_MAX_LOOKUP_FAILURES") {
		t.Error("did not expect retention warning when max age is set, got:", output)
	}
}

func TestLogConfigWarnings_HoldPolicy(t *testing.T) {
	cfg := safeConfig()
	cfg.EmptyDelayedPolicy = "hold"
	output := captureLogOutput(t, cfg)

	if !strings.Contains(output, "EMPTY_DELAYED_POLICY=hold") {
		t.Error("expected hold policy warning, got:", output)
	}
}

func TestLogConfigWarnings_NoDeliveryTimeout(t *testing.T) {
	cfg := safeConfig()
	cfg.DeliveryTimeout = 0
	output := captureLogOutput(t, cfg)

	if !strings.Contains(output, "DELIVERY_TIMEOUT=0") {
		t.Error("expected delivery timeout warning, got:", output)
	}
}

func TestLogConfigWarnings_MetricsDisabled(t *testing.T) {
	cfg := safeConfig()
	cfg.MetricsEnabled = false
	output := captureLogOutput(t, cfg)

	if !strings.Contains(output, "METRICS_ENABLED=false") {
		t.Error("expected metrics warning, got:", output)
	}
}

func TestLogConfigWarnings_InfoOnly(t *testing.T) {
	cfg := safeConfig()
	cfg.CircuitBreakerThreshold = 0
	cfg.CORSAllowedOrigins = []string{"*"}
	output := captureLogOutput(t, cfg)

	if !strings.Contains(output, "circuit breaker disabled") {
		t.Error("expected circuit breaker info, got:", output)
	}
	if !strings.Contains(output, "CORS allows any origin") {
		t.Error("expected CORS info, got:", output)
	}
	if strings.Contains(output, `"level":"warn"`) {
		t.Error("did not expect warnings, got:", output)
	}
}

func TestSetupLogging(t *testing.T) {
	originalLogger := log.Logger
	originalLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = originalLogger
		zerolog.SetGlobalLevel(originalLevel)
	})

	var buf bytes.Buffer
	setupLogging(config.Config{LogLevel: "warn", LogFormat: "json"}, &buf)

	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Errorf("GlobalLevel = %s, want warn", zerolog.GlobalLevel())
	}

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered: %s", out)
	}
	if !strings.Contains(out, `"message":"shown"`) {
		t.Errorf("expected JSON warn line, got: %s", out)
	}
}
