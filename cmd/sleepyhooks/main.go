package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/0xlunar/sleepy-webhooks/internal/api"
	"github.com/0xlunar/sleepy-webhooks/internal/circuitbreaker"
	"github.com/0xlunar/sleepy-webhooks/internal/config"
	"github.com/0xlunar/sleepy-webhooks/internal/delivery"
	"github.com/0xlunar/sleepy-webhooks/internal/metrics"
	"github.com/0xlunar/sleepy-webhooks/internal/pool"
	"github.com/0xlunar/sleepy-webhooks/internal/store/cache"
	"github.com/0xlunar/sleepy-webhooks/internal/store/postgres"
	"github.com/0xlunar/sleepy-webhooks/internal/transport/amqp"
	"github.com/0xlunar/sleepy-webhooks/internal/transport/channel"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	// A missing .env file is fine; the environment may be set directly.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(exitInvalidConfig)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`sleepyhooks - instant and delayed webhook fan-out

Usage:
  sleepyhooks <command>

Commands:
  serve      Start the HTTP API and the dispatch pool
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables (a .env file in the working directory is loaded first):
  DATABASE_URL               PostgreSQL connection string (required)
  HTTP_ADDR                  HTTP server address (default: ":8080", or ":$PORT")

  TICK_INTERVAL              Dispatch pool tick period (default: "100ms")
  POOL_DRAIN_TIMEOUT         Wait for in-flight deliveries on shutdown (default: "30s")
  POOL_MAX_LOOKUP_FAILURES   Evict after N consecutive failed lookups, 0 = never (default: "0")
  POOL_MAX_ITEM_AGE          Evict items older than this, 0 = never (default: "0s")
  EMPTY_DELAYED_POLICY       "evict" or "hold" for configs without delayed endpoints (default: "evict")

  DELIVERY_TIMEOUT           Per-attempt HTTP timeout, 0 = none (default: "30s")
  CIRCUIT_BREAKER_THRESHOLD  Failures before an endpoint is skipped, 0 = off (default: "0")
  CIRCUIT_BREAKER_COOLDOWN   Time before a half-open trial (default: "2m")

  DB_OP_TIMEOUT              Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS          Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS          Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME       Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME      Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT      Graceful HTTP shutdown timeout (default: "10s")

  REDIS_ADDR                 Redis address for the config cache (optional)
  CONFIG_CACHE_TTL           Cached config lifetime (default: "5s")

  AMQP_URL                   RabbitMQ URL for queued submissions (optional)
  AMQP_QUEUE                 Queue to consume (default: "sleepyhooks.submissions")

  METRICS_ENABLED            Enable Prometheus metrics (default: "false")
  METRICS_PATH               Metrics endpoint path (default: "/metrics")
  METRICS_PORT               Metrics server port (default: "9090")

  CORS_ALLOWED_ORIGINS       Comma-separated origins (default: "*")
  LOG_LEVEL                  trace, debug, info, warn, error (default: "info")
  LOG_FORMAT                 "console" or "json" (default: "console")`)
}

// setupLogging configures the global zerolog logger.
func setupLogging(cfg config.Config, out io.Writer) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
}

// logConfigWarnings emits startup warnings for risky configurations.
func logConfigWarnings(cfg *config.Config) {
	logger := log.With().Str("component", "config").Logger()

	if cfg.PoolMaxLookupFailures == 0 && cfg.PoolMaxItemAge == 0 {
		logger.Warn().Msg("config: POOL_MAX_LOOKUP_FAILURES=0 and POOL_MAX_ITEM_AGE=0; " +
			"items whose configuration is deleted stay buffered until restart")
	}

	if cfg.EmptyDelayedPolicy == string(pool.EmptyDelayedHold) {
		logger.Warn().Msg("config: EMPTY_DELAYED_POLICY=hold; " +
			"items for configurations without delayed endpoints are retained until one is appended")
	}

	if cfg.DeliveryTimeout == 0 {
		logger.Warn().Msg("config: DELIVERY_TIMEOUT=0; a hung endpoint keeps its item in flight indefinitely")
	}

	if !cfg.MetricsEnabled {
		logger.Warn().Msg("config: METRICS_ENABLED=false; no visibility into pool depth or delivery failures")
	}

	if cfg.CircuitBreakerThreshold == 0 {
		logger.Info().Msg("config: circuit breaker disabled; failing endpoints are attempted on every submission")
	}

	if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
		logger.Info().Msg("config: CORS allows any origin")
	}
}

// pingDatabase verifies connectivity within timeout.
func pingDatabase(db *sql.DB, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return db.PingContext(ctx)
}

func runServe() int {
	cfg := config.Load()
	setupLogging(cfg, os.Stderr)

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logConfigWarnings(&cfg)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Error().Err(err).Msg("sleepyhooks: failed to open database")
		return exitRuntimeError
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Info().
		Int("max_open", cfg.DBMaxOpenConns).
		Int("max_idle", cfg.DBMaxIdleConns).
		Dur("max_lifetime", cfg.DBConnMaxLifetime).
		Dur("max_idle_time", cfg.DBConnMaxIdleTime).
		Msg("sleepyhooks: db pool configured")

	if err := pingDatabase(db, cfg.DBOpTimeout); err != nil {
		log.Error().Err(err).Msg("sleepyhooks: failed to connect to database")
		return exitRuntimeError
	}

	pgStore := postgres.New(db).WithOpTimeout(cfg.DBOpTimeout)
	if err := pgStore.Init(context.Background()); err != nil {
		log.Error().Err(err).Msg("sleepyhooks: failed to initialise schema")
		return exitRuntimeError
	}

	var configStore api.Store = pgStore
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		cached := cache.New(pgStore, redisClient, cfg.ConfigCacheTTL)
		if err := pingCache(cached, cfg.DBOpTimeout); err != nil {
			log.Warn().Err(err).Str("redis", cfg.RedisAddr).Msg("sleepyhooks: redis unreachable; lookups fall back to postgres")
		}
		configStore = cached
		log.Info().Str("redis", cfg.RedisAddr).Dur("ttl", cfg.ConfigCacheTTL).Msg("sleepyhooks: config cache enabled")
	} else {
		log.Info().Msg("sleepyhooks: REDIS_ADDR not set; config cache disabled")
	}

	var sink metrics.Sink = metrics.NewNoopSink()
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)

		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:              ":" + strconv.Itoa(cfg.MetricsPort),
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info().Str("addr", metricsServer.Addr).Str("path", cfg.MetricsPath).Msg("sleepyhooks: metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("sleepyhooks: metrics server error")
			}
		}()
	}

	var client pool.DeliveryClient = delivery.NewHTTPClient(cfg.DeliveryTimeout, version)
	if cfg.CircuitBreakerThreshold > 0 {
		breaker := circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
		client = delivery.NewBreakerClient(delivery.NewHTTPClient(cfg.DeliveryTimeout, version), breaker)
		log.Info().
			Int("threshold", cfg.CircuitBreakerThreshold).
			Dur("cooldown", cfg.CircuitBreakerCooldown).
			Msg("sleepyhooks: circuit breaker enabled")
	}

	queue := channel.NewQueue(channel.WithMetrics(sink))
	dispatchPool := pool.New(pool.Config{
		TickInterval:       cfg.TickInterval,
		DrainTimeout:       cfg.PoolDrainTimeout,
		MaxLookupFailures:  cfg.PoolMaxLookupFailures,
		MaxItemAge:         cfg.PoolMaxItemAge,
		EmptyDelayedPolicy: pool.EmptyDelayedPolicy(cfg.EmptyDelayedPolicy),
	}, configStore, client).
		WithQueue(queue).
		WithMetrics(sink)

	apiHandler := api.NewHandler(configStore, dispatchPool).
		WithHealthChecker(pgStore).
		WithMetrics(sink)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.WithCORS(apiHandler, cfg.CORSAllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("sleepyhooks: http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("sleepyhooks: http server error")
		}
	}()

	// Separate contexts give an ordered shutdown: producers first, then the pool.
	poolCtx, cancelPool := context.WithCancel(context.Background())
	defer cancelPool()

	var poolWg sync.WaitGroup
	poolWg.Add(1)
	go func() {
		defer poolWg.Done()
		if err := dispatchPool.Run(poolCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("sleepyhooks: dispatch pool stopped unexpectedly")
		}
	}()

	var amqpWg sync.WaitGroup
	var cancelAMQP context.CancelFunc
	if cfg.AMQPURL != "" {
		var amqpCtx context.Context
		amqpCtx, cancelAMQP = context.WithCancel(context.Background())
		consumer := amqp.NewConsumer(cfg.AMQPURL, cfg.AMQPQueue, configStore, dispatchPool).
			WithMetrics(sink)
		amqpWg.Add(1)
		go func() {
			defer amqpWg.Done()
			if err := consumer.Run(amqpCtx); err != nil {
				log.Error().Err(err).Msg("sleepyhooks: amqp consumer stopped")
			}
		}()
		log.Info().Str("queue", cfg.AMQPQueue).Msg("sleepyhooks: amqp ingestion enabled")
	} else {
		log.Info().Msg("sleepyhooks: AMQP_URL not set; amqp ingestion disabled")
	}

	log.Info().
		Str("version", version).
		Dur("tick", cfg.TickInterval).
		Str("http", cfg.HTTPAddr).
		Msg("sleepyhooks: started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Info().Str("signal", received.String()).Msg("sleepyhooks: shutting down")

	// Phase 1: stop the AMQP consumer (no new queued submissions)
	if cancelAMQP != nil {
		log.Info().Msg("sleepyhooks: stopping amqp consumer...")
		cancelAMQP()
		amqpWg.Wait()
	}

	// Phase 2: stop accepting HTTP submissions
	log.Info().Msg("sleepyhooks: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Error().Err(err).Msg("sleepyhooks: http server shutdown error")
	}

	// Phase 3: stop the pool; in-flight deliveries get POOL_DRAIN_TIMEOUT
	log.Info().Dur("drain_timeout", cfg.PoolDrainTimeout).Msg("sleepyhooks: stopping dispatch pool...")
	cancelPool()
	poolWg.Wait()

	// Phase 4: stop the metrics server last so the final counts are scrapeable
	if metricsServer != nil {
		log.Info().Msg("sleepyhooks: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Error().Err(err).Msg("sleepyhooks: metrics server shutdown error")
		}
	}

	log.Info().Msg("sleepyhooks: stopped")
	return exitSuccess
}

func pingCache(c *cache.Store, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Ping(ctx)
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("sleepyhooks version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
