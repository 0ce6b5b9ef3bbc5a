package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Pool metrics
	ticksTotal          prometheus.Counter
	tickDuration        prometheus.Histogram
	itemsDrainedTotal   prometheus.Counter
	bufferSize          prometheus.Gauge
	itemsInFlight       prometheus.Gauge
	lookupFailuresTotal prometheus.Counter
	itemsRetiredTotal   *prometheus.CounterVec

	// Delivery metrics
	deliveryAttemptsTotal *prometheus.CounterVec
	deliveryDuration      *prometheus.HistogramVec

	// Ingestion metrics
	queueDepth           prometheus.Gauge
	queueRejectionsTotal prometheus.Counter
	submissionsTotal     *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initPoolMetrics(reg)
	s.initDeliveryMetrics(reg)
	s.initIngestionMetrics(reg)
	return s
}

func (s *PrometheusSink) initPoolMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sleepyhooks_pool_ticks_total",
		Help: "Total number of dispatch pool ticks processed.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sleepyhooks_pool_tick_duration_seconds",
		Help:    "Duration of each dispatch pool tick in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
	})
	s.itemsDrainedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sleepyhooks_pool_items_drained_total",
		Help: "Total number of submissions moved from the ingestion queue into the buffer.",
	})
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sleepyhooks_pool_buffer_size",
		Help: "Number of items currently buffered in the dispatch pool.",
	})
	s.itemsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sleepyhooks_pool_items_in_flight",
		Help: "Number of buffered items whose processing outlived a tick.",
	})
	s.lookupFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sleepyhooks_pool_lookup_failures_total",
		Help: "Total number of configuration lookups that failed during a tick.",
	})
	s.itemsRetiredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sleepyhooks_pool_items_retired_total",
		Help: "Total number of items removed from the buffer.",
	}, []string{"reason"})

	s.register(reg, s.ticksTotal, "sleepyhooks_pool_ticks_total")
	s.register(reg, s.tickDuration, "sleepyhooks_pool_tick_duration_seconds")
	s.register(reg, s.itemsDrainedTotal, "sleepyhooks_pool_items_drained_total")
	s.register(reg, s.bufferSize, "sleepyhooks_pool_buffer_size")
	s.register(reg, s.itemsInFlight, "sleepyhooks_pool_items_in_flight")
	s.register(reg, s.lookupFailuresTotal, "sleepyhooks_pool_lookup_failures_total")
	s.register(reg, s.itemsRetiredTotal, "sleepyhooks_pool_items_retired_total")
}

func (s *PrometheusSink) initDeliveryMetrics(reg prometheus.Registerer) {
	s.deliveryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sleepyhooks_delivery_attempts_total",
		Help: "Total number of webhook delivery attempts.",
	}, []string{"class", "status_class"})

	s.deliveryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sleepyhooks_delivery_duration_seconds",
		Help:    "Webhook request latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"class"})

	s.register(reg, s.deliveryAttemptsTotal, "sleepyhooks_delivery_attempts_total")
	s.register(reg, s.deliveryDuration, "sleepyhooks_delivery_duration_seconds")
}

func (s *PrometheusSink) initIngestionMetrics(reg prometheus.Registerer) {
	s.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sleepyhooks_queue_depth",
		Help: "Number of submissions waiting in the ingestion queue.",
	})
	s.queueRejectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sleepyhooks_queue_rejections_total",
		Help: "Total number of submissions rejected because the dispatcher was gone.",
	})
	s.submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sleepyhooks_submissions_total",
		Help: "Total number of accepted submissions by source.",
	}, []string{"source"})

	s.register(reg, s.queueDepth, "sleepyhooks_queue_depth")
	s.register(reg, s.queueRejectionsTotal, "sleepyhooks_queue_rejections_total")
	s.register(reg, s.submissionsTotal, "sleepyhooks_submissions_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Warn().Str("component", "metrics").Err(err).Str("metric", name).Msg("failed to register collector")
	}
}

// Pool metrics implementation

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, buffered int) {
	s.tickDuration.Observe(duration.Seconds())
	s.bufferSize.Set(float64(buffered))
}

func (s *PrometheusSink) ItemsDrained(n int) {
	s.itemsDrainedTotal.Add(float64(n))
}

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) ItemsInFlightUpdate(n int) {
	s.itemsInFlight.Set(float64(n))
}

func (s *PrometheusSink) LookupFailed() {
	s.lookupFailuresTotal.Inc()
}

func (s *PrometheusSink) ItemRetired(reason string) {
	s.itemsRetiredTotal.WithLabelValues(reason).Inc()
}

// Delivery metrics implementation

func (s *PrometheusSink) DeliveryAttemptCompleted(class string, statusClass string, duration time.Duration) {
	s.deliveryAttemptsTotal.WithLabelValues(class, statusClass).Inc()
	s.deliveryDuration.WithLabelValues(class).Observe(duration.Seconds())
}

// Ingestion metrics implementation

func (s *PrometheusSink) QueueDepthUpdate(depth int) {
	s.queueDepth.Set(float64(depth))
}

func (s *PrometheusSink) QueueSendRejected() {
	s.queueRejectionsTotal.Inc()
}

func (s *PrometheusSink) SubmissionAccepted(source string) {
	s.submissionsTotal.WithLabelValues(source).Inc()
}
