// Package pool buffers accepted submissions and fans them out to their
// instant and delayed endpoint groups on a fixed cadence.
package pool

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/0xlunar/sleepy-webhooks/internal/delivery"
	"github.com/0xlunar/sleepy-webhooks/internal/domain"
	"github.com/0xlunar/sleepy-webhooks/internal/metrics"
	"github.com/0xlunar/sleepy-webhooks/internal/transport/channel"
)

// EmptyDelayedPolicy decides what happens to a due item whose configuration
// has no delayed endpoints.
type EmptyDelayedPolicy string

const (
	// EmptyDelayedEvict sets the delayed latch with zero calls and retires the item.
	EmptyDelayedEvict EmptyDelayedPolicy = "evict"
	// EmptyDelayedHold keeps the item buffered until a delayed endpoint exists.
	EmptyDelayedHold EmptyDelayedPolicy = "hold"
)

const (
	DefaultTickInterval = 100 * time.Millisecond
	DefaultDrainTimeout = 30 * time.Second
)

// ConfigResolver looks up a webhook configuration by id. It returns
// domain.ErrConfigNotFound when the id is unknown and must be safe for
// concurrent use.
type ConfigResolver interface {
	Resolve(ctx context.Context, id string) (domain.WebhookConfig, error)
}

// DeliveryClient posts one payload to one endpoint.
type DeliveryClient interface {
	Post(ctx context.Context, req delivery.Request) delivery.Result
}

// MetricsSink defines the interface for recording pool metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	TickStarted()
	TickCompleted(duration time.Duration, buffered int)
	ItemsDrained(count int)
	BufferSizeUpdate(size int)
	ItemsInFlightUpdate(count int)
	LookupFailed()
	ItemRetired(reason string)
	DeliveryAttemptCompleted(class, statusClass string, duration time.Duration)
}

type Config struct {
	TickInterval time.Duration
	// DrainTimeout bounds how long Run waits for in-flight items on shutdown.
	DrainTimeout time.Duration
	// MaxLookupFailures evicts an item after this many consecutive failed
	// lookups. 0 = never.
	MaxLookupFailures int
	// MaxItemAge evicts an item older than this. 0 = never.
	MaxItemAge         time.Duration
	EmptyDelayedPolicy EmptyDelayedPolicy
}

// entry is the pool-private wrapper around a buffered item. While done is
// non-nil the item belongs to its worker goroutine; the loop reclaims it once
// done is closed.
type entry struct {
	item           *domain.PoolItem
	lookupFailures int
	done           chan struct{}
}

func (e *entry) inFlight() bool {
	return e.done != nil
}

// collect reclaims the entry if its worker has finished.
func (e *entry) collect() bool {
	if e.done == nil {
		return true
	}
	select {
	case <-e.done:
		e.done = nil
		return true
	default:
		return false
	}
}

// Pool owns the ingestion queue and the in-memory buffer. Run is the only
// goroutine that touches the buffer.
type Pool struct {
	cfg     Config
	store   ConfigResolver
	client  DeliveryClient
	queue   *channel.Queue
	metrics MetricsSink
	clock   clockwork.Clock

	buffer []*entry
}

func New(cfg Config, store ConfigResolver, client DeliveryClient) *Pool {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.EmptyDelayedPolicy == "" {
		cfg.EmptyDelayedPolicy = EmptyDelayedEvict
	}
	return &Pool{
		cfg:     cfg,
		store:   store,
		client:  client,
		queue:   channel.NewQueue(),
		metrics: metrics.NewNoopSink(),
		clock:   clockwork.NewRealClock(),
	}
}

// WithMetrics attaches a metrics sink to the pool.
func (p *Pool) WithMetrics(sink MetricsSink) *Pool {
	p.metrics = sink
	return p
}

// WithQueue replaces the ingestion queue, e.g. one built with queue metrics.
func (p *Pool) WithQueue(q *channel.Queue) *Pool {
	p.queue = q
	return p
}

// WithClock replaces the wall clock. Tests pass a clockwork.FakeClock.
func (p *Pool) WithClock(c clockwork.Clock) *Pool {
	p.clock = c
	return p
}

// Submit enqueues payload for configID. It never blocks. It returns
// channel.ErrQueueClosed once Run has stopped.
func (p *Pool) Submit(configID string, payload []byte) error {
	return p.queue.Send(domain.NewPoolItem(configID, payload, p.clock.Now()))
}

// Run drives the tick loop until ctx is cancelled, then closes the queue and
// waits up to DrainTimeout for in-flight items.
func (p *Pool) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()

	log.Info().
		Str("component", "pool").
		Dur("tick", p.cfg.TickInterval).
		Str("empty_delayed_policy", string(p.cfg.EmptyDelayedPolicy)).
		Msg("pool: started")

	for {
		select {
		case <-ctx.Done():
			p.shutdown()
			return ctx.Err()
		case <-ticker.Chan():
			p.tick(ctx)
		}
	}
}

func (p *Pool) tick(ctx context.Context) {
	start := p.clock.Now()
	p.metrics.TickStarted()

	p.drain(start)
	p.process(ctx)
	p.retire()

	p.metrics.TickCompleted(p.clock.Since(start), len(p.buffer))
}

// drain moves queued items into the buffer until the queue is empty or one
// tick period has passed.
func (p *Pool) drain(start time.Time) {
	n := 0
	for p.clock.Since(start) < p.cfg.TickInterval {
		item, ok := p.queue.TryReceive()
		if !ok {
			break
		}
		p.buffer = append(p.buffer, &entry{item: item})
		n++
	}
	if n > 0 {
		p.metrics.ItemsDrained(n)
	}
}

// process starts every idle, unretired item concurrently and waits for them
// for at most one tick period. Stragglers stay in flight.
func (p *Pool) process(ctx context.Context) {
	var started []*entry
	for _, e := range p.buffer {
		if !e.collect() || e.item.Retired() {
			continue
		}
		e.done = make(chan struct{})
		started = append(started, e)
		go func(e *entry) {
			defer close(e.done)
			p.processItem(ctx, e)
		}(e)
	}

	if len(started) > 0 {
		timer := p.clock.NewTimer(p.cfg.TickInterval)
	wait:
		for _, e := range started {
			select {
			case <-e.done:
				e.done = nil
			case <-timer.Chan():
				break wait
			}
		}
		timer.Stop()
	}

	inFlight := 0
	for _, e := range p.buffer {
		if e.inFlight() {
			inFlight++
		}
	}
	p.metrics.ItemsInFlightUpdate(inFlight)
}

// retire drops items whose delayed latch is set, plus items that hit a
// forced-eviction limit. In-flight items are always kept.
func (p *Pool) retire() {
	now := p.clock.Now()
	kept := p.buffer[:0]
	for _, e := range p.buffer {
		if e.inFlight() {
			kept = append(kept, e)
			continue
		}

		switch {
		case e.item.Retired():
			p.metrics.ItemRetired(metrics.RetiredDelivered)
		case p.cfg.MaxLookupFailures > 0 && e.lookupFailures >= p.cfg.MaxLookupFailures:
			log.Warn().
				Str("component", "pool").
				Str("config_id", e.item.ConfigID).
				Int("lookup_failures", e.lookupFailures).
				Msg("pool: evicting item after repeated lookup failures")
			p.metrics.ItemRetired(metrics.RetiredAbandoned)
		case p.cfg.MaxItemAge > 0 && now.Sub(e.item.ReceivedAt) > p.cfg.MaxItemAge:
			log.Warn().
				Str("component", "pool").
				Str("config_id", e.item.ConfigID).
				Time("received_at", e.item.ReceivedAt).
				Msg("pool: evicting item past max age")
			p.metrics.ItemRetired(metrics.RetiredAbandoned)
		default:
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(p.buffer); i++ {
		p.buffer[i] = nil
	}
	p.buffer = kept
	p.metrics.BufferSizeUpdate(len(p.buffer))
}

type attempt struct {
	class  domain.DeliveryClass
	url    string
	result delivery.Result
}

// processItem runs the per-item decision procedure. It owns e until it
// returns.
func (p *Pool) processItem(ctx context.Context, e *entry) {
	item := e.item

	cfg, err := p.store.Resolve(ctx, item.ConfigID)
	if err != nil {
		e.lookupFailures++
		p.metrics.LookupFailed()
		log.Warn().
			Err(err).
			Str("component", "pool").
			Str("config_id", item.ConfigID).
			Int("lookup_failures", e.lookupFailures).
			Msg("pool: config lookup failed")
		return
	}
	e.lookupFailures = 0

	now := p.clock.Now()
	// deliveries outlive a shutdown of the loop
	dctx := context.WithoutCancel(ctx)
	results := make(chan attempt, len(cfg.InstantEndpoints)+len(cfg.DelayedEndpoints))
	issued := 0

	if !item.InstantSent {
		issued += p.issue(dctx, item, domain.DeliveryClassInstant, cfg.InstantEndpoints, results)
		item.InstantSent = true
	}

	if !item.DelaySent && cfg.DelayedDue(item.ReceivedAt, now) {
		if len(cfg.DelayedEndpoints) == 0 && p.cfg.EmptyDelayedPolicy == EmptyDelayedHold {
			log.Debug().
				Str("component", "pool").
				Str("config_id", item.ConfigID).
				Msg("pool: holding due item with no delayed endpoints")
		} else {
			issued += p.issue(dctx, item, domain.DeliveryClassDelayed, cfg.DelayedEndpoints, results)
			item.DelaySent = true
		}
	}

	var failures []domain.DeliveryFailure
	for i := 0; i < issued; i++ {
		a := <-results
		p.metrics.DeliveryAttemptCompleted(string(a.class), metrics.ClassifyStatus(a.result.StatusCode, a.result.Error), a.result.Duration)
		if a.result.Failed() {
			failures = append(failures, domain.DeliveryFailure{
				Class:      a.class,
				URL:        a.url,
				StatusCode: a.result.StatusCode,
				Err:        a.result.Error,
			})
		}
	}

	for _, f := range failures {
		log.Error().
			Err(f).
			Str("component", "pool").
			Str("config_id", item.ConfigID).
			Str("class", string(f.Class)).
			Str("url", f.URL).
			Int("status", f.StatusCode).
			AnErr("cause", f.Err).
			Msg("pool: delivery failed")
	}
}

// issue starts one POST per url and returns how many were started. Each
// result is sent on results, which must have room for all of them.
func (p *Pool) issue(ctx context.Context, item *domain.PoolItem, class domain.DeliveryClass, urls []string, results chan<- attempt) int {
	for _, url := range urls {
		req := delivery.Request{
			URL:      url,
			Payload:  item.Payload,
			ConfigID: item.ConfigID,
			Class:    class,
		}
		go func(req delivery.Request) {
			results <- attempt{class: req.Class, url: req.URL, result: p.client.Post(ctx, req)}
		}(req)
	}
	return len(urls)
}

// shutdown closes the queue and waits, bounded by DrainTimeout, for items
// still in flight.
func (p *Pool) shutdown() {
	queued := p.queue.Close()

	timer := p.clock.NewTimer(p.cfg.DrainTimeout)
	defer timer.Stop()

	timedOut := false
	for _, e := range p.buffer {
		if !e.inFlight() || timedOut {
			continue
		}
		select {
		case <-e.done:
			e.done = nil
		case <-timer.Chan():
			timedOut = true
		}
	}

	abandoned, inFlight := len(queued), 0
	for _, e := range p.buffer {
		if e.inFlight() {
			inFlight++
			abandoned++
			continue
		}
		if !e.item.Retired() {
			abandoned++
		}
	}

	evt := log.Info()
	if abandoned > 0 {
		evt = log.Warn()
	}
	evt.Str("component", "pool").
		Int("abandoned", abandoned).
		Int("in_flight", inFlight).
		Int("queued", len(queued)).
		Bool("drain_timeout", timedOut).
		Msg("pool: stopped")

	p.buffer = nil
}
