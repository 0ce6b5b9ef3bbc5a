// Package amqp consumes webhook submissions from a RabbitMQ queue and feeds
// them into the dispatch pool, alongside the HTTP surface.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/0xlunar/sleepy-webhooks/internal/domain"
	"github.com/0xlunar/sleepy-webhooks/internal/metrics"
	"github.com/0xlunar/sleepy-webhooks/internal/transport/channel"
)

// HeaderConfigID carries the target configuration id. MessageId is used when
// the header is absent.
const HeaderConfigID = "config_id"

const (
	defaultPrefetch    = 32
	defaultLookupLimit = 5 * time.Second
	consumerTag        = "sleepyhooks"
)

// Resolver looks up a configuration before a message is accepted.
type Resolver interface {
	Resolve(ctx context.Context, id string) (domain.WebhookConfig, error)
}

// Submitter hands an accepted payload to the dispatch pool.
type Submitter interface {
	Submit(configID string, payload []byte) error
}

// MetricsSink records accepted submissions.
type MetricsSink interface {
	SubmissionAccepted(source string)
}

// outcome is what happened to a single delivery.
type outcome int

const (
	outcomeAcked outcome = iota
	outcomeRejected
	outcomeRequeued
	outcomeStop
)

// Consumer reads submissions from a durable queue with manual acknowledgement.
type Consumer struct {
	url         string
	queue       string
	resolver    Resolver
	submitter   Submitter
	metrics     MetricsSink // optional, nil = disabled
	prefetch    int
	lookupLimit time.Duration
}

func NewConsumer(url, queue string, resolver Resolver, submitter Submitter) *Consumer {
	return &Consumer{
		url:         url,
		queue:       queue,
		resolver:    resolver,
		submitter:   submitter,
		prefetch:    defaultPrefetch,
		lookupLimit: defaultLookupLimit,
	}
}

// WithMetrics attaches a metrics sink to the consumer.
func (c *Consumer) WithMetrics(m MetricsSink) *Consumer {
	c.metrics = m
	return c
}

// WithPrefetch sets the channel QoS prefetch count.
func (c *Consumer) WithPrefetch(n int) *Consumer {
	if n > 0 {
		c.prefetch = n
	}
	return c
}

// Run connects, declares the queue and consumes until ctx is cancelled, the
// broker closes the delivery stream, or the pool stops accepting work.
func (c *Consumer) Run(ctx context.Context) error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("amqp: dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp: open channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(
		c.queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("amqp: declare queue %q: %w", c.queue, err)
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("amqp: set qos: %w", err)
	}

	msgs, err := ch.Consume(
		c.queue,
		consumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("amqp: consume %q: %w", c.queue, err)
	}

	log.Info().
		Str("component", "amqp").
		Str("queue", c.queue).
		Int("prefetch", c.prefetch).
		Msg("amqp: consumer started")

	return c.consume(ctx, msgs)
}

// consume handles deliveries one at a time until a stop condition.
func (c *Consumer) consume(ctx context.Context, msgs <-chan amqp091.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("component", "amqp").Msg("amqp: consumer stopped")
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("amqp: delivery channel closed by broker")
			}
			if c.handle(ctx, d) == outcomeStop {
				return fmt.Errorf("amqp: %w", channel.ErrQueueClosed)
			}
		}
	}
}

// handle applies the submission rules to one delivery and settles it.
func (c *Consumer) handle(ctx context.Context, d amqp091.Delivery) outcome {
	id := configID(d)
	logger := log.With().
		Str("component", "amqp").
		Uint64("delivery_tag", d.DeliveryTag).
		Str("config_id", id).
		Logger()

	if id == "" {
		logger.Warn().Msg("amqp: message has no config id, rejecting")
		settle(d, outcomeRejected)
		return outcomeRejected
	}

	lookupCtx, cancel := context.WithTimeout(ctx, c.lookupLimit)
	_, err := c.resolver.Resolve(lookupCtx, id)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrConfigNotFound) {
			logger.Warn().Msg("amqp: unknown configuration, rejecting")
			settle(d, outcomeRejected)
			return outcomeRejected
		}
		logger.Error().Err(err).Msg("amqp: config lookup failed, requeueing")
		settle(d, outcomeRequeued)
		return outcomeRequeued
	}

	if err := c.submitter.Submit(id, d.Body); err != nil {
		logger.Error().Err(err).Msg("amqp: submission rejected, requeueing")
		settle(d, outcomeRequeued)
		if errors.Is(err, channel.ErrQueueClosed) {
			return outcomeStop
		}
		return outcomeRequeued
	}

	settle(d, outcomeAcked)
	if c.metrics != nil {
		c.metrics.SubmissionAccepted(metrics.SourceAMQP)
	}
	logger.Debug().Int("bytes", len(d.Body)).Msg("amqp: submission accepted")
	return outcomeAcked
}

func settle(d amqp091.Delivery, o outcome) {
	var err error
	switch o {
	case outcomeAcked:
		err = d.Ack(false)
	case outcomeRejected:
		err = d.Reject(false)
	default:
		err = d.Nack(false, true)
	}
	if err != nil {
		log.Error().Err(err).Str("component", "amqp").Uint64("delivery_tag", d.DeliveryTag).Msg("amqp: failed to settle delivery")
	}
}

// configID extracts the target configuration from the config_id header,
// falling back to MessageId.
func configID(d amqp091.Delivery) string {
	if v, ok := d.Headers[HeaderConfigID]; ok {
		switch id := v.(type) {
		case string:
			if id != "" {
				return id
			}
		case []byte:
			if len(id) > 0 {
				return string(id)
			}
		}
	}
	return d.MessageId
}
