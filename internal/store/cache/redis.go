// Package cache serves configuration lookups from Redis in front of the
// durable store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/0xlunar/sleepy-webhooks/internal/api"
	"github.com/0xlunar/sleepy-webhooks/internal/domain"
	"github.com/0xlunar/sleepy-webhooks/internal/pool"
)

const (
	keyPrefix = "sleepyhooks:config:"
	genPrefix = "sleepyhooks:config-gen:"
)

// genTTL bounds how long an idle generation counter lives.
const genTTL = 24 * time.Hour

// Store decorates an api.Store with a read-through Redis cache for Resolve
// and Get. Every mutation drops the cached entry and bumps a per-id
// generation counter; a fill only lands if the generation it read before
// going to the inner store is still current. Redis errors never fail a call;
// they fall back to the inner store.
type Store struct {
	api.Store
	client *redis.Client
	ttl    time.Duration
}

func New(inner api.Store, client *redis.Client, ttl time.Duration) *Store {
	return &Store{Store: inner, client: client, ttl: ttl}
}

func buildKey(id string) string {
	return keyPrefix + id
}

func buildGenKey(id string) string {
	return genPrefix + id
}

func (s *Store) Resolve(ctx context.Context, id string) (domain.WebhookConfig, error) {
	return s.Get(ctx, id)
}

func (s *Store) Get(ctx context.Context, id string) (domain.WebhookConfig, error) {
	if cfg, ok := s.lookup(ctx, id); ok {
		return cfg, nil
	}

	gen, genOK := s.generation(ctx, id)

	cfg, err := s.Store.Get(ctx, id)
	if err != nil {
		return domain.WebhookConfig{}, err
	}

	if genOK {
		s.fill(ctx, cfg, gen)
	}
	return cfg, nil
}

func (s *Store) lookup(ctx context.Context, id string) (domain.WebhookConfig, bool) {
	raw, err := s.client.Get(ctx, buildKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("component", "store").Str("config_id", id).Msg("cache: redis get failed")
		}
		return domain.WebhookConfig{}, false
	}

	var cfg domain.WebhookConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		log.Warn().Err(err).Str("component", "store").Str("config_id", id).Msg("cache: dropping undecodable entry")
		s.invalidate(ctx, id)
		return domain.WebhookConfig{}, false
	}
	return cfg, true
}

// generation reads the invalidation counter for id. A missing counter is 0.
func (s *Store) generation(ctx context.Context, id string) (int64, bool) {
	gen, err := s.client.Get(ctx, buildGenKey(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	if err != nil {
		log.Warn().Err(err).Str("component", "store").Str("config_id", id).Msg("cache: redis generation read failed")
		return 0, false
	}
	return gen, true
}

// fill caches cfg unless id was invalidated after gen was read.
func (s *Store) fill(ctx context.Context, cfg domain.WebhookConfig, gen int64) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return
	}

	genKey := buildGenKey(cfg.ID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, buildKey(cfg.ID), raw, s.ttl)
			return nil
		})
		return err
	}, genKey)

	switch {
	case err == nil:
	case errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
		log.Debug().Str("component", "store").Str("config_id", cfg.ID).Msg("cache: skipping fill invalidated mid-read")
	default:
		log.Warn().Err(err).Str("component", "store").Str("config_id", cfg.ID).Msg("cache: redis set failed")
	}
}

var errStaleFill = errors.New("cache: configuration changed during read")

func (s *Store) invalidate(ctx context.Context, id string) {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, buildGenKey(id))
		pipe.Expire(ctx, buildGenKey(id), genTTL)
		pipe.Del(ctx, buildKey(id))
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("component", "store").Str("config_id", id).Msg("cache: redis invalidate failed")
	}
}

// after runs a mutation and drops the cache entry whatever the outcome.
func (s *Store) after(ctx context.Context, id string, err error) error {
	s.invalidate(ctx, id)
	return err
}

func (s *Store) UpdateName(ctx context.Context, id, name string) error {
	return s.after(ctx, id, s.Store.UpdateName(ctx, id, name))
}

func (s *Store) UpdateDelaySeconds(ctx context.Context, id string, delaySeconds int64) error {
	return s.after(ctx, id, s.Store.UpdateDelaySeconds(ctx, id, delaySeconds))
}

func (s *Store) AppendInstantEndpoint(ctx context.Context, id, url string) error {
	return s.after(ctx, id, s.Store.AppendInstantEndpoint(ctx, id, url))
}

func (s *Store) RemoveInstantEndpoint(ctx context.Context, id, url string) error {
	return s.after(ctx, id, s.Store.RemoveInstantEndpoint(ctx, id, url))
}

func (s *Store) AppendDelayedEndpoint(ctx context.Context, id, url string) error {
	return s.after(ctx, id, s.Store.AppendDelayedEndpoint(ctx, id, url))
}

func (s *Store) RemoveDelayedEndpoint(ctx context.Context, id, url string) error {
	return s.after(ctx, id, s.Store.RemoveDelayedEndpoint(ctx, id, url))
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.after(ctx, id, s.Store.Delete(ctx, id))
}

// Ping checks Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Compile-time interface assertions
var (
	_ pool.ConfigResolver = (*Store)(nil)
	_ api.Store           = (*Store)(nil)
)
