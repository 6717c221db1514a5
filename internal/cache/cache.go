/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-backed tempo cache shared between instances.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/beatsync/internal/tempo"
)

// DefaultTempoTTL is how long a resolved tempo stays cached.
const DefaultTempoTTL = 7 * 24 * time.Hour

// KeyTempo prefixes tempo entries; the track identity key follows.
const KeyTempo = "beatsync:tempo:"

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TempoTTL time.Duration

	// DisableOnError turns the cache off after the first Redis failure.
	DisableOnError bool
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		TempoTTL:       DefaultTempoTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // circuit breaker state
}

var (
	_ tempo.Cache       = (*Cache)(nil)
	_ tempo.Invalidator = (*Cache)(nil)
)

// New creates a cache. An unreachable server yields a disabled cache, not an
// error, so callers can run without Redis.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	if cfg.TempoTTL <= 0 {
		cfg.TempoTTL = DefaultTempoTTL
	}
	logger = logger.With().Str("component", "cache").Logger()

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     4,
		MinIdleConns: 1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis cache unavailable, running without caching")
		return &Cache{logger: logger, config: cfg, disabled: true}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Dur("ttl", cfg.TempoTTL).Msg("Redis cache initialized")
	return &Cache{client: client, logger: logger, config: cfg}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// Name implements tempo.Cache.
func (c *Cache) Name() string { return "redis" }

// tempoEntry is the JSON value stored per track.
type tempoEntry struct {
	BPM      float64   `json:"bpm"`
	Source   string    `json:"source"`
	CachedAt time.Time `json:"cached_at"`
}

// TempoKey returns the Redis key for a track identity.
func TempoKey(id tempo.Identity) string {
	return KeyTempo + id.Key()
}

// GetTempo returns the cached tempo for id.
func (c *Cache) GetTempo(ctx context.Context, id tempo.Identity) (float64, bool, error) {
	var entry tempoEntry
	found, err := c.get(ctx, TempoKey(id), &entry)
	if err != nil || !found {
		return 0, false, err
	}
	if entry.BPM <= 0 {
		return 0, false, nil
	}
	return entry.BPM, true, nil
}

// SetTempo caches bpm for id.
func (c *Cache) SetTempo(ctx context.Context, id tempo.Identity, bpm float64, source string) error {
	return c.set(ctx, TempoKey(id), tempoEntry{BPM: bpm, Source: source, CachedAt: time.Now().UTC()}, c.config.TempoTTL)
}

// InvalidateTempo drops the cached tempo for id.
func (c *Cache) InvalidateTempo(ctx context.Context, id tempo.Identity) error {
	return c.delete(ctx, TempoKey(id))
}

func (c *Cache) handleError(err error, operation string) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}
	return true, nil
}

func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}
	return nil
}

func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}
	return nil
}
