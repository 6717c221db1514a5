/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package leadership elects one instance among players sharing a Redis
// server. Only the leader polls the now-playing provider; followers learn the
// track from its broadcasts.
package leadership

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/beatsync/internal/telemetry"
)

const (
	defaultKey           = "beatsync:leader:nowplaying"
	defaultLease         = 15 * time.Second
	defaultRetryInterval = 5 * time.Second
)

// Locker is a lease store. Acquire takes or renews the lease on key for id.
type Locker interface {
	Acquire(ctx context.Context, key, id string, lease time.Duration) (bool, error)
	Release(ctx context.Context, key, id string) error
}

// Config configures an Election.
type Config struct {
	Key           string
	Lease         time.Duration
	RetryInterval time.Duration // how often the lease is renewed or contested
	InstanceID    string
}

// Election campaigns for a lease until its context ends.
type Election struct {
	locker Locker
	cfg    Config
	logger zerolog.Logger

	leader  atomic.Bool
	mu      sync.Mutex
	changes []chan bool
}

// New creates an election. Zero config fields take defaults.
func New(locker Locker, cfg Config, logger zerolog.Logger) *Election {
	if cfg.Key == "" {
		cfg.Key = defaultKey
	}
	if cfg.Lease <= 0 {
		cfg.Lease = defaultLease
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.RetryInterval >= cfg.Lease {
		cfg.RetryInterval = cfg.Lease / 3
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	return &Election{
		locker: locker,
		cfg:    cfg,
		logger: logger.With().Str("component", "leader_election").Str("instance_id", cfg.InstanceID).Logger(),
	}
}

// InstanceID returns the id this instance campaigns under.
func (e *Election) InstanceID() string { return e.cfg.InstanceID }

// IsLeader reports whether this instance holds the lease.
func (e *Election) IsLeader() bool { return e.leader.Load() }

// Changes returns a channel receiving every leadership transition. Slow
// readers miss intermediate values but always see the latest.
func (e *Election) Changes() <-chan bool {
	ch := make(chan bool, 1)
	e.mu.Lock()
	e.changes = append(e.changes, ch)
	e.mu.Unlock()
	return ch
}

// Run campaigns immediately and then every retry interval. When ctx ends a
// held lease is released.
func (e *Election) Run(ctx context.Context) {
	e.logger.Info().Dur("lease", e.cfg.Lease).Msg("starting leader election")

	ticker := time.NewTicker(e.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		e.campaign(ctx)
		select {
		case <-ctx.Done():
			e.resign()
			return
		case <-ticker.C:
		}
	}
}

func (e *Election) campaign(ctx context.Context) {
	held, err := e.locker.Acquire(ctx, e.cfg.Key, e.cfg.InstanceID, e.cfg.Lease)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warn().Err(err).Msg("leadership lease check failed")
		}
		held = false
	}
	e.set(held)
}

func (e *Election) resign() {
	if !e.leader.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.locker.Release(ctx, e.cfg.Key, e.cfg.InstanceID); err != nil {
		e.logger.Warn().Err(err).Msg("failed to release leadership lease")
	}
	e.set(false)
}

func (e *Election) set(leader bool) {
	if e.leader.Swap(leader) == leader {
		return
	}
	if leader {
		e.logger.Info().Msg("acquired leadership")
		telemetry.LeaderStatus.Set(1)
		telemetry.LeaderChangesTotal.WithLabelValues("acquired").Inc()
	} else {
		e.logger.Warn().Msg("lost leadership")
		telemetry.LeaderStatus.Set(0)
		telemetry.LeaderChangesTotal.WithLabelValues("lost").Inc()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.changes {
		select {
		case <-ch:
		default:
		}
		ch <- leader
	}
}

// WhileLeader runs fn each time this instance becomes leader, cancelling its
// context on loss of leadership. It returns when ctx ends.
func WhileLeader(ctx context.Context, e *Election, fn func(context.Context)) {
	changes := e.Changes()
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)
	stop := func() {
		if cancel != nil {
			cancel()
			<-done
			cancel = nil
		}
	}
	defer stop()

	start := func() {
		if cancel != nil {
			return
		}
		var runCtx context.Context
		runCtx, cancel = context.WithCancel(ctx)
		done = make(chan struct{})
		go func() {
			defer close(done)
			fn(runCtx)
		}()
	}
	if e.IsLeader() {
		start()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case leader := <-changes:
			if leader {
				start()
			} else {
				stop()
			}
		}
	}
}

// RedisLocker keeps leases in Redis with SET NX and a guarded delete.
type RedisLocker struct {
	client *redis.Client
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// NewRedisLocker connects to Redis. Unlike the tempo cache, an unreachable
// server is an error: without it there is no way to agree on a leader.
func NewRedisLocker(addr, password string, db int) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return &RedisLocker{client: client}, nil
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, key, id string, lease time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, id, lease).Result()
	if err != nil {
		return false, fmt.Errorf("set lease: %w", err)
	}
	if ok {
		return true, nil
	}

	holder, err := l.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get lease holder: %w", err)
	}
	if holder != id {
		return false, nil
	}
	if err := l.client.Expire(ctx, key, lease).Err(); err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	return true, nil
}

// Release implements Locker. Leases held by other instances are left alone.
func (l *RedisLocker) Release(ctx context.Context, key, id string) error {
	if err := releaseScript.Run(ctx, l.client, []string{key}, id).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
