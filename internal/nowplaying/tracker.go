/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package nowplaying keeps track of what the listener is hearing. A Tracker
// caches the current track, fed by polling a provider and by pushes from the
// HTTP API or the message bus.
package nowplaying

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/beatsync/internal/telemetry"
	"github.com/friendsincode/beatsync/internal/tempo"
)

// Fetcher asks a provider for the track playing right now. A nil track with
// a nil error means nothing is playing.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) (*tempo.Track, error)
}

// TrackerConfig controls polling.
type TrackerConfig struct {
	Interval   time.Duration // between successful polls
	RetryDelay time.Duration // after a failed poll
}

// Tracker caches the current track. It implements tempo.NowPlaying.
type Tracker struct {
	cfg     TrackerConfig
	fetcher Fetcher
	logger  zerolog.Logger

	mu       sync.RWMutex
	current  *tempo.Track
	updated  time.Time
	onChange func(tempo.Track)
}

// NewTracker creates a tracker. fetcher may be nil when tracks only arrive by
// push; Run then just waits for ctx.
func NewTracker(cfg TrackerConfig, fetcher Fetcher, logger zerolog.Logger) *Tracker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = cfg.Interval
	}
	return &Tracker{
		cfg:     cfg,
		fetcher: fetcher,
		logger:  logger.With().Str("component", "nowplaying").Logger(),
	}
}

// OnChange registers fn to run when a poll, not a push, changes the track.
func (t *Tracker) OnChange(fn func(tempo.Track)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// CurrentTrack returns a copy of the cached track, or nil.
func (t *Tracker) CurrentTrack(ctx context.Context) (*tempo.Track, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil {
		return nil, nil
	}
	cp := *t.current
	return &cp, nil
}

// UpdatedAt returns when the cached track last changed.
func (t *Tracker) UpdatedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.updated
}

// Set replaces the cached track when it differs from the current one and
// reports whether it did. Nil is ignored: a provider going quiet keeps the
// last known track.
func (t *Tracker) Set(track *tempo.Track) bool {
	if track == nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != nil && sameTrack(*t.current, *track) {
		return false
	}
	cp := *track
	t.current = &cp
	t.updated = time.Now()
	t.logger.Debug().Str("artist", cp.Artist).Str("title", cp.Title).Str("track_id", cp.ID).Msg("now playing")
	return true
}

// sameTrack compares provider IDs when both sides carry one, otherwise the
// (artist, title) identity.
func sameTrack(a, b tempo.Track) bool {
	if a.ID != "" && b.ID != "" {
		return a.ID == b.ID
	}
	return a.Identity() == b.Identity()
}

// Run polls the fetcher until ctx ends.
func (t *Tracker) Run(ctx context.Context) {
	if t.fetcher == nil {
		<-ctx.Done()
		return
	}

	name := t.fetcher.Name()
	t.logger.Info().Str("provider", name).Dur("interval", t.cfg.Interval).Msg("now-playing polling started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		next := t.cfg.Interval
		track, err := t.fetcher.Fetch(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			telemetry.NowPlayingPollsTotal.WithLabelValues(name, "error").Inc()
			t.logger.Warn().Err(err).Str("provider", name).Dur("retry_in", t.cfg.RetryDelay).Msg("now-playing poll failed")
			next = t.cfg.RetryDelay
		case track == nil:
			telemetry.NowPlayingPollsTotal.WithLabelValues(name, "idle").Inc()
		default:
			telemetry.NowPlayingPollsTotal.WithLabelValues(name, "ok").Inc()
			if t.Set(track) {
				t.mu.RLock()
				fn := t.onChange
				t.mu.RUnlock()
				if fn != nil {
					fn(*track)
				}
			}
		}
		timer.Reset(next)
	}
}

// Static always reports the same track.
type Static struct {
	Track tempo.Track
}

// CurrentTrack returns a copy of the configured track.
func (s Static) CurrentTrack(context.Context) (*tempo.Track, error) {
	cp := s.Track
	return &cp, nil
}

// Name implements Fetcher.
func (Static) Name() string { return "static" }

// Fetch implements Fetcher.
func (s Static) Fetch(ctx context.Context) (*tempo.Track, error) {
	return s.CurrentTrack(ctx)
}
