/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package tempo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/friendsincode/beatsync/internal/events"
	"github.com/friendsincode/beatsync/internal/telemetry"
)

// DefaultInterval is the now-playing check period of Run.
const DefaultInterval = 5 * time.Second

// BridgeOption customizes a Bridge.
type BridgeOption func(*Bridge)

// WithEvents publishes track and tempo events on bus.
func WithEvents(bus *events.Bus) BridgeOption {
	return func(b *Bridge) {
		b.bus = bus
	}
}

// WithInterval sets the poll interval of Run.
func WithInterval(d time.Duration) BridgeOption {
	return func(b *Bridge) {
		if d > 0 {
			b.interval = d
		}
	}
}

// Bridge turns now-playing changes into tempo updates.
type Bridge struct {
	source     Source
	nowPlaying NowPlaying
	sink       Setter
	interval   time.Duration
	logger     zerolog.Logger
	bus        *events.Bus

	// mu is held across a whole lookup so observations are handled one at a
	// time, in arrival order.
	mu   sync.Mutex
	last *Identity
}

// NewBridge wires a tempo source, a now-playing feed and a tempo sink.
func NewBridge(source Source, nowPlaying NowPlaying, sink Setter, logger zerolog.Logger, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		source:     source,
		nowPlaying: nowPlaying,
		sink:       sink,
		interval:   DefaultInterval,
		logger:     logger.With().Str("component", "tempo-bridge").Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// OnTrackObserved handles one now-playing observation. Nil tracks and the
// track processed last are ignored. A new track is marked processed whatever
// the lookup outcome, so a track without a known tempo is not retried on
// every poll. Lookup failures keep the previous tempo and are returned.
func (b *Bridge) OnTrackObserved(ctx context.Context, track *Track) error {
	if track == nil {
		return nil
	}
	id := track.Identity()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.last != nil && *b.last == id {
		return nil
	}
	b.last = &id

	telemetry.TrackChangesTotal.Inc()
	b.logger.Info().Str("artist", id.Artist).Str("title", id.Title).Msg("new track")
	b.publish(events.EventTrackChanged, events.Payload{"artist": id.Artist, "title": id.Title, "id": track.ID})

	bpm, err := b.lookup(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			b.logger.Warn().Str("artist", id.Artist).Str("title", id.Title).Msg("no tempo found, keeping previous")
		} else {
			b.logger.Warn().Err(err).Str("artist", id.Artist).Str("title", id.Title).Msg("tempo lookup failed, keeping previous")
		}
		return err
	}

	if err := b.sink.SetBPM(bpm); err != nil {
		return fmt.Errorf("apply tempo %g: %w", bpm, err)
	}
	b.logger.Info().Float64("bpm", bpm).Str("artist", id.Artist).Str("title", id.Title).Msg("tempo resolved")
	b.publish(events.EventTempoResolved, events.Payload{"artist": id.Artist, "title": id.Title, "bpm": bpm})
	return nil
}

func (b *Bridge) lookup(ctx context.Context, id Identity) (float64, error) {
	name := nameOf(b.source)
	ctx, span := telemetry.StartSpan(ctx, "beatsync/tempo", "tempo.lookup",
		attribute.String("artist", id.Artist),
		attribute.String("title", id.Title),
		attribute.String("source", name),
	)

	start := time.Now()
	bpm, err := b.source.FetchBPM(ctx, id.Artist, id.Title)
	telemetry.TempoLookupDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		telemetry.TempoLookupsTotal.WithLabelValues(name, "found").Inc()
		span.SetAttributes(attribute.Float64("bpm", bpm))
	case errors.Is(err, ErrNotFound):
		telemetry.TempoLookupsTotal.WithLabelValues(name, "not_found").Inc()
	default:
		telemetry.TempoLookupsTotal.WithLabelValues(name, "error").Inc()
		telemetry.EndSpan(span, err)
		return bpm, err
	}
	span.End()
	return bpm, err
}

// Run polls the now-playing feed until ctx ends, checking once immediately.
func (b *Bridge) Run(ctx context.Context) {
	b.logger.Info().Dur("interval", b.interval).Msg("tempo bridge started")
	defer b.logger.Info().Msg("tempo bridge stopped")

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		b.poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (b *Bridge) poll(ctx context.Context) {
	track, err := b.nowPlaying.CurrentTrack(ctx)
	if err != nil {
		if ctx.Err() == nil {
			b.logger.Debug().Err(err).Msg("now-playing unavailable")
		}
		return
	}
	_ = b.OnTrackObserved(ctx, track)
}

func (b *Bridge) publish(t events.EventType, p events.Payload) {
	if b.bus != nil {
		b.bus.Publish(t, p)
	}
}
