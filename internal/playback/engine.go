/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playback runs the looped decode loop: every pass reopens the
// source, derives a playback rate from the current tempo and presents frames
// on a rate-scaled clock until end of stream.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/beatsync/internal/events"
	"github.com/friendsincode/beatsync/internal/media"
	"github.com/friendsincode/beatsync/internal/speed"
	"github.com/friendsincode/beatsync/internal/telemetry"
)

// ErrNoSurface is returned when Start or SwapSurface get a nil surface.
var ErrNoSurface = errors.New("playback: surface is required")

// Config tunes the engine.
type Config struct {
	Locator        string
	Bounds         speed.Bounds
	DefaultBPM     float64
	DequeueTimeout time.Duration // bounded wait for decoder buffers
	RetryDelay     time.Duration // pause after a failed pass
	LateThreshold  time.Duration // frames later than this count as late
}

func (c Config) withDefaults() Config {
	if c.Bounds.Min <= 0 || c.Bounds.Max < c.Bounds.Min {
		c.Bounds = speed.DefaultBounds()
	}
	if !ValidBPM(c.DefaultBPM) {
		c.DefaultBPM = DefaultBPM
	}
	if c.DequeueTimeout <= 0 {
		c.DequeueTimeout = 10 * time.Millisecond
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.LateThreshold <= 0 {
		c.LateThreshold = 10 * time.Millisecond
	}
	return c
}

// Option customizes an Engine.
type Option func(*Engine)

// WithEventBus publishes engine events on bus.
func WithEventBus(bus *events.Bus) Option {
	return func(e *Engine) {
		e.bus = bus
	}
}

// Engine owns one looping decode loop. Start, Stop and SwapSurface are safe
// for concurrent use; SetBPM may be called at any time from any goroutine.
type Engine struct {
	cfg      Config
	opener   media.Opener
	decoders media.DecoderFactory
	logger   zerolog.Logger
	bus      *events.Bus

	tempo *Tempo
	rate  atomicFloat

	passes    atomic.Uint64
	presented atomic.Uint64
	late      atomic.Uint64

	// lifecycle serializes Start, Stop and SwapSurface.
	lifecycle sync.Mutex

	mu        sync.Mutex
	state     State
	surface   media.Surface
	source    media.Source
	resolved  bool
	passID    string
	startedAt time.Time
	lastErr   error
	fatal     error
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates an idle engine.
func New(cfg Config, opener media.Opener, decoders media.DecoderFactory, logger zerolog.Logger, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:      cfg,
		opener:   opener,
		decoders: decoders,
		logger:   logger.With().Str("component", "playback").Logger(),
		tempo:    NewTempo(cfg.DefaultBPM),
		state:    StateIdle,
		source:   media.Source{Locator: cfg.Locator},
	}
	e.rate.Store(speed.Natural)
	for _, opt := range opts {
		opt(e)
	}
	telemetry.SetPlaybackState(string(StateIdle), States)
	telemetry.TempoBPM.Set(cfg.DefaultBPM)
	return e
}

// Start resolves the source on first use and launches the decode loop. ctx
// bounds resolution only; the loop runs until Stop or a fatal source error.
func (e *Engine) Start(ctx context.Context, surface media.Surface) error {
	if surface == nil {
		return ErrNoSurface
	}

	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.mu.Lock()
	state := e.state
	e.mu.Unlock()
	if state.Active() {
		return fmt.Errorf("playback: already %s", state)
	}

	if err := e.resolve(ctx); err != nil {
		e.mu.Lock()
		e.fatal = err
		e.lastErr = err
		e.mu.Unlock()
		e.setState(StateFailed)
		return err
	}

	e.mu.Lock()
	e.surface = surface
	e.fatal = nil
	e.startedAt = time.Now()
	e.mu.Unlock()

	e.launch(context.WithoutCancel(ctx))
	e.logger.Info().
		Str("locator", e.cfg.Locator).
		Float64("bpm", e.tempo.Get()).
		Msg("playback started")
	return nil
}

// Stop cancels the loop and waits until the in-flight pass has released its
// decoder and demuxer. It is safe to call repeatedly.
func (e *Engine) Stop() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if !e.halt() {
		return
	}

	e.mu.Lock()
	if e.state != StateFailed {
		e.state = StateStopped
	}
	state := e.state
	e.mu.Unlock()
	e.publishState(state)
	e.logger.Info().Msg("playback stopped")
}

// SwapSurface replaces the presentation target. A running loop is stopped,
// then restarted with a fresh pass on the new surface.
func (e *Engine) SwapSurface(ctx context.Context, surface media.Surface) error {
	if surface == nil {
		return ErrNoSurface
	}

	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.mu.Lock()
	running := e.state.Active()
	e.mu.Unlock()

	if running {
		e.halt()
	}

	e.mu.Lock()
	e.surface = surface
	e.mu.Unlock()

	if running {
		e.launch(context.WithoutCancel(ctx))
		e.logger.Info().Msg("surface swapped")
	}
	return nil
}

// SetBPM updates the tempo. The new value applies from the next pass.
func (e *Engine) SetBPM(bpm float64) error {
	prev, err := e.tempo.Set(bpm)
	if err != nil {
		e.logger.Warn().Float64("bpm", bpm).Msg("ignoring invalid tempo")
		return err
	}
	if prev == bpm {
		return nil
	}
	telemetry.TempoBPM.Set(bpm)
	e.logger.Info().Float64("bpm", bpm).Float64("previous", prev).Msg("tempo changed")
	e.publish(events.EventTempoChanged, events.Payload{"bpm": bpm, "previous": prev})
	return nil
}

// BPM returns the current tempo.
func (e *Engine) BPM() float64 {
	return e.tempo.Get()
}

// State returns the lifecycle phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Done is closed when the current loop exits, whether through Stop or a
// fatal error. Before the first Start it returns a closed channel.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return e.done
}

// Err returns the fatal error that ended the loop, if any.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fatal
}

// resolve reads the source's intrinsic duration once. Only ErrInvalidSource
// aborts; other failures leave the duration unknown and the first successful
// pass fills it in.
func (e *Engine) resolve(ctx context.Context) error {
	e.mu.Lock()
	done := e.resolved
	e.mu.Unlock()
	if done {
		return nil
	}

	e.setState(StateResolving)
	src, err := e.probe(ctx)
	switch {
	case err == nil:
	case errors.Is(err, media.ErrInvalidSource):
		e.logger.Error().Err(err).Str("locator", e.cfg.Locator).Msg("source cannot be played")
		return err
	default:
		e.logger.Warn().Err(err).Str("locator", e.cfg.Locator).Msg("duration unknown, resolving on first pass")
		src = media.Source{Locator: e.cfg.Locator}
	}

	e.mu.Lock()
	e.source = src
	e.resolved = src.DurationMs > 0
	e.mu.Unlock()
	return nil
}

func (e *Engine) probe(ctx context.Context) (media.Source, error) {
	demux, err := e.opener.Open(ctx, e.cfg.Locator)
	if err != nil {
		return media.Source{}, fmt.Errorf("open %s: %w", e.cfg.Locator, err)
	}
	defer e.closeQuietly("demuxer", demux.Close)

	src := media.Source{Locator: e.cfg.Locator}
	track, ok := media.FirstVideoTrack(demux.Tracks())
	if !ok {
		return src, media.ErrNoVideoTrack
	}
	src.TrackIndex = track.Index
	src.DurationMs = float64(track.Duration) / float64(time.Millisecond)
	return src, nil
}

// learnDuration records the duration declared by track if none is known yet
// and returns the duration to solve against.
func (e *Engine) learnDuration(track media.Track) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.source.DurationMs <= 0 && track.Duration > 0 {
		e.source.DurationMs = float64(track.Duration) / float64(time.Millisecond)
		e.source.TrackIndex = track.Index
		e.resolved = true
	}
	return e.source.DurationMs
}

// launch starts the loop goroutine. Callers hold lifecycle.
func (e *Engine) launch(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	e.mu.Lock()
	if e.cancel != nil {
		// left over from a loop that ended on its own
		e.cancel()
	}
	e.cancel = cancel
	e.done = done
	surface := e.surface
	e.mu.Unlock()

	e.setState(StateRunning)
	go e.loop(ctx, surface, done)
}

// halt cancels the loop and waits for it. Callers hold lifecycle. It reports
// whether a loop had been launched.
func (e *Engine) halt() bool {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel = nil
	e.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	<-done
	return true
}

func (e *Engine) loop(ctx context.Context, surface media.Surface, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		err := e.runPass(ctx, surface)
		switch {
		case err == nil:
			telemetry.PlaybackPassesTotal.WithLabelValues("completed").Inc()
			e.recordError(nil)
			continue
		case ctx.Err() != nil:
			telemetry.PlaybackPassesTotal.WithLabelValues("cancelled").Inc()
			return
		case errors.Is(err, media.ErrInvalidSource):
			telemetry.PlaybackPassesTotal.WithLabelValues("fatal").Inc()
			e.fail(err)
			return
		case errors.Is(err, media.ErrNoVideoTrack):
			telemetry.PlaybackPassesTotal.WithLabelValues("no_video").Inc()
			e.logger.Warn().Str("locator", e.cfg.Locator).Msg("no video track, skipping pass")
		default:
			telemetry.PlaybackPassesTotal.WithLabelValues("error").Inc()
			e.logger.Warn().Err(err).Dur("retry_in", e.cfg.RetryDelay).Msg("pass failed")
		}

		e.recordError(err)
		e.publish(events.EventPassFailed, events.Payload{"error": err.Error()})
		e.setState(StateRunning)

		timer := time.NewTimer(e.cfg.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (e *Engine) fail(err error) {
	e.mu.Lock()
	e.fatal = err
	e.lastErr = err
	e.state = StateFailed
	e.mu.Unlock()

	telemetry.SetPlaybackState(string(StateFailed), States)
	e.publishState(StateFailed)
	e.logger.Error().Err(err).Str("locator", e.cfg.Locator).Msg("playback failed")
}

// recordError sets the error reported by Status; nil clears it.
func (e *Engine) recordError(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	changed := e.state != s
	e.state = s
	e.mu.Unlock()

	if changed {
		telemetry.SetPlaybackState(string(s), States)
		e.publishState(s)
	}
}

func (e *Engine) publishState(s State) {
	e.publish(events.EventEngineState, events.Payload{"state": string(s)})
}

func (e *Engine) publish(t events.EventType, p events.Payload) {
	if e.bus != nil {
		e.bus.Publish(t, p)
	}
}

func (e *Engine) closeQuietly(what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		e.logger.Debug().Err(err).Str("resource", what).Msg("close failed")
	}
}
