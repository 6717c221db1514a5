/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package tempo connects a now-playing feed to the playback engine: each new
// track is looked up once and its BPM, when known, becomes the engine tempo.
package tempo

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound means the source has no tempo for the track.
var ErrNotFound = errors.New("tempo not found")

// Track is a now-playing entry.
type Track struct {
	Artist string `json:"artist"`
	Title  string `json:"title"`
	ID     string `json:"id,omitempty"` // provider-specific, informational
}

// Identity is the change-detection key of a track.
type Identity struct {
	Artist string
	Title  string
}

// Identity returns the track's (artist, title) key.
func (t Track) Identity() Identity {
	return Identity{Artist: t.Artist, Title: t.Title}
}

// Key is a stable, case-insensitive string form used by caches and storage.
func (id Identity) Key() string {
	return strings.ToLower(strings.TrimSpace(id.Artist)) + "\x1f" + strings.ToLower(strings.TrimSpace(id.Title))
}

func (id Identity) String() string {
	return fmt.Sprintf("%s - %s", id.Artist, id.Title)
}

// Source looks up the tempo of a track. Implementations return ErrNotFound
// (possibly wrapped) when the track has no known tempo.
type Source interface {
	FetchBPM(ctx context.Context, artist, title string) (float64, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, artist, title string) (float64, error)

// FetchBPM calls fn.
func (fn SourceFunc) FetchBPM(ctx context.Context, artist, title string) (float64, error) {
	return fn(ctx, artist, title)
}

// NowPlaying reports the track currently playing. A nil track with a nil
// error means nothing is playing.
type NowPlaying interface {
	CurrentTrack(ctx context.Context) (*Track, error)
}

// Setter receives resolved tempos. The playback engine implements it.
type Setter interface {
	SetBPM(bpm float64) error
}

// Named is implemented by sources that report a label for metrics and logs.
type Named interface {
	Name() string
}

func nameOf(v any) string {
	if n, ok := v.(Named); ok {
		return n.Name()
	}
	return "custom"
}

// Fixed is a source answering every lookup with the same tempo.
type Fixed float64

// FetchBPM returns the fixed tempo.
func (f Fixed) FetchBPM(context.Context, string, string) (float64, error) {
	if f <= 0 {
		return 0, ErrNotFound
	}
	return float64(f), nil
}

// Name implements Named.
func (Fixed) Name() string { return "fixed" }

// chain tries sources in order.
type chain []Source

// FirstOf returns a source that asks each source in turn and answers with the
// first tempo found. Errors other than ErrNotFound are remembered and
// returned only when no source has an answer.
func FirstOf(sources ...Source) Source {
	return chain(sources)
}

func (c chain) FetchBPM(ctx context.Context, artist, title string) (float64, error) {
	var errs []error
	for _, src := range c {
		bpm, err := src.FetchBPM(ctx, artist, title)
		if err == nil {
			return bpm, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if !errors.Is(err, ErrNotFound) {
			errs = append(errs, fmt.Errorf("%s: %w", nameOf(src), err))
		}
	}
	if len(errs) > 0 {
		return 0, errors.Join(errs...)
	}
	return 0, ErrNotFound
}

func (c chain) Name() string {
	names := make([]string, len(c))
	for i, src := range c {
		names[i] = nameOf(src)
	}
	return strings.Join(names, "+")
}
