/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package media defines the decode-session ports used by the playback
// engine: a demuxer yielding encoded samples of one video track and a decoder
// turning them into presentable frames. Sessions are single-pass; callers open
// a fresh pair for every loop and close both when the pass ends.
package media

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrInvalidSource marks a locator that can never be played (missing
	// file, unsupported scheme, unreadable container). It is fatal.
	ErrInvalidSource = errors.New("invalid media source")

	// ErrNoVideoTrack is returned when a source resolves but carries no video.
	ErrNoVideoTrack = errors.New("no video track")

	// ErrTryAgain signals that a bounded buffer wait timed out.
	ErrTryAgain = errors.New("try again")
)

// Track describes one elementary stream in a container.
type Track struct {
	Index    int
	MIME     string // e.g. "video/x-h264"
	Duration time.Duration
	Width    int
	Height   int
}

// IsVideo reports whether the track carries video.
func (t Track) IsVideo() bool {
	return strings.HasPrefix(t.MIME, "video/")
}

// FirstVideoTrack returns the first video track in tracks.
func FirstVideoTrack(tracks []Track) (Track, bool) {
	for _, t := range tracks {
		if t.IsVideo() {
			return t, true
		}
	}
	return Track{}, false
}

// Source is a resolved media resource.
type Source struct {
	Locator    string
	DurationMs float64
	TrackIndex int
}

// Sample is one encoded access unit read from a demuxer.
type Sample struct {
	Data []byte
	PTS  time.Duration
	Caps string // stream caps, set on at least the first sample
	EOS  bool
}

// Frame is one decoded picture.
type Frame struct {
	PTS    time.Duration
	Data   []byte
	Width  int
	Height int
	Format string // pixel format, e.g. "RGBA"
	EOS    bool
}

// Demuxer reads encoded samples of a selected track.
type Demuxer interface {
	Tracks() []Track
	SelectTrack(index int) error
	// ReadSample returns the next sample or io.EOF when the track is exhausted.
	ReadSample(ctx context.Context) (Sample, error)
	Close() error
}

// Opener resolves a locator and opens a fresh demuxer for one pass.
type Opener interface {
	Open(ctx context.Context, locator string) (Demuxer, error)
}

// Decoder turns samples into frames. QueueInput and DequeueOutput wait at most
// timeout and return ErrTryAgain when no buffer became available.
type Decoder interface {
	Configure(track Track) error
	Start() error
	QueueInput(ctx context.Context, s Sample, timeout time.Duration) error
	DequeueOutput(ctx context.Context, timeout time.Duration) (Frame, error)
	// ReleaseFrame hands the frame buffer back to the decoder.
	ReleaseFrame(f Frame) error
	Close() error
}

// DecoderFactory creates a decoder suitable for a track.
type DecoderFactory interface {
	NewDecoder(track Track) (Decoder, error)
}

// Surface is the presentation target owned by the engine while it runs.
type Surface interface {
	Present(ctx context.Context, f Frame) error
}

// SurfaceFunc adapts a function to Surface.
type SurfaceFunc func(ctx context.Context, f Frame) error

// Present calls fn.
func (fn SurfaceFunc) Present(ctx context.Context, f Frame) error {
	return fn(ctx, f)
}
