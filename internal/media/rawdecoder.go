/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"
)

// DefaultRawDepth is the number of frames a RawDecoder buffers.
const DefaultRawDepth = 4

var (
	errNotStarted    = errors.New("decoder not started")
	errDecoderClosed = errors.New("decoder closed")
	errOverRelease   = errors.New("frame released more often than dequeued")
)

// RawDecoders creates RawDecoders for backends whose demuxers already emit
// raw video (GStreamer decodebin pipelines).
type RawDecoders struct {
	Depth int
}

// NewDecoder implements DecoderFactory.
func (f RawDecoders) NewDecoder(track Track) (Decoder, error) {
	if !track.IsVideo() {
		return nil, fmt.Errorf("no decoder for %q", track.MIME)
	}
	return NewRawDecoder(f.Depth), nil
}

// RawDecoder is the decoder stage for raw samples: a bounded frame queue
// that keeps the input/output buffer discipline of a hardware codec.
type RawDecoder struct {
	queue chan Frame

	mu          sync.Mutex
	configured  bool
	started     bool
	closed      bool
	width       int
	height      int
	format      string
	outstanding int
}

// NewRawDecoder creates a decoder holding at most depth frames.
func NewRawDecoder(depth int) *RawDecoder {
	if depth <= 0 {
		depth = DefaultRawDepth
	}
	return &RawDecoder{queue: make(chan Frame, depth), format: "RGBA"}
}

// Configure implements Decoder.
func (d *RawDecoder) Configure(track Track) error {
	if !track.IsVideo() {
		return fmt.Errorf("configure: %q is not a video track", track.MIME)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errDecoderClosed
	}
	d.width, d.height = track.Width, track.Height
	d.configured = true
	return nil
}

// Start implements Decoder.
func (d *RawDecoder) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.closed:
		return errDecoderClosed
	case !d.configured:
		return errors.New("start: decoder not configured")
	}
	d.started = true
	return nil
}

// QueueInput implements Decoder.
func (d *RawDecoder) QueueInput(ctx context.Context, s Sample, timeout time.Duration) error {
	f, err := d.frameFor(s)
	if err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case d.queue <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTryAgain
	}
}

func (d *RawDecoder) frameFor(s Sample) (Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.closed:
		return Frame{}, errDecoderClosed
	case !d.started:
		return Frame{}, errNotStarted
	}

	if s.Caps != "" {
		w, h, format := ParseRawCaps(s.Caps)
		if w > 0 && h > 0 {
			d.width, d.height = w, h
		}
		if format != "" {
			d.format = format
		}
	}
	return Frame{
		PTS:    s.PTS,
		Data:   s.Data,
		Width:  d.width,
		Height: d.height,
		Format: d.format,
		EOS:    s.EOS,
	}, nil
}

// DequeueOutput implements Decoder.
func (d *RawDecoder) DequeueOutput(ctx context.Context, timeout time.Duration) (Frame, error) {
	d.mu.Lock()
	if !d.started || d.closed {
		d.mu.Unlock()
		return Frame{}, errNotStarted
	}
	d.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-d.queue:
		d.mu.Lock()
		d.outstanding++
		d.mu.Unlock()
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-timer.C:
		return Frame{}, ErrTryAgain
	}
}

// ReleaseFrame implements Decoder.
func (d *RawDecoder) ReleaseFrame(Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.outstanding == 0 {
		return errOverRelease
	}
	d.outstanding--
	return nil
}

// Outstanding returns the number of dequeued frames not yet released.
func (d *RawDecoder) Outstanding() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outstanding
}

// Close implements Decoder. Queued frames are discarded.
func (d *RawDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	for {
		select {
		case <-d.queue:
		default:
			return nil
		}
	}
}

var (
	capsWidthRegex  = regexp.MustCompile(`width=\(int\)(\d+)`)
	capsHeightRegex = regexp.MustCompile(`height=\(int\)(\d+)`)
	capsFormatRegex = regexp.MustCompile(`format=\(string\)([A-Za-z0-9_]+)`)
)

// ParseRawCaps extracts width, height and pixel format from a serialized
// video/x-raw caps string.
func ParseRawCaps(caps string) (width, height int, format string) {
	if m := capsWidthRegex.FindStringSubmatch(caps); m != nil {
		width, _ = strconv.Atoi(m[1])
	}
	if m := capsHeightRegex.FindStringSubmatch(caps); m != nil {
		height, _ = strconv.Atoi(m[1])
	}
	if m := capsFormatRegex.FindStringSubmatch(caps); m != nil {
		format = m[1]
	}
	return width, height, format
}
