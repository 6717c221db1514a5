/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/friendsincode/beatsync/internal/media"
)

// resources counts every handle the engine opens so tests can check that each
// one is closed again.
type resources struct {
	demuxOpened atomic.Int64
	demuxClosed atomic.Int64
	decCreated  atomic.Int64
	decClosed   atomic.Int64
	released    atomic.Int64
	dequeued    atomic.Int64
}

func (r *resources) balanced() bool {
	return r.demuxOpened.Load() == r.demuxClosed.Load() &&
		r.decCreated.Load() == r.decClosed.Load() &&
		r.released.Load() == r.dequeued.Load()
}

type fakeOpener struct {
	res     *resources
	tracks  []media.Track
	samples []media.Sample

	mu      sync.Mutex
	openErr func(call int) error
	calls   int
}

func (o *fakeOpener) Open(ctx context.Context, locator string) (media.Demuxer, error) {
	o.mu.Lock()
	o.calls++
	call := o.calls
	errFn := o.openErr
	o.mu.Unlock()

	if errFn != nil {
		if err := errFn(call); err != nil {
			return nil, err
		}
	}
	o.res.demuxOpened.Add(1)
	return &fakeDemuxer{res: o.res, tracks: o.tracks, samples: o.samples}, nil
}

type fakeDemuxer struct {
	res     *resources
	tracks  []media.Track
	samples []media.Sample
	next    int
	closed  bool
}

func (d *fakeDemuxer) Tracks() []media.Track { return d.tracks }

func (d *fakeDemuxer) SelectTrack(index int) error {
	for _, t := range d.tracks {
		if t.Index == index {
			return nil
		}
	}
	return errors.New("no such track")
}

func (d *fakeDemuxer) ReadSample(ctx context.Context) (media.Sample, error) {
	if d.next >= len(d.samples) {
		return media.Sample{}, io.EOF
	}
	s := d.samples[d.next]
	d.next++
	return s, nil
}

func (d *fakeDemuxer) Close() error {
	if !d.closed {
		d.closed = true
		d.res.demuxClosed.Add(1)
	}
	return nil
}

type fakeDecoders struct {
	res          *resources
	configureErr func(n int64) error
}

func (f *fakeDecoders) NewDecoder(track media.Track) (media.Decoder, error) {
	n := f.res.decCreated.Add(1)
	return &fakeDecoder{res: f.res, n: n, configureErr: f.configureErr}, nil
}

type fakeDecoder struct {
	res          *resources
	n            int64
	configureErr func(n int64) error
	queue        []media.Frame
	closed       bool
}

func (d *fakeDecoder) Configure(track media.Track) error {
	if d.configureErr != nil {
		return d.configureErr(d.n)
	}
	return nil
}

func (d *fakeDecoder) Start() error { return nil }

func (d *fakeDecoder) QueueInput(ctx context.Context, s media.Sample, timeout time.Duration) error {
	d.queue = append(d.queue, media.Frame{PTS: s.PTS, Data: s.Data, EOS: s.EOS, Width: 2, Height: 2, Format: "RGBA"})
	return nil
}

func (d *fakeDecoder) DequeueOutput(ctx context.Context, timeout time.Duration) (media.Frame, error) {
	if len(d.queue) == 0 {
		select {
		case <-ctx.Done():
			return media.Frame{}, ctx.Err()
		case <-time.After(timeout):
			return media.Frame{}, media.ErrTryAgain
		}
	}
	f := d.queue[0]
	d.queue = d.queue[1:]
	d.res.dequeued.Add(1)
	return f, nil
}

func (d *fakeDecoder) ReleaseFrame(f media.Frame) error {
	d.res.released.Add(1)
	return nil
}

func (d *fakeDecoder) Close() error {
	if !d.closed {
		d.closed = true
		d.res.decClosed.Add(1)
	}
	return nil
}

// recordingSurface remembers presented timestamps.
type recordingSurface struct {
	mu     sync.Mutex
	frames []time.Duration
	err    error
}

func (s *recordingSurface) Present(ctx context.Context, f media.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f.PTS)
	return s.err
}

func (s *recordingSurface) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func videoTrack(duration time.Duration) media.Track {
	return media.Track{Index: 0, MIME: "video/x-h264", Duration: duration, Width: 2, Height: 2}
}

func samplesEvery(step time.Duration, n int) []media.Sample {
	out := make([]media.Sample, n)
	for i := range out {
		out[i] = media.Sample{PTS: time.Duration(i) * step, Data: []byte{byte(i)}}
	}
	return out
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
