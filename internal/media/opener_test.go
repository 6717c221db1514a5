/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type stubResolver struct {
	path string
	err  error
}

func (r stubResolver) Resolve(context.Context, string) (string, error) { return r.path, r.err }

type stubProber struct {
	info Info
	err  error
}

func (p stubProber) Probe(context.Context, string) (Info, error) { return p.info, p.err }

type stubDemuxer struct{ tracks []Track }

func (d stubDemuxer) Tracks() []Track                            { return d.tracks }
func (d stubDemuxer) SelectTrack(int) error                      { return nil }
func (d stubDemuxer) ReadSample(context.Context) (Sample, error) { return Sample{}, io.EOF }
func (d stubDemuxer) Close() error                               { return nil }

func openWith() DemuxerFunc {
	return func(got Info) (Demuxer, error) {
		return stubDemuxer{tracks: got.Tracks}, nil
	}
}

func TestOpenerPassesProbedTracks(t *testing.T) {
	info := Info{Duration: 3 * time.Second, Tracks: []Track{{Index: 0, MIME: "video/x-h264", Duration: 3 * time.Second}}}
	var seen Info
	o := NewOpener(stubResolver{path: "/tmp/loop.mp4"}, stubProber{info: info}, func(got Info) (Demuxer, error) {
		seen = got
		return stubDemuxer{tracks: got.Tracks}, nil
	}, zerolog.Nop())

	d, err := o.Open(context.Background(), "file:///tmp/loop.mp4")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(d.Tracks()) != 1 || seen.Path != "/tmp/loop.mp4" {
		t.Fatalf("tracks=%v path=%q", d.Tracks(), seen.Path)
	}
}

func TestOpenerClassifiesFailures(t *testing.T) {
	resolveErr := errors.New("connection reset")
	tests := []struct {
		name    string
		opener  *ProbingOpener
		invalid bool
	}{
		{
			name:   "resolver error passes through",
			opener: NewOpener(stubResolver{err: resolveErr}, stubProber{}, openWith(), zerolog.Nop()),
		},
		{
			name:    "unreadable container",
			opener:  NewOpener(stubResolver{path: "/x"}, fakeDiscoverer(t, "echo 'could not determine type of stream' >&2\nexit 1"), openWith(), zerolog.Nop()),
			invalid: true,
		},
		{
			name:   "probe killed by a signal",
			opener: NewOpener(stubResolver{path: "/x"}, fakeDiscoverer(t, "kill -9 $$"), openWith(), zerolog.Nop()),
		},
		{
			name:   "missing probe binary",
			opener: NewOpener(stubResolver{path: "/x"}, stubProber{err: exec.ErrNotFound}, openWith(), zerolog.Nop()),
		},
		{
			name:    "nothing readable",
			opener:  NewOpener(stubResolver{path: "/x"}, stubProber{info: Info{}}, openWith(), zerolog.Nop()),
			invalid: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.opener.Open(context.Background(), "/x")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, ErrInvalidSource); got != tt.invalid {
				t.Fatalf("invalid = %v, want %v (%v)", got, tt.invalid, err)
			}
		})
	}
}

func TestOpenerAudioOnlyIsNotInvalid(t *testing.T) {
	o := NewOpener(stubResolver{path: "/x.mp3"}, stubProber{info: Info{Duration: time.Minute}}, openWith(), zerolog.Nop())
	d, err := o.Open(context.Background(), "/x.mp3")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := FirstVideoTrack(d.Tracks()); ok {
		t.Fatal("audio-only source reported a video track")
	}
}

func TestOpenerDeadlineIsNotInvalid(t *testing.T) {
	o := NewOpener(stubResolver{path: "/x"}, fakeDiscoverer(t, "sleep 5"), openWith(), zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := o.Open(ctx, "/x")
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrInvalidSource) {
		t.Fatalf("timed out probe classified as invalid: %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if elapsed > 3*time.Second {
		t.Fatalf("Open took %v after its deadline", elapsed)
	}
}
