/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"errors"
	"testing"
	"time"
)

func startedRawDecoder(t *testing.T, depth int) *RawDecoder {
	t.Helper()
	d := NewRawDecoder(depth)
	if err := d.Configure(Track{MIME: "video/x-h264", Width: 4, Height: 2}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return d
}

func TestRawDecoderPassesFramesInOrder(t *testing.T) {
	d := startedRawDecoder(t, 4)
	defer d.Close()
	ctx := context.Background()

	caps := "video/x-raw, format=(string)RGBA, width=(int)8, height=(int)6, framerate=(fraction)30/1"
	if err := d.QueueInput(ctx, Sample{PTS: 0, Data: []byte{1}, Caps: caps}, time.Millisecond); err != nil {
		t.Fatalf("QueueInput: %v", err)
	}
	if err := d.QueueInput(ctx, Sample{PTS: 40 * time.Millisecond, Data: []byte{2}}, time.Millisecond); err != nil {
		t.Fatalf("QueueInput: %v", err)
	}
	if err := d.QueueInput(ctx, Sample{EOS: true}, time.Millisecond); err != nil {
		t.Fatalf("QueueInput EOS: %v", err)
	}

	var got []Frame
	for i := 0; i < 3; i++ {
		f, err := d.DequeueOutput(ctx, time.Millisecond)
		if err != nil {
			t.Fatalf("DequeueOutput %d: %v", i, err)
		}
		got = append(got, f)
		if err := d.ReleaseFrame(f); err != nil {
			t.Fatalf("ReleaseFrame: %v", err)
		}
	}

	if got[0].Width != 8 || got[0].Height != 6 || got[0].Format != "RGBA" {
		t.Fatalf("first frame geometry = %dx%d %s", got[0].Width, got[0].Height, got[0].Format)
	}
	if got[1].PTS != 40*time.Millisecond || got[1].Width != 8 {
		t.Fatalf("second frame = %+v", got[1])
	}
	if !got[2].EOS {
		t.Fatal("third frame should be EOS")
	}
	if d.Outstanding() != 0 {
		t.Fatalf("outstanding = %d", d.Outstanding())
	}
}

func TestRawDecoderTryAgain(t *testing.T) {
	d := startedRawDecoder(t, 1)
	defer d.Close()
	ctx := context.Background()

	if _, err := d.DequeueOutput(ctx, time.Millisecond); !errors.Is(err, ErrTryAgain) {
		t.Fatalf("empty DequeueOutput err = %v, want ErrTryAgain", err)
	}
	if err := d.QueueInput(ctx, Sample{Data: []byte{1}}, time.Millisecond); err != nil {
		t.Fatalf("QueueInput: %v", err)
	}
	if err := d.QueueInput(ctx, Sample{Data: []byte{2}}, time.Millisecond); !errors.Is(err, ErrTryAgain) {
		t.Fatalf("full QueueInput err = %v, want ErrTryAgain", err)
	}
}

func TestRawDecoderLifecycleErrors(t *testing.T) {
	d := NewRawDecoder(0)
	if err := d.Start(); err == nil {
		t.Fatal("Start before Configure should fail")
	}
	if err := d.Configure(Track{MIME: "audio/mpeg"}); err == nil {
		t.Fatal("Configure with audio track should fail")
	}
	if err := d.QueueInput(context.Background(), Sample{}, time.Millisecond); err == nil {
		t.Fatal("QueueInput before Start should fail")
	}
	if err := d.ReleaseFrame(Frame{}); !errors.Is(err, errOverRelease) {
		t.Fatalf("ReleaseFrame err = %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestRawDecoderHonoursContext(t *testing.T) {
	d := startedRawDecoder(t, 1)
	defer d.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := d.DequeueOutput(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("DequeueOutput err = %v, want context.Canceled", err)
	}
}

func TestRawDecodersRejectsNonVideo(t *testing.T) {
	if _, err := (RawDecoders{}).NewDecoder(Track{MIME: "audio/mpeg"}); err == nil {
		t.Fatal("expected error for audio track")
	}
	if _, err := (RawDecoders{Depth: 2}).NewDecoder(Track{MIME: "video/x-vp9"}); err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
}

func TestParseRawCaps(t *testing.T) {
	w, h, f := ParseRawCaps("video/x-raw, format=(string)GRAY8, width=(int)640, height=(int)360")
	if w != 640 || h != 360 || f != "GRAY8" {
		t.Fatalf("got %d %d %q", w, h, f)
	}
	w, h, f = ParseRawCaps("audio/x-raw")
	if w != 0 || h != 0 || f != "" {
		t.Fatalf("non-video caps parsed as %d %d %q", w, h, f)
	}
}
