/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/beatsync/internal/events"
	"github.com/friendsincode/beatsync/internal/media"
	"github.com/friendsincode/beatsync/internal/tempo"
)

// timedSurface remembers when each frame reached it.
type timedSurface struct {
	mu sync.Mutex
	at []time.Time
}

func (s *timedSurface) Present(ctx context.Context, f media.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.at = append(s.at, time.Now())
	return nil
}

func (s *timedSurface) times() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.at...)
}

// playingNow is a now-playing feed the test switches between tracks.
type playingNow struct {
	mu    sync.Mutex
	track tempo.Track
}

func (p *playingNow) CurrentTrack(context.Context) (*tempo.Track, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.track
	return &t, nil
}

func (p *playingNow) play(t tempo.Track) {
	p.mu.Lock()
	p.track = t
	p.mu.Unlock()
}

func TestBridgeTempoChangeWaitsForNextPass(t *testing.T) {
	var lookupBPM atomic.Value
	lookupBPM.Store(100.0)
	source := tempo.SourceFunc(func(context.Context, string, string) (float64, error) {
		return lookupBPM.Load().(float64), nil
	})

	// A 3000ms loop: 4 beats at 100 BPM is 2400ms (rate 1.25), at 120 BPM
	// 2000ms (rate 1.5). Frames sit 600ms apart in source time.
	res := &resources{}
	samples := []media.Sample{{PTS: 0}, {PTS: 600 * time.Millisecond}, {PTS: 1200 * time.Millisecond}}
	opener := &fakeOpener{res: res, tracks: []media.Track{videoTrack(3 * time.Second)}, samples: samples}
	bus := events.NewBus()
	passes := bus.SubscribeBuffered(events.EventPassStarted, 16)

	eng := newTestEngine(opener, &fakeDecoders{res: res}, bus)

	feed := &playingNow{track: tempo.Track{Artist: "Röyksopp", Title: "Eple"}}
	bridge := tempo.NewBridge(source, feed, eng, zerolog.Nop(), tempo.WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.Run(ctx)

	waitFor(t, time.Second, "first tempo", func() bool { return eng.BPM() == 100 })

	surface := &timedSurface{}
	if err := eng.Start(context.Background(), surface); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer eng.Stop()

	first := <-passes
	if got := first["rate"].(float64); math.Abs(got-1.25) > 1e-9 {
		t.Fatalf("first pass rate = %v, want 1.25", got)
	}

	// The pass is now holding its second frame until 480ms.
	waitFor(t, time.Second, "first frame", func() bool { return len(surface.times()) == 1 })
	lookupBPM.Store(120.0)
	feed.play(tempo.Track{Artist: "Röyksopp", Title: "Poor Leno"})
	waitFor(t, time.Second, "second tempo", func() bool { return eng.BPM() == 120 })

	if st := eng.Status(); math.Abs(st.Rate-1.25) > 1e-9 {
		t.Fatalf("rate changed mid-pass to %v", st.Rate)
	}

	select {
	case next := <-passes:
		if got := next["rate"].(float64); math.Abs(got-1.5) > 1e-9 {
			t.Fatalf("next pass rate = %v, want 1.5", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no second pass")
	}

	at := surface.times()
	if len(at) < 3 {
		t.Fatalf("first pass presented %d frames before the next began", len(at))
	}
	// Old pacing puts the third frame 960ms after the first; the new rate
	// would have put it at 800ms.
	if gap := at[2].Sub(at[0]); gap < 900*time.Millisecond {
		t.Fatalf("third frame %v after the first, tempo change leaked into the running pass", gap)
	}
}
