/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/beatsync/internal/events"
	"github.com/friendsincode/beatsync/internal/tempo"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{subject: subject, data: data})
	return p.err
}

func (p *fakePublisher) snapshot() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

func newTestBus(pub publisher) *NATSBus {
	return &NATSBus{pub: pub, prefix: "beatsync", nodeID: "node-a", logger: zerolog.Nop()}
}

func TestDecodeNowPlaying(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    tempo.Track
		wantErr error
	}{
		{name: "valid", body: `{"artist":"Moby","title":"Porcelain","id":"abc"}`, want: tempo.Track{Artist: "Moby", Title: "Porcelain", ID: "abc"}},
		{name: "trimmed", body: `{"artist":"  Moby ","title":" Porcelain"}`, want: tempo.Track{Artist: "Moby", Title: "Porcelain"}},
		{name: "missing title", body: `{"artist":"Moby"}`, wantErr: ErrEmptyTrack},
		{name: "blank artist", body: `{"artist":"  ","title":"x"}`, wantErr: ErrEmptyTrack},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeNowPlaying([]byte(tt.body))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}

	if _, err := DecodeNowPlaying([]byte("not json")); err == nil {
		t.Fatal("expected error for malformed body")
	}
}

func TestHandleNowPlayingDropsInvalid(t *testing.T) {
	nb := newTestBus(&fakePublisher{})
	var got []tempo.Track
	handle := func(tr tempo.Track) { got = append(got, tr) }

	nb.handleNowPlaying([]byte(`{"artist":"","title":""}`), handle)
	nb.handleNowPlaying([]byte(`{"artist":"Air","title":"Sexy Boy"}`), handle)

	if len(got) != 1 || got[0].Title != "Sexy Boy" {
		t.Fatalf("handled = %+v", got)
	}
}

func TestSubjects(t *testing.T) {
	nb := newTestBus(&fakePublisher{})
	if got := nb.NowPlayingSubject(); got != "beatsync.nowplaying" {
		t.Fatalf("NowPlayingSubject = %q", got)
	}
	if got := nb.EventSubject(events.EventTempoChanged); got != "beatsync.events.tempo.changed" {
		t.Fatalf("EventSubject = %q", got)
	}
}

func TestRelayPublishesBusEvents(t *testing.T) {
	pub := &fakePublisher{}
	nb := newTestBus(pub)
	bus := events.NewBus()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		nb.Relay(ctx, bus)
		close(done)
	}()

	// Relay subscribes asynchronously; publish until the first message lands.
	deadline := time.Now().Add(2 * time.Second)
	for len(pub.snapshot()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no event relayed")
		}
		bus.Publish(events.EventTempoChanged, events.Payload{"bpm": 128.0})
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	msg := pub.snapshot()[0]
	if msg.subject != nb.EventSubject(events.EventTempoChanged) {
		t.Fatalf("subject = %q", msg.subject)
	}
	var decoded Message
	if err := json.Unmarshal(msg.data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.EventType != events.EventTempoChanged || decoded.NodeID != "node-a" || decoded.MessageID == "" {
		t.Fatalf("envelope = %+v", decoded)
	}
	if decoded.Payload["bpm"] != 128.0 {
		t.Fatalf("payload = %+v", decoded.Payload)
	}
}

func TestPublishErrorIsNotFatal(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	nb := newTestBus(pub)

	nb.publish(events.Payload{"type": string(events.EventPassFailed), "error": "boom"})
	nb.publish(events.Payload{"no_type": true})

	if n := len(pub.snapshot()); n != 1 {
		t.Fatalf("publish attempts = %d, want 1", n)
	}
}

func TestCloseWithoutConnection(t *testing.T) {
	if err := newTestBus(&fakePublisher{}).Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPublishNowPlayingRoundTrips(t *testing.T) {
	pub := &fakePublisher{}
	nb := newTestBus(pub)

	track := tempo.Track{Artist: "Moby", Title: "Porcelain", ID: "abc"}
	if err := nb.PublishNowPlaying(track); err != nil {
		t.Fatalf("PublishNowPlaying: %v", err)
	}
	if err := nb.PublishNowPlaying(tempo.Track{Artist: "Moby"}); !errors.Is(err, ErrEmptyTrack) {
		t.Fatalf("empty title err = %v, want ErrEmptyTrack", err)
	}

	msgs := pub.snapshot()
	if len(msgs) != 1 || msgs[0].subject != "beatsync.nowplaying" {
		t.Fatalf("published %+v", msgs)
	}
	got, err := DecodeNowPlaying(msgs[0].data)
	if err != nil || got != track {
		t.Fatalf("decoded %+v, %v", got, err)
	}
}
