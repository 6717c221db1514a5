/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package tempo

import (
	"context"
	"errors"
	"testing"
)

func TestIdentityKeyIgnoresCaseAndSpace(t *testing.T) {
	a := Identity{Artist: "Daft Punk ", Title: "Around The World"}
	b := Identity{Artist: "daft punk", Title: " around the world"}
	if a.Key() != b.Key() {
		t.Fatalf("keys differ: %q vs %q", a.Key(), b.Key())
	}
	if a.Key() == (Identity{Artist: "Daft", Title: "Punk Around The World"}).Key() {
		t.Fatal("artist/title boundary must be part of the key")
	}
}

func TestFixed(t *testing.T) {
	if bpm, err := Fixed(128).FetchBPM(context.Background(), "a", "b"); err != nil || bpm != 128 {
		t.Fatalf("Fixed(128) = %v, %v", bpm, err)
	}
	if _, err := Fixed(0).FetchBPM(context.Background(), "a", "b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Fixed(0) err = %v", err)
	}
}

func TestFirstOf(t *testing.T) {
	boom := errors.New("timeout")
	notFound := SourceFunc(func(context.Context, string, string) (float64, error) { return 0, ErrNotFound })
	failing := SourceFunc(func(context.Context, string, string) (float64, error) { return 0, boom })

	tests := []struct {
		name    string
		sources []Source
		want    float64
		wantErr error
	}{
		{"first answer wins", []Source{Fixed(100), Fixed(140)}, 100, nil},
		{"skips not found", []Source{notFound, Fixed(140)}, 140, nil},
		{"skips errors", []Source{failing, Fixed(90)}, 90, nil},
		{"all not found", []Source{notFound, notFound}, 0, ErrNotFound},
		{"error beats not found", []Source{notFound, failing}, 0, boom},
		{"empty", nil, 0, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FirstOf(tt.sources...).FetchBPM(context.Background(), "a", "t")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("got %v, %v; want %v", got, err, tt.want)
			}
		})
	}
}

type memCache struct {
	name string
	data map[string]float64
	err  error
	sets int
}

func newMemCache(name string) *memCache {
	return &memCache{name: name, data: map[string]float64{}}
}

func (m *memCache) Name() string { return m.name }

func (m *memCache) GetTempo(ctx context.Context, id Identity) (float64, bool, error) {
	if m.err != nil {
		return 0, false, m.err
	}
	bpm, ok := m.data[id.Key()]
	return bpm, ok, nil
}

func (m *memCache) SetTempo(ctx context.Context, id Identity, bpm float64, source string) error {
	m.sets++
	m.data[id.Key()] = bpm
	return nil
}

func TestWithCacheReadThrough(t *testing.T) {
	src := &mapSource{bpm: map[string]float64{"A/t": 111}}
	fast, slow := newMemCache("redis"), newMemCache("db")
	cachedSrc := WithCache(src, fast, slow)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		bpm, err := cachedSrc.FetchBPM(ctx, "A", "t")
		if err != nil || bpm != 111 {
			t.Fatalf("fetch %d = %v, %v", i, bpm, err)
		}
	}
	if src.calls.Load() != 1 {
		t.Fatalf("source calls = %d, want 1", src.calls.Load())
	}
	if fast.sets != 1 || slow.sets != 1 {
		t.Fatalf("sets fast=%d slow=%d", fast.sets, slow.sets)
	}
}

func TestWithCacheBackfillsEarlierLayers(t *testing.T) {
	src := &mapSource{}
	fast, slow := newMemCache("redis"), newMemCache("db")
	slow.data[Identity{Artist: "A", Title: "t"}.Key()] = 97

	bpm, err := WithCache(src, fast, slow).FetchBPM(context.Background(), "A", "t")
	if err != nil || bpm != 97 {
		t.Fatalf("fetch = %v, %v", bpm, err)
	}
	if src.calls.Load() != 0 {
		t.Fatal("source consulted despite a cache hit")
	}
	if fast.data[Identity{Artist: "A", Title: "t"}.Key()] != 97 {
		t.Fatal("hit not copied into the earlier cache")
	}
}

func TestWithCacheTreatsErrorsAsMiss(t *testing.T) {
	src := &mapSource{bpm: map[string]float64{"A/t": 120}}
	broken := newMemCache("redis")
	broken.err = errors.New("dial tcp: refused")

	bpm, err := WithCache(src, broken).FetchBPM(context.Background(), "A", "t")
	if err != nil || bpm != 120 {
		t.Fatalf("fetch = %v, %v", bpm, err)
	}
}

func TestWithCacheDoesNotStoreMisses(t *testing.T) {
	src := &mapSource{}
	c := newMemCache("redis")
	if _, err := WithCache(src, c).FetchBPM(context.Background(), "A", "none"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if c.sets != 0 {
		t.Fatal("not-found result was cached")
	}
}
