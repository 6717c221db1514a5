/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package tempo

import (
	"context"

	"github.com/friendsincode/beatsync/internal/telemetry"
)

// Cache stores resolved tempos by track identity. GetTempo reports ok=false
// on a miss.
type Cache interface {
	Name() string
	GetTempo(ctx context.Context, id Identity) (bpm float64, ok bool, err error)
	SetTempo(ctx context.Context, id Identity, bpm float64, source string) error
}

// Invalidator drops a stored tempo so the next lookup goes to the source.
type Invalidator interface {
	InvalidateTempo(ctx context.Context, id Identity) error
}

type cached struct {
	src    Source
	caches []Cache
}

// WithCache wraps src with read-through caches, consulted in order. A hit in
// a later cache is copied into the earlier ones. Cache failures count as
// misses.
func WithCache(src Source, caches ...Cache) Source {
	if len(caches) == 0 {
		return src
	}
	return &cached{src: src, caches: caches}
}

func (c *cached) Name() string {
	return nameOf(c.src)
}

func (c *cached) FetchBPM(ctx context.Context, artist, title string) (float64, error) {
	id := Identity{Artist: artist, Title: title}

	for i, cache := range c.caches {
		bpm, ok, err := cache.GetTempo(ctx, id)
		switch {
		case err != nil:
			telemetry.TempoCacheTotal.WithLabelValues(cache.Name(), "error").Inc()
			continue
		case !ok:
			telemetry.TempoCacheTotal.WithLabelValues(cache.Name(), "miss").Inc()
			continue
		}
		telemetry.TempoCacheTotal.WithLabelValues(cache.Name(), "hit").Inc()
		for _, earlier := range c.caches[:i] {
			_ = earlier.SetTempo(ctx, id, bpm, cache.Name())
		}
		return bpm, nil
	}

	bpm, err := c.src.FetchBPM(ctx, artist, title)
	if err != nil {
		return 0, err
	}
	for _, cache := range c.caches {
		_ = cache.SetTempo(ctx, id, bpm, nameOf(c.src))
	}
	return bpm, nil
}
