/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package pacer schedules frame presentation against a rate-scaled clock
// rooted at the start of a decode pass.
package pacer

import (
	"context"
	"time"
)

// Pacer computes presentation deadlines for one pass. It is not safe for
// concurrent use; each pass owns its own Pacer.
type Pacer struct {
	rate  float64
	start time.Time
	now   func() time.Time
}

// Option customizes a Pacer.
type Option func(*Pacer)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pacer) {
		p.now = now
	}
}

// New starts a pacer for a pass at the given rate. The pass clock starts now.
// Non-positive rates are treated as natural speed.
func New(rate float64, opts ...Option) *Pacer {
	p := &Pacer{rate: rate, now: time.Now}
	if p.rate <= 0 {
		p.rate = 1
	}
	for _, opt := range opts {
		opt(p)
	}
	p.start = p.now()
	return p
}

// Rate returns the playback rate of the pass.
func (p *Pacer) Rate() float64 {
	return p.rate
}

// Start returns the pass start instant.
func (p *Pacer) Start() time.Time {
	return p.start
}

// Deadline maps a source presentation timestamp onto the pass clock.
func (p *Pacer) Deadline(pts time.Duration) time.Duration {
	return time.Duration(float64(pts) / p.rate)
}

// WaitFor returns how long to hold a frame with the given timestamp when the
// current instant is now. Zero or negative means the frame is due or late.
func (p *Pacer) WaitFor(pts time.Duration, now time.Time) time.Duration {
	return p.Deadline(pts) - now.Sub(p.start)
}

// Wait blocks until the frame is due. It returns the computed wait (negative
// for late frames) and ctx.Err() if the context ends first.
func (p *Pacer) Wait(ctx context.Context, pts time.Duration) (time.Duration, error) {
	wait := p.WaitFor(pts, p.now())
	if wait <= 0 {
		return wait, ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return wait, ctx.Err()
	case <-timer.C:
		return wait, nil
	}
}
