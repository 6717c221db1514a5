/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package pacer

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestWaitForFirstFrame(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	p := New(1.0, WithClock(fixedClock(t0)))

	if wait := p.WaitFor(0, t0); wait > 0 {
		t.Errorf("wait at t0 = %v, want <= 0", wait)
	}
	if wait := p.WaitFor(0, t0.Add(time.Millisecond)); wait > 0 {
		t.Errorf("wait after t0 = %v, want <= 0", wait)
	}
	if wait := p.WaitFor(40*time.Millisecond, t0); wait <= 0 {
		t.Errorf("wait before deadline = %v, want > 0", wait)
	}
}

func TestDeadlineScalesWithRate(t *testing.T) {
	t0 := time.Unix(1700000000, 0)

	tests := []struct {
		rate float64
		pts  time.Duration
		want time.Duration
	}{
		{1.0, time.Second, time.Second},
		{2.0, time.Second, 500 * time.Millisecond},
		{0.5, time.Second, 2 * time.Second},
		{1.25, 100 * time.Millisecond, 80 * time.Millisecond},
		{0, time.Second, time.Second},
		{-3, time.Second, time.Second},
	}

	for _, tt := range tests {
		p := New(tt.rate, WithClock(fixedClock(t0)))
		if got := p.Deadline(tt.pts); got != tt.want {
			t.Errorf("rate %v: Deadline(%v) = %v, want %v", tt.rate, tt.pts, got, tt.want)
		}
	}
}

func TestWaitForLateFrame(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	p := New(2.0, WithClock(fixedClock(t0)))

	// 100ms of source at 2x is due 50ms into the pass.
	if got := p.WaitFor(100*time.Millisecond, t0.Add(80*time.Millisecond)); got != -30*time.Millisecond {
		t.Fatalf("expected -30ms, got %v", got)
	}
}

func TestWaitCancelled(t *testing.T) {
	p := New(1.0)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := p.Wait(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("cancellation took %v", elapsed)
	}
}

func TestWaitSleepsUntilDeadline(t *testing.T) {
	p := New(1.0)
	start := time.Now()
	wait, err := p.Wait(context.Background(), 30*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wait <= 0 {
		t.Fatalf("expected positive wait, got %v", wait)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Fatalf("returned after %v, expected ~30ms", elapsed)
	}
}
