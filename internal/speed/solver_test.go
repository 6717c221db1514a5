/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package speed

import (
	"math"
	"testing"
)

func TestSolve(t *testing.T) {
	tests := []struct {
		name       string
		durationMs float64
		bpm        float64
		min, max   float64
		want       float64
	}{
		{"no candidate in default range", 5000, 120, 0.5, 2.0, 1.0},
		{"wider range admits 2.5x", 5000, 120, 0.5, 3.0, 2.5},
		{"natural speed preferred", 2000, 120, 0.5, 2.0, 1.0},
		{"three second loop at 100 bpm", 3000, 100, 0.5, 2.0, 1.25},
		{"three second loop at 120 bpm", 3000, 120, 0.5, 2.0, 1.5},
		{"slow down short loop", 400, 120, 0.5, 2.0, 0.8},
		{"zero duration", 0, 120, 0.5, 2.0, 1.0},
		{"zero bpm", 2000, 0, 0.5, 2.0, 1.0},
		{"negative bpm", 2000, -90, 0.5, 2.0, 1.0},
		{"nan bpm", 2000, math.NaN(), 0.5, 2.0, 1.0},
		{"inf duration", math.Inf(1), 120, 0.5, 2.0, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Solve(tt.durationMs, tt.bpm, tt.min, tt.max)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Solve(%v, %v, %v, %v) = %v, want %v", tt.durationMs, tt.bpm, tt.min, tt.max, got, tt.want)
			}
		})
	}
}

func TestSolveWithinBoundsOrNatural(t *testing.T) {
	b := DefaultBounds()
	for duration := 100.0; duration <= 20000; duration += 137 {
		for bpm := 40.0; bpm <= 240; bpm += 7.5 {
			got := Solve(duration, bpm, b.Min, b.Max)
			if got != Natural && !b.Contains(got) {
				t.Fatalf("Solve(%v, %v) = %v, outside %+v", duration, bpm, got, b)
			}
		}
	}
}

func TestCandidatesTable(t *testing.T) {
	got := Candidates(5000, 120, 0.5, 2.0)
	if len(got) != len(BeatMultiples) {
		t.Fatalf("expected %d candidates, got %d", len(BeatMultiples), len(got))
	}

	wantTargets := []float64{250, 500, 1000, 2000}
	wantSpeeds := []float64{20, 10, 5, 2.5}
	for i, c := range got {
		if c.TargetMs != wantTargets[i] {
			t.Errorf("candidate %d target = %v, want %v", i, c.TargetMs, wantTargets[i])
		}
		if c.Speed != wantSpeeds[i] {
			t.Errorf("candidate %d speed = %v, want %v", i, c.Speed, wantSpeeds[i])
		}
		if c.InRange {
			t.Errorf("candidate %d should be out of range", i)
		}
	}

	if Candidates(0, 120, 0.5, 2.0) != nil {
		t.Error("expected nil candidates for zero duration")
	}
}

func TestSolveTieKeepsFirst(t *testing.T) {
	// 1000ms at 80 bpm: targets 375/750/1500/3000 -> speeds 2.667, 1.333, 0.667, 0.333.
	// 1.333 (dist 0.333) and 0.667 (dist 0.333) tie; the earlier multiple wins.
	got := Solve(1000, 80, 0.5, 2.0)
	if math.Abs(got-4.0/3.0) > 1e-9 {
		t.Fatalf("expected 1.333, got %v", got)
	}
}
