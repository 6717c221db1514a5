/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package speed picks the playback rate that lands one video loop on a whole
// musical phrase.
package speed

import "math"

// Default playback bounds.
const (
	DefaultMinSpeed = 0.5
	DefaultMaxSpeed = 2.0

	// Natural is the rate returned when no candidate fits the bounds.
	Natural = 1.0
)

// BeatMultiples are the loop lengths, in beats, considered for a loop.
var BeatMultiples = [...]float64{0.5, 1, 2, 4}

// Candidate describes one beat multiple evaluated by the solver.
type Candidate struct {
	Beats    float64 // beats per loop
	TargetMs float64 // loop length that would land on Beats beats
	Speed    float64 // rate needed to stretch the loop to TargetMs
	InRange  bool
	Distance float64 // |Speed - 1|
}

// Bounds is an inclusive playback-rate range.
type Bounds struct {
	Min float64
	Max float64
}

// DefaultBounds returns the 0.5x-2.0x range.
func DefaultBounds() Bounds {
	return Bounds{Min: DefaultMinSpeed, Max: DefaultMaxSpeed}
}

// Contains reports whether rate lies within the bounds.
func (b Bounds) Contains(rate float64) bool {
	return rate >= b.Min && rate <= b.Max
}

// Solve returns the rate closest to natural speed that makes a loop of
// durationMs last 0.5, 1, 2 or 4 beats at bpm. It returns Natural when the
// inputs are not positive or no candidate lies within [minSpeed, maxSpeed].
func Solve(durationMs, bpm, minSpeed, maxSpeed float64) float64 {
	best := Natural
	bestDist := math.Inf(1)
	for _, c := range Candidates(durationMs, bpm, minSpeed, maxSpeed) {
		if c.InRange && c.Distance < bestDist {
			best = c.Speed
			bestDist = c.Distance
		}
	}
	return best
}

// Candidates evaluates every beat multiple in order. It returns nil for
// non-positive or non-finite inputs.
func Candidates(durationMs, bpm, minSpeed, maxSpeed float64) []Candidate {
	if !valid(durationMs) || !valid(bpm) {
		return nil
	}

	beatMs := 60000 / bpm
	out := make([]Candidate, 0, len(BeatMultiples))
	for _, m := range BeatMultiples {
		target := beatMs * m
		s := durationMs / target
		out = append(out, Candidate{
			Beats:    m,
			TargetMs: target,
			Speed:    s,
			InRange:  s >= minSpeed && s <= maxSpeed,
			Distance: math.Abs(s - Natural),
		})
	}
	return out
}

func valid(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
