/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"errors"
	"math"
	"sync/atomic"
)

// DefaultBPM is the tempo used until a real one is known.
const DefaultBPM = 120.0

// ErrInvalidTempo rejects non-positive or non-finite BPM values.
var ErrInvalidTempo = errors.New("tempo must be a positive finite BPM")

// Tempo is a lock-free BPM cell. Writers are the tempo bridge and manual
// overrides; the engine reads it once per pass.
type Tempo struct {
	bits atomic.Uint64
}

// NewTempo returns a Tempo holding bpm, or DefaultBPM if bpm is invalid.
func NewTempo(bpm float64) *Tempo {
	t := &Tempo{}
	if !ValidBPM(bpm) {
		bpm = DefaultBPM
	}
	t.bits.Store(math.Float64bits(bpm))
	return t
}

// Get returns the current BPM.
func (t *Tempo) Get() float64 {
	return math.Float64frombits(t.bits.Load())
}

// Set stores bpm and returns the previous value.
func (t *Tempo) Set(bpm float64) (float64, error) {
	if !ValidBPM(bpm) {
		return t.Get(), ErrInvalidTempo
	}
	return math.Float64frombits(t.bits.Swap(math.Float64bits(bpm))), nil
}

// ValidBPM reports whether bpm can drive playback.
func ValidBPM(bpm float64) bool {
	return bpm > 0 && !math.IsInf(bpm, 0) && !math.IsNaN(bpm)
}

type atomicFloat struct {
	bits atomic.Uint64
}

func (f *atomicFloat) Load() float64 {
	return math.Float64frombits(f.bits.Load())
}

func (f *atomicFloat) Store(v float64) {
	f.bits.Store(math.Float64bits(v))
}
