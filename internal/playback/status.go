/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import "time"

// Status is a point-in-time snapshot of the engine.
type Status struct {
	State           State     `json:"state"`
	Locator         string    `json:"locator"`
	BPM             float64   `json:"bpm"`
	Rate            float64   `json:"rate"`
	DurationMs      float64   `json:"duration_ms"`
	PassID          string    `json:"pass_id,omitempty"`
	Passes          uint64    `json:"passes"`
	FramesPresented uint64    `json:"frames_presented"`
	FramesLate      uint64    `json:"frames_late"`
	StartedAt       time.Time `json:"started_at,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
}

// Status returns the current snapshot.
func (e *Engine) Status() Status {
	e.mu.Lock()
	st := Status{
		State:      e.state,
		Locator:    e.source.Locator,
		DurationMs: e.source.DurationMs,
		PassID:     e.passID,
		StartedAt:  e.startedAt,
	}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	e.mu.Unlock()

	st.BPM = e.tempo.Get()
	st.Rate = e.rate.Load()
	st.Passes = e.passes.Load()
	st.FramesPresented = e.presented.Load()
	st.FramesLate = e.late.Load()
	return st
}
