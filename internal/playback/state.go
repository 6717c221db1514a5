/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

// State is the engine lifecycle phase.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"   // between passes
	StateResolving State = "resolving" // opening the source for a pass
	StateDecoding  State = "decoding"
	StateDraining  State = "draining" // input exhausted, flushing decoder output
	StateStopped   State = "stopped"
	StateFailed    State = "failed"
)

// States lists every state, for metrics.
var States = []string{
	string(StateIdle),
	string(StateRunning),
	string(StateResolving),
	string(StateDecoding),
	string(StateDraining),
	string(StateStopped),
	string(StateFailed),
}

// Active reports whether a decode loop is running in this state.
func (s State) Active() bool {
	switch s {
	case StateRunning, StateResolving, StateDecoding, StateDraining:
		return true
	}
	return false
}
