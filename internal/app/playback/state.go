// Package playback provides the queue, the state machine and the controller
// that drive a player engine.
package playback

import "github.com/osa030/trackbridge/internal/infra/engine"

// State represents the playback state reported to the host.
// The values match the host's playback-state constants.
type State int

const (
	StateNone      State = 0
	StateStopped   State = 1
	StatePaused    State = 2
	StatePlaying   State = 3
	StateBuffering State = 6
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateStopped:
		return "stopped"
	case StatePaused:
		return "paused"
	case StatePlaying:
		return "playing"
	case StateBuffering:
		return "buffering"
	default:
		return "unknown"
	}
}

// IsPlaying reports whether s is Playing or Buffering.
func (s State) IsPlaying() bool {
	return s == StatePlaying || s == StateBuffering
}

// IsPaused reports whether s is Paused.
func (s State) IsPaused() bool {
	return s == StatePaused
}

// IsStopped reports whether s is None or Stopped.
func (s State) IsStopped() bool {
	return s == StateNone || s == StateStopped
}

// deriveState maps the raw engine state and play intent to a host state.
func deriveState(raw engine.State, playWhenReady bool) State {
	switch raw {
	case engine.StateBuffering:
		if playWhenReady {
			return StateBuffering
		}
		return StateNone
	case engine.StateEnded:
		return StateStopped
	case engine.StateReady:
		if playWhenReady {
			return StatePlaying
		}
		return StatePaused
	default:
		return StateNone
	}
}
