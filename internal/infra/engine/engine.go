// Package engine provides the player engine the playback controller drives.
//
// An engine plays a ConcatenatingSource as one timeline of windows and reports
// everything that happens through a single listener receiving Event values.
package engine

import "math"

const (
	// IndexUnset marks an unknown window index.
	IndexUnset = -1
	// TimeUnset marks an unknown position or duration in milliseconds.
	TimeUnset int64 = math.MinInt64 + 1
)

// State is the raw engine state.
type State int

const (
	StateIdle State = iota + 1
	StateBuffering
	StateReady
	StateEnded
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuffering:
		return "buffering"
	case StateReady:
		return "ready"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// DiscontinuityReason tells why the position jumped.
type DiscontinuityReason int

const (
	// DiscontinuityPeriodTransition means the previous window finished and playback advanced.
	DiscontinuityPeriodTransition DiscontinuityReason = iota
	DiscontinuitySeek
	DiscontinuityInternal
)

// String returns the string representation of the reason.
func (r DiscontinuityReason) String() string {
	switch r {
	case DiscontinuityPeriodTransition:
		return "period_transition"
	case DiscontinuitySeek:
		return "seek"
	case DiscontinuityInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// TimelineChangeReason tells why the timeline changed.
type TimelineChangeReason int

const (
	TimelinePrepared TimelineChangeReason = iota
	TimelineReset
	TimelineDynamic
)

// String returns the string representation of the reason.
func (r TimelineChangeReason) String() string {
	switch r {
	case TimelinePrepared:
		return "prepared"
	case TimelineReset:
		return "reset"
	case TimelineDynamic:
		return "dynamic"
	default:
		return "unknown"
	}
}

// EventKind tags an Event.
type EventKind int

const (
	EventStateChanged EventKind = iota
	EventPositionDiscontinuity
	EventTimelineChanged
	EventError
)

// String returns the string representation of the kind.
func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state_changed"
	case EventPositionDiscontinuity:
		return "position_discontinuity"
	case EventTimelineChanged:
		return "timeline_changed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is the single notification type an engine emits.
// Only the fields relevant to Kind are set.
type Event struct {
	Kind EventKind

	// EventStateChanged
	State         State
	PlayWhenReady bool

	// EventPositionDiscontinuity
	Discontinuity DiscontinuityReason

	// EventTimelineChanged
	TimelineChange TimelineChangeReason

	// EventError
	Err error
}

// Listener receives engine events. It must not block or call back into the engine.
type Listener func(Event)

// Engine is the player capability used by the playback controller.
// Implementations are safe for concurrent use, but callers are expected to
// drive one engine from a single goroutine.
type Engine interface {
	SetListener(l Listener)

	// Prepare resets playback to the start of the source's timeline.
	Prepare(src *ConcatenatingSource)
	// Stop halts playback. With reset the timeline is dropped as well.
	Stop(reset bool)
	Release()

	SetPlayWhenReady(play bool)
	PlayWhenReady() bool
	PlaybackState() State

	SeekTo(positionMs int64)
	SeekToWindow(windowIndex int, positionMs int64)
	SeekToDefaultPosition(windowIndex int)

	CurrentTimeline() Timeline
	CurrentWindowIndex() int
	NextWindowIndex() int
	PreviousWindowIndex() int

	CurrentPosition() int64
	BufferedPosition() int64
	Duration() int64

	SetVolume(v float64)
	Volume() float64
	SetSpeed(s float64)
	Speed() float64
}
