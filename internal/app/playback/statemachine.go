package playback

import (
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/trackbridge/internal/infra/engine"
)

// errorSource tags engine failures reported through EventError.
const errorSource = "playback"

// stateMachine turns engine events into host events.
// It is only touched from the controller's executor.
type stateMachine struct {
	engine engine.Engine
	queue  *queue
	snap   *snapshot
	emit   func(Event)

	state State
}

func newStateMachine(eng engine.Engine, q *queue, snap *snapshot, emit func(Event)) *stateMachine {
	return &stateMachine{engine: eng, queue: q, snap: snap, emit: emit, state: StateNone}
}

func (m *stateMachine) handle(e engine.Event) {
	switch e.Kind {
	case engine.EventStateChanged:
		m.onStateChanged(deriveState(e.State, e.PlayWhenReady))
	case engine.EventPositionDiscontinuity:
		m.onDiscontinuity(e.Discontinuity)
	case engine.EventTimelineChanged:
		if e.TimelineChange != engine.TimelinePrepared && e.TimelineChange != engine.TimelineDynamic {
			return
		}
		if tl := m.engine.CurrentTimeline(); tl != nil && !tl.IsEmpty() {
			m.onDiscontinuity(engine.DiscontinuityInternal)
		}
	case engine.EventError:
		msg := "playback failed"
		if e.Err != nil {
			msg = e.Err.Error()
		}
		zlog.Warn().Msgf("playback: engine error: %s", msg)
		m.emit(Event{Type: EventError, Source: errorSource, Message: msg})
	}
}

func (m *stateMachine) onStateChanged(next State) {
	if next == m.state {
		return
	}
	prev := m.state
	m.state = next

	switch {
	case next.IsPlaying() && !prev.IsPlaying():
		m.emit(Event{Type: EventPlay})
	case next.IsPaused() && !prev.IsPaused():
		m.emit(Event{Type: EventPause})
	case next.IsStopped() && !prev.IsStopped():
		m.emit(Event{Type: EventStop})
	}
	m.emit(Event{Type: EventStateChange, State: next})

	if next == StateStopped {
		m.emit(Event{
			Type:     EventEnd,
			Track:    m.queue.current(),
			Position: seconds(m.engine.CurrentPosition()),
		})
	}
	zlog.Debug().Msgf("playback: state %s -> %s", prev, next)
}

func (m *stateMachine) onDiscontinuity(reason engine.DiscontinuityReason) {
	current := m.engine.CurrentWindowIndex()
	if current != m.snap.window {
		previous := m.queue.at(m.snap.window)
		position := m.snap.position

		// A finished item is reported at its full duration.
		if reason == engine.DiscontinuityPeriodTransition && m.snap.window != engine.IndexUnset {
			tl := m.engine.CurrentTimeline()
			if tl == nil || m.snap.window >= tl.WindowCount() {
				// Departed window is gone: no event, snapshot kept as is.
				zlog.Debug().Msgf("playback: recorded window %d outside timeline, change not reported", m.snap.window)
				return
			}
			if d := tl.Window(m.snap.window).DurationMs; d != engine.TimeUnset {
				position = d
			}
		}

		m.emit(Event{
			Type:     EventTrackChanged,
			Previous: previous,
			Next:     m.queue.current(),
			Position: seconds(position),
		})
	}
	m.snap.capture(m.engine)
}

// seconds converts engine milliseconds to host seconds. Unset is 0.
func seconds(ms int64) float64 {
	if ms == engine.TimeUnset {
		return 0
	}
	return float64(ms) / 1000
}

// millis converts host seconds to engine milliseconds, truncating.
func millis(sec float64) int64 {
	return int64(sec * 1000)
}
