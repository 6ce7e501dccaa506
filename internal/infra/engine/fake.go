package engine

import (
	"context"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
)

// StaticSource is a Source with a fixed duration and nothing to render.
type StaticSource struct {
	Locator    string
	DurationMs int64
}

// ID returns the locator.
func (s StaticSource) ID() string { return s.Locator }

// DurationHint returns the fixed duration.
func (s StaticSource) DurationHint() int64 { return s.DurationMs }

// Load returns silent media of the fixed duration.
func (s StaticSource) Load(context.Context) (Media, error) {
	return silentMedia{d: time.Duration(s.DurationMs) * time.Millisecond}, nil
}

type silentMedia struct{ d time.Duration }

func (m silentMedia) Duration() time.Duration         { return m.d }
func (m silentMedia) Streamer() beep.StreamSeekCloser { return nil }
func (m silentMedia) Format() beep.Format             { return beep.Format{} }
func (m silentMedia) Close() error                    { return nil }

// Fake is a deterministic Engine for tests. Nothing advances on its own:
// edits are applied as soon as they are issued (unless held) and state,
// position and window changes happen only through the helper methods.
type Fake struct {
	mu       sync.Mutex
	listener Listener

	source        *ConcatenatingSource
	version       uint64
	windows       []Window
	index         int
	state         State
	playWhenReady bool
	position      int64
	volume        float64
	speed         float64

	holdEdits bool
	held      []Edit
	prepares  int
	stops     []bool
	released  bool
}

// NewFake creates an idle fake engine.
func NewFake() *Fake {
	return &Fake{index: IndexUnset, state: StateIdle, volume: 1, speed: 1, position: TimeUnset}
}

// SetListener sets the event listener.
func (f *Fake) SetListener(l Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = l
}

func (f *Fake) emitLocked(e Event) {
	if f.listener != nil {
		f.listener(e)
	}
}

func (f *Fake) setStateLocked(s State) {
	if s == f.state {
		return
	}
	f.state = s
	f.emitLocked(Event{Kind: EventStateChanged, State: s, PlayWhenReady: f.playWhenReady})
}

// HoldEdits makes the fake queue timeline edits instead of applying them.
func (f *Fake) HoldEdits(hold bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holdEdits = hold
}

// ReleaseEdits applies every held edit in order and acknowledges it.
func (f *Fake) ReleaseEdits() {
	f.mu.Lock()
	held := f.held
	f.held = nil
	f.holdEdits = false
	f.mu.Unlock()

	for _, e := range held {
		f.apply(e)
	}
}

// HeldEdits returns the number of edits waiting for ReleaseEdits.
func (f *Fake) HeldEdits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.held)
}

func (f *Fake) enqueue(e Edit) {
	f.mu.Lock()
	if f.holdEdits {
		f.held = append(f.held, e)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	f.apply(e)
}

func (f *Fake) apply(e Edit) {
	f.mu.Lock()
	if f.released || e.source != f.source || e.version <= f.version {
		f.mu.Unlock()
		e.ack()
		return
	}
	f.version = e.version

	old := f.index
	switch e.Kind {
	case EditInsert:
		ws := make([]Window, len(e.Sources))
		for i, s := range e.Sources {
			ws[i] = Window{ID: s.ID(), DurationMs: s.DurationHint()}
		}
		f.windows = insertAt(f.windows, clamp(e.Index, 0, len(f.windows)), ws)
	case EditRemove:
		if e.Index >= 0 && e.Index < len(f.windows) {
			f.windows = append(f.windows[:e.Index:e.Index], f.windows[e.Index+1:]...)
		}
	}
	next, removed := shiftIndex(e, old, len(f.windows))
	f.index = next
	if removed || old == IndexUnset {
		f.position = 0
	}
	f.emitLocked(Event{Kind: EventTimelineChanged, TimelineChange: TimelineDynamic})
	if removed && f.state != StateIdle && (next == IndexUnset || old >= len(f.windows)) {
		f.setStateLocked(StateEnded)
	}
	f.mu.Unlock()
	e.ack()
}

// Prepare snapshots the source and moves to its first window.
func (f *Fake) Prepare(src *ConcatenatingSource) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.source != nil && f.source != src {
		f.source.detach()
	}
	sources, version := src.attach(f.enqueue)
	f.prepares++
	f.source = src
	f.version = version
	f.windows = make([]Window, len(sources))
	for i, s := range sources {
		f.windows[i] = Window{ID: s.ID(), DurationMs: s.DurationHint()}
	}
	f.index = IndexUnset
	f.position = TimeUnset
	if len(f.windows) > 0 {
		f.index = 0
		f.position = 0
	}
	f.emitLocked(Event{Kind: EventTimelineChanged, TimelineChange: TimelinePrepared})
	if f.index == IndexUnset {
		f.setStateLocked(StateIdle)
		return
	}
	f.setStateLocked(StateBuffering)
}

// Stop moves to idle. With reset the timeline is dropped.
func (f *Fake) Stop(reset bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, reset)
	if reset {
		if f.source != nil {
			f.source.detach()
			f.source = nil
		}
		f.windows = nil
		f.index = IndexUnset
		f.position = TimeUnset
		f.emitLocked(Event{Kind: EventTimelineChanged, TimelineChange: TimelineReset})
	}
	f.setStateLocked(StateIdle)
}

// Release marks the fake released. Later edits are acknowledged without effect.
func (f *Fake) Release() {
	f.mu.Lock()
	f.released = true
	held := f.held
	f.held = nil
	f.mu.Unlock()
	for _, e := range held {
		e.ack()
	}
}

// SetPlayWhenReady sets the play intent.
func (f *Fake) SetPlayWhenReady(play bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playWhenReady == play {
		return
	}
	f.playWhenReady = play
	f.emitLocked(Event{Kind: EventStateChanged, State: f.state, PlayWhenReady: play})
}

// PlayWhenReady returns the play intent.
func (f *Fake) PlayWhenReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playWhenReady
}

// PlaybackState returns the raw state.
func (f *Fake) PlaybackState() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// SeekTo seeks within the current window.
func (f *Fake) SeekTo(positionMs int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seekLocked(f.index, positionMs)
}

// SeekToWindow seeks to a position in the given window.
func (f *Fake) SeekToWindow(windowIndex int, positionMs int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seekLocked(windowIndex, positionMs)
}

// SeekToDefaultPosition seeks to the start of the given window.
func (f *Fake) SeekToDefaultPosition(windowIndex int) {
	f.SeekToWindow(windowIndex, TimeUnset)
}

func (f *Fake) seekLocked(index int, positionMs int64) {
	if index < 0 || index >= len(f.windows) {
		return
	}
	if positionMs < 0 {
		positionMs = 0
	}
	f.index = index
	f.position = positionMs
	f.emitLocked(Event{Kind: EventPositionDiscontinuity, Discontinuity: DiscontinuitySeek})
}

// CurrentTimeline returns a snapshot of the windows.
func (f *Fake) CurrentTimeline() Timeline {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append(timeline(nil), f.windows...)
}

// CurrentWindowIndex returns the playing window or IndexUnset.
func (f *Fake) CurrentWindowIndex() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.index
}

// NextWindowIndex returns the window after the current one or IndexUnset.
func (f *Fake) NextWindowIndex() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index == IndexUnset || f.index+1 >= len(f.windows) {
		return IndexUnset
	}
	return f.index + 1
}

// PreviousWindowIndex returns the window before the current one or IndexUnset.
func (f *Fake) PreviousWindowIndex() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index <= 0 {
		return IndexUnset
	}
	return f.index - 1
}

// CurrentPosition returns the position set by the test.
func (f *Fake) CurrentPosition() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position
}

// BufferedPosition returns the duration of the current window.
func (f *Fake) BufferedPosition() int64 {
	return f.Duration()
}

// Duration returns the duration of the current window.
func (f *Fake) Duration() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index == IndexUnset {
		return TimeUnset
	}
	return f.windows[f.index].DurationMs
}

// SetVolume sets the volume.
func (f *Fake) SetVolume(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = v
}

// Volume returns the volume.
func (f *Fake) Volume() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volume
}

// SetSpeed sets the playback rate.
func (f *Fake) SetSpeed(s float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.speed = s
}

// Speed returns the playback rate.
func (f *Fake) Speed() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.speed
}

// SetState moves the fake to a raw state and notifies the listener.
func (f *Fake) SetState(s State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setStateLocked(s)
}

// SetPosition sets the position reported for the current window.
func (f *Fake) SetPosition(positionMs int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.position = positionMs
}

// Advance finishes the current window the way natural playback would:
// a period transition into the next window, or the ended state after the last.
func (f *Fake) Advance() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index == IndexUnset {
		return
	}
	if f.index+1 < len(f.windows) {
		f.index++
		f.position = 0
		f.emitLocked(Event{Kind: EventPositionDiscontinuity, Discontinuity: DiscontinuityPeriodTransition})
		return
	}
	f.position = f.windows[f.index].DurationMs
	f.setStateLocked(StateEnded)
}

// Fail reports a fatal playback error and halts.
func (f *Fake) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitLocked(Event{Kind: EventError, Err: err})
	f.setStateLocked(StateIdle)
}

// Prepares returns how many times Prepare was called.
func (f *Fake) Prepares() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prepares
}

// Stops returns the reset flag of every Stop call.
func (f *Fake) Stops() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.stops...)
}
