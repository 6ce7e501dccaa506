package engine

import (
	"context"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"
)

// PlayerConfig holds Player configuration.
type PlayerConfig struct {
	TickInterval time.Duration // How often the playback clock advances
	Loader       *Loader       // Shared loader pool, a private one is created when nil
	Output       Output        // Audio output, silent when nil
	Now          func() time.Time
}

type playerWindow struct {
	source   Source
	media    Media
	duration int64
	loading  bool
}

// Player is an Engine that keeps playback time on a virtual clock and renders
// through an Output. Timeline edits and load results are applied on its own
// goroutine, like a native engine thread.
type Player struct {
	mu        sync.Mutex
	cfg       PlayerConfig
	ownLoader bool
	listener  Listener
	edits     chan Edit

	source        *ConcatenatingSource
	version       uint64
	windows       []*playerWindow
	index         int
	state         State
	playWhenReady bool
	position      float64 // milliseconds
	anchor        time.Time
	volume        float64
	speed         float64
	released      bool

	stop chan struct{}
	done chan struct{}
}

// NewPlayer creates a player and starts its clock.
func NewPlayer(cfg PlayerConfig) *Player {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 100 * time.Millisecond
	}
	if cfg.Output == nil {
		cfg.Output = nopOutput{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	p := &Player{
		cfg:    cfg,
		edits:  make(chan Edit, 256),
		index:  IndexUnset,
		state:  StateIdle,
		volume: 1,
		speed:  1,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if p.cfg.Loader == nil {
		p.cfg.Loader = NewLoader(2, 16)
		p.ownLoader = true
	}
	p.anchor = cfg.Now()
	go p.run()
	return p
}

func (p *Player) run() {
	defer close(p.done)
	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			for {
				select {
				case e := <-p.edits:
					e.ack()
				default:
					return
				}
			}
		case e := <-p.edits:
			p.applyEdit(e)
		case <-ticker.C:
			p.tick()
		}
	}
}

// SetListener sets the event listener. It is called with the player's lock held.
func (p *Player) SetListener(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = l
}

func (p *Player) emitLocked(e Event) {
	if p.listener != nil {
		p.listener(e)
	}
}

func (p *Player) setStateLocked(s State) {
	if s == p.state {
		return
	}
	p.state = s
	p.emitLocked(Event{Kind: EventStateChanged, State: s, PlayWhenReady: p.playWhenReady})
}

func (p *Player) advanceLocked() {
	now := p.cfg.Now()
	if p.state == StateReady && p.playWhenReady && p.index != IndexUnset {
		p.position += float64(now.Sub(p.anchor)) / float64(time.Millisecond) * p.speed
	}
	p.anchor = now
}

func (p *Player) tick() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.advanceLocked()
	if p.state != StateReady || !p.playWhenReady || p.index == IndexUnset {
		return
	}
	if d := p.windows[p.index].duration; d != TimeUnset && p.position >= float64(d) {
		p.finishWindowLocked()
	}
}

func (p *Player) finishWindowLocked() {
	p.cfg.Output.Stop()
	if p.index+1 < len(p.windows) {
		p.index++
		p.position = 0
		p.emitLocked(Event{Kind: EventPositionDiscontinuity, Discontinuity: DiscontinuityPeriodTransition})
		p.enterWindowLocked()
		return
	}
	p.position = float64(p.windows[p.index].duration)
	p.setStateLocked(StateEnded)
}

// enterWindowLocked makes the current window playable, loading it when needed.
func (p *Player) enterWindowLocked() {
	w := p.windows[p.index]
	p.anchor = p.cfg.Now()
	p.trimLocked()
	if p.index+1 < len(p.windows) {
		p.loadLocked(p.windows[p.index+1])
	}

	if w.media == nil {
		p.cfg.Output.Stop()
		p.setStateLocked(StateBuffering)
		p.loadLocked(w)
		return
	}
	p.setStateLocked(StateReady)
	p.startOutputLocked(w)
}

func (p *Player) startOutputLocked(w *playerWindow) {
	pos := time.Duration(p.position * float64(time.Millisecond))
	if err := p.cfg.Output.Start(w.media, pos); err != nil {
		zlog.Warn().Err(err).Msgf("failed to start output for %s", w.source.ID())
		return
	}
	p.cfg.Output.SetVolume(p.volume)
	p.cfg.Output.SetSpeed(p.speed)
	p.cfg.Output.SetPaused(!p.playWhenReady)
}

// trimLocked releases decoded media outside the current and next window.
func (p *Player) trimLocked() {
	for i, w := range p.windows {
		if i == p.index || i == p.index+1 || w.media == nil {
			continue
		}
		closeMedia(w)
	}
}

func (p *Player) loadLocked(w *playerWindow) {
	if w.loading || w.media != nil {
		return
	}
	w.loading = true
	loader := p.cfg.Loader
	go loader.Submit(func(ctx context.Context) {
		m, err := w.source.Load(ctx)
		p.onLoaded(w, m, err)
	})
}

func (p *Player) onLoaded(w *playerWindow, m Media, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w.loading = false
	current := p.currentLocked()
	if p.released || !p.holdsLocked(w) {
		if m != nil {
			_ = m.Close()
		}
		return
	}
	if err != nil {
		zlog.Warn().Err(err).Msgf("failed to load %s", w.source.ID())
		if current == w {
			p.cfg.Output.Stop()
			p.emitLocked(Event{Kind: EventError, Err: err})
			p.setStateLocked(StateIdle)
		}
		return
	}

	w.media = m
	if d := m.Duration(); d > 0 && d.Milliseconds() != w.duration {
		w.duration = d.Milliseconds()
		p.emitLocked(Event{Kind: EventTimelineChanged, TimelineChange: TimelineDynamic})
	}
	if current == w && p.state == StateBuffering {
		p.anchor = p.cfg.Now()
		p.setStateLocked(StateReady)
		p.startOutputLocked(w)
	}
}

func (p *Player) currentLocked() *playerWindow {
	if p.index == IndexUnset || p.index >= len(p.windows) {
		return nil
	}
	return p.windows[p.index]
}

func (p *Player) holdsLocked(w *playerWindow) bool {
	for _, x := range p.windows {
		if x == w {
			return true
		}
	}
	return false
}

func closeMedia(w *playerWindow) {
	if w.media == nil {
		return
	}
	if err := w.media.Close(); err != nil {
		zlog.Debug().Err(err).Msgf("failed to close media for %s", w.source.ID())
	}
	w.media = nil
}

func (p *Player) enqueue(e Edit) {
	select {
	case p.edits <- e:
	case <-p.stop:
		e.ack()
	}
}

func (p *Player) applyEdit(e Edit) {
	p.mu.Lock()
	if p.released || e.source != p.source || e.version <= p.version {
		p.mu.Unlock()
		e.ack()
		return
	}
	p.version = e.version
	p.advanceLocked()

	old := p.index
	switch e.Kind {
	case EditInsert:
		ws := make([]*playerWindow, len(e.Sources))
		for i, s := range e.Sources {
			ws[i] = &playerWindow{source: s, duration: s.DurationHint()}
		}
		p.windows = insertAt(p.windows, clamp(e.Index, 0, len(p.windows)), ws)
	case EditRemove:
		if e.Index >= 0 && e.Index < len(p.windows) {
			closeMedia(p.windows[e.Index])
			p.windows = append(p.windows[:e.Index:e.Index], p.windows[e.Index+1:]...)
		}
	}

	next, removed := shiftIndex(e, old, len(p.windows))
	p.index = next
	p.emitLocked(Event{Kind: EventTimelineChanged, TimelineChange: TimelineDynamic})

	switch {
	case removed && p.state != StateIdle:
		p.cfg.Output.Stop()
		p.position = 0
		if next == IndexUnset || old >= len(p.windows) {
			if next != IndexUnset && p.windows[next].duration != TimeUnset {
				p.position = float64(p.windows[next].duration)
			}
			p.setStateLocked(StateEnded)
		} else {
			p.enterWindowLocked()
		}
	case removed:
		p.position = 0
	case old == IndexUnset && next != IndexUnset && p.state != StateIdle:
		p.enterWindowLocked()
	}
	p.mu.Unlock()
	e.ack()
}

// Prepare starts playback state over from the first window of src.
func (p *Player) Prepare(src *ConcatenatingSource) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.source != nil && p.source != src {
		p.source.detach()
	}
	p.cfg.Output.Stop()
	for _, w := range p.windows {
		closeMedia(w)
	}

	sources, version := src.attach(p.enqueue)
	p.source = src
	p.version = version
	p.windows = make([]*playerWindow, len(sources))
	for i, s := range sources {
		p.windows[i] = &playerWindow{source: s, duration: s.DurationHint()}
	}
	p.position = 0
	p.anchor = p.cfg.Now()
	p.index = IndexUnset
	if len(p.windows) > 0 {
		p.index = 0
	}

	p.emitLocked(Event{Kind: EventTimelineChanged, TimelineChange: TimelinePrepared})
	if p.index == IndexUnset {
		p.setStateLocked(StateIdle)
		return
	}
	p.enterWindowLocked()
}

// Stop halts playback. With reset the timeline is dropped.
func (p *Player) Stop(reset bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.advanceLocked()
	p.cfg.Output.Stop()
	if reset {
		if p.source != nil {
			p.source.detach()
			p.source = nil
		}
		for _, w := range p.windows {
			closeMedia(w)
		}
		p.windows = nil
		p.index = IndexUnset
		p.position = 0
		p.emitLocked(Event{Kind: EventTimelineChanged, TimelineChange: TimelineReset})
	}
	p.setStateLocked(StateIdle)
}

// Release stops the clock and frees all media.
func (p *Player) Release() {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return
	}
	p.released = true
	if p.source != nil {
		p.source.detach()
	}
	p.cfg.Output.Stop()
	for _, w := range p.windows {
		closeMedia(w)
	}
	p.mu.Unlock()

	close(p.stop)
	<-p.done
	if p.ownLoader {
		p.cfg.Loader.Close()
	}
}

// SetPlayWhenReady sets the play intent. Setting it on a stopped player
// with a timeline resumes from the current window.
func (p *Player) SetPlayWhenReady(play bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.advanceLocked()
	if play && p.state == StateIdle && p.index != IndexUnset {
		p.playWhenReady = true
		p.enterWindowLocked()
		return
	}
	if p.playWhenReady == play {
		return
	}
	p.playWhenReady = play
	p.cfg.Output.SetPaused(!play)
	p.emitLocked(Event{Kind: EventStateChanged, State: p.state, PlayWhenReady: play})
}

// PlayWhenReady returns the play intent.
func (p *Player) PlayWhenReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playWhenReady
}

// PlaybackState returns the raw state.
func (p *Player) PlaybackState() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SeekTo seeks within the current window.
func (p *Player) SeekTo(positionMs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seekLocked(p.index, positionMs)
}

// SeekToWindow seeks to a position in the given window.
func (p *Player) SeekToWindow(windowIndex int, positionMs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seekLocked(windowIndex, positionMs)
}

// SeekToDefaultPosition seeks to the start of the given window.
func (p *Player) SeekToDefaultPosition(windowIndex int) {
	p.SeekToWindow(windowIndex, TimeUnset)
}

func (p *Player) seekLocked(index int, positionMs int64) {
	if index < 0 || index >= len(p.windows) {
		return
	}
	p.advanceLocked()
	if positionMs < 0 {
		positionMs = 0
	}
	if d := p.windows[index].duration; d != TimeUnset && positionMs > d {
		positionMs = d
	}
	p.index = index
	p.position = float64(positionMs)
	p.emitLocked(Event{Kind: EventPositionDiscontinuity, Discontinuity: DiscontinuitySeek})
	if p.state != StateIdle {
		p.enterWindowLocked()
	}
}

// CurrentTimeline returns a snapshot of the windows.
func (p *Player) CurrentTimeline() Timeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := make(timeline, len(p.windows))
	for i, w := range p.windows {
		t[i] = Window{ID: w.source.ID(), DurationMs: w.duration}
	}
	return t
}

// CurrentWindowIndex returns the playing window or IndexUnset.
func (p *Player) CurrentWindowIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index
}

// NextWindowIndex returns the window after the current one or IndexUnset.
func (p *Player) NextWindowIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.index == IndexUnset || p.index+1 >= len(p.windows) {
		return IndexUnset
	}
	return p.index + 1
}

// PreviousWindowIndex returns the window before the current one or IndexUnset.
func (p *Player) PreviousWindowIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.index <= 0 {
		return IndexUnset
	}
	return p.index - 1
}

// CurrentPosition returns the position in the current window in milliseconds.
func (p *Player) CurrentPosition() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.index == IndexUnset {
		return TimeUnset
	}
	p.advanceLocked()
	pos := int64(p.position)
	if d := p.windows[p.index].duration; d != TimeUnset && pos > d {
		pos = d
	}
	return pos
}

// BufferedPosition returns how far the current window is loaded.
// Media is decoded whole, so a loaded window is buffered to its end.
func (p *Player) BufferedPosition() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := p.currentLocked()
	if w == nil {
		return TimeUnset
	}
	if w.media != nil && w.duration != TimeUnset {
		return w.duration
	}
	return 0
}

// Duration returns the duration of the current window.
func (p *Player) Duration() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := p.currentLocked()
	if w == nil {
		return TimeUnset
	}
	return w.duration
}

// SetVolume sets the volume, clamped to 0..1.
func (p *Player) SetVolume(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = max(0, min(1, v))
	p.cfg.Output.SetVolume(p.volume)
}

// Volume returns the volume.
func (p *Player) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// SetSpeed sets the playback rate. Non-positive rates are ignored.
func (p *Player) SetSpeed(s float64) {
	if s <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	p.speed = s
	p.cfg.Output.SetSpeed(s)
}

// Speed returns the playback rate.
func (p *Player) Speed() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speed
}
