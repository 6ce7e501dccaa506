package engine

import (
	"context"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
)

// Media is a loaded item ready for output.
type Media interface {
	Duration() time.Duration
	// Streamer returns nil for media that has nothing to render.
	Streamer() beep.StreamSeekCloser
	Format() beep.Format
	Close() error
}

// Source is one entry of a ConcatenatingSource.
type Source interface {
	ID() string
	// DurationHint is the expected duration in milliseconds, or TimeUnset.
	DurationHint() int64
	// Load fetches and decodes the media. It runs on the engine's loader pool.
	Load(ctx context.Context) (Media, error)
}

// Window is one timeline entry as the engine currently sees it.
type Window struct {
	ID         string
	DurationMs int64
}

// Timeline is an immutable view of the engine's windows.
type Timeline interface {
	IsEmpty() bool
	WindowCount() int
	Window(i int) Window
}

type timeline []Window

func (t timeline) IsEmpty() bool       { return len(t) == 0 }
func (t timeline) WindowCount() int    { return len(t) }
func (t timeline) Window(i int) Window { return t[i] }

// EditKind is the type of a timeline edit.
type EditKind int

const (
	EditInsert EditKind = iota
	EditRemove
)

// Edit is a pending change to a ConcatenatingSource that the prepared engine
// applies on its own schedule. Done runs once the engine's timeline reflects it.
type Edit struct {
	Kind    EditKind
	Index   int
	Sources []Source
	Done    func()

	source  *ConcatenatingSource
	version uint64
}

func (e Edit) ack() {
	if e.Done != nil {
		e.Done()
	}
}

// ConcatenatingSource is an editable list of sources played back as one timeline.
// Edits must be issued from a single goroutine.
type ConcatenatingSource struct {
	mu      sync.Mutex
	sources []Source
	version uint64
	sink    func(Edit)
}

// NewConcatenatingSource creates an empty source list.
func NewConcatenatingSource() *ConcatenatingSource {
	return &ConcatenatingSource{}
}

// Size returns the number of sources, including edits the engine has not applied yet.
func (s *ConcatenatingSource) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sources)
}

// AddSources inserts sources at index. done runs when the engine acknowledges the edit.
func (s *ConcatenatingSource) AddSources(index int, sources []Source, done func()) {
	s.mu.Lock()
	index = clamp(index, 0, len(s.sources))
	s.sources = insertAt(s.sources, index, sources)
	s.version++
	e := Edit{Kind: EditInsert, Index: index, Sources: sources, Done: done, source: s, version: s.version}
	sink := s.sink
	s.mu.Unlock()

	dispatch(sink, e)
}

// RemoveSource removes the source at index. done may be nil.
func (s *ConcatenatingSource) RemoveSource(index int, done func()) {
	s.mu.Lock()
	if index < 0 || index >= len(s.sources) {
		s.mu.Unlock()
		if done != nil {
			done()
		}
		return
	}
	s.sources = append(s.sources[:index:index], s.sources[index+1:]...)
	s.version++
	e := Edit{Kind: EditRemove, Index: index, Done: done, source: s, version: s.version}
	sink := s.sink
	s.mu.Unlock()

	dispatch(sink, e)
}

// attach connects an engine and returns the sources it should start from.
func (s *ConcatenatingSource) attach(sink func(Edit)) ([]Source, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
	return append([]Source(nil), s.sources...), s.version
}

func (s *ConcatenatingSource) detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = nil
}

// Unattached sources have nobody to wait for.
func dispatch(sink func(Edit), e Edit) {
	if sink == nil {
		e.ack()
		return
	}
	sink(e)
}

func insertAt[T any](list []T, index int, items []T) []T {
	out := make([]T, 0, len(list)+len(items))
	out = append(out, list[:index]...)
	out = append(out, items...)
	return append(out, list[index:]...)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// shiftIndex returns where the current window ends up after an edit.
// removed reports whether the current window itself was removed.
func shiftIndex(e Edit, current, newLen int) (next int, removed bool) {
	if newLen == 0 {
		return IndexUnset, current != IndexUnset
	}
	switch e.Kind {
	case EditInsert:
		if current == IndexUnset {
			return 0, false
		}
		if e.Index <= current {
			return current + len(e.Sources), false
		}
		return current, false
	case EditRemove:
		switch {
		case current == IndexUnset:
			return IndexUnset, false
		case e.Index < current:
			return current - 1, false
		case e.Index == current:
			return min(current, newLen-1), true
		}
	}
	return current, false
}
