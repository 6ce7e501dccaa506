package playback

import (
	"slices"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/osa030/trackbridge/internal/domain/track"
	"github.com/osa030/trackbridge/internal/infra/engine"
)

// SourceFactory builds engine sources for queue items, one per item and in order.
type SourceFactory interface {
	Sources(items []track.Track) []engine.Source
}

// snapshot is the last known window and position.
type snapshot struct {
	window   int
	position int64
}

func newSnapshot() *snapshot {
	s := &snapshot{}
	s.clear()
	return s
}

func (s *snapshot) capture(e engine.Engine) {
	s.window = e.CurrentWindowIndex()
	s.position = e.CurrentPosition()
}

func (s *snapshot) clear() {
	s.window = engine.IndexUnset
	s.position = engine.TimeUnset
}

// queue keeps the item list and the engine timeline in step.
// It is only touched from the controller's executor.
type queue struct {
	engine  engine.Engine
	factory SourceFactory
	snap    *snapshot

	source *engine.ConcatenatingSource
	items  []track.Track
}

func newQueue(eng engine.Engine, factory SourceFactory, snap *snapshot) *queue {
	q := &queue{
		engine:  eng,
		factory: factory,
		snap:    snap,
		source:  engine.NewConcatenatingSource(),
	}
	eng.Prepare(q.source)
	return q
}

// add inserts items at index. done runs once the engine has applied the edit.
func (q *queue) add(items []track.Track, index int, done func()) error {
	if index < 0 || index > len(q.items) {
		return errors.Wrapf(ErrIndexOutOfRange, "index %d, queue length %d", index, len(q.items))
	}
	wasEmpty := len(q.items) == 0

	q.items = slices.Insert(q.items, index, items...)
	q.source.AddSources(index, q.factory.Sources(items), done)

	if wasEmpty {
		q.engine.Prepare(q.source)
	}
	zlog.Debug().Msgf("queue: added %d item(s) at %d, length=%d", len(items), index, len(q.items))
	return nil
}

// remove drops the items at indexes. done runs once the edit for the lowest
// index is applied, which is the last one issued.
func (q *queue) remove(indexes []int, done func()) {
	valid := lo.Uniq(lo.Filter(indexes, func(i int, _ int) bool {
		return i >= 0 && i < len(q.items)
	}))
	if len(valid) == 0 {
		if done != nil {
			done()
		}
		return
	}
	slices.Sort(valid)
	lowest := valid[0]

	for i := len(valid) - 1; i >= 0; i-- {
		idx := valid[i]
		q.items = slices.Delete(q.items, idx, idx+1)
		var cb func()
		if idx == lowest {
			cb = done
		}
		q.source.RemoveSource(idx, cb)
	}
	zlog.Debug().Msgf("queue: removed %v, length=%d", valid, len(q.items))
}

// removeUpcoming drops every item after the current one.
func (q *queue) removeUpcoming(done func()) {
	current := q.engine.CurrentWindowIndex()
	if current == engine.IndexUnset || current+1 >= len(q.items) {
		if done != nil {
			done()
		}
		return
	}
	indexes := make([]int, 0, len(q.items)-current-1)
	for i := current + 1; i < len(q.items); i++ {
		indexes = append(indexes, i)
	}
	q.remove(indexes, done)
}

// skip moves playback to the first item with the given id.
func (q *queue) skip(id string) error {
	idx := q.indexOf(id)
	if idx < 0 {
		return errors.Wrapf(ErrTrackNotInQueue, "id %q", id)
	}
	q.snap.capture(q.engine)
	q.seekToDefaultPosition(idx)
	return nil
}

func (q *queue) skipToNext() error {
	next := q.engine.NextWindowIndex()
	if next == engine.IndexUnset {
		return ErrQueueExhausted
	}
	q.snap.capture(q.engine)
	q.seekToDefaultPosition(next)
	return nil
}

func (q *queue) skipToPrevious() error {
	prev := q.engine.PreviousWindowIndex()
	if prev == engine.IndexUnset {
		return ErrNoPreviousTrack
	}
	q.snap.capture(q.engine)
	q.seekToDefaultPosition(prev)
	return nil
}

// reset stops playback and starts over with an empty timeline.
func (q *queue) reset() {
	q.snap.capture(q.engine)
	q.engine.Stop(true)
	q.items = nil
	q.source = engine.NewConcatenatingSource()
	q.engine.Prepare(q.source)
	q.snap.clear()
	zlog.Debug().Msg("queue: reset")
}

// seekToDefaultPosition ignores indexes the timeline cannot address.
func (q *queue) seekToDefaultPosition(index int) {
	tl := q.engine.CurrentTimeline()
	if tl == nil || index < 0 || (!tl.IsEmpty() && index >= tl.WindowCount()) {
		return
	}
	q.engine.SeekToDefaultPosition(index)
}

func (q *queue) indexOf(id string) int {
	_, idx, ok := lo.FindIndexOf(q.items, func(t track.Track) bool { return t.ID == id })
	if !ok {
		return -1
	}
	return idx
}

func (q *queue) at(index int) *track.Track {
	if index < 0 || index >= len(q.items) {
		return nil
	}
	t := q.items[index]
	return &t
}

func (q *queue) current() *track.Track {
	return q.at(q.engine.CurrentWindowIndex())
}

func (q *queue) list() []track.Track {
	return slices.Clone(q.items)
}

func (q *queue) size() int {
	return len(q.items)
}
