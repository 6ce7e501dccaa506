package playback

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/trackbridge/internal/domain/track"
	"github.com/osa030/trackbridge/internal/infra/engine"
)

type staticFactory struct{}

func (staticFactory) Sources(items []track.Track) []engine.Source {
	return lo.Map(items, func(t track.Track, _ int) engine.Source {
		d := engine.TimeUnset
		if t.Duration > 0 {
			d = t.Duration.Milliseconds()
		}
		return engine.StaticSource{Locator: t.ID, DurationMs: d}
	})
}

func newTestController(t *testing.T) (*Controller, *engine.Fake) {
	t.Helper()
	fake := engine.NewFake()
	c := NewController(fake, staticFactory{}, Config{})
	t.Cleanup(c.Close)
	return c, fake
}

func tracks(ids ...string) []track.Track {
	out := make([]track.Track, len(ids))
	for i, id := range ids {
		out[i] = track.Track{ID: id, URL: "https://cdn.example.com/" + id + ".mp3", Duration: 3 * time.Second}
	}
	return out
}

func ids(ts []track.Track) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.ID
	}
	return out
}

func timelineIDs(e engine.Engine) []string {
	tl := e.CurrentTimeline()
	out := make([]string, tl.WindowCount())
	for i := range out {
		out[i] = tl.Window(i).ID
	}
	return out
}

// settle waits until every engine event posted so far has been handled.
func settle(t *testing.T, c *Controller) {
	t.Helper()
	_, err := c.State(context.Background())
	require.NoError(t, err)
}

func drain(t *testing.T, c *Controller) []Event {
	t.Helper()
	settle(t, c)
	var out []Event
	for {
		select {
		case e := <-c.Events():
			out = append(out, e)
		default:
			return out
		}
	}
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func queueIDs(t *testing.T, c *Controller) []string {
	t.Helper()
	q, err := c.Queue(context.Background())
	require.NoError(t, err)
	return ids(q)
}

func TestController_Add(t *testing.T) {
	ctx := context.Background()
	c, fake := newTestController(t)

	require.NoError(t, c.Add(ctx, tracks("a", "b"), ""))
	assert.Equal(t, []string{"a", "b"}, queueIDs(t, c))
	assert.Equal(t, []string{"a", "b"}, timelineIDs(fake))
	assert.Equal(t, 2, fake.Prepares(), "prepared at start and again when the first items arrive")

	require.NoError(t, c.Add(ctx, tracks("x"), "b"))
	assert.Equal(t, []string{"a", "x", "b"}, queueIDs(t, c))
	assert.Equal(t, []string{"a", "x", "b"}, timelineIDs(fake))
	assert.Equal(t, 2, fake.Prepares())

	err := c.Add(ctx, tracks("y"), "missing")
	assert.True(t, errors.Is(err, ErrTrackNotInQueue))
	assert.Equal(t, CodeTrackNotInQueue, Code(err))

	err = c.Add(ctx, nil, "")
	assert.Equal(t, CodeInvalidTrack, Code(err))

	err = c.Add(ctx, []track.Track{{ID: "z"}}, "")
	assert.Equal(t, CodeInvalidTrack, Code(err))

	assert.Equal(t, []string{"a", "x", "b"}, queueIDs(t, c), "failed adds leave the queue alone")
}

func TestController_AddWaitsForEngine(t *testing.T) {
	ctx := context.Background()
	c, fake := newTestController(t)
	require.NoError(t, c.Add(ctx, tracks("a"), ""))

	fake.HoldEdits(true)
	done := make(chan error, 1)
	go func() { done <- c.Add(ctx, tracks("b"), "") }()

	require.Eventually(t, func() bool { return fake.HeldEdits() == 1 }, time.Second, time.Millisecond)
	select {
	case <-done:
		t.Fatal("add returned before the engine applied it")
	case <-time.After(20 * time.Millisecond):
	}

	fake.ReleaseEdits()
	require.NoError(t, <-done)
	assert.Equal(t, []string{"a", "b"}, timelineIDs(fake))
}

func TestController_AddHonorsContext(t *testing.T) {
	c, fake := newTestController(t)
	require.NoError(t, c.Add(context.Background(), tracks("a"), ""))
	fake.HoldEdits(true)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Add(ctx, tracks("b"), "")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	fake.ReleaseEdits()
}

func TestController_RemoveDescending(t *testing.T) {
	ctx := context.Background()
	c, fake := newTestController(t)
	require.NoError(t, c.Add(ctx, tracks("a", "b", "c", "d", "e"), ""))

	fake.HoldEdits(true)
	done := make(chan error, 1)
	go func() { done <- c.Remove(ctx, []string{"d", "b", "e", "b"}) }()

	require.Eventually(t, func() bool { return fake.HeldEdits() == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"a", "c"}, queueIDs(t, c))

	fake.ReleaseEdits()
	require.NoError(t, <-done)
	assert.Equal(t, []string{"a", "c"}, timelineIDs(fake))
}

func TestController_RemoveUnknownResolvesImmediately(t *testing.T) {
	ctx := context.Background()
	c, fake := newTestController(t)
	require.NoError(t, c.Add(ctx, tracks("a"), ""))

	fake.HoldEdits(true)
	defer fake.ReleaseEdits()

	require.NoError(t, c.Remove(ctx, []string{"nope"}))
	require.NoError(t, c.Remove(ctx, nil))
	assert.Zero(t, fake.HeldEdits())
}

func TestController_RemoveUpcoming(t *testing.T) {
	ctx := context.Background()
	c, fake := newTestController(t)
	require.NoError(t, c.Add(ctx, tracks("a", "b", "c", "d"), ""))
	require.NoError(t, c.Skip(ctx, "b"))

	require.NoError(t, c.RemoveUpcoming(ctx))
	assert.Equal(t, []string{"a", "b"}, queueIDs(t, c))
	assert.Equal(t, []string{"a", "b"}, timelineIDs(fake))

	// Nothing after the last item.
	require.NoError(t, c.RemoveUpcoming(ctx))
	assert.Equal(t, []string{"a", "b"}, queueIDs(t, c))
}

func TestController_SkipUnknown(t *testing.T) {
	ctx := context.Background()
	c, fake := newTestController(t)
	require.NoError(t, c.Add(ctx, tracks("a", "b"), ""))
	drain(t, c)

	err := c.Skip(ctx, "zzz")
	assert.Equal(t, CodeTrackNotInQueue, Code(err))
	assert.Equal(t, 0, fake.CurrentWindowIndex())
	assert.Empty(t, drain(t, c))
}

func TestController_SkipReportsLeftPosition(t *testing.T) {
	ctx := context.Background()
	c, fake := newTestController(t)
	require.NoError(t, c.Add(ctx, tracks("a", "b", "c"), ""))
	drain(t, c)

	fake.SetPosition(1200)
	require.NoError(t, c.Skip(ctx, "c"))

	events := drain(t, c)
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, EventTrackChanged, e.Type)
	assert.Equal(t, "a", e.Previous.ID)
	assert.Equal(t, "c", e.Next.ID)
	assert.InDelta(t, 1.2, e.Position, 1e-9)

	cur, err := c.CurrentTrack(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c", cur.ID)
}

func TestController_SkipToAdjacent(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestController(t)

	assert.Equal(t, CodeQueueExhausted, Code(c.SkipToNext(ctx)))
	assert.Equal(t, CodeNoPreviousTrack, Code(c.SkipToPrevious(ctx)))

	require.NoError(t, c.Add(ctx, tracks("a", "b"), ""))
	assert.Equal(t, CodeNoPreviousTrack, Code(c.SkipToPrevious(ctx)))
	require.NoError(t, c.SkipToNext(ctx))
	assert.Equal(t, CodeQueueExhausted, Code(c.SkipToNext(ctx)))
	require.NoError(t, c.SkipToPrevious(ctx))

	cur, err := c.CurrentTrack(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", cur.ID)
}

func TestController_BufferingThenReady(t *testing.T) {
	ctx := context.Background()
	c, fake := newTestController(t)
	require.NoError(t, c.Add(ctx, tracks("a"), ""))
	drain(t, c)

	require.NoError(t, c.Play(ctx))
	fake.SetState(engine.StateReady)

	events := drain(t, c)
	assert.Equal(t, []EventType{EventPlay, EventStateChange, EventStateChange}, eventTypes(events))
	assert.Equal(t, StateBuffering, events[1].State)
	assert.Equal(t, StatePlaying, events[2].State)

	state, err := c.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatePlaying, state)
}

func TestController_PauseAndEnd(t *testing.T) {
	ctx := context.Background()
	c, fake := newTestController(t)
	require.NoError(t, c.Add(ctx, tracks("a"), ""))
	require.NoError(t, c.Play(ctx))
	fake.SetState(engine.StateReady)
	drain(t, c)

	require.NoError(t, c.Pause(ctx))
	events := drain(t, c)
	assert.Equal(t, []EventType{EventPause, EventStateChange}, eventTypes(events))
	assert.Equal(t, StatePaused, events[1].State)

	require.NoError(t, c.Play(ctx))
	drain(t, c)

	fake.Advance()
	events = drain(t, c)
	require.Equal(t, []EventType{EventStop, EventStateChange, EventEnd}, eventTypes(events))
	assert.Equal(t, StateStopped, events[1].State)
	assert.Equal(t, "a", events[2].Track.ID)
	assert.InDelta(t, 3.0, events[2].Position, 1e-9)
}

func TestController_PeriodTransitionUsesDuration(t *testing.T) {
	ctx := context.Background()
	c, fake := newTestController(t)
	require.NoError(t, c.Add(ctx, tracks("a", "b"), ""))
	require.NoError(t, c.Play(ctx))
	fake.SetState(engine.StateReady)
	drain(t, c)

	fake.SetPosition(2950)
	fake.Advance()

	events := drain(t, c)
	require.Len(t, events, 1)
	assert.Equal(t, EventTrackChanged, events[0].Type)
	assert.Equal(t, "a", events[0].Previous.ID)
	assert.Equal(t, "b", events[0].Next.ID)
	assert.InDelta(t, 3.0, events[0].Position, 1e-9)
}

func TestController_FirstItemReportsNoPrevious(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestController(t)
	require.NoError(t, c.Add(ctx, tracks("a"), ""))

	events := drain(t, c)
	require.Len(t, events, 1)
	assert.Equal(t, EventTrackChanged, events[0].Type)
	assert.Nil(t, events[0].Previous)
	assert.Equal(t, "a", events[0].Next.ID)
	assert.Zero(t, events[0].Position)
}

func TestController_ResetRacingHeldEdits(t *testing.T) {
	ctx := context.Background()
	c, fake := newTestController(t)
	require.NoError(t, c.Add(ctx, tracks("a", "b"), ""))

	fake.HoldEdits(true)
	addDone := make(chan error, 1)
	removeDone := make(chan error, 1)
	go func() { addDone <- c.Add(ctx, tracks("c"), "") }()
	require.Eventually(t, func() bool { return fake.HeldEdits() == 1 }, time.Second, time.Millisecond)
	go func() { removeDone <- c.Remove(ctx, []string{"a"}) }()
	require.Eventually(t, func() bool { return fake.HeldEdits() == 2 }, time.Second, time.Millisecond)

	require.NoError(t, c.Reset(ctx))
	fake.ReleaseEdits()

	require.NoError(t, <-addDone)
	require.NoError(t, <-removeDone)
	assert.Empty(t, queueIDs(t, c))
	assert.Empty(t, timelineIDs(fake))
	assert.Equal(t, []bool{true}, fake.Stops())

	require.NoError(t, c.Add(ctx, tracks("d"), ""))
	assert.Equal(t, []string{"d"}, queueIDs(t, c))
	assert.Equal(t, []string{"d"}, timelineIDs(fake))
}

func TestController_UnsetPosition(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestController(t)

	_, err := c.Position(ctx)
	assert.True(t, errors.Is(err, ErrUnknownPosition))
	assert.Equal(t, CodeUnknown, Code(err))

	d, err := c.Duration(ctx)
	require.NoError(t, err)
	assert.Zero(t, d)

	b, err := c.BufferedPosition(ctx)
	require.NoError(t, err)
	assert.Zero(t, b)
}

func TestController_StopRewinds(t *testing.T) {
	ctx := context.Background()
	c, fake := newTestController(t)
	require.NoError(t, c.Add(ctx, tracks("a", "b"), ""))
	require.NoError(t, c.SkipToNext(ctx))
	require.NoError(t, c.Play(ctx))
	fake.SetState(engine.StateReady)
	require.NoError(t, c.SeekTo(ctx, 1.5))

	pos, err := c.Position(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, pos, 1e-9)
	drain(t, c)

	require.NoError(t, c.Stop(ctx))
	assert.Equal(t, []bool{false}, fake.Stops())

	pos, err = c.Position(ctx)
	require.NoError(t, err)
	assert.Zero(t, pos)
	assert.Equal(t, []string{"a", "b"}, queueIDs(t, c))

	events := drain(t, c)
	assert.Equal(t, []EventType{EventStop, EventStateChange}, eventTypes(events))
	assert.Equal(t, StateNone, events[1].State)
}

func TestController_Accessors(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestController(t)

	cur, err := c.CurrentTrack(ctx)
	require.NoError(t, err)
	assert.Nil(t, cur)

	require.NoError(t, c.Add(ctx, tracks("a", "b", "a"), ""))

	tr, err := c.Track(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "b", tr.ID)

	tr, err = c.Track(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, tr)

	d, err := c.Duration(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, d, 1e-9)

	require.NoError(t, c.SetVolume(ctx, 0.25))
	v, err := c.Volume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.25, v)

	require.NoError(t, c.SetRate(ctx, 1.5))
	r, err := c.Rate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.5, r)

	// Duplicate ids resolve to the first occurrence.
	require.NoError(t, c.Remove(ctx, []string{"a"}))
	assert.Equal(t, []string{"b", "a"}, queueIDs(t, c))
}

func TestController_EngineError(t *testing.T) {
	ctx := context.Background()
	c, fake := newTestController(t)
	require.NoError(t, c.Add(ctx, tracks("a"), ""))
	drain(t, c)

	fake.Fail(errors.New("decoder exploded"))
	events := drain(t, c)
	require.NotEmpty(t, events)
	assert.Equal(t, EventError, events[0].Type)
	assert.Equal(t, "playback", events[0].Source)
	assert.Equal(t, "decoder exploded", events[0].Message)
	assert.Equal(t, []string{"a"}, queueIDs(t, c), "queue survives engine errors")
}

func TestController_Close(t *testing.T) {
	c, fake := newTestController(t)
	c.Close()

	_, ok := <-c.Events()
	assert.False(t, ok)
	assert.True(t, errors.Is(c.Play(context.Background()), ErrClosed))

	// Engine events after close are dropped.
	fake.SetState(engine.StateReady)
	c.Close()
}
