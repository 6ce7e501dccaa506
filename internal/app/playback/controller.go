package playback

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/osa030/trackbridge/internal/domain/track"
	"github.com/osa030/trackbridge/internal/infra/engine"
)

// Config holds controller configuration.
type Config struct {
	EventBuffer int // Capacity of the event channel
}

const defaultEventBuffer = 256

// Controller is the command surface of one player. Every operation runs on a
// single executor together with the engine's events, so queue and state
// bookkeeping never race. Times are seconds at this boundary.
type Controller struct {
	engine  engine.Engine
	exec    *executor
	snap    *snapshot
	queue   *queue
	machine *stateMachine

	eventCh chan Event

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

// NewController creates a controller that owns eng.
func NewController(eng engine.Engine, factory SourceFactory, config Config) *Controller {
	if config.EventBuffer <= 0 {
		config.EventBuffer = defaultEventBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		engine:  eng,
		exec:    newExecutor(),
		snap:    newSnapshot(),
		eventCh: make(chan Event, config.EventBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}
	c.queue = newQueue(eng, factory, c.snap)
	c.machine = newStateMachine(eng, c.queue, c.snap, c.sendEvent)

	eng.SetListener(func(e engine.Event) {
		c.exec.Post(func() { c.machine.handle(e) })
	})
	return c
}

// Events returns the event channel. It is closed by Close.
func (c *Controller) Events() <-chan Event {
	return c.eventCh
}

// Add inserts items before the first item with insertBeforeID, or appends
// when insertBeforeID is empty. It returns once the engine has the items.
func (c *Controller) Add(ctx context.Context, items []track.Track, insertBeforeID string) error {
	if len(items) == 0 {
		return errors.Wrap(ErrInvalidTrack, "no tracks given")
	}
	for i := range items {
		if err := items[i].Validate(); err != nil {
			return errors.Wrapf(err, "track %d", i)
		}
	}

	done := make(chan struct{})
	err := c.exec.Do(ctx, func() error {
		index := c.queue.size()
		if insertBeforeID != "" {
			if index = c.queue.indexOf(insertBeforeID); index < 0 {
				return errors.Wrapf(ErrTrackNotInQueue, "insert before %q", insertBeforeID)
			}
		}
		return c.queue.add(items, index, closer(done))
	})
	if err != nil {
		return err
	}
	return wait(ctx, done)
}

// Remove removes the first item matching each id. Unknown ids are ignored.
func (c *Controller) Remove(ctx context.Context, ids []string) error {
	done := make(chan struct{})
	err := c.exec.Do(ctx, func() error {
		indexes := lo.FilterMap(ids, func(id string, _ int) (int, bool) {
			i := c.queue.indexOf(id)
			return i, i >= 0
		})
		c.queue.remove(indexes, closer(done))
		return nil
	})
	if err != nil {
		return err
	}
	return wait(ctx, done)
}

// RemoveUpcoming removes every item after the current one.
func (c *Controller) RemoveUpcoming(ctx context.Context) error {
	done := make(chan struct{})
	err := c.exec.Do(ctx, func() error {
		c.queue.removeUpcoming(closer(done))
		return nil
	})
	if err != nil {
		return err
	}
	return wait(ctx, done)
}

// Skip jumps to the first item with id.
func (c *Controller) Skip(ctx context.Context, id string) error {
	return c.exec.Do(ctx, func() error {
		return c.queue.skip(id)
	})
}

// SkipToNext jumps to the next item.
func (c *Controller) SkipToNext(ctx context.Context) error {
	return c.exec.Do(ctx, c.queue.skipToNext)
}

// SkipToPrevious jumps to the previous item.
func (c *Controller) SkipToPrevious(ctx context.Context) error {
	return c.exec.Do(ctx, c.queue.skipToPrevious)
}

// Play sets the play intent.
func (c *Controller) Play(ctx context.Context) error {
	return c.run(ctx, func() { c.engine.SetPlayWhenReady(true) })
}

// Pause clears the play intent.
func (c *Controller) Pause(ctx context.Context) error {
	return c.run(ctx, func() { c.engine.SetPlayWhenReady(false) })
}

// Stop halts playback and rewinds the current item. The queue is kept.
func (c *Controller) Stop(ctx context.Context) error {
	return c.run(ctx, func() {
		c.snap.capture(c.engine)
		c.engine.Stop(false)
		c.engine.SeekTo(0)
	})
}

// Reset stops playback and clears the queue.
func (c *Controller) Reset(ctx context.Context) error {
	return c.run(ctx, c.queue.reset)
}

// SeekTo seeks within the current item.
func (c *Controller) SeekTo(ctx context.Context, sec float64) error {
	return c.run(ctx, func() {
		c.snap.capture(c.engine)
		c.engine.SeekTo(millis(sec))
	})
}

// SetVolume sets the output volume, 0 to 1.
func (c *Controller) SetVolume(ctx context.Context, volume float64) error {
	return c.run(ctx, func() { c.engine.SetVolume(volume) })
}

// Volume returns the output volume.
func (c *Controller) Volume(ctx context.Context) (float64, error) {
	return get(ctx, c, c.engine.Volume)
}

// SetRate sets the playback speed.
func (c *Controller) SetRate(ctx context.Context, rate float64) error {
	return c.run(ctx, func() { c.engine.SetSpeed(rate) })
}

// Rate returns the playback speed.
func (c *Controller) Rate(ctx context.Context) (float64, error) {
	return get(ctx, c, c.engine.Speed)
}

// Track returns the first item with id, or nil.
func (c *Controller) Track(ctx context.Context, id string) (*track.Track, error) {
	return get(ctx, c, func() *track.Track {
		return c.queue.at(c.queue.indexOf(id))
	})
}

// Queue returns a copy of the queue.
func (c *Controller) Queue(ctx context.Context) ([]track.Track, error) {
	return get(ctx, c, c.queue.list)
}

// CurrentTrack returns the current item, or nil.
func (c *Controller) CurrentTrack(ctx context.Context) (*track.Track, error) {
	return get(ctx, c, c.queue.current)
}

// Duration returns the current item's duration, 0 when unknown.
func (c *Controller) Duration(ctx context.Context) (float64, error) {
	ms, err := get(ctx, c, c.engine.Duration)
	return seconds(ms), err
}

// BufferedPosition returns how far the current item is loaded, 0 when unknown.
func (c *Controller) BufferedPosition(ctx context.Context) (float64, error) {
	ms, err := get(ctx, c, c.engine.BufferedPosition)
	return seconds(ms), err
}

// Position returns the playback position in the current item.
func (c *Controller) Position(ctx context.Context) (float64, error) {
	ms, err := get(ctx, c, c.engine.CurrentPosition)
	if err != nil {
		return 0, err
	}
	if ms == engine.TimeUnset {
		return 0, ErrUnknownPosition
	}
	return seconds(ms), nil
}

// State returns the current host state.
func (c *Controller) State(ctx context.Context) (State, error) {
	return get(ctx, c, func() State {
		return deriveState(c.engine.PlaybackState(), c.engine.PlayWhenReady())
	})
}

// Close releases the engine and closes the event channel.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.engine.SetListener(nil)
		c.exec.Close()
		c.engine.Release()
		close(c.eventCh)
		zlog.Debug().Msg("playback: controller closed")
	})
}

func (c *Controller) run(ctx context.Context, fn func()) error {
	return c.exec.Do(ctx, func() error {
		fn()
		return nil
	})
}

// sendEvent runs on the executor.
func (c *Controller) sendEvent(e Event) {
	select {
	case c.eventCh <- e:
	case <-c.ctx.Done():
	default:
		zlog.Warn().Msgf("playback: event channel full, dropping %s", e.Type)
	}
}

func get[T any](ctx context.Context, c *Controller, fn func() T) (T, error) {
	result := make(chan T, 1)
	err := c.exec.Do(ctx, func() error {
		result <- fn()
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return <-result, nil
}

func closer(ch chan struct{}) func() {
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func wait(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
