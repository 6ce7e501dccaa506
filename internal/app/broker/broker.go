// Package broker defers commands until their target service is connected.
package broker

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

var (
	ErrQueueFull = errors.New("too many pending operations")
	ErrClosed    = errors.New("broker is closed")
)

// Connector establishes the connection to the target.
type Connector[T any] func(ctx context.Context) (T, error)

// Config holds broker configuration.
type Config struct {
	MaxPending int `yaml:"max_pending" default:"64" validate:"gte=1"`
}

const defaultMaxPending = 64

type op[T any] struct {
	fn     func(T) error
	result chan error
}

// Broker holds operations in a bounded pending list until the target is
// connected, then runs them one at a time in submission order. At most one
// connect attempt is in flight.
type Broker[T any] struct {
	connect    Connector[T]
	maxPending int

	mu         sync.Mutex
	pending    []*op[T]
	target     T
	ready      bool
	connecting bool
	closed     bool

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a broker. Nothing connects until the first submission.
func New[T any](connect Connector[T], cfg Config) *Broker[T] {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = defaultMaxPending
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker[T]{
		connect:    connect,
		maxPending: cfg.MaxPending,
		wake:       make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
	b.wg.Add(1)
	go b.run()
	return b
}

// Submit queues fn. The returned channel receives fn's result, or the connect
// error if the target could not be reached.
func (b *Broker[T]) Submit(fn func(T) error) (<-chan error, error) {
	o := &op[T]{fn: fn, result: make(chan error, 1)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if len(b.pending) >= b.maxPending {
		return nil, errors.Wrapf(ErrQueueFull, "limit %d", b.maxPending)
	}
	b.pending = append(b.pending, o)

	switch {
	case b.ready:
		b.signal()
	case !b.connecting:
		b.connecting = true
		b.wg.Add(1)
		go b.dial()
	}
	return o.result, nil
}

// Do submits fn and waits for its result.
func (b *Broker[T]) Do(ctx context.Context, fn func(T) error) error {
	result, err := b.Submit(fn)
	if err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether the target is connected.
func (b *Broker[T]) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

// Pending returns the number of operations waiting to run.
func (b *Broker[T]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Disconnect forgets the current target and returns it. The next submission
// connects again.
func (b *Broker[T]) Disconnect() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var zero T
	if !b.ready {
		return zero, false
	}
	t := b.target
	b.target = zero
	b.ready = false
	if len(b.pending) > 0 && !b.connecting && !b.closed {
		b.connecting = true
		b.wg.Add(1)
		go b.dial()
	}
	return t, true
}

// Close fails every pending operation with ErrClosed and stops the worker.
// An operation already running is allowed to finish.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	b.cancel()
	for _, o := range pending {
		o.result <- ErrClosed
	}
	b.wg.Wait()
}

func (b *Broker[T]) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Broker[T]) dial() {
	defer b.wg.Done()

	t, err := b.connect(b.ctx)

	b.mu.Lock()
	b.connecting = false
	if b.closed {
		b.mu.Unlock()
		return
	}
	if err != nil {
		failed := b.pending
		b.pending = nil
		b.mu.Unlock()

		zlog.Error().Msgf("broker: connect failed, dropping %d operations: %v", len(failed), err)
		for _, o := range failed {
			o.result <- errors.Wrap(err, "failed to connect")
		}
		return
	}
	b.target = t
	b.ready = true
	b.signal()
	b.mu.Unlock()
	zlog.Debug().Msg("broker: connected")
}

func (b *Broker[T]) run() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-b.wake:
		}
		for b.step() {
		}
	}
}

// step runs the oldest pending operation if the target is connected.
func (b *Broker[T]) step() bool {
	b.mu.Lock()
	if !b.ready || b.closed || len(b.pending) == 0 {
		b.mu.Unlock()
		return false
	}
	o := b.pending[0]
	b.pending[0] = nil
	b.pending = b.pending[1:]
	t := b.target
	b.mu.Unlock()

	o.result <- b.invoke(o, t)
	return true
}

func (b *Broker[T]) invoke(o *op[T], t T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("broker: operation panicked: %v", r)
			err = errors.Newf("operation panicked: %v", r)
		}
	}()
	return o.fn(t)
}
