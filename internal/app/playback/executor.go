package playback

import (
	"context"
	"sync"
)

// executor runs tasks one at a time in submission order.
// The backlog is unbounded so posting never blocks.
type executor struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newExecutor() *executor {
	x := &executor{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go x.run()
	return x
}

// Post schedules fn. It returns false once the executor is closed.
func (x *executor) Post(fn func()) bool {
	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		return false
	}
	x.tasks = append(x.tasks, fn)
	x.mu.Unlock()

	select {
	case x.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the executor and waits for its result or for ctx.
func (x *executor) Do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if !x.Post(func() { result <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks, lets the backlog drain and waits for it.
func (x *executor) Close() {
	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		<-x.done
		return
	}
	x.closed = true
	x.mu.Unlock()

	select {
	case x.wake <- struct{}{}:
	default:
	}
	<-x.done
}

func (x *executor) run() {
	defer close(x.done)
	for range x.wake {
		for {
			x.mu.Lock()
			if len(x.tasks) == 0 {
				closed := x.closed
				x.mu.Unlock()
				if closed {
					return
				}
				break
			}
			fn := x.tasks[0]
			x.tasks[0] = nil
			x.tasks = x.tasks[1:]
			x.mu.Unlock()

			fn()
		}
	}
}
