package engine

import (
	"context"
	"sync"

	zlog "github.com/rs/zerolog/log"
)

// Loader runs media loads on a fixed set of workers so that network, cache
// and disk I/O never happen on the playback control goroutine.
type Loader struct {
	jobs   chan func(context.Context)
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewLoader starts a loader with the given number of workers and queue depth.
func NewLoader(workers, depth int) *Loader {
	if workers < 1 {
		workers = 1
	}
	if depth < 1 {
		depth = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loader{
		jobs:   make(chan func(context.Context), depth),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		l.wg.Add(1)
		go l.worker()
	}
	return l
}

func (l *Loader) worker() {
	defer l.wg.Done()
	for {
		select {
		case <-l.ctx.Done():
			return
		case job := <-l.jobs:
			job(l.ctx)
		}
	}
}

// Submit queues a job. It blocks while the queue is full and returns false
// once the loader is closed.
func (l *Loader) Submit(job func(ctx context.Context)) bool {
	select {
	case <-l.ctx.Done():
		return false
	default:
	}
	select {
	case l.jobs <- job:
		return true
	case <-l.ctx.Done():
		zlog.Debug().Msg("loader closed, dropping job")
		return false
	}
}

// Close cancels running jobs and waits for the workers to exit.
func (l *Loader) Close() {
	l.once.Do(func() {
		l.cancel()
		l.wg.Wait()
	})
}
