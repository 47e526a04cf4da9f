package db

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrQueueFull is returned when the async writer cannot take more work.
var ErrQueueFull = errors.New("db: write queue full")

// DefaultQueueCapacity is the buffer size of an AsyncRecorder.
const DefaultQueueCapacity = 64

// AsyncRecorder stores generations on a background goroutine so the
// generation path never waits on disk.
type AsyncRecorder struct {
	store   *Database
	queue   chan Generation
	onError func(Generation, error)

	wg       sync.WaitGroup
	stopOnce sync.Once
	mu       sync.RWMutex
	stopped  bool
}

// NewAsyncRecorder starts a recorder writing into store. onError may be nil.
func NewAsyncRecorder(store *Database, capacity int, onError func(Generation, error)) *AsyncRecorder {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if onError == nil {
		onError = func(Generation, error) {}
	}
	r := &AsyncRecorder{
		store:   store,
		queue:   make(chan Generation, capacity),
		onError: onError,
	}
	r.wg.Add(1)
	go r.run()
	return r
}

func (r *AsyncRecorder) run() {
	defer r.wg.Done()
	for g := range r.queue {
		if err := r.store.InsertGeneration(context.Background(), g); err != nil {
			r.onError(g, err)
		}
	}
}

// InsertGeneration queues g without blocking.
func (r *AsyncRecorder) InsertGeneration(_ context.Context, g Generation) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return ErrClosed
	}
	select {
	case r.queue <- g:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of queued writes.
func (r *AsyncRecorder) Pending() int { return len(r.queue) }

// Close stops accepting writes and waits up to timeout for the queue to
// drain. It reports whether the drain finished.
func (r *AsyncRecorder) Close(timeout time.Duration) bool {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.stopped = true
		close(r.queue)
		r.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
