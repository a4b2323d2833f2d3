// Package admission implements the two semaphores described in spec §4.7:
// a single global permit that serializes download-context builds, and a
// weighted file-permit semaphore sized to the process's open-file limit
// that backpressures concurrent chunk reads.
package admission

import (
	"container/list"
	"context"
	"sync"
)

// Semaphore is a weighted counting semaphore that supports acquiring and
// releasing more than one permit atomically, first-waiter-first. A waiter
// blocks until its full request can be satisfied; it never holds a
// partial set of permits while the rest queue behind other requests,
// which is what makes a multi-permit Acquire safe to call concurrently
// with other multi-permit Acquires on the same pool (spec §4.7).
type Semaphore struct {
	mu       sync.Mutex
	capacity int
	used     int
	waiters  list.List // of *waiter
}

type waiter struct {
	n     int
	ready chan struct{}
}

// NewSemaphore builds a semaphore with the given total capacity.
func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		capacity = 1
	}
	return &Semaphore{capacity: capacity}
}

// Capacity returns the total number of permits the semaphore was built with.
func (s *Semaphore) Capacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity
}

// Acquire blocks until n permits are available or ctx is done. Acquisition
// of the n permits is atomic: on success the caller holds exactly n; on
// failure it holds none, and never a partial set in between.
func (s *Semaphore) Acquire(ctx context.Context, n int) error {
	s.mu.Lock()
	if s.capacity-s.used >= n && s.waiters.Len() == 0 {
		s.used += n
		s.mu.Unlock()
		return nil
	}

	if n > s.capacity {
		// Can never be satisfied; block only on ctx so callers that pass a
		// background context don't spin, but never grant it.
		s.mu.Unlock()
		<-ctx.Done()
		return ctx.Err()
	}

	w := &waiter{n: n, ready: make(chan struct{})}
	elem := s.waiters.PushBack(w)
	s.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		err := ctx.Err()
		s.mu.Lock()
		select {
		case <-w.ready:
			// Granted concurrently with cancellation; honor the grant
			// rather than leaving permits orphaned.
			err = nil
		default:
			front := s.waiters.Front() == elem
			s.waiters.Remove(elem)
			if front {
				s.notifyWaiters()
			}
		}
		s.mu.Unlock()
		return err
	}
}

// Release returns n permits to the semaphore.
func (s *Semaphore) Release(n int) {
	s.mu.Lock()
	s.used -= n
	if s.used < 0 {
		s.used = 0
	}
	s.notifyWaiters()
	s.mu.Unlock()
}

// notifyWaiters grants permits to queued waiters in FIFO order, stopping
// at the first waiter whose request can't yet be satisfied so a large
// request isn't starved by a stream of smaller ones jumping the queue.
// Must be called with s.mu held.
func (s *Semaphore) notifyWaiters() {
	for {
		front := s.waiters.Front()
		if front == nil {
			return
		}
		w := front.Value.(*waiter)
		if s.capacity-s.used < w.n {
			return
		}
		s.used += w.n
		s.waiters.Remove(front)
		close(w.ready)
	}
}

// InUse returns the number of currently held permits (best-effort; racy by
// nature of a concurrent semaphore, intended for metrics only).
func (s *Semaphore) InUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}
