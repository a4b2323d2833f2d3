package rpc

import (
	"sync"

	"github.com/torrential/depot/internal/wire"
)

// waitMap is a one-shot rendezvous keyed by message_id (spec §9): an
// awaiter inserted before the value arrives parks until Deliver is
// called for that key; a value that arrives first is buffered until an
// awaiter appears. Each key supports exactly one awaiter (spec §4.2:
// "multiple awaiters on the same id is undefined").
type waitMap struct {
	mu      sync.Mutex
	waiters map[string]chan wire.Envelope
}

func newWaitMap() *waitMap {
	return &waitMap{waiters: make(map[string]chan wire.Envelope)}
}

// Await registers interest in messageID and blocks (via the returned
// channel) until Deliver is called with that id. Callers must read
// exactly once from the returned channel.
func (w *waitMap) Await(messageID string) <-chan wire.Envelope {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch, ok := w.waiters[messageID]
	if !ok {
		ch = make(chan wire.Envelope, 1)
		w.waiters[messageID] = ch
	}
	return ch
}

// Deliver wakes the awaiter for env.MessageID, buffering the value if no
// awaiter has registered yet.
func (w *waitMap) Deliver(env wire.Envelope) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch, ok := w.waiters[env.MessageID]
	if !ok {
		ch = make(chan wire.Envelope, 1)
		w.waiters[env.MessageID] = ch
	}

	select {
	case ch <- env:
	default:
		// already has a buffered value or an awaiter raced us; drop
		// silently, matching the "undefined" multi-awaiter contract.
	}
}

// Forget removes messageID's entry, used after an await has received its
// value. Entries left by an awaiter whose context ended are not removed.
func (w *waitMap) Forget(messageID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.waiters, messageID)
}

// Len reports the number of outstanding entries, for diagnostics.
func (w *waitMap) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.waiters)
}
