package registry

import (
	"sync"

	"github.com/rickgao/srsync/internal/model"
)

// Subscribe returns a channel of registry changes and a cancel function.
//
// Changes arrive in the order they were applied. Delivery never blocks a
// mutation: when the subscriber falls behind by buffer changes, the oldest
// pending change is dropped. Cancel closes the channel and is idempotent.
func (r *Registry) Subscribe(buffer int) (<-chan model.Change, func()) {
	if buffer < 1 {
		buffer = DefaultChangeBuffer
	}
	ch := make(chan model.Change, buffer)

	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			close(ch)
			r.mu.Unlock()
		})
	}
	return ch, cancel
}

// notifyLocked fans a change out to subscribers (non-blocking).
// Caller must hold the write lock.
func (r *Registry) notifyLocked(change model.Change) {
	for _, ch := range r.subs {
		select {
		case ch <- change:
		default:
			// Channel full, drop oldest by consuming one and retrying.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- change:
			default:
			}
			r.dropped.Add(1)
		}
	}
}
