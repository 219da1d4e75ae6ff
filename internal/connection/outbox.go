package connection

import "sync"

// outbox is a session's queue of encoded frames awaiting write.
//
// Push never blocks: the ring doubles when it reaches 70% full, so a slow
// peer costs memory instead of stalling whoever is broadcasting to it.
type outbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    [][]byte
	head   int // read position
	tail   int // write position
	count  int
	closed bool
	grows  int
}

func newOutbox(capacity int) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	o := &outbox{buf: make([][]byte, capacity)}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// Push queues frame. It returns false once the outbox is closed.
func (o *outbox) Push(frame []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return false
	}

	threshold := (len(o.buf) * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if o.count+1 >= threshold {
		o.grow()
	}

	o.buf[o.tail] = frame
	o.tail = (o.tail + 1) % len(o.buf)
	o.count++

	o.cond.Signal()
	return true
}

// Pop removes up to max frames, blocking until at least one is queued.
// It returns nil once the outbox is closed; queued frames are discarded
// because the connection they were meant for is gone.
func (o *outbox) Pop(max int) [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()

	for o.count == 0 && !o.closed {
		o.cond.Wait()
	}
	if o.closed {
		return nil
	}

	n := o.count
	if max > 0 && max < n {
		n = max
	}

	frames := make([][]byte, n)
	for i := range frames {
		frames[i] = o.buf[o.head]
		o.buf[o.head] = nil
		o.head = (o.head + 1) % len(o.buf)
	}
	o.count -= n

	return frames
}

// Close wakes the writer and rejects further pushes.
func (o *outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.closed = true
	o.cond.Broadcast()
}

// outboxStats is reported per session by Manager.Sessions.
type outboxStats struct {
	Queued   int
	Capacity int
	Grows    int
}

func (o *outbox) Stats() outboxStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return outboxStats{
		Queued:   o.count,
		Capacity: len(o.buf),
		Grows:    o.grows,
	}
}

// grow doubles the ring. Must be called with lock held.
func (o *outbox) grow() {
	next := make([][]byte, len(o.buf)*2)

	if o.count > 0 {
		if o.head < o.tail {
			copy(next, o.buf[o.head:o.tail])
		} else {
			n := copy(next, o.buf[o.head:])
			copy(next[n:], o.buf[:o.tail])
		}
	}

	o.buf = next
	o.head = 0
	o.tail = o.count
	o.grows++
}
