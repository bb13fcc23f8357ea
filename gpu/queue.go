package gpu

import "sync"

// SharedQueue is the one path to a device queue shared by the capture and render goroutines.
// The lock is held only for the duration of fn; callers must not block on I/O inside it.
type SharedQueue struct {
	mu    sync.Mutex
	queue Queue
}

// NewSharedQueue wraps a queue for exclusive access.
func NewSharedQueue(queue Queue) *SharedQueue {
	return &SharedQueue{queue: queue}
}

// Do runs fn with exclusive access to the queue.
func (sq *SharedQueue) Do(fn func(q Queue) error) error {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	return fn(sq.queue)
}
