// Package reactive fans out values from a single producer to many subscribers.
package reactive

import "sync"

// Subscription receives published values until canceled.
type Subscription[T any] struct {
	c       chan T
	once    sync.Once
	source  *Observable[T]
	dropped int
}

// Cancel removes the subscription from the Observable and closes its channel.
// Not calling Cancel leaks the subscription.
func (s *Subscription[T]) Cancel() {
	s.once.Do(func() {
		s.source.delete(s)
		close(s.c)
	})
}

// Channel returns channel delivering published values.
func (s *Subscription[T]) Channel() <-chan T {
	return s.c
}

// Dropped returns the number of values not delivered because the subscription buffer was full.
func (s *Subscription[T]) Dropped() int {
	s.source.mux.RLock()
	defer s.source.mux.RUnlock()
	return s.dropped
}

// Observable is a single producer multiple consumer container.
// Publish never blocks, a value is dropped for a subscriber whose buffer is full.
type Observable[T any] struct {
	mux         sync.RWMutex
	subscribers map[*Subscription[T]]struct{}
	size        int
}

// New creates Observable, size is the buffer size of each subscription.
func New[T any](size int) *Observable[T] {
	return &Observable[T]{
		subscribers: make(map[*Subscription[T]]struct{}),
		size:        size,
	}
}

// Subscribe subscribes to the Observable.
func (o *Observable[T]) Subscribe() *Subscription[T] {
	s := &Subscription[T]{
		c:      make(chan T, o.size),
		source: o,
	}
	o.mux.Lock()
	defer o.mux.Unlock()
	o.subscribers[s] = struct{}{}
	return s
}

// Publish publishes value to all subscribers.
func (o *Observable[T]) Publish(v T) {
	o.mux.Lock()
	defer o.mux.Unlock()
	for s := range o.subscribers {
		select {
		case s.c <- v:
		default:
			s.dropped++
		}
	}
}

// Len returns the number of subscribers.
func (o *Observable[T]) Len() int {
	o.mux.RLock()
	defer o.mux.RUnlock()
	return len(o.subscribers)
}

func (o *Observable[T]) delete(s *Subscription[T]) {
	o.mux.Lock()
	defer o.mux.Unlock()
	delete(o.subscribers, s)
}
