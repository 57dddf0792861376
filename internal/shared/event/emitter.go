// Package event provides a typed publish/subscribe primitive.
//
// An Emitter delivers every value to all current subscribers synchronously,
// in subscription order, on the goroutine that called Emit. Subscribers are
// invoked outside the emitter's lock, so a subscriber may itself subscribe,
// unsubscribe or emit.
//
// The zero value is ready to use.
package event

import "sync"

// Emitter fans values of type T out to subscribers.
type Emitter[T any] struct {
	mu   sync.RWMutex
	next uint64
	subs []subscription[T]
}

type subscription[T any] struct {
	id uint64
	fn func(T)
}

// Subscribe registers fn and returns a function that removes it.
// The returned function is safe to call more than once.
func (e *Emitter[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	e.mu.Lock()
	e.next++
	id := e.next
	e.subs = append(e.subs, subscription[T]{id: id, fn: fn})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { e.remove(id) })
	}
}

// Emit delivers v to every subscriber registered at the time of the call.
func (e *Emitter[T]) Emit(v T) {
	e.mu.RLock()
	subs := make([]subscription[T], len(e.subs))
	copy(subs, e.subs)
	e.mu.RUnlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// Len returns the number of subscribers.
func (e *Emitter[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

func (e *Emitter[T]) remove(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, s := range e.subs {
		if s.id == id {
			e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
			return
		}
	}
}
