package overlay

import (
	"sort"
	"sync"
)

// listeners is a set of callbacks that can be removed individually.
type listeners[T any] struct {
	mu    sync.Mutex
	next  int
	slots map[int]func(T)
}

// add registers fn and returns a function removing it.
func (l *listeners[T]) add(fn func(T)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.slots == nil {
		l.slots = make(map[int]func(T))
	}
	key := l.next
	l.next++
	l.slots[key] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.slots, key)
	}
}

// emit calls every callback in registration order.
func (l *listeners[T]) emit(v T) {
	l.mu.Lock()
	keys := make([]int, 0, len(l.slots))
	for k := range l.slots {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	fns := make([]func(T), 0, len(keys))
	for _, k := range keys {
		fns = append(fns, l.slots[k])
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (l *listeners[T]) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
