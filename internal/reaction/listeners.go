// SPDX-License-Identifier: MIT
package reaction

import (
	"slices"
	"sync"
)

// listeners is a set of callbacks with stable unsubscribe handles.
type listeners[F any] struct {
	mu     sync.RWMutex
	nextID uint64
	fns    map[uint64]F
	order  []uint64
}

func (l *listeners[F]) add(fn F) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[uint64]F)
	}
	id := l.nextID
	l.nextID++
	l.fns[id] = fn
	l.order = append(l.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.fns, id)
			l.order = slices.DeleteFunc(l.order, func(v uint64) bool { return v == id })
		})
	}
}

// snapshot returns the callbacks in registration order so they can be
// invoked without holding the lock.
func (l *listeners[F]) snapshot() []F {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.order) == 0 {
		return nil
	}
	out := make([]F, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.fns[id])
	}
	return out
}

func (l *listeners[F]) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.fns)
}
