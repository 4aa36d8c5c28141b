package commandqueue

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Observer receives events published by a Subject
type Observer[E any] interface {
	Update(source any, event E)
}

// ObserverFunc adapts a plain function to the Observer interface
type ObserverFunc[E any] func(source any, event E)

// Update calls f(source, event)
func (f ObserverFunc[E]) Update(source any, event E) {
	f(source, event)
}

// Handle identifies a registration so it can be removed later
type Handle uint64

type registration[E any] struct {
	handle   Handle
	observer Observer[E]
}

// Subject is a registry of observers notified synchronously, in
// registration order, on the goroutine that calls Notify.
//
// The zero value is ready to use.
type Subject[E any] struct {
	mu        sync.RWMutex
	nextID    Handle
	observers []registration[E]
}

// AddObserver registers an observer and returns its handle
func (s *Subject[E]) AddObserver(o Observer[E]) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.observers = append(s.observers, registration[E]{handle: s.nextID, observer: o})
	return s.nextID
}

// RemoveObserver unregisters the observer behind h. Unknown handles are ignored.
func (s *Subject[E]) RemoveObserver(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.observers {
		if r.handle == h {
			s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered observers
func (s *Subject[E]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.observers)
}

// Notify delivers event to every observer. A slow observer delays the
// caller; a panicking observer is logged and skipped.
func (s *Subject[E]) Notify(source any, event E) {
	s.mu.RLock()
	observers := make([]registration[E], len(s.observers))
	copy(observers, s.observers)
	s.mu.RUnlock()

	for _, r := range observers {
		deliver(r, source, event)
	}
}

func deliver[E any](r registration[E], source any, event E) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Uint64("observer", uint64(r.handle)).
				Interface("panic", rec).
				Msg("Observer panicked")
		}
	}()
	r.observer.Update(source, event)
}
