// Package dispatch provides a minimal typed publish/subscribe primitive:
// handlers are registered, unregistered and fired by event name.
package dispatch

import "sync"

// Handler receives the payload of a fired event.
type Handler[T any] func(T)

// HandlerID identifies a registered handler so it can be removed.
// Go functions are not comparable, so On hands out an id instead.
type HandlerID uint64

type entry[T any] struct {
	id HandlerID
	fn Handler[T]
}

// Dispatcher routes payloads of type T to handlers registered per event
// name. Handlers for one event run in registration order. It is safe for
// concurrent use; handlers are invoked without the lock held, so they may
// call On or Off themselves.
type Dispatcher[T any] struct {
	mu       sync.RWMutex
	nextID   HandlerID
	handlers map[string][]entry[T]
}

// New creates an empty Dispatcher.
func New[T any]() *Dispatcher[T] {
	return &Dispatcher[T]{handlers: make(map[string][]entry[T])}
}

// On registers fn for event and returns its id.
func (d *Dispatcher[T]) On(event string, fn Handler[T]) HandlerID {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.handlers[event] = append(d.handlers[event], entry[T]{id: d.nextID, fn: fn})
	return d.nextID
}

// Off removes the handler with the given id from event. The event entry is
// dropped once its last handler is gone. Unknown ids are ignored.
func (d *Dispatcher[T]) Off(event string, id HandlerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.handlers[event]
	for i, e := range list {
		if e.id != id {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		break
	}
	if len(list) == 0 {
		delete(d.handlers, event)
		return
	}
	d.handlers[event] = list
}

// Fire invokes every handler registered for event with payload and
// reports how many ran.
func (d *Dispatcher[T]) Fire(event string, payload T) int {
	d.mu.RLock()
	list := d.handlers[event]
	d.mu.RUnlock()
	for _, e := range list {
		e.fn(payload)
	}
	return len(list)
}

// Has reports whether any handler is registered for event.
func (d *Dispatcher[T]) Has(event string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[event]) > 0
}

// Clear removes every handler.
func (d *Dispatcher[T]) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = make(map[string][]entry[T])
}
