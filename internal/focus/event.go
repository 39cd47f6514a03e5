package focus

import (
	"sync"
	"time"
)

// EventKind is the browser event that reached the tracker.
type EventKind string

const (
	EventBlur             EventKind = "blur"
	EventFocus            EventKind = "focus"
	EventVisibilityChange EventKind = "visibilitychange"
)

// Event is a window focus or page visibility event forwarded by the
// rendering layer.
type Event struct {
	Kind EventKind
	// Hidden is the page visibility at the time of a visibilitychange.
	Hidden bool
	// Timestamp is the monotonic event time (e.g. DOM event.timeStamp).
	// Zero means the event carried none.
	Timestamp time.Duration
}

// Source delivers focus events to a subscribed handler.
type Source interface {
	Subscribe(handler func(Event)) (unsubscribe func())
}

// Bus is an in-process Source. The observer API publishes the events it
// receives from the browser shell on it.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]func(Event)
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[int]func(Event))}
}

func (b *Bus) Subscribe(handler func(Event)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Publish delivers ev synchronously to every handler and returns the number
// of handlers reached.
func (b *Bus) Publish(ev Event) int {
	b.mu.RLock()
	handlers := make([]func(Event), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
	return len(handlers)
}
