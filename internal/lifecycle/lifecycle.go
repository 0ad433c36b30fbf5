package lifecycle

import (
	"sync"
)

// Event is a host lifecycle signal.
type Event int

const (
	Install Event = iota + 1
	Startup
	Suspend
	SuspendCanceled
	Restart
)

func (e Event) String() string {
	switch e {
	case Install:
		return "install"
	case Startup:
		return "startup"
	case Suspend:
		return "suspend"
	case SuspendCanceled:
		return "suspend_canceled"
	case Restart:
		return "restart"
	default:
		return "unknown"
	}
}

// Handler reacts to a lifecycle event. It must not block for long.
type Handler func(Event)

// Bus fans lifecycle events out to subscribers in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers h for every future event.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// Publish delivers ev synchronously to every subscriber.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
