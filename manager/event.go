package manager

import (
	"sync"
	"time"
)

// EventType names a connection event
type EventType string

// Event types, one per engine handler
const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventReceived     EventType = "received"
	EventSent         EventType = "sent"
	EventTimeout      EventType = "timeout"
	EventError        EventType = "error"
	EventStderr       EventType = "stderr"
	EventExited       EventType = "exited"
	EventReady        EventType = "ready"
)

// Event is one handler invocation of a managed connection. Data carries the
// frame for received, sent and stderr events and the message for errors.
type Event struct {
	Connection string    `json:"connection"`
	Type       EventType `json:"type"`
	Data       string    `json:"data,omitempty"`
	From       string    `json:"from,omitempty"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	Time       time.Time `json:"time"`
}

// IsFrame reports whether the event carries peer traffic
func (e Event) IsFrame() bool {
	return e.Type == EventReceived || e.Type == EventSent || e.Type == EventStderr
}

// Listener receives events. It runs on the connection's dispatching
// goroutine and must not block.
type Listener func(Event)

type hub struct {
	mu        sync.RWMutex
	next      int
	listeners map[int]Listener
}

func newHub() *hub {
	return &hub{listeners: make(map[int]Listener)}
}

func (h *hub) subscribe(l Listener) func() {
	h.mu.Lock()
	id := h.next
	h.next++
	h.listeners[id] = l
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
		})
	}
}

func (h *hub) publish(e Event) {
	h.mu.RLock()
	listeners := make([]Listener, 0, len(h.listeners))
	for _, l := range h.listeners {
		listeners = append(listeners, l)
	}
	h.mu.RUnlock()

	for _, l := range listeners {
		l(e)
	}
}
