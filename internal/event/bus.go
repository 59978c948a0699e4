package event

import (
	"context"
	"sync"
)

// ─────────────────────────────────────────────────────────────
// Event bus decoupling the handler from the editor UI.
// ─────────────────────────────────────────────────────────────

// Event names published by the handler.
const (
	CallStateChanged         = "call_state_changed"
	ConnectionsChanged       = "connections_changed"
	CurrentConnectionChanged = "current_connection_changed"
)

// Emitter is anything that can publish an event.
// Components receive this interface instead of the concrete Bus,
// which keeps them testable with a MockEmitter.
type Emitter interface {
	Emit(ctx context.Context, event string, data any)
}

// Listener receives an event payload.
type Listener func(ctx context.Context, data any)

// Bus is an explicit publish/subscribe hub owned by one handler.
type Bus struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[string][]subscription
}

type subscription struct {
	id int
	fn Listener
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{listeners: make(map[string][]subscription)}
}

// Register subscribes fn to event and returns a function that removes it.
func (b *Bus) Register(event string, fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners[event] = append(b.listeners[event], subscription{id: id, fn: fn})
	return func() { b.unregister(event, id) }
}

func (b *Bus) unregister(event string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.listeners[event]
	for i, s := range subs {
		if s.id == id {
			b.listeners[event] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Emit calls every listener of event in registration order.
// Listeners run on the caller's goroutine, outside the bus lock.
func (b *Bus) Emit(ctx context.Context, event string, data any) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.listeners[event]...)
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(ctx, data)
	}
}

// Clear drops all listeners.
func (b *Bus) Clear() {
	b.mu.Lock()
	b.listeners = make(map[string][]subscription)
	b.mu.Unlock()
}

// MockEmitter is a test-friendly Emitter that records all calls.
type MockEmitter struct {
	mu     sync.Mutex
	Events []EmittedEvent
}

// EmittedEvent holds a single recorded emission for test assertions.
type EmittedEvent struct {
	Event string
	Data  any
}

func (m *MockEmitter) Emit(_ context.Context, event string, data any) {
	m.mu.Lock()
	m.Events = append(m.Events, EmittedEvent{Event: event, Data: data})
	m.mu.Unlock()
}

// Snapshot returns a copy of the recorded events.
func (m *MockEmitter) Snapshot() []EmittedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EmittedEvent(nil), m.Events...)
}
