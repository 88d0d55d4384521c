// Package taskevents provides a pub/sub event bus for task and session
// lifecycle notifications, built on watermill's in-process gochannel
// transport while keeping direct-call dispatch so subscribers receive
// typed Event values instead of marshalled bytes.
package taskevents

import (
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/mcpagent/agentrt/pkg/types"
)

// EventType identifies the kind of lifecycle notification.
type EventType string

const (
	SessionCreated    EventType = "session.created"
	SessionPaused     EventType = "session.paused"
	SessionResumed    EventType = "session.resumed"
	SessionClosed     EventType = "session.closed"
	TaskQueued        EventType = "task.queued"
	TaskStarted       EventType = "task.started"
	TaskRetrying      EventType = "task.retrying"
	TaskAwaitingUser  EventType = "task.awaiting_user"
	TaskCompleted     EventType = "task.completed"
	TaskFailed        EventType = "task.failed"
	TaskSkipped       EventType = "task.skipped"
)

// Event is one notification published on the bus.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	Task      *types.Task `json:"task,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// Subscriber receives events it was registered for.
type Subscriber func(Event)

type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus dispatches Event values to registered subscribers, either
// per-type or for everything.
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel

	subscribers map[EventType][]subscriberEntry
	global      []subscriberEntry

	nextID uint64
	closed bool
}

// New creates a Bus. Each orchestrator session owns one; there is no
// implicit global instance.
func New() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 100},
			watermill.NopLogger{},
		),
		subscribers: make(map[EventType][]subscriberEntry),
	}
}

func (b *Bus) newID() uint64 {
	return atomic.AddUint64(&b.nextID, 1)
}

// Subscribe registers fn for one event type. The returned func
// unsubscribes.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	id := b.newID()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriberEntry{id, fn})
	return func() { b.unsubscribe(eventType, id) }
}

// SubscribeAll registers fn for every event type.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	id := b.newID()
	b.global = append(b.global, subscriberEntry{id, fn})
	return func() { b.unsubscribeGlobal(id) }
}

func (b *Bus) unsubscribe(eventType EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[eventType]
	for i, entry := range subs {
		if entry.id == id {
			b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) unsubscribeGlobal(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, entry := range b.global {
		if entry.id == id {
			b.global = append(b.global[:i], b.global[i+1:]...)
			return
		}
	}
}

// Publish delivers event to all matching subscribers synchronously, in
// the caller's goroutine. The orchestrator relies on this for
// deterministic ordering of lifecycle notifications against its own
// state transitions.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := make([]Subscriber, 0, len(b.subscribers[event.Type])+len(b.global))
	for _, entry := range b.subscribers[event.Type] {
		subs = append(subs, entry.fn)
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		sub(event)
	}
}

// Close releases the underlying watermill transport and drops all
// subscribers.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subscribers = make(map[EventType][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()
	return b.pubsub.Close()
}
