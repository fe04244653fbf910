// Copyright 2024-2026 Aiku AI

package tumblr

import "sync"

// EventType discriminates host-facing events.
type EventType string

const (
	// EventStateSync carries a thread or message delta.
	EventStateSync EventType = "state_sync"
	// EventSessionUpdated signals that credentials changed and the host
	// should re-persist the session.
	EventSessionUpdated EventType = "session_updated"
)

type ObjectName string

const (
	ObjectThread  ObjectName = "thread"
	ObjectMessage ObjectName = "message"
)

type Mutation string

const (
	MutationUpsert Mutation = "upsert"
	MutationUpdate Mutation = "update"
	MutationDelete Mutation = "delete"
)

// ThreadUpdate is the normalized thread delta carried by thread state-sync
// events. Only the fields the host needs to refresh its view.
type ThreadUpdate struct {
	ID                ConversationID
	UnreadCount       int
	LastReadMessageID MessageID
}

// Event is one normalized delta pushed to the host.
type Event struct {
	Type     EventType
	Object   ObjectName
	Mutation Mutation
	ThreadID ConversationID

	// Messages is set for message upserts and carries only new entries,
	// never the full history.
	Messages []Message
	// Thread is set for thread updates.
	Thread *ThreadUpdate
}

// EventHandler receives batches of events in emission order.
type EventHandler func(events []Event)

// eventQueue buffers events until a handler is attached, then delivers
// directly. Events emitted before subscription are flushed FIFO, exactly
// once, on attach. The delivery mutex is held across handler invocations so
// an emit racing the attach flush cannot overtake the backlog; handlers must
// not emit re-entrantly.
type eventQueue struct {
	deliverMu sync.Mutex
	mu        sync.Mutex
	pending   []Event
	handler   EventHandler
}

func (q *eventQueue) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	q.deliverMu.Lock()
	defer q.deliverMu.Unlock()
	q.mu.Lock()
	handler := q.handler
	if handler == nil {
		q.pending = append(q.pending, events...)
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()
	handler(events)
}

func (q *eventQueue) setHandler(handler EventHandler) {
	q.deliverMu.Lock()
	defer q.deliverMu.Unlock()
	q.mu.Lock()
	q.handler = handler
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()
	if handler != nil && len(pending) > 0 {
		handler(pending)
	}
}
