package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventOnline            = "connectivity_online"
	EventOffline           = "connectivity_offline"
	EventOperationQueued   = "operation_queued"
	EventOperationSynced   = "operation_synced"
	EventOperationDropped  = "operation_dropped"
	EventSyncCompleted     = "sync_completed"
	DropReasonCapacity     = "capacity"
	DropReasonRetries      = "retries_exhausted"
	DropReasonInvalidStore = "invalid_persisted"
)

// OperationEventPayload describes the queued operation an event refers to.
type OperationEventPayload struct {
	ID       string `json:"id"`
	Method   string `json:"method"`
	Target   string `json:"target"`
	Priority string `json:"priority"`
	Retries  int    `json:"retries"`
	Reason   string `json:"reason,omitempty"`
}

// SyncEventPayload summarizes a drain pass.
type SyncEventPayload struct {
	Success   int `json:"success"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

// Event represents a lightweight pipeline event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the JSON payload into out.
func (e *Event) Decode(out any) error {
	return json.Unmarshal(e.Payload, out)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

type subscription struct {
	id      uint64
	handler EventHandler
}

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]subscription
	nextID      uint64
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]subscription)}
}

// Subscribe registers a handler for a given event type and returns a function
// that removes it. Calling the returned function more than once is a no-op.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subscribers[eventType] = append(b.subscribers[eventType], subscription{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(eventType, id) })
	}
}

func (b *EventBus) unsubscribe(eventType string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[eventType]
	for i, s := range subs {
		if s.id == id {
			b.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscribers[eventType]) == 0 {
		delete(b.subscribers, eventType)
	}
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := append([]subscription(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, s := range subs {
		// Handlers run synchronously; caller decides concurrency model.
		_ = s.handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
