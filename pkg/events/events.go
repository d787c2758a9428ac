package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType names what happened in the pipeline
type EventType string

const (
	EventSampleAccepted  EventType = "sample.accepted"
	EventFlushCompleted  EventType = "flush.completed"
	EventFlushFailed     EventType = "flush.failed"
	EventAuthRefreshed   EventType = "auth.refreshed"
	EventAuthPinRequired EventType = "auth.pin_required"
	EventAuthLoggedOut   EventType = "auth.logged_out"
	EventAuthUnlocked    EventType = "auth.unlocked"
)

const (
	publishBuffer    = 100
	subscriberBuffer = 50
)

// Event is one pipeline event
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Subscriber receives events; it is closed by Unsubscribe
type Subscriber chan *Event

// Broker fans events out to subscribers without ever blocking publishers
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]map[EventType]bool // nil filter: everything

	eventCh  chan *Event
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewBroker creates a broker; call Start to begin delivery
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]map[EventType]bool),
		eventCh:     make(chan *Event, publishBuffer),
		stopCh:      make(chan struct{}),
	}
}

// Start begins delivering published events
func (b *Broker) Start() {
	go b.run()
}

// Stop ends delivery. It is safe to call more than once.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe returns a channel receiving the given event types, or every
// event when none are given
func (b *Broker) Subscribe(types ...EventType) Subscriber {
	var filter map[EventType]bool
	if len(types) > 0 {
		filter = make(map[EventType]bool, len(types))
		for _, t := range types {
			filter[t] = true
		}
	}

	sub := make(Subscriber, subscriberBuffer)
	b.mu.Lock()
	b.subscribers[sub] = filter
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes and closes sub
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish queues an event for delivery, filling in its id and timestamp.
// A nil broker drops the event, so components can be built without one.
func (b *Broker) Publish(event *Event) {
	if b == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	default:
		// Never stall the pipeline on a slow observer.
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub, filter := range b.subscribers {
		if filter != nil && !filter[event.Type] {
			continue
		}
		select {
		case sub <- event:
		default:
		}
	}
}
