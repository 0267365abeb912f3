package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType names a lifecycle notification
type EventType string

const (
	EventJobCreated     EventType = "job.created"
	EventJobProgress    EventType = "job.progress"
	EventJobCompleted   EventType = "job.completed"
	EventJobFailed      EventType = "job.failed"
	EventJobTerminated  EventType = "job.terminated"
	EventJobsCleared    EventType = "jobs.cleared"
	EventFleetConfigSet EventType = "fleet.configuration_set"
	EventFleetRejected  EventType = "fleet.rejected"
	EventCatalogChanged EventType = "catalog.changed"
)

const (
	queueSize      = 128
	subscriberSize = 64
)

// Event is a job, fleet or catalog notification. Metadata values are
// strings so events can be logged and labelled without conversion.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// filter is the set of event types a subscriber wants; nil means all
type filter map[EventType]bool

func (f filter) wants(t EventType) bool {
	return f == nil || f[t]
}

// Broker fans events out to subscribers. Delivery is best effort: a slow
// subscriber misses events instead of stalling publishers.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]filter

	queue    chan *Event
	stopCh   chan struct{}
	stopOnce sync.Once
	dropped  atomic.Uint64
}

// NewBroker creates a broker. Call Start to begin delivering events.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]filter),
		queue:       make(chan *Event, queueSize),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the delivery loop
func (b *Broker) Start() {
	go b.run()
}

// Stop ends delivery. Later publishes are discarded.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe returns a channel receiving events of the given types, or of
// every type when none are given
func (b *Broker) Subscribe(types ...EventType) Subscriber {
	var f filter
	if len(types) > 0 {
		f = make(filter, len(types))
		for _, t := range types {
			f[t] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	sub := make(Subscriber, subscriberSize)
	b.subscribers[sub] = f
	return sub
}

// Unsubscribe removes and closes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish queues an event, stamping its id and time when unset. It never
// blocks: when the queue is full or the broker is stopped the event is
// dropped.
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-b.stopCh:
		b.dropped.Add(1)
		return
	default:
	}

	select {
	case b.queue <- event:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded, either at publish time
// or because a subscriber was full
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.queue:
			b.deliver(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) deliver(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub, f := range b.subscribers {
		if !f.wants(event.Type) {
			continue
		}
		select {
		case sub <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
