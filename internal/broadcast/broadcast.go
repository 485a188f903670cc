// Package broadcast fans state and sensor snapshots out to observers.
package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/sweeney/smart-watering/internal/logic"
	"github.com/sweeney/smart-watering/internal/sensors"
)

// Event names the kind of snapshot carried by a Message.
type Event string

const (
	EventStatus  Event = "status_update"
	EventSensors Event = "sensor_update"
	EventAI      Event = "ai_status_update"
	EventMode    Event = "mode_update"
)

// DefaultBuffer is the per-observer queue length.
const DefaultBuffer = 32

// Message is one immutable snapshot. Sensors is set for EventSensors, State
// for every other event.
type Message struct {
	Event   Event
	State   logic.Snapshot
	Sensors sensors.Reading
}

// Current returns the latest state and sensor snapshots.
type Current func() (logic.Snapshot, sensors.Reading)

// Observer receives messages in the order they were broadcast.
type Observer struct {
	ID string
	C  <-chan Message

	ch      chan Message
	dropped atomic.Uint64
}

// Dropped returns the number of messages discarded because the queue was full.
func (o *Observer) Dropped() uint64 {
	return o.dropped.Load()
}

// Broadcaster delivers best-effort to every subscribed observer. A slow
// observer loses messages rather than blocking the producer.
type Broadcaster struct {
	mu        sync.Mutex
	current   Current
	buffer    int
	observers map[string]*Observer
	closed    bool
}

// New creates a Broadcaster. current supplies the snapshot sent to each new
// observer; buffer <= 0 selects DefaultBuffer.
func New(current Current, buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster{
		current:   current,
		buffer:    buffer,
		observers: make(map[string]*Observer),
	}
}

// Subscribe registers a new observer and queues the current sensor and state
// snapshots for it before any later broadcast.
func (b *Broadcaster) Subscribe() *Observer {
	ch := make(chan Message, b.buffer)
	o := &Observer{ID: uuid.NewString(), C: ch, ch: ch}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return o
	}
	b.queueCurrent(o)
	b.observers[o.ID] = o
	return o
}

// Unsubscribe removes o and closes its channel.
func (b *Broadcaster) Unsubscribe(o *Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.observers[o.ID]; !ok {
		return
	}
	delete(b.observers, o.ID)
	close(o.ch)
}

// Resend queues the current snapshot of ev's kind for a single observer.
func (b *Broadcaster) Resend(o *Observer, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.observers[o.ID]; !ok {
		return
	}
	state, reading := b.current()
	switch ev {
	case EventSensors:
		send(o, Message{Event: EventSensors, Sensors: reading})
	default:
		send(o, Message{Event: ev, State: state})
	}
}

// BroadcastState sends a state snapshot to every observer.
func (b *Broadcaster) BroadcastState(s logic.Snapshot) {
	b.broadcast(Message{Event: EventStatus, State: s})
}

// BroadcastAI sends a state snapshot tagged as an AI status change.
func (b *Broadcaster) BroadcastAI(s logic.Snapshot) {
	b.broadcast(Message{Event: EventAI, State: s})
}

// BroadcastMode sends a state snapshot tagged as a mode change.
func (b *Broadcaster) BroadcastMode(s logic.Snapshot) {
	b.broadcast(Message{Event: EventMode, State: s})
}

// BroadcastSensors sends a sensor snapshot to every observer.
func (b *Broadcaster) BroadcastSensors(r sensors.Reading) {
	b.broadcast(Message{Event: EventSensors, Sensors: r})
}

// Len returns the number of subscribed observers.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.observers)
}

// Close unsubscribes every observer. Later Subscribe calls return a closed observer.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, o := range b.observers {
		delete(b.observers, id)
		close(o.ch)
	}
	b.closed = true
}

func (b *Broadcaster) broadcast(m Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, o := range b.observers {
		send(o, m)
	}
}

func (b *Broadcaster) queueCurrent(o *Observer) {
	state, reading := b.current()
	send(o, Message{Event: EventSensors, Sensors: reading})
	send(o, Message{Event: EventStatus, State: state})
}

// send must be called with b.mu held.
func send(o *Observer, m Message) {
	select {
	case o.ch <- m:
	default:
		o.dropped.Add(1)
	}
}
