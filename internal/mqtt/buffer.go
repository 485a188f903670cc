package mqtt

import "log"

// pendingStatus is a formatted status event waiting for the broker link.
// Topic and QoS are fixed for status events and applied when it is sent.
type pendingStatus struct {
	event    string
	payload  []byte
	retained bool
}

// statusQueue holds status events raised while offline, oldest first.
// When full it evicts the oldest HEARTBEAT, since a later heartbeat or the
// replayed lifecycle events supersede it; only when no heartbeat is queued
// does it evict the oldest event of any kind. Callers hold RealChannel.mu.
type statusQueue struct {
	items    []pendingStatus
	capacity int
	dropped  int // evictions since the last drain
}

func newStatusQueue(capacity int) *statusQueue {
	return &statusQueue{
		items:    make([]pendingStatus, 0, capacity),
		capacity: capacity,
	}
}

func (q *statusQueue) push(p pendingStatus) {
	if len(q.items) == q.capacity {
		victim := 0
		for i, it := range q.items {
			if it.event == EventHeartbeat {
				victim = i
				break
			}
		}
		if q.dropped == 0 {
			log.Printf("mqtt: status queue full (%d events), dropping oldest %s", q.capacity, q.items[victim].event)
		}
		q.dropped++
		q.items = append(q.items[:victim], q.items[victim+1:]...)
	}
	q.items = append(q.items, p)
}

// drain returns the queued events and empties the queue.
func (q *statusQueue) drain() []pendingStatus {
	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	if q.dropped > 0 {
		log.Printf("mqtt: %d status events were dropped while offline", q.dropped)
	}
	q.items = make([]pendingStatus, 0, q.capacity)
	q.dropped = 0
	return out
}

func (q *statusQueue) len() int {
	return len(q.items)
}
