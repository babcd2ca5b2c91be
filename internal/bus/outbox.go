package bus

import (
	"encoding/json"
	"sync"
)

// pushVerdict is the outcome of offering a frame to a full outbox.
type pushVerdict int

const (
	pushQueued pushVerdict = iota
	// pushDroppedIncoming: queue full of critical frames, the
	// non-critical newcomer was discarded.
	pushDroppedIncoming
	// pushOverflow: queue full of critical frames and the newcomer is
	// critical too. The connection must close rather than lose it.
	pushOverflow
)

// outbox is a bounded outbound queue with the backpressure policy:
// when full, the oldest non-critical frame is dropped to make room,
// and a single backpressure marker per congestion episode tells the
// client something was lost. Critical frames are never dropped.
type outbox struct {
	mu            sync.Mutex
	limit         int
	queue         []queued
	dropped       int
	backpressured bool
}

func newOutbox(limit int) *outbox {
	return &outbox{limit: limit}
}

func (o *outbox) push(q queued) pushVerdict {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.queue) >= o.limit {
		if !o.evictOldest() {
			if q.critical {
				return pushOverflow
			}
			o.dropped++
			droppedEvents.Inc()
			return pushDroppedIncoming
		}
		// The marker occupies a real slot, so it costs a second
		// eviction; without one the episode stays unmarked for now.
		// It is critical so later evictions cannot remove it.
		if !o.backpressured && o.evictOldest() {
			o.backpressured = true
			marker, _ := json.Marshal(map[string]any{
				"type":    TypeBackpressure,
				"payload": map[string]any{"reason": "slow consumer"},
			})
			o.queue = append(o.queue, queued{data: marker, critical: true})
		}
	}
	o.queue = append(o.queue, q)
	return pushQueued
}

// evictOldest removes the oldest non-critical frame, reporting whether
// a slot was freed.
func (o *outbox) evictOldest() bool {
	for i := range o.queue {
		if !o.queue[i].critical {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			o.dropped++
			droppedEvents.Inc()
			return true
		}
	}
	return false
}

// drain takes the whole queue. Clearing the backpressure flag here
// means one marker per congestion episode, not per drop.
func (o *outbox) drain() []queued {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.queue
	o.queue = nil
	if len(out) > 0 {
		o.backpressured = false
	}
	return out
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}
