package clock

import (
	"container/heap"
	"time"
)

// Fire is a due timer drained from the wheel.
type Fire struct {
	At  time.Time
	Key int64
}

// Handle permits cancellation of a scheduled timer. The zero Handle is
// inert: Cancel on it is a no-op.
type Handle struct {
	t *timer
}

type timer struct {
	at        time.Time
	key       int64
	seq       uint64
	cancelled bool
	index     int // heap index, -1 once popped
}

// Wheel is a min-heap of one-shot timers. It is owned by the engine
// loop and therefore needs no locking: all calls happen on the single
// writer goroutine.
type Wheel struct {
	h   timerHeap
	seq uint64
}

// NewWheel returns an empty timer wheel.
func NewWheel() *Wheel {
	return &Wheel{}
}

// Schedule registers a one-shot wake-up at the given instant and
// returns a handle permitting cancellation.
func (w *Wheel) Schedule(at time.Time, key int64) Handle {
	w.seq++
	t := &timer{at: at, key: key, seq: w.seq}
	heap.Push(&w.h, t)
	return Handle{t: t}
}

// Cancel marks the timer dead. Idempotent; a cancelled timer produces
// no fire. Removal from the heap is lazy (on pop).
func (w *Wheel) Cancel(h Handle) {
	if h.t != nil {
		h.t.cancelled = true
	}
}

// NextDeadline returns the earliest live timer's instant, or false if
// the wheel is empty.
func (w *Wheel) NextDeadline() (time.Time, bool) {
	w.dropCancelled()
	if len(w.h) == 0 {
		return time.Time{}, false
	}
	return w.h[0].at, true
}

// NextFire pops the earliest timer that is due at now, or false if no
// live timer is due yet.
func (w *Wheel) NextFire(now time.Time) (Fire, bool) {
	w.dropCancelled()
	if len(w.h) == 0 || w.h[0].at.After(now) {
		return Fire{}, false
	}
	t := heap.Pop(&w.h).(*timer)
	return Fire{At: t.at, Key: t.key}, true
}

// Len returns the number of live timers.
func (w *Wheel) Len() int {
	w.dropCancelled()
	return len(w.h)
}

func (w *Wheel) dropCancelled() {
	for len(w.h) > 0 && w.h[0].cancelled {
		heap.Pop(&w.h)
	}
}

// timerHeap orders by fire instant, ties broken by insertion order so
// drains are deterministic.
type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
