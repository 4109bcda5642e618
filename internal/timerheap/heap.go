// Package timerheap implements a min-heap of (id, deadline, callback)
// entries used to drive idle-connection eviction from the reactor's main
// loop. It is not safe for concurrent use: the reactor is its sole owner
// (see §5 of the specification this package implements).
package timerheap

import (
	"container/heap"
	"time"
)

// ExpireFunc runs when an entry's deadline elapses. It receives the id the
// entry was registered under so the caller can look up the live resource
// (e.g. a connection) through its own table, rather than the heap closing
// over the resource directly.
type ExpireFunc func(id int)

type entry struct {
	id       int
	deadline time.Time
	onExpire ExpireFunc
	index    int // position in the heap slice, maintained by container/heap
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Heap is a min-heap of timer entries ordered by deadline ascending, with a
// secondary id->entry index for O(log N) Adjust/Cancel.
type Heap struct {
	h     entryHeap
	index map[int]*entry
	now   func() time.Time
}

// New returns an empty Heap. now is the monotonic clock source; pass nil to
// use time.Now.
func New(now func() time.Time) *Heap {
	if now == nil {
		now = time.Now
	}
	return &Heap{index: make(map[int]*entry), now: now}
}

// Add inserts an entry with deadline = now + timeout. If id already exists,
// it is replaced and the heap is re-ordered.
func (t *Heap) Add(id int, timeout time.Duration, onExpire ExpireFunc) {
	if e, ok := t.index[id]; ok {
		e.deadline = t.now().Add(timeout)
		e.onExpire = onExpire
		heap.Fix(&t.h, e.index)
		return
	}
	e := &entry{id: id, deadline: t.now().Add(timeout), onExpire: onExpire}
	t.index[id] = e
	heap.Push(&t.h, e)
}

// Adjust updates id's deadline to now + timeout and restores heap order.
// It is a no-op if id is not present.
func (t *Heap) Adjust(id int, timeout time.Duration) {
	e, ok := t.index[id]
	if !ok {
		return
	}
	e.deadline = t.now().Add(timeout)
	heap.Fix(&t.h, e.index)
}

// Cancel removes id's entry, if any, without invoking its callback.
func (t *Heap) Cancel(id int) {
	e, ok := t.index[id]
	if !ok {
		return
	}
	heap.Remove(&t.h, e.index)
	delete(t.index, id)
}

// DoWork runs id's callback and removes the entry, if present.
func (t *Heap) DoWork(id int) {
	e, ok := t.index[id]
	if !ok {
		return
	}
	heap.Remove(&t.h, e.index)
	delete(t.index, id)
	e.onExpire(e.id)
}

// Tick pops and invokes every entry whose deadline has elapsed, in deadline
// order, exactly once each.
func (t *Heap) Tick() {
	now := t.now()
	for t.h.Len() > 0 {
		e := t.h[0]
		if e.deadline.After(now) {
			break
		}
		heap.Pop(&t.h)
		delete(t.index, e.id)
		e.onExpire(e.id)
	}
}

// NextTickMs runs Tick and returns the number of milliseconds until the
// next-earliest deadline, or -1 if the heap is empty (meaning "wait
// indefinitely").
func (t *Heap) NextTickMs() int {
	t.Tick()
	if t.h.Len() == 0 {
		return -1
	}
	d := t.h[0].deadline.Sub(t.now())
	if d < 0 {
		d = 0
	}
	return int(d / time.Millisecond)
}

// Len reports the number of live entries.
func (t *Heap) Len() int { return t.h.Len() }
