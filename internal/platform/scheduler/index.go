package scheduler

import (
	"container/heap"
	"time"

	"github.com/google/uuid"
)

// Entry is a pending escalation deadline for one alert.
type Entry struct {
	AlertID  uuid.UUID
	Deadline time.Time
}

type item struct {
	Entry
	index int
}

type deadlineHeap []*item

func (h deadlineHeap) Len() int { return len(h) }

func (h deadlineHeap) Less(i, j int) bool { return h[i].Deadline.Before(h[j].Deadline) }

func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *deadlineHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// index keeps at most one deadline per alert, ordered by deadline. It is not
// safe for concurrent use; the Scheduler guards it.
type index struct {
	heap deadlineHeap
	byID map[uuid.UUID]*item
}

func newIndex() *index {
	return &index{byID: make(map[uuid.UUID]*item)}
}

// set registers or replaces the deadline for id.
func (x *index) set(id uuid.UUID, deadline time.Time) {
	if it, ok := x.byID[id]; ok {
		it.Deadline = deadline
		heap.Fix(&x.heap, it.index)
		return
	}
	it := &item{Entry: Entry{AlertID: id, Deadline: deadline}}
	heap.Push(&x.heap, it)
	x.byID[id] = it
}

// remove drops id. Removing an unknown id is a no-op.
func (x *index) remove(id uuid.UUID) {
	it, ok := x.byID[id]
	if !ok {
		return
	}
	heap.Remove(&x.heap, it.index)
	delete(x.byID, id)
}

func (x *index) get(id uuid.UUID) (time.Time, bool) {
	it, ok := x.byID[id]
	if !ok {
		return time.Time{}, false
	}
	return it.Deadline, true
}

// popDue removes and returns every entry whose deadline is at or before now,
// earliest first.
func (x *index) popDue(now time.Time) []Entry {
	var due []Entry
	for len(x.heap) > 0 && !x.heap[0].Deadline.After(now) {
		it := heap.Pop(&x.heap).(*item)
		delete(x.byID, it.AlertID)
		due = append(due, it.Entry)
	}
	return due
}

func (x *index) len() int { return len(x.heap) }

func (x *index) entries() []Entry {
	out := make([]Entry, 0, len(x.heap))
	for _, it := range x.heap {
		out = append(out, it.Entry)
	}
	return out
}
