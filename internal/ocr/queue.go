package ocr

import (
	"container/list"
	"time"
)

// queueEntry is one pending job waiting for a free Worker. It carries its
// own dequeue timeout, independent of any Worker's job timeout.
type queueEntry struct {
	pdfPath         string
	clientRequestID string
	resultCh        chan jobOutcome
	timer           *time.Timer
	elem            *list.Element // set once pushed, used for O(1) removal
}

// fifoQueue is a bounded, strict first-in-first-out admission queue. It is
// not safe for concurrent use on its own — the Pool serializes all access
// under its own mutex, per spec.md §5.
type fifoQueue struct {
	entries *list.List
	max     int
}

func newFIFOQueue(max int) *fifoQueue {
	return &fifoQueue{entries: list.New(), max: max}
}

func (q *fifoQueue) len() int { return q.entries.Len() }

func (q *fifoQueue) hasCapacity() bool { return q.entries.Len() < q.max }

// pushBack enqueues a new entry at the tail.
func (q *fifoQueue) pushBack(e *queueEntry) {
	e.elem = q.entries.PushBack(e)
}

// pushFront re-queues an entry at the head, preserving FIFO order for the
// entries behind it. Used when on_worker_free picks a Worker that turns out
// to no longer be ready (spec.md §4.2 "Stale free signal" scenario).
func (q *fifoQueue) pushFront(e *queueEntry) {
	e.elem = q.entries.PushFront(e)
}

// popFront removes and returns the head entry, or false if empty.
func (q *fifoQueue) popFront() (*queueEntry, bool) {
	front := q.entries.Front()
	if front == nil {
		return nil, false
	}
	q.entries.Remove(front)
	e := front.Value.(*queueEntry)
	e.elem = nil
	return e, true
}

// remove deletes an entry by identity (used by its own timeout firing). A
// no-op if the entry was already dequeued.
func (q *fifoQueue) remove(e *queueEntry) {
	if e.elem == nil {
		return
	}
	q.entries.Remove(e.elem)
	e.elem = nil
}
