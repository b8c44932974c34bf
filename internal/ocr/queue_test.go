package ocr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFIFOQueue_StrictOrderAndCapacity(t *testing.T) {
	q := newFIFOQueue(2)
	require.True(t, q.hasCapacity())

	a := &queueEntry{clientRequestID: "a"}
	b := &queueEntry{clientRequestID: "b"}
	q.pushBack(a)
	q.pushBack(b)
	require.Equal(t, 2, q.len())
	require.False(t, q.hasCapacity())

	front, ok := q.popFront()
	require.True(t, ok)
	require.Equal(t, "a", front.clientRequestID)
	require.Equal(t, 1, q.len())

	front, ok = q.popFront()
	require.True(t, ok)
	require.Equal(t, "b", front.clientRequestID)

	_, ok = q.popFront()
	require.False(t, ok)
}

func TestFIFOQueue_PushFrontPreservesOrderBehindIt(t *testing.T) {
	q := newFIFOQueue(5)
	a := &queueEntry{clientRequestID: "a"}
	b := &queueEntry{clientRequestID: "b"}
	q.pushBack(a)
	q.pushBack(b)

	// Simulate a stale dispatch target: pop "a" back off, then push it
	// back to the front since the chosen worker turned out not to be
	// ready (spec.md §4.2's on_worker_free re-queue path).
	popped, ok := q.popFront()
	require.True(t, ok)
	require.Equal(t, "a", popped.clientRequestID)
	q.pushFront(popped)

	front, ok := q.popFront()
	require.True(t, ok)
	require.Equal(t, "a", front.clientRequestID, "re-queued entry must dispatch before the entries behind it")

	front, ok = q.popFront()
	require.True(t, ok)
	require.Equal(t, "b", front.clientRequestID)
}

func TestFIFOQueue_RemoveByIdentity(t *testing.T) {
	q := newFIFOQueue(5)
	a := &queueEntry{clientRequestID: "a"}
	b := &queueEntry{clientRequestID: "b"}
	c := &queueEntry{clientRequestID: "c"}
	q.pushBack(a)
	q.pushBack(b)
	q.pushBack(c)

	q.remove(b)
	require.Equal(t, 2, q.len())

	front, ok := q.popFront()
	require.True(t, ok)
	require.Equal(t, "a", front.clientRequestID)

	front, ok = q.popFront()
	require.True(t, ok)
	require.Equal(t, "c", front.clientRequestID)

	// Removing an already-dequeued entry is a no-op, not a panic.
	q.remove(a)
}
