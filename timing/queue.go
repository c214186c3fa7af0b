package timing

import "container/heap"

// EventQueue is a priority queue of events ordered by (time, sequence). The
// sequence number is handed out at push time, so events scheduled for the
// same time pop in the order they were pushed.
//
// EventQueue is not safe for concurrent use. A simulation owns exactly one
// and only mutates it from the goroutine that runs the simulation.
type EventQueue[S any, T Time[T]] struct {
	events  scheduledEventHeap[S, T]
	nextSeq uint64
}

// NewEventQueue creates an empty EventQueue.
func NewEventQueue[S any, T Time[T]]() *EventQueue[S, T] {
	q := &EventQueue[S, T]{
		events: make(scheduledEventHeap[S, T], 0),
	}
	heap.Init(&q.events)

	return q
}

// Push inserts an event and returns the sequence number assigned to it.
func (q *EventQueue[S, T]) Push(t T, evt Event[S, T]) (uint64, error) {
	if evt == nil {
		panic("timing: cannot push a nil event")
	}

	if err := mustBeComparable(t); err != nil {
		return 0, err
	}

	seq := q.nextSeq
	q.nextSeq++

	heap.Push(&q.events, ScheduledEvent[S, T]{Time: t, Seq: seq, Event: evt})

	return seq, nil
}

// Pop removes and returns the earliest event. The boolean is false if the
// queue is empty.
func (q *EventQueue[S, T]) Pop() (ScheduledEvent[S, T], bool) {
	if q.events.Len() == 0 {
		return ScheduledEvent[S, T]{}, false
	}

	return heap.Pop(&q.events).(ScheduledEvent[S, T]), true
}

// Peek returns the earliest event without removing it.
func (q *EventQueue[S, T]) Peek() (ScheduledEvent[S, T], bool) {
	if q.events.Len() == 0 {
		return ScheduledEvent[S, T]{}, false
	}

	return q.events[0], true
}

// PeekTime returns the time of the earliest event.
func (q *EventQueue[S, T]) PeekTime() (T, bool) {
	evt, ok := q.Peek()
	return evt.Time, ok
}

// Len returns the number of events in the queue.
func (q *EventQueue[S, T]) Len() int {
	return q.events.Len()
}

// Clear drops every queued event. Sequence numbers keep counting up.
func (q *EventQueue[S, T]) Clear() {
	q.events = make(scheduledEventHeap[S, T], 0)
}

type scheduledEventHeap[S any, T Time[T]] []ScheduledEvent[S, T]

func (h scheduledEventHeap[S, T]) Len() int { return len(h) }

func (h scheduledEventHeap[S, T]) Less(i, j int) bool {
	if c := h[i].Time.Compare(h[j].Time); c != 0 {
		return c < 0
	}

	return h[i].Seq < h[j].Seq
}

func (h scheduledEventHeap[S, T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *scheduledEventHeap[S, T]) Push(x any) {
	*h = append(*h, x.(ScheduledEvent[S, T]))
}

func (h *scheduledEventHeap[S, T]) Pop() any {
	old := *h
	n := len(old)
	evt := old[n-1]
	old[n-1] = ScheduledEvent[S, T]{}
	*h = old[:n-1]

	return evt
}
