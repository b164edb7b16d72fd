package fsm

// Queue is the driver's FIFO of pending events. It is not safe for concurrent
// use; the driver owns it exclusively.
type Queue struct {
	events []Event
}

// Push appends e to the back of the queue.
func (q *Queue) Push(e Event) {
	q.events = append(q.events, e)
}

// Pop removes and returns the front event.
func (q *Queue) Pop() (Event, bool) {
	if len(q.events) == 0 {
		return Event{}, false
	}
	e := q.events[0]
	q.events[0] = Event{}
	q.events = q.events[1:]
	return e, true
}

func (q *Queue) Len() int { return len(q.events) }

// Pending returns a copy of the queued events, front first.
func (q *Queue) Pending() []Event {
	return append([]Event(nil), q.events...)
}
