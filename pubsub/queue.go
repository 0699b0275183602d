package pubsub

import (
	"github.com/jetperch/fbp/topic"
	"github.com/jetperch/fbp/value"
)

// pubMessage is a deferred publish op (spec.md §3 "Message"). Subscribe and
// unsubscribe are immediate (see DESIGN.md), so the queue only ever carries
// publishes — this is the "Message Queue" component of the system overview,
// kept as its own small FIFO type rather than folded into Engine so the
// drain/retire bookkeeping in process() stays legible.
type pubMessage struct {
	rawPath   string
	val       value.Value
	source    topic.Source
	hasHandle bool
	handle    uint64
}

// queue is a plain FIFO; ordering within a single producer is preserved by
// simple append/pop, matching the "messages enqueued from a single thread
// are delivered in enqueue order" guarantee from spec.md §5.
type queue struct {
	items []pubMessage
}

func (q *queue) push(m pubMessage) { q.items = append(q.items, m) }

func (q *queue) pop() (pubMessage, bool) {
	if len(q.items) == 0 {
		return pubMessage{}, false
	}
	m := q.items[0]
	q.items = q.items[1:]
	return m, true
}

func (q *queue) len() int { return len(q.items) }
