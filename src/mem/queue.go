package mem

import "sync"

// queue is one intrusive doubly linked list of pages sharing a PageState,
// each with its own lock so the eight queues never serialize against one
// another (§4.4: "each queue is independently locked").
type queue struct {
	mu    sync.Mutex
	state PageState
	head  *Page
	tail  *Page
	count int
}

func newQueue(state PageState) *queue {
	return &queue{state: state}
}

// pushFront links p at the head of the queue and stamps its state. The
// caller must not hold p.mu.
func (q *queue) pushFront(p *Page) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p.mu.Lock()
	p.state = q.state
	p.mu.Unlock()

	p.qprev = nil
	p.qnext = q.head
	if q.head != nil {
		q.head.qprev = p
	}
	q.head = p
	if q.tail == nil {
		q.tail = p
	}
	q.count++
}

// popBack removes and returns the least-recently-pushed page, or nil if
// the queue is empty. Used for FIFO consumption of the free/clear queues.
func (q *queue) popBack() *Page {
	q.mu.Lock()
	defer q.mu.Unlock()
	p := q.tail
	if p == nil {
		return nil
	}
	q.unlink(p)
	return p
}

// remove unlinks p from this queue if it is currently linked here.
func (q *queue) remove(p *Page) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if p.qprev == nil && p.qnext == nil && q.head != p {
		return // not linked into this queue
	}
	q.unlink(p)
}

// unlink must be called with q.mu held.
func (q *queue) unlink(p *Page) {
	if p.qprev != nil {
		p.qprev.qnext = p.qnext
	} else if q.head == p {
		q.head = p.qnext
	}
	if p.qnext != nil {
		p.qnext.qprev = p.qprev
	} else if q.tail == p {
		q.tail = p.qprev
	}
	p.qnext, p.qprev = nil, nil
	q.count--
}

// len reports how many pages are currently queued.
func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// snapshot returns every queued page, head to tail, for diagnostics.
func (q *queue) snapshot() []*Page {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Page, 0, q.count)
	for p := q.head; p != nil; p = p.qnext {
		out = append(out, p)
	}
	return out
}
