package comm

import (
	"container/heap"
	"context"
	"sync"
)

// Verdict is a coalescing decision for an incoming operation.
type Verdict int

// Coalescing verdicts.
const (
	// Accept queues the incoming operation alongside the queued one.
	Accept Verdict = iota

	// Reject refuses the incoming operation.
	Reject

	// Supersede removes the queued operation and accepts the incoming one.
	Supersede
)

// CoalesceFunc compares an incoming operation with one that is queued and
// not yet begun.
type CoalesceFunc func(queued, incoming *Operation) Verdict

// RejectDuplicates refuses an operation whose key is already queued.
func RejectDuplicates(queued, incoming *Operation) Verdict {
	if incoming.Key() != "" && queued.Key() == incoming.Key() {
		return Reject
	}
	return Accept
}

// SupersedeDuplicates replaces a queued operation with the same key.
func SupersedeDuplicates(queued, incoming *Operation) Verdict {
	if incoming.Key() != "" && queued.Key() == incoming.Key() {
		return Supersede
	}
	return Accept
}

// opHeap orders operations by (priority, enqueue sequence).
type opHeap []*Operation

func (h opHeap) Len() int { return len(h) }

func (h opHeap) Less(i, j int) bool {
	pi, pj := h[i].Priority(), h[j].Priority()
	if pi != pj {
		return pi < pj
	}
	return h[i].seq < h[j].seq
}

func (h opHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *opHeap) Push(x any) {
	op := x.(*Operation) //nolint:errcheck,forcetypeassert // heap only holds operations
	op.index = len(*h)
	*h = append(*h, op)
}

func (h *opHeap) Pop() any {
	old := *h
	n := len(old)
	op := old[n-1]
	old[n-1] = nil
	op.index = -1
	*h = old[:n-1]
	return op
}

// queue is the priority queue of one link.
type queue struct {
	mu       sync.Mutex
	items    opHeap
	seq      uint64
	closed   bool
	coalesce CoalesceFunc
	notify   chan struct{}
}

func newQueue(coalesce CoalesceFunc) *queue {
	return &queue{
		coalesce: coalesce,
		notify:   make(chan struct{}, 1),
	}
}

// push adds op. It returns the operations the coalescing policy superseded;
// the caller fails and cleans them up.
func (q *queue) push(op *Operation) ([]*Operation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	var superseded []*Operation
	if q.coalesce != nil && !op.Begun() {
		for _, queued := range q.items {
			if queued.Begun() {
				continue
			}
			switch q.coalesce(queued, op) {
			case Reject:
				return nil, ErrRejected
			case Supersede:
				superseded = append(superseded, queued)
			}
		}
		for _, s := range superseded {
			heap.Remove(&q.items, s.index)
			s.queued.Store(nil)
		}
	}

	q.seq++
	op.seq = q.seq
	heap.Push(&q.items, op)
	op.queued.Store(q)

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return superseded, nil
}

// pop blocks until an operation is available, the queue is closed or ctx
// is done.
func (q *queue) pop(ctx context.Context) (*Operation, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			op := heap.Pop(&q.items).(*Operation) //nolint:errcheck,forcetypeassert // heap only holds operations
			op.queued.Store(nil)
			q.mu.Unlock()
			return op, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

// fix restores heap order after op's priority changed.
func (q *queue) fix(op *Operation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if op.index >= 0 && op.index < len(q.items) && q.items[op.index] == op {
		heap.Fix(&q.items, op.index)
	}
}

// removeIf removes and returns every queued operation matching match.
func (q *queue) removeIf(match func(*Operation) bool) []*Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	var removed []*Operation
	kept := q.items[:0]
	for _, op := range q.items {
		if match(op) {
			op.index = -1
			op.queued.Store(nil)
			removed = append(removed, op)
			continue
		}
		kept = append(kept, op)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept
	for i, op := range q.items {
		op.index = i
	}
	heap.Init(&q.items)
	return removed
}

// close stops accepting operations and wakes a blocked pop.
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// drain removes every queued operation.
func (q *queue) drain() []*Operation {
	return q.removeIf(func(*Operation) bool { return true })
}

// len returns the number of queued operations.
func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
