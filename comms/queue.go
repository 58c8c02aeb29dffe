// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package comms

// queue is a single producer, single consumer, ring of requests, one entry is
// always left unused to distinguish a full ring from an empty one.
type queue struct {
	entries []*Request
	head    int
	tail    int
}

func newQueue(capacity int) *queue {
	return &queue{
		entries: make([]*Request, capacity+1),
	}
}

func (q *queue) advance(i int) int {
	return (i + 1) % len(q.entries)
}

func (q *queue) enqueue(r *Request) error {
	next := q.advance(q.head)

	if next == q.tail {
		return ErrQueueFull
	}

	q.entries[q.head] = r
	q.head = next

	return nil
}

func (q *queue) dequeue() (r *Request, err error) {
	if q.head == q.tail {
		return nil, ErrQueueEmpty
	}

	r = q.entries[q.tail]
	q.entries[q.tail] = nil
	q.tail = q.advance(q.tail)

	return
}

func (q *queue) len() int {
	return (q.head - q.tail + len(q.entries)) % len(q.entries)
}
