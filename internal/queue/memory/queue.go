// Package memory provides the in-process crawl request queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/storefront-watch/internal/crawler"
)

// ErrClosed is returned once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue is an unbounded FIFO that tracks in-flight requests. Dequeue reports
// crawler.ErrQueueExhausted once nothing is pending and every dequeued
// request has been marked Done, since only in-flight work can enqueue more.
type Queue struct {
	mu       sync.Mutex
	items    []crawler.CrawlRequest
	inFlight int
	closed   bool
	wake     chan struct{}
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{})}
}

// Enqueue appends a request and wakes waiting consumers.
func (q *Queue) Enqueue(ctx context.Context, req crawler.CrawlRequest) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, req)
	q.broadcastLocked()
	return nil
}

// Dequeue pops the next request, waiting while other requests are in flight.
func (q *Queue) Dequeue(ctx context.Context) (crawler.CrawlRequest, error) {
	for {
		q.mu.Lock()
		switch {
		case q.closed:
			q.mu.Unlock()
			return crawler.CrawlRequest{}, ErrClosed
		case len(q.items) > 0:
			req := q.items[0]
			q.items[0] = crawler.CrawlRequest{}
			q.items = q.items[1:]
			q.inFlight++
			q.mu.Unlock()
			return req, nil
		case q.inFlight == 0:
			q.mu.Unlock()
			return crawler.CrawlRequest{}, crawler.ErrQueueExhausted
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return crawler.CrawlRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-wake:
		}
	}
}

// Done marks one dequeued request as finished.
func (q *Queue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight > 0 {
		q.inFlight--
	}
	q.broadcastLocked()
}

// Len returns the number of pending requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// InFlight returns the number of dequeued requests not yet marked Done.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// Close releases waiting consumers; later calls return ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcastLocked()
}

func (q *Queue) broadcastLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}
