// Package broker defines the queue connection the consumers drive.
//
// A connection is owned by the goroutine running Consume. Ack must only be
// called from that goroutine, either inside the delivery callback or inside a
// callback scheduled with AddCallbackThreadsafe.
package broker

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrClosed   = errors.New("broker connection closed")
	ErrNotOwner = errors.New("ack outside the connection's owner loop")
)

type Delivery struct {
	Tag  uint64
	Body []byte
}

type Connection interface {
	// Consume runs the owner loop until ctx ends (nil), fn or a scheduled
	// callback fails (that error), or the connection closes (ErrClosed).
	Consume(ctx context.Context, fn func(Delivery) error) error
	Ack(tag uint64) error
	// AddCallbackThreadsafe queues cb to run on the owner loop. Safe from any
	// goroutine; never blocks.
	AddCallbackThreadsafe(cb func() error) error
	Close() error
}

type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// CallbackQueue is an unbounded FIFO of callbacks handed to an owner loop.
type CallbackQueue struct {
	mu     sync.Mutex
	items  []func() error
	ready  chan struct{}
	closed bool
}

func NewCallbackQueue() *CallbackQueue {
	return &CallbackQueue{ready: make(chan struct{}, 1)}
}

func (q *CallbackQueue) Push(cb func() error) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, cb)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Ready is signalled after a Push; Drain then returns everything queued.
func (q *CallbackQueue) Ready() <-chan struct{} {
	return q.ready
}

func (q *CallbackQueue) Drain() []func() error {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	return items
}

func (q *CallbackQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// RunCallbacks runs drained callbacks in order and stops at the first error.
func RunCallbacks(cbs []func() error) error {
	for _, cb := range cbs {
		if err := cb(); err != nil {
			return err
		}
	}
	return nil
}
