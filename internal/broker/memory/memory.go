// Package memory is a channel-backed broker connection for tests and local runs.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"dirindex/internal/broker"
)

type Conn struct {
	deliveries chan broker.Delivery
	callbacks  *broker.CallbackQueue
	// owner is the id of the goroutine inside Consume's loop body, 0 when idle.
	owner atomic.Uint64

	mu      sync.Mutex
	nextTag uint64
	pending map[uint64][]byte
	acked   []uint64

	closeOnce sync.Once
	closed    chan struct{}
}

func New(buffer int) *Conn {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Conn{
		deliveries: make(chan broker.Delivery, buffer),
		callbacks:  broker.NewCallbackQueue(),
		pending:    map[uint64][]byte{},
		closed:     make(chan struct{}),
	}
}

func (c *Conn) Publish(ctx context.Context, body []byte) error {
	c.mu.Lock()
	c.nextTag++
	tag := c.nextTag
	c.pending[tag] = append([]byte(nil), body...)
	c.mu.Unlock()

	select {
	case c.deliveries <- broker.Delivery{Tag: tag, Body: body}:
		return nil
	case <-c.closed:
		return broker.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) Consume(ctx context.Context, fn func(broker.Delivery) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.closed:
			return broker.ErrClosed
		case <-c.callbacks.Ready():
			if err := c.owned(func() error { return broker.RunCallbacks(c.callbacks.Drain()) }); err != nil {
				return err
			}
		case d := <-c.deliveries:
			if err := c.owned(func() error { return fn(d) }); err != nil {
				return err
			}
		}
	}
}

func (c *Conn) owned(fn func() error) error {
	c.owner.Store(goroutineID())
	defer c.owner.Store(0)
	return fn()
}

// Ack is legal only from the goroutine running Consume, while it is handling
// a delivery or a callback.
func (c *Conn) Ack(tag uint64) error {
	if id := c.owner.Load(); id == 0 || id != goroutineID() {
		return broker.ErrNotOwner
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[tag]; !ok {
		return fmt.Errorf("unknown delivery tag %d", tag)
	}
	delete(c.pending, tag)
	c.acked = append(c.acked, tag)
	return nil
}

func (c *Conn) AddCallbackThreadsafe(cb func() error) error {
	select {
	case <-c.closed:
		return broker.ErrClosed
	default:
	}
	return c.callbacks.Push(cb)
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.callbacks.Close()
		close(c.closed)
	})
	return nil
}

// Acked lists acknowledged tags in ack order.
func (c *Conn) Acked() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.acked...)
}

// Unacked is the number of published messages not yet acknowledged.
func (c *Conn) Unacked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

var goroutinePrefix = []byte("goroutine ")

// goroutineID parses the current goroutine's id from its stack header. It is
// only used to assert ownership.
func goroutineID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, goroutinePrefix)
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		panic(fmt.Sprintf("memory broker: cannot parse goroutine id: %v", err))
	}
	return id
}
