// Package upstream provides the transactional record queue the sink worker
// pulls from.
//
// Records taken inside a Txn are acknowledged only by Commit. Rollback puts
// them back at the head of the queue in their original order, so the next
// transaction sees them again before anything newer.
package upstream

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrClosed is returned by Put after Close.
	ErrClosed = errors.New("upstream: channel closed")
	// ErrTxnActive is returned by Begin while another transaction is open.
	ErrTxnActive = errors.New("upstream: transaction already active")
	// ErrTxnDone is returned when a finished transaction is used.
	ErrTxnDone = errors.New("upstream: transaction already finished")
)

// DefaultTakeTimeout bounds how long Take waits on an empty queue.
const DefaultTakeTimeout = 3 * time.Second

// Channel is a bounded in-memory queue. Put is safe for concurrent use; one
// transaction may be open at a time.
type Channel struct {
	capacity    int
	takeTimeout time.Duration

	mu      sync.Mutex
	queue   [][]byte
	closed  bool
	active  bool
	changed chan struct{}
}

// NewChannel returns a queue holding at most capacity untaken records.
// takeTimeout <= 0 selects DefaultTakeTimeout.
func NewChannel(capacity int, takeTimeout time.Duration) *Channel {
	if capacity <= 0 {
		capacity = 1
	}
	if takeTimeout <= 0 {
		takeTimeout = DefaultTakeTimeout
	}
	return &Channel{
		capacity:    capacity,
		takeTimeout: takeTimeout,
		changed:     make(chan struct{}),
	}
}

// notify wakes every waiter. Callers hold c.mu.
func (c *Channel) notify() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// Put enqueues a copy of rec, blocking while the queue is full.
func (c *Channel) Put(ctx context.Context, rec []byte) error {
	cp := append([]byte(nil), rec...)
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrClosed
		}
		if len(c.queue) < c.capacity {
			c.queue = append(c.queue, cp)
			c.notify()
			c.mu.Unlock()
			return nil
		}
		wait := c.changed
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// Len returns the number of records waiting to be taken.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Closed reports whether Close was called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close stops accepting records. Queued records can still be taken.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.notify()
	}
}

// Begin opens a transaction.
func (c *Channel) Begin() (*Txn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return nil, ErrTxnActive
	}
	c.active = true
	return &Txn{ch: c, deadline: time.Now().Add(c.takeTimeout)}, nil
}

// Txn is one upstream transaction scope.
type Txn struct {
	ch       *Channel
	taken    [][]byte
	deadline time.Time
	done     bool
	released bool
}

// Take removes the head record. Waiting for one to arrive is bounded by the
// channel's take timeout measured from Begin, so a slow trickle cannot hold
// a transaction open past that point. ok is false when no record arrived in
// time or the channel is closed and drained.
func (t *Txn) Take(ctx context.Context) (rec []byte, ok bool, err error) {
	if t.done {
		return nil, false, ErrTxnDone
	}
	c := t.ch
	timer := time.NewTimer(time.Until(t.deadline))
	defer timer.Stop()

	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			rec = c.queue[0]
			c.queue[0] = nil
			c.queue = c.queue[1:]
			t.taken = append(t.taken, rec)
			c.notify()
			c.mu.Unlock()
			return rec, true, nil
		}
		if c.closed {
			c.mu.Unlock()
			return nil, false, nil
		}
		wait := c.changed
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-timer.C:
			return nil, false, nil
		case <-wait:
		}
	}
}

// Taken returns how many records this transaction holds.
func (t *Txn) Taken() int { return len(t.taken) }

// Commit acknowledges every taken record.
func (t *Txn) Commit() error {
	if t.done {
		return ErrTxnDone
	}
	t.done = true
	t.taken = nil
	return nil
}

// Rollback returns taken records to the head of the queue in order. The
// queue may briefly exceed its capacity.
func (t *Txn) Rollback() error {
	if t.done {
		return ErrTxnDone
	}
	t.done = true
	if len(t.taken) == 0 {
		return nil
	}
	c := t.ch
	c.mu.Lock()
	c.queue = append(t.taken, c.queue...)
	c.notify()
	c.mu.Unlock()
	t.taken = nil
	return nil
}

// Close releases the transaction scope. An unfinished transaction is rolled
// back.
func (t *Txn) Close() error {
	if t.released {
		return nil
	}
	t.released = true
	var err error
	if !t.done {
		err = t.Rollback()
	}
	c := t.ch
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
	return err
}
