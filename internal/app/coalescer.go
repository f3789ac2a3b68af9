package app

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/NazgoooAtanasov/upy/internal/domain"
)

// DefaultCoalesceWindow is the quiet period after which a path's latest
// operation is released.
const DefaultCoalesceWindow = 300 * time.Millisecond

// Coalescer debounces remote operations per remote path. A new operation
// for a path that is still pending replaces it and restarts the window.
type Coalescer struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	window  time.Duration
	emit    func(domain.RemoteOp)
	pending map[string]*pendingOp
	seq     uint64
	stopped bool
}

type pendingOp struct {
	op    domain.RemoteOp
	timer clockwork.Timer
	seq   uint64
}

// NewCoalescer creates a coalescer that calls emit with each released
// operation. emit must not block. A non-positive window disables debouncing.
func NewCoalescer(clock clockwork.Clock, window time.Duration, emit func(domain.RemoteOp)) *Coalescer {
	return &Coalescer{
		clock:   clock,
		window:  window,
		emit:    emit,
		pending: make(map[string]*pendingOp),
	}
}

// Add schedules op, replacing any pending operation for the same remote path.
func (c *Coalescer) Add(op domain.RemoteOp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}

	if c.window <= 0 {
		c.emit(op)
		return
	}

	c.seq++
	seq := c.seq
	key := op.RemotePath

	p, ok := c.pending[key]
	if ok {
		p.timer.Stop()
		p.op = op
		p.seq = seq
	} else {
		p = &pendingOp{op: op, seq: seq}
		c.pending[key] = p
	}
	p.timer = c.clock.AfterFunc(c.window, func() { c.release(key, seq) })
}

// release emits the pending operation for key if it was not superseded.
// emit runs under the lock so releases for one path reach it in order.
func (c *Coalescer) release(key string, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[key]
	if !ok || p.seq != seq || c.stopped {
		return
	}
	delete(c.pending, key)
	c.emit(p.op)
}

// Pending returns the number of operations waiting for their window to close.
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Stop drops every pending operation and returns how many were dropped.
// Later calls to Add are ignored.
func (c *Coalescer) Stop() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	n := len(c.pending)
	for key, p := range c.pending {
		p.timer.Stop()
		delete(c.pending, key)
	}
	return n
}
