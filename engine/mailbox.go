package engine

import (
	"context"
	"sync"

	"github.com/flowmesh/flowmesh/core"
)

// mailbox is the bounded FIFO buffer backing one consuming connection
// endpoint. Send blocks while the buffer is at capacity (backpressure);
// receive dequeues in arrival order. Closing a mailbox wakes blocked
// producers and refuses further sends while keeping residual messages
// receivable, which is what lets downstream agents drain after an upstream
// End.
type mailbox struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	buf      []core.Message
	capacity int
	closed   bool

	// onArrive is invoked after each successful enqueue, outside the
	// mailbox lock, so the scheduler can re-evaluate the consumer's
	// readiness.
	onArrive func()
}

func newMailbox(capacity int, onArrive func()) *mailbox {
	m := &mailbox{capacity: capacity, onArrive: onArrive}
	m.notFull = sync.NewCond(&m.mu)
	return m
}

// sendOutcome is the result of a non-blocking enqueue attempt.
type sendOutcome int

const (
	sendDone sendOutcome = iota
	sendFull
	sendRefused
)

// trySend enqueues msg without blocking: sendFull when the buffer is at
// capacity, sendRefused when the mailbox is closed or ctx is done (the
// message is discarded).
func (m *mailbox) trySend(ctx context.Context, msg core.Message) sendOutcome {
	m.mu.Lock()
	if m.closed || ctx.Err() != nil {
		m.mu.Unlock()
		return sendRefused
	}
	if len(m.buf) >= m.capacity {
		m.mu.Unlock()
		return sendFull
	}
	m.buf = append(m.buf, msg)
	m.mu.Unlock()

	if m.onArrive != nil {
		m.onArrive()
	}
	return sendDone
}

// waitNotFull blocks until space may be available, the mailbox closes or
// ctx is done. Callers retry trySend afterwards; this never enqueues.
func (m *mailbox) waitNotFull(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.notFull.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	m.mu.Lock()
	for !m.closed && ctx.Err() == nil && len(m.buf) >= m.capacity {
		m.notFull.Wait()
	}
	m.mu.Unlock()
}

// send enqueues msg, blocking while the buffer is full. It returns false
// when the mailbox is closed or ctx is done; the message is discarded in
// either case. Used for boundary injection, which runs on the embedder's
// goroutine; agent runs go through Engine.sendDownstream instead so their
// concurrency slot is released while they are parked.
func (m *mailbox) send(ctx context.Context, msg core.Message) bool {
	for {
		switch m.trySend(ctx, msg) {
		case sendDone:
			return true
		case sendRefused:
			return false
		case sendFull:
			m.waitNotFull(ctx)
		}
	}
}

// receive dequeues the oldest message, or core.ErrPortEmpty when nothing is
// pending. Dequeuing may unblock a producer waiting in send.
func (m *mailbox) receive() (core.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.buf) == 0 {
		return core.Message{}, core.ErrPortEmpty
	}
	msg := m.buf[0]
	m.buf = m.buf[1:]
	m.notFull.Broadcast()
	return msg, nil
}

// pending returns the current occupancy.
func (m *mailbox) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buf)
}

// close refuses further sends and wakes blocked producers. Residual
// messages remain receivable.
func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.notFull.Broadcast()
	m.mu.Unlock()
}

// drained reports whether the mailbox is closed and empty, i.e. it can
// never again contribute to readiness.
func (m *mailbox) drained() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed && len(m.buf) == 0
}

// latch is the store backing an option or accumulator port: it retains the
// most recently received message for non-consuming reads. Stores never
// block and peeks are idempotent. A seeded accumulator starts with its seed
// already latched.
type latch struct {
	mu   sync.Mutex
	last core.Message
	has  bool
}

func (l *latch) store(msg core.Message) {
	l.mu.Lock()
	l.last = msg
	l.has = true
	l.mu.Unlock()
}

func (l *latch) peek() (core.Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last, l.has
}
