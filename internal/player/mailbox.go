package player

import (
	"sync"

	"github.com/jmylchreest/tvarr-player/internal/adapter"
	"github.com/jmylchreest/tvarr-player/internal/sink"
)

// message is an asynchronous input for the dispatcher. epoch is captured
// when the callback was registered or the event was raised.
type message struct {
	epoch        uint64
	adapterEvent *adapter.Event
	sinkEvent    *sink.Event
	sync         chan struct{}
}

// mailbox is an unbounded FIFO. Adapter workers and sinks push without ever
// waiting on the player lock.
type mailbox struct {
	mu     sync.Mutex
	queue  []message
	closed bool
	wake   chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{}, 1)}
}

func (m *mailbox) push(msg message) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, msg)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

func (m *mailbox) take() ([]message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue
	m.queue = nil
	return q, m.closed
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}
