// File: internal/mailbox/mailbox.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-worker multi-producer single-consumer mailbox. Producers on any
// thread send; only the owning worker receives. A doorbell file descriptor
// lets a sender interrupt the owner while it is blocked in its reactor.

package mailbox

import (
	"sync"

	"github.com/momentics/coreloop/api"
)

// Mailbox carries cross-thread messages to one worker. Per-sender ordering
// is preserved by the underlying channel; cross-sender ordering is arrival
// order.
type Mailbox[M any] struct {
	ch     chan M
	bell   doorbell
	closed chan struct{}
	once   sync.Once
}

// New creates a mailbox with the given capacity and its doorbell.
func New[M any](capacity int) (*Mailbox[M], error) {
	if capacity <= 0 {
		capacity = 1024
	}
	bell, err := newDoorbell()
	if err != nil {
		return nil, err
	}
	return &Mailbox[M]{
		ch:     make(chan M, capacity),
		bell:   bell,
		closed: make(chan struct{}),
	}, nil
}

// Send delivers m to the owning worker and rings the doorbell. It blocks
// while the mailbox is full and fails once the mailbox is closed.
func (m *Mailbox[M]) Send(msg M) error {
	select {
	case <-m.closed:
		return api.ErrRuntimeClosed
	default:
	}
	select {
	case m.ch <- msg:
		m.bell.ring()
		return nil
	case <-m.closed:
		return api.ErrRuntimeClosed
	}
}

// Drain applies fn to every message currently queued and returns the count.
// Owner thread only.
func (m *Mailbox[M]) Drain(fn func(M)) int {
	n := 0
	for {
		select {
		case msg := <-m.ch:
			fn(msg)
			n++
		default:
			m.bell.clear()
			return n
		}
	}
}

// Len returns the number of queued messages.
func (m *Mailbox[M]) Len() int {
	return len(m.ch)
}

// DoorbellFd exposes the doorbell descriptor for reactor registration.
// Returns -1 when the platform provides no doorbell.
func (m *Mailbox[M]) DoorbellFd() int {
	return m.bell.fd()
}

// Close rejects further sends and releases the doorbell. Queued messages
// stay drainable by the owner.
func (m *Mailbox[M]) Close() {
	m.once.Do(func() {
		close(m.closed)
		m.bell.close()
	})
}
