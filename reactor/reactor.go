// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Platform-neutral reactor contract. A reactor bridges kernel I/O and timer
// completions to task wakes: one outstanding operation is bound to one live
// task handle, and every completion removes its registration and hands the
// outcome back through the deliver callback.

package reactor

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/coreloop/internal/slots"
)

// OpKind enumerates the supported kernel operations.
type OpKind uint8

const (
	OpNop OpKind = iota
	OpRead
	OpWrite
	OpSend
	OpRecv
	OpAccept
	OpConnect
	OpTimeout
	OpPollRead
)

// String implements fmt.Stringer for diagnostics.
func (k OpKind) String() string {
	switch k {
	case OpNop:
		return "nop"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpSend:
		return "send"
	case OpRecv:
		return "recv"
	case OpAccept:
		return "accept"
	case OpConnect:
		return "connect"
	case OpTimeout:
		return "timeout"
	case OpPollRead:
		return "poll-read"
	default:
		return "unknown"
	}
}

// Op describes one kernel operation to bind to a task.
type Op struct {
	Kind OpKind

	// Fd is the target descriptor for I/O kinds.
	Fd int

	// Buf is the transfer buffer for read/write/send/recv. It must stay
	// reachable until the completion is delivered.
	Buf []byte

	// Addr is the destination for OpConnect.
	Addr unix.Sockaddr

	// Duration is the relative expiry for OpTimeout.
	Duration time.Duration

	// Timeout optionally bounds an I/O operation. Expiry completes the
	// operation with api.ErrTimeout.
	Timeout time.Duration

	// Flags carries MSG_* flags for OpSend/OpRecv.
	Flags int
}

// Completion is the outcome of one registered operation.
type Completion struct {
	// N is the transferred byte count, or the accepted descriptor for
	// OpAccept. Zero for timers.
	N int

	// Peer is the remote address for OpAccept.
	Peer unix.Sockaddr

	// Err is nil on success; otherwise one of the api error kinds.
	Err error
}

// CancelState reports how a cancellation request was handled.
type CancelState uint8

const (
	// CancelNone: no outstanding registration for the handle.
	CancelNone CancelState = iota
	// CancelDone: the registration was dropped synchronously; no
	// completion will be delivered.
	CancelDone
	// CancelQueued: cancellation was submitted to the kernel; the
	// cancelled completion arrives through Poll.
	CancelQueued
	// CancelRetry: the submission queue is full; retry on a later tick.
	CancelRetry
)

// DeliverFunc receives completions during Poll. Handles may be stale by the
// time they are delivered; consumers resolve them through the slot table,
// where stale handles fall out harmlessly.
type DeliverFunc func(h slots.Handle, c Completion)

// Reactor is implemented by the io_uring backend and the portable polling
// backend with identical semantics.
type Reactor interface {
	// Register submits op bound to h. It returns api.ErrBackpressure when
	// the submission queue is full; the caller retries on a later tick.
	Register(h slots.Handle, op *Op) error

	// Cancel requests cancellation of the outstanding operation bound to h.
	Cancel(h slots.Handle) CancelState

	// Poll reaps completions. timeout < 0 blocks until at least one
	// completion (or doorbell) arrives; timeout == 0 returns immediately;
	// a positive timeout bounds the wait. Returns delivered count.
	Poll(timeout time.Duration, deliver DeliverFunc) (int, error)

	// NextTimer returns the duration until the nearest pending timer
	// tracked in user space. Backends with in-kernel timers return false.
	NextTimer() (time.Duration, bool)

	// PrepareFD applies backend-specific descriptor setup (the polling
	// backend switches fds to non-blocking; io_uring leaves them alone).
	PrepareFD(fd int) error

	// SetDoorbell registers an always-armed readable descriptor whose
	// readiness interrupts Poll without delivering a completion.
	SetDoorbell(fd int) error

	// Pending returns the number of outstanding registrations.
	Pending() int

	// Backend names the active implementation ("uring" or "poll").
	Backend() string

	// Close releases kernel resources. Outstanding registrations are
	// dropped without delivery.
	Close() error
}
