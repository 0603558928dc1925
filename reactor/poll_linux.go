//go:build linux

// File: reactor/poll_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Portable readiness-polling reactor. Descriptors run non-blocking; each
// registered operation is attempted immediately and, on EAGAIN, parked in
// epoll until ready, at which point the syscall is retried and its outcome
// delivered as a completion. Semantics match the io_uring backend at lower
// batching efficiency. Timers and I/O deadlines live in a binary heap.

package reactor

import (
	"container/heap"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/coreloop/api"
	"github.com/momentics/coreloop/internal/slots"
)

type pollReg struct {
	h        slots.Handle
	op       Op
	events   uint32 // EPOLLIN or EPOLLOUT
	deadline time.Time
	timer    *timerEntry // non-nil when deadline-bound or OpTimeout
	started  bool        // connect initiated
}

type fdEntry struct {
	in  *pollReg
	out *pollReg
}

type delivery struct {
	h slots.Handle
	c Completion
}

type pollReactor struct {
	epfd       int
	fds        map[int]*fdEntry
	byTask     map[slots.Handle]*pollReg
	timers     timerHeap
	ready      []delivery
	doorbellFd int
	events     []unix.EpollEvent
}

// newPollReactor creates the epoll-backed fallback reactor.
func newPollReactor(maxEvents int) (*pollReactor, error) {
	if maxEvents <= 0 {
		maxEvents = 128
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &pollReactor{
		epfd:       epfd,
		fds:        make(map[int]*fdEntry),
		byTask:     make(map[slots.Handle]*pollReg),
		doorbellFd: -1,
		events:     make([]unix.EpollEvent, maxEvents),
	}, nil
}

// Register attempts op immediately and parks it in epoll on EAGAIN.
func (r *pollReactor) Register(h slots.Handle, op *Op) error {
	if _, dup := r.byTask[h]; dup {
		return api.NewError(api.ErrCodeInternal, "task already has an outstanding registration")
	}
	reg := &pollReg{h: h, op: *op}

	if op.Kind == OpTimeout {
		reg.timer = r.armTimer(reg, time.Now().Add(op.Duration))
		r.byTask[h] = reg
		return nil
	}
	if op.Kind == OpNop {
		r.ready = append(r.ready, delivery{h: h})
		return nil
	}

	done, c := r.attempt(reg)
	if done {
		r.ready = append(r.ready, delivery{h: h, c: c})
		return nil
	}

	reg.events = unix.EPOLLIN
	if op.Kind == OpWrite || op.Kind == OpSend || op.Kind == OpConnect {
		reg.events = unix.EPOLLOUT
	}
	if err := r.armFD(reg); err != nil {
		return err
	}
	if op.Timeout > 0 {
		reg.timer = r.armTimer(reg, time.Now().Add(op.Timeout))
	}
	r.byTask[h] = reg
	return nil
}

// attempt performs the non-blocking syscall once. done=false means EAGAIN
// (or connect in progress) and the op must wait for readiness.
func (r *pollReactor) attempt(reg *pollReg) (done bool, c Completion) {
	op := &reg.op
	switch op.Kind {
	case OpRead:
		n, err := unix.Read(op.Fd, op.Buf)
		return r.outcome(op, n, nil, err)
	case OpWrite:
		n, err := unix.Write(op.Fd, op.Buf)
		return r.outcome(op, n, nil, err)
	case OpSend:
		// MSG_* flags other than NOSIGNAL are not used by the runtime's
		// socket surface, so plain write keeps partial counts visible.
		n, err := unix.Write(op.Fd, op.Buf)
		return r.outcome(op, n, nil, err)
	case OpRecv:
		n, _, err := unix.Recvfrom(op.Fd, op.Buf, op.Flags)
		return r.outcome(op, n, nil, err)
	case OpAccept:
		nfd, sa, err := unix.Accept4(op.Fd, unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK)
		return r.outcome(op, nfd, sa, err)
	case OpConnect:
		if !reg.started {
			reg.started = true
			err := unix.Connect(op.Fd, op.Addr)
			if err == nil {
				return true, Completion{}
			}
			if err == unix.EINPROGRESS || err == unix.EAGAIN {
				return false, Completion{}
			}
			return true, Completion{Err: ioErr(op, err)}
		}
		soerr, err := unix.GetsockoptInt(op.Fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return true, Completion{Err: ioErr(op, err)}
		}
		if soerr != 0 {
			return true, Completion{Err: ioErr(op, unix.Errno(soerr))}
		}
		return true, Completion{}
	case OpPollRead:
		// Pure readiness interest; completion carries no payload.
		return false, Completion{}
	default:
		return true, Completion{Err: api.NewError(api.ErrCodeInternal, "unknown op kind")}
	}
}

func (r *pollReactor) outcome(op *Op, n int, peer unix.Sockaddr, err error) (bool, Completion) {
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
		return false, Completion{}
	}
	if err != nil {
		return true, Completion{Err: ioErr(op, err)}
	}
	return true, Completion{N: n, Peer: peer}
}

func ioErr(op *Op, err error) error {
	return fmt.Errorf("%w: %s: %w", api.ErrIoFailure, op.Kind, err)
}

// armFD merges reg into the fd's epoll interest set.
func (r *pollReactor) armFD(reg *pollReg) error {
	ent := r.fds[reg.op.Fd]
	fresh := ent == nil
	if fresh {
		ent = &fdEntry{}
		r.fds[reg.op.Fd] = ent
	}
	if reg.events == unix.EPOLLIN {
		ent.in = reg
	} else {
		ent.out = reg
	}
	return r.epollUpdate(reg.op.Fd, ent, fresh)
}

func (r *pollReactor) epollUpdate(fd int, ent *fdEntry, fresh bool) error {
	var events uint32
	if ent.in != nil {
		events |= unix.EPOLLIN
	}
	if ent.out != nil {
		events |= unix.EPOLLOUT
	}
	if events == 0 {
		delete(r.fds, fd)
		return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	opcode := unix.EPOLL_CTL_MOD
	if fresh {
		opcode = unix.EPOLL_CTL_ADD
	}
	if err := unix.EpollCtl(r.epfd, opcode, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl: %w", err)
	}
	return nil
}

// disarm removes reg from epoll and timer tracking.
func (r *pollReactor) disarm(reg *pollReg) {
	if reg.timer != nil {
		r.timers.remove(reg.timer)
		reg.timer = nil
	}
	if reg.op.Kind == OpTimeout {
		return
	}
	if ent, ok := r.fds[reg.op.Fd]; ok {
		if ent.in == reg {
			ent.in = nil
		}
		if ent.out == reg {
			ent.out = nil
		}
		_ = r.epollUpdate(reg.op.Fd, ent, false)
	}
}

// Cancel drops h's registration synchronously; nothing is delivered.
func (r *pollReactor) Cancel(h slots.Handle) CancelState {
	reg, ok := r.byTask[h]
	if !ok {
		return CancelNone
	}
	delete(r.byTask, h)
	r.disarm(reg)
	return CancelDone
}

// Poll delivers buffered completions, waits for readiness up to timeout,
// retries ready operations and expires due timers.
func (r *pollReactor) Poll(timeout time.Duration, deliver DeliverFunc) (int, error) {
	n := r.flushReady(deliver)
	if n > 0 {
		timeout = 0
	}

	ms := int(-1)
	switch {
	case timeout == 0:
		ms = 0
	case timeout > 0:
		ms = int(timeout / time.Millisecond)
		if ms == 0 {
			ms = 1
		}
	}
	if next, ok := r.NextTimer(); ok {
		nextMs := int(next / time.Millisecond)
		if nextMs < 1 {
			nextMs = 0
		}
		if ms < 0 || nextMs < ms {
			ms = nextMs
		}
	}

	nev, err := unix.EpollWait(r.epfd, r.events, ms)
	if err != nil && err != unix.EINTR {
		return n, fmt.Errorf("epoll wait: %w", err)
	}
	for i := 0; i < nev; i++ {
		ev := r.events[i]
		fd := int(ev.Fd)
		if fd == r.doorbellFd {
			continue // owner drains its mailbox right after Poll
		}
		ent, ok := r.fds[fd]
		if !ok {
			continue
		}
		if ev.Events&(unix.EPOLLIN|unix.EPOLLERR|unix.EPOLLHUP) != 0 && ent.in != nil {
			n += r.retry(ent.in, deliver)
		}
		if ev.Events&(unix.EPOLLOUT|unix.EPOLLERR|unix.EPOLLHUP) != 0 && ent.out != nil {
			n += r.retry(ent.out, deliver)
		}
	}
	n += r.expireTimers(deliver)
	return n, nil
}

func (r *pollReactor) flushReady(deliver DeliverFunc) int {
	n := len(r.ready)
	for _, d := range r.ready {
		deliver(d.h, d.c)
	}
	r.ready = r.ready[:0]
	return n
}

func (r *pollReactor) retry(reg *pollReg, deliver DeliverFunc) int {
	if reg.op.Kind == OpPollRead {
		r.complete(reg)
		deliver(reg.h, Completion{})
		return 1
	}
	done, c := r.attempt(reg)
	if !done {
		return 0 // spurious readiness, stay armed
	}
	r.complete(reg)
	deliver(reg.h, c)
	return 1
}

// complete removes all tracking for reg after its outcome is decided.
func (r *pollReactor) complete(reg *pollReg) {
	delete(r.byTask, reg.h)
	r.disarm(reg)
}

func (r *pollReactor) expireTimers(deliver DeliverFunc) int {
	now := time.Now()
	n := 0
	for r.timers.Len() > 0 {
		next := r.timers[0]
		if next.when.After(now) {
			break
		}
		heap.Pop(&r.timers)
		reg := next.reg
		reg.timer = nil
		if reg.op.Kind == OpTimeout {
			r.complete(reg)
			deliver(reg.h, Completion{})
		} else {
			// I/O deadline expired while parked.
			r.complete(reg)
			deliver(reg.h, Completion{Err: fmt.Errorf("%w: %s after %v", api.ErrTimeout, reg.op.Kind, reg.op.Timeout)})
		}
		n++
	}
	return n
}

func (r *pollReactor) armTimer(reg *pollReg, when time.Time) *timerEntry {
	te := &timerEntry{when: when, reg: reg}
	heap.Push(&r.timers, te)
	return te
}

// NextTimer returns the wait until the earliest pending timer.
func (r *pollReactor) NextTimer() (time.Duration, bool) {
	if r.timers.Len() == 0 {
		return 0, false
	}
	d := time.Until(r.timers[0].when)
	if d < 0 {
		d = 0
	}
	return d, true
}

// PrepareFD switches fd to non-blocking mode.
func (r *pollReactor) PrepareFD(fd int) error {
	return unix.SetNonblock(fd, true)
}

// SetDoorbell adds fd level-triggered; the owner clears it on drain.
func (r *pollReactor) SetDoorbell(fd int) error {
	r.doorbellFd = fd
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl doorbell: %w", err)
	}
	return nil
}

func (r *pollReactor) Pending() int {
	return len(r.byTask) + len(r.ready)
}

func (r *pollReactor) Backend() string { return "poll" }

func (r *pollReactor) Close() error {
	return unix.Close(r.epfd)
}

// timerEntry is one pending expiry in the heap.
type timerEntry struct {
	when  time.Time
	reg   *pollReg
	index int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].when.Before(h[j].when) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x any)         { e := x.(*timerEntry); e.index = len(*h); *h = append(*h, e) }
func (h *timerHeap) Pop() any           { old := *h; n := len(old); e := old[n-1]; old[n-1] = nil; *h = old[:n-1]; return e }
func (h *timerHeap) remove(e *timerEntry) {
	if e.index >= 0 && e.index < len(*h) && (*h)[e.index] == e {
		heap.Remove(h, e.index)
	}
}
