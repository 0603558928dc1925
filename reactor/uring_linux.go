//go:build linux

// File: reactor/uring_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Batched io_uring reactor. Submission entries are staged into the mmap'd
// SQ ring as tasks register interest and flushed with a single
// io_uring_enter per poll; completions are reaped straight off the CQ ring
// without further syscalls. Timers run in-kernel as TIMEOUT operations, so
// the reactor keeps no user-space timer structure.

package reactor

import (
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/momentics/coreloop/api"
	"github.com/momentics/coreloop/internal/slots"
)

// udInternal tags user_data values owned by the reactor itself (doorbell
// poll, wait timers, linked timeouts, cancellations). Task registrations
// never carry the tag.
const udInternal = uint64(1) << 63

// udDoorbell is the fixed user_data of the doorbell POLL_ADD.
const udDoorbell = udInternal

type uringReg struct {
	h      slots.Handle
	op     Op
	ts     *kernelTimespec // keepalive for OpTimeout / linked timeout
	sa     *rawSockaddr    // keepalive for accept/connect
	saLen  *uint32         // keepalive for accept's socklen
	linked bool            // a LINK_TIMEOUT bounds this op
}

type uringReactor struct {
	fd int

	sqRing []byte
	cqRing []byte
	sqeMem []byte

	sqHead  *uint32
	sqTail  *uint32
	sqMask  uint32
	sqArray []uint32
	sqes    []uringSQE

	cqHead *uint32
	cqTail *uint32
	cqMask uint32
	cqes   []uringCQE

	entries     uint32
	sqeTail     uint32 // local staging tail
	sqSubmitted uint32 // entries already passed to the kernel

	nextID uint64
	regs   map[uint64]*uringReg
	byTask map[slots.Handle]uint64
	aux    map[uint64]*kernelTimespec // keepalive for internal timers

	doorbellFd    int
	doorbellRearm bool
}

// newUring sets up an io_uring instance with the given SQ depth.
func newUring(entries uint32) (*uringReactor, error) {
	var params uringParams
	fd, _, errno := unix.Syscall(unix.SYS_IO_URING_SETUP, uintptr(entries), uintptr(unsafe.Pointer(&params)), 0)
	if errno != 0 {
		return nil, fmt.Errorf("io_uring_setup: %w", errno)
	}
	r := &uringReactor{
		fd:         int(fd),
		entries:    params.SqEntries,
		nextID:     1,
		regs:       make(map[uint64]*uringReg),
		byTask:     make(map[slots.Handle]uint64),
		aux:        make(map[uint64]*kernelTimespec),
		doorbellFd: -1,
	}
	if err := r.mmapRings(&params); err != nil {
		_ = unix.Close(r.fd)
		return nil, err
	}
	return r, nil
}

func (r *uringReactor) mmapRings(p *uringParams) error {
	const prot = unix.PROT_READ | unix.PROT_WRITE
	const flags = unix.MAP_SHARED | unix.MAP_POPULATE

	sqSize := int(p.SqOff.Array + p.SqEntries*4)
	mem, err := unix.Mmap(r.fd, IORING_OFF_SQ_RING, sqSize, prot, flags)
	if err != nil {
		return fmt.Errorf("mmap sq ring: %w", err)
	}
	r.sqRing = mem
	r.sqHead = ringU32(mem, p.SqOff.Head)
	r.sqTail = ringU32(mem, p.SqOff.Tail)
	r.sqMask = *ringU32(mem, p.SqOff.RingMask)
	r.sqArray = unsafe.Slice((*uint32)(unsafe.Pointer(&mem[p.SqOff.Array])), p.SqEntries)

	cqSize := int(p.CqOff.Cqes) + int(p.CqEntries)*int(unsafe.Sizeof(uringCQE{}))
	mem, err = unix.Mmap(r.fd, IORING_OFF_CQ_RING, cqSize, prot, flags)
	if err != nil {
		return fmt.Errorf("mmap cq ring: %w", err)
	}
	r.cqRing = mem
	r.cqHead = ringU32(mem, p.CqOff.Head)
	r.cqTail = ringU32(mem, p.CqOff.Tail)
	r.cqMask = *ringU32(mem, p.CqOff.RingMask)
	r.cqes = unsafe.Slice((*uringCQE)(unsafe.Pointer(&mem[p.CqOff.Cqes])), p.CqEntries)

	sqesSize := int(p.SqEntries) * int(unsafe.Sizeof(uringSQE{}))
	mem, err = unix.Mmap(r.fd, IORING_OFF_SQES, sqesSize, prot, flags)
	if err != nil {
		return fmt.Errorf("mmap sqes: %w", err)
	}
	r.sqeMem = mem
	r.sqes = unsafe.Slice((*uringSQE)(unsafe.Pointer(&mem[0])), p.SqEntries)
	return nil
}

func ringU32(mem []byte, off uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(&mem[off]))
}

// probeUring reports whether io_uring is usable on this kernel.
func probeUring() error {
	r, err := newUring(4)
	if err != nil {
		return err
	}
	return r.Close()
}

// sqFree returns the number of unstaged SQ slots.
func (r *uringReactor) sqFree() uint32 {
	head := atomic.LoadUint32(r.sqHead)
	return r.entries - (r.sqeTail - head)
}

// grabSQE stages one zeroed SQE. Callers must have checked sqFree.
func (r *uringReactor) grabSQE() *uringSQE {
	idx := r.sqeTail & r.sqMask
	sqe := &r.sqes[idx]
	*sqe = uringSQE{}
	r.sqArray[idx] = idx
	r.sqeTail++
	return sqe
}

// internalID allocates a tagged user_data for reactor-owned submissions.
func (r *uringReactor) internalID() uint64 {
	r.nextID++
	return udInternal | r.nextID
}

func timespecFor(d time.Duration) *kernelTimespec {
	if d < 0 {
		d = 0
	}
	return &kernelTimespec{Sec: int64(d / time.Second), Nsec: int64(d % time.Second)}
}

// Register stages op bound to h. ErrBackpressure when the ring is full.
func (r *uringReactor) Register(h slots.Handle, op *Op) error {
	if _, dup := r.byTask[h]; dup {
		return api.NewError(api.ErrCodeInternal, "task already has an outstanding registration")
	}
	need := uint32(1)
	linked := op.Timeout > 0 && op.Kind != OpTimeout && op.Kind != OpNop
	if linked {
		need = 2
	}
	if r.sqFree() < need {
		return api.ErrBackpressure
	}

	reg := &uringReg{h: h, op: *op, linked: linked}
	r.nextID++
	id := r.nextID

	sqe := r.grabSQE()
	sqe.UserData = id
	sqe.Fd = int32(op.Fd)

	switch op.Kind {
	case OpNop:
		sqe.Opcode = IORING_OP_NOP
	case OpRead:
		sqe.Opcode = IORING_OP_READ
		sqe.Addr = bufAddr(op.Buf)
		sqe.Len = uint32(len(op.Buf))
	case OpWrite:
		sqe.Opcode = IORING_OP_WRITE
		sqe.Addr = bufAddr(op.Buf)
		sqe.Len = uint32(len(op.Buf))
	case OpSend:
		sqe.Opcode = IORING_OP_SEND
		sqe.Addr = bufAddr(op.Buf)
		sqe.Len = uint32(len(op.Buf))
		sqe.OpFlags = uint32(op.Flags)
	case OpRecv:
		sqe.Opcode = IORING_OP_RECV
		sqe.Addr = bufAddr(op.Buf)
		sqe.Len = uint32(len(op.Buf))
		sqe.OpFlags = uint32(op.Flags)
	case OpAccept:
		sqe.Opcode = IORING_OP_ACCEPT
		reg.sa = &rawSockaddr{}
		reg.saLen = new(uint32)
		*reg.saLen = uint32(unsafe.Sizeof(reg.sa.any))
		ptr, _ := reg.sa.ptr()
		sqe.Addr = uint64(uintptr(ptr))
		sqe.Off = uint64(uintptr(unsafe.Pointer(reg.saLen)))
		sqe.OpFlags = unix.SOCK_CLOEXEC
	case OpConnect:
		sqe.Opcode = IORING_OP_CONNECT
		reg.sa = &rawSockaddr{}
		if err := reg.sa.fill(op.Addr); err != nil {
			r.sqeTail-- // unstage
			return err
		}
		ptr, salen := reg.sa.ptr()
		sqe.Addr = uint64(uintptr(ptr))
		sqe.Off = uint64(salen)
	case OpTimeout:
		sqe.Opcode = IORING_OP_TIMEOUT
		reg.ts = timespecFor(op.Duration)
		sqe.Addr = uint64(uintptr(unsafe.Pointer(reg.ts)))
		sqe.Len = 1
	case OpPollRead:
		sqe.Opcode = IORING_OP_POLL_ADD
		sqe.OpFlags = uint32(unix.POLLIN)
	default:
		r.sqeTail--
		return api.NewError(api.ErrCodeInternal, "unknown op kind")
	}

	if linked {
		sqe.Flags |= IOSQE_IO_LINK
		reg.ts = timespecFor(op.Timeout)
		lt := r.grabSQE()
		lt.Opcode = IORING_OP_LINK_TIMEOUT
		lt.Addr = uint64(uintptr(unsafe.Pointer(reg.ts)))
		lt.Len = 1
		lt.UserData = r.internalID()
	}

	r.regs[id] = reg
	r.byTask[h] = id
	return nil
}

func bufAddr(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&b[0])))
}

// Cancel stages an ASYNC_CANCEL for h's outstanding operation. The
// cancelled completion is still delivered through Poll.
func (r *uringReactor) Cancel(h slots.Handle) CancelState {
	id, ok := r.byTask[h]
	if !ok {
		return CancelNone
	}
	if r.sqFree() < 1 {
		return CancelRetry
	}
	sqe := r.grabSQE()
	sqe.Opcode = IORING_OP_ASYNC_CANCEL
	sqe.Addr = id
	sqe.UserData = r.internalID()
	return CancelQueued
}

// flush publishes staged SQEs and returns how many need submission.
func (r *uringReactor) flush() uint32 {
	atomic.StoreUint32(r.sqTail, r.sqeTail)
	n := r.sqeTail - r.sqSubmitted
	r.sqSubmitted = r.sqeTail
	return n
}

// Poll submits staged operations and reaps completions. See Reactor.Poll.
func (r *uringReactor) Poll(timeout time.Duration, deliver DeliverFunc) (int, error) {
	if r.doorbellRearm {
		r.armDoorbell()
	}
	wait := timeout != 0
	if timeout > 0 && r.sqFree() > 0 {
		// Bound the wait with an in-ring timer; its completion is dropped.
		ts := timespecFor(timeout)
		sqe := r.grabSQE()
		sqe.Opcode = IORING_OP_TIMEOUT
		sqe.Addr = uint64(uintptr(unsafe.Pointer(ts)))
		sqe.Len = 1
		id := r.internalID()
		sqe.UserData = id
		r.aux[id] = ts
	}

	toSubmit := r.flush()
	var flags uint32
	var minComplete uint32
	if wait && r.reapable() == 0 {
		flags = IORING_ENTER_GETEVENTS
		minComplete = 1
	}
	if toSubmit > 0 || flags != 0 {
		for {
			_, _, errno := unix.Syscall6(unix.SYS_IO_URING_ENTER,
				uintptr(r.fd), uintptr(toSubmit), uintptr(minComplete), uintptr(flags), 0, 0)
			if errno == 0 {
				break
			}
			if errno == unix.EINTR {
				// Interrupted waits return to the worker loop; staged
				// entries were already consumed or will be resubmitted.
				break
			}
			if errno == unix.EBUSY {
				// CQ is saturated; reap below before submitting more.
				break
			}
			return 0, fmt.Errorf("io_uring_enter: %w", errno)
		}
	}
	return r.reap(deliver), nil
}

func (r *uringReactor) reapable() uint32 {
	return atomic.LoadUint32(r.cqTail) - *r.cqHead
}

func (r *uringReactor) reap(deliver DeliverFunc) int {
	head := *r.cqHead
	tail := atomic.LoadUint32(r.cqTail)
	n := 0
	for head != tail {
		cqe := r.cqes[head&r.cqMask]
		head++
		if cqe.UserData&udInternal != 0 {
			if cqe.UserData == udDoorbell {
				r.doorbellRearm = true
			} else {
				delete(r.aux, cqe.UserData)
			}
			continue
		}
		reg, ok := r.regs[cqe.UserData]
		if !ok {
			continue
		}
		delete(r.regs, cqe.UserData)
		delete(r.byTask, reg.h)
		deliver(reg.h, completionFor(reg, cqe.Res))
		n++
	}
	atomic.StoreUint32(r.cqHead, head)
	if r.doorbellRearm {
		r.armDoorbell()
	}
	return n
}

func completionFor(reg *uringReg, res int32) Completion {
	if res >= 0 {
		c := Completion{N: int(res)}
		if reg.op.Kind == OpAccept && reg.sa != nil {
			c.Peer = reg.sa.decode()
		}
		return c
	}
	errno := unix.Errno(-res)
	switch {
	case reg.op.Kind == OpTimeout && errno == unix.ETIME:
		return Completion{} // timer fired, not a failure
	case errno == unix.ECANCELED && reg.linked:
		return Completion{Err: fmt.Errorf("%w: %s after %v", api.ErrTimeout, reg.op.Kind, reg.op.Timeout)}
	case errno == unix.ECANCELED:
		return Completion{Err: api.ErrCancelled}
	default:
		return Completion{Err: fmt.Errorf("%w: %s: %w", api.ErrIoFailure, reg.op.Kind, errno)}
	}
}

// NextTimer: timers are in-kernel, nothing tracked in user space.
func (r *uringReactor) NextTimer() (time.Duration, bool) {
	return 0, false
}

// PrepareFD: io_uring operates on blocking descriptors as-is.
func (r *uringReactor) PrepareFD(fd int) error {
	return nil
}

// SetDoorbell arms a persistent-by-rearm POLL_ADD on fd.
func (r *uringReactor) SetDoorbell(fd int) error {
	r.doorbellFd = fd
	r.doorbellRearm = true
	r.armDoorbell()
	return nil
}

func (r *uringReactor) armDoorbell() {
	if r.doorbellFd < 0 || r.sqFree() == 0 {
		return
	}
	sqe := r.grabSQE()
	sqe.Opcode = IORING_OP_POLL_ADD
	sqe.Fd = int32(r.doorbellFd)
	sqe.OpFlags = uint32(unix.POLLIN)
	sqe.UserData = udDoorbell
	r.doorbellRearm = false
}

func (r *uringReactor) Pending() int {
	return len(r.regs)
}

func (r *uringReactor) Backend() string { return "uring" }

// Close unmaps the rings and closes the ring descriptor. Outstanding
// registrations are dropped without delivery.
func (r *uringReactor) Close() error {
	if r.sqRing != nil {
		_ = unix.Munmap(r.sqRing)
		r.sqRing = nil
	}
	if r.cqRing != nil {
		_ = unix.Munmap(r.cqRing)
		r.cqRing = nil
	}
	if r.sqeMem != nil {
		_ = unix.Munmap(r.sqeMem)
		r.sqeMem = nil
	}
	return unix.Close(r.fd)
}
