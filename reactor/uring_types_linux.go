//go:build linux

// File: reactor/uring_types_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// io_uring ABI constants and ring structures used by the uring reactor.
// Layouts match include/uapi/linux/io_uring.h.

package reactor

const (
	// setup flags
	IORING_SETUP_IOPOLL = 1 << 0
	IORING_SETUP_SQPOLL = 1 << 1
	IORING_SETUP_SQ_AFF = 1 << 2
	IORING_SETUP_CQSIZE = 1 << 3
	IORING_SETUP_CLAMP  = 1 << 4

	// opcodes
	IORING_OP_NOP             = 0
	IORING_OP_READV           = 1
	IORING_OP_WRITEV          = 2
	IORING_OP_FSYNC           = 3
	IORING_OP_READ_FIXED      = 4
	IORING_OP_WRITE_FIXED     = 5
	IORING_OP_POLL_ADD        = 6
	IORING_OP_POLL_REMOVE     = 7
	IORING_OP_SYNC_FILE_RANGE = 8
	IORING_OP_SENDMSG         = 9
	IORING_OP_RECVMSG         = 10
	IORING_OP_TIMEOUT         = 11
	IORING_OP_TIMEOUT_REMOVE  = 12
	IORING_OP_ACCEPT          = 13
	IORING_OP_ASYNC_CANCEL    = 14
	IORING_OP_LINK_TIMEOUT    = 15
	IORING_OP_CONNECT         = 16
	IORING_OP_READ            = 22
	IORING_OP_WRITE           = 23
	IORING_OP_SEND            = 26
	IORING_OP_RECV            = 27

	// sqe flags
	IOSQE_IO_LINK = 1 << 2

	// enter flags
	IORING_ENTER_GETEVENTS = 1 << 0
	IORING_ENTER_SQ_WAKEUP = 1 << 1

	// sq ring flags
	IORING_SQ_NEED_WAKEUP = 1 << 0

	// mmap offsets
	IORING_OFF_SQ_RING = 0
	IORING_OFF_CQ_RING = 0x8000000
	IORING_OFF_SQES    = 0x10000000
)

// sqringOffsets mirrors struct io_sqring_offsets.
type sqringOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Flags       uint32
	Dropped     uint32
	Array       uint32
	Resv1       uint32
	UserAddr    uint64
}

// cqringOffsets mirrors struct io_cqring_offsets.
type cqringOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Overflow    uint32
	Cqes        uint32
	Flags       uint32
	Resv1       uint32
	UserAddr    uint64
}

// uringParams mirrors struct io_uring_params.
type uringParams struct {
	SqEntries    uint32
	CqEntries    uint32
	Flags        uint32
	SqThreadCPU  uint32
	SqThreadIdle uint32
	Features     uint32
	WqFd         uint32
	Resv         [3]uint32
	SqOff        sqringOffsets
	CqOff        cqringOffsets
}

// uringSQE mirrors struct io_uring_sqe (64 bytes).
type uringSQE struct {
	Opcode      uint8
	Flags       uint8
	Ioprio      uint16
	Fd          int32
	Off         uint64
	Addr        uint64
	Len         uint32
	OpFlags     uint32
	UserData    uint64
	BufIndex    uint16
	Personality uint16
	SpliceFdIn  int32
	Addr3       uint64
	Pad2        [1]uint64
}

// uringCQE mirrors struct io_uring_cqe (16 bytes).
type uringCQE struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

// kernelTimespec mirrors struct __kernel_timespec.
type kernelTimespec struct {
	Sec  int64
	Nsec int64
}
