//go:build linux

// File: reactor/uring_linux_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/coreloop/api"
	"github.com/momentics/coreloop/internal/slots"
)

func newUringT(t *testing.T) *uringReactor {
	t.Helper()
	if err := probeUring(); err != nil {
		t.Skipf("io_uring unavailable: %v", err)
	}
	r, err := newUring(64)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestUringNopCompletes(t *testing.T) {
	r := newUringT(t)
	h := slots.Handle{Index: 1, Gen: 1}
	require.NoError(t, r.Register(h, &Op{Kind: OpNop}))

	var s sink
	n, err := r.Poll(time.Second, s.deliver)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, h, s.got[0].h)
	require.NoError(t, s.got[0].c.Err)
}

func TestUringTimerCompletes(t *testing.T) {
	r := newUringT(t)
	h := slots.Handle{Index: 2, Gen: 1}
	require.NoError(t, r.Register(h, &Op{Kind: OpTimeout, Duration: 20 * time.Millisecond}))

	var s sink
	start := time.Now()
	for len(s.got) == 0 && time.Since(start) < time.Second {
		_, err := r.Poll(100*time.Millisecond, s.deliver)
		require.NoError(t, err)
	}
	require.Len(t, s.got, 1)
	require.NoError(t, s.got[0].c.Err, "ETIME must map to a fired timer, not a failure")
	require.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestUringReadFromPipe(t *testing.T) {
	r := newUringT(t)
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_CLOEXEC))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	buf := make([]byte, 16)
	h := slots.Handle{Index: 3, Gen: 1}
	require.NoError(t, r.Register(h, &Op{Kind: OpRead, Fd: fds[0], Buf: buf}))

	// Submit without waiting, then supply data.
	_, err := r.Poll(0, (&sink{}).deliver)
	require.NoError(t, err)
	_, err = unix.Write(fds[1], []byte("hello"))
	require.NoError(t, err)

	var s sink
	deadline := time.Now().Add(time.Second)
	for len(s.got) == 0 && time.Now().Before(deadline) {
		_, err := r.Poll(100*time.Millisecond, s.deliver)
		require.NoError(t, err)
	}
	require.Len(t, s.got, 1)
	require.Equal(t, 5, s.got[0].c.N)
	require.Equal(t, "hello", string(buf[:5]))
}

func TestUringLinkedTimeoutExpires(t *testing.T) {
	r := newUringT(t)
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_CLOEXEC))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	h := slots.Handle{Index: 4, Gen: 1}
	op := &Op{Kind: OpRead, Fd: fds[0], Buf: make([]byte, 4), Timeout: 30 * time.Millisecond}
	require.NoError(t, r.Register(h, op))

	var s sink
	deadline := time.Now().Add(2 * time.Second)
	for len(s.got) == 0 && time.Now().Before(deadline) {
		_, err := r.Poll(100*time.Millisecond, s.deliver)
		require.NoError(t, err)
	}
	require.Len(t, s.got, 1)
	require.ErrorIs(t, s.got[0].c.Err, api.ErrTimeout)
}

func TestUringCancelDeliversCancelled(t *testing.T) {
	r := newUringT(t)
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_CLOEXEC))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	h := slots.Handle{Index: 5, Gen: 1}
	require.NoError(t, r.Register(h, &Op{Kind: OpRead, Fd: fds[0], Buf: make([]byte, 4)}))
	_, err := r.Poll(0, (&sink{}).deliver)
	require.NoError(t, err)

	require.Equal(t, CancelQueued, r.Cancel(h))

	var s sink
	deadline := time.Now().Add(2 * time.Second)
	for len(s.got) == 0 && time.Now().Before(deadline) {
		_, err := r.Poll(100*time.Millisecond, s.deliver)
		require.NoError(t, err)
	}
	require.Len(t, s.got, 1)
	require.ErrorIs(t, s.got[0].c.Err, api.ErrCancelled)
	require.Equal(t, 0, r.Pending())
}

func TestUringBackpressureWhenRingFull(t *testing.T) {
	if err := probeUring(); err != nil {
		t.Skipf("io_uring unavailable: %v", err)
	}
	r, err := newUring(4)
	require.NoError(t, err)
	defer r.Close()

	// Stage timers without ever submitting them.
	i := uint32(0)
	for ; i < 64; i++ {
		err := r.Register(slots.Handle{Index: i, Gen: 1}, &Op{Kind: OpTimeout, Duration: time.Hour})
		if err != nil {
			require.ErrorIs(t, err, api.ErrBackpressure)
			break
		}
	}
	require.Less(t, i, uint32(64), "ring must fill up eventually")
}
