//go:build linux

// File: netio/stream_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TCP listener and stream connection.

package netio

import (
	"net/netip"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/coreloop/reactor"
	"github.com/momentics/coreloop/runtime"
)

const listenBacklog = 128

// Listener is a bound, listening stream socket owned by one worker.
type Listener struct {
	fd   int
	addr netip.AddrPort
}

// Listen creates a listening socket on ap. Port zero binds an ephemeral
// port; Addr reports the resolved address.
func Listen(cx *runtime.Context, ap netip.AddrPort) (*Listener, error) {
	fd, err := unix.Socket(domainOf(ap), unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, sysErr("socket", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, sysErr("setsockopt", err)
	}
	if err := unix.Bind(fd, sockaddrOf(ap)); err != nil {
		unix.Close(fd)
		return nil, sysErr("bind", err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return nil, sysErr("listen", err)
	}
	if err := cx.PrepareFD(fd); err != nil {
		unix.Close(fd)
		return nil, sysErr("prepare", err)
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, sysErr("getsockname", err)
	}
	return &Listener{fd: fd, addr: addrPortOf(sa)}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() netip.AddrPort { return l.addr }

// Accept returns a future yielding the next inbound *Conn.
func (l *Listener) Accept() runtime.Future {
	return &ioFuture{
		op: reactor.Op{Kind: reactor.OpAccept, Fd: l.fd},
		finish: func(cx *runtime.Context, c reactor.Completion) (runtime.Result, bool) {
			conn := &Conn{fd: c.N, peer: addrPortOf(c.Peer)}
			if err := cx.PrepareFD(conn.fd); err != nil {
				unix.Close(conn.fd)
				return runtime.Result{Err: sysErr("prepare", err)}, true
			}
			return runtime.Result{Value: conn}, true
		},
	}
}

// Close releases the listening socket. Futures still parked on it complete
// with an I/O failure.
func (l *Listener) Close() error {
	return unix.Close(l.fd)
}

// Conn is one stream connection. All operation futures must be polled on
// the worker whose reactor owns the descriptor.
type Conn struct {
	fd   int
	peer netip.AddrPort
}

// Peer returns the remote address.
func (c *Conn) Peer() netip.AddrPort { return c.peer }

// Read returns a future yielding the received byte count. Zero means the
// peer closed its end.
func (c *Conn) Read(buf []byte) runtime.Future {
	return &ioFuture{op: reactor.Op{Kind: reactor.OpRecv, Fd: c.fd, Buf: buf}}
}

// ReadTimeout is Read bounded by d; expiry fails with api.ErrTimeout.
func (c *Conn) ReadTimeout(buf []byte, d time.Duration) runtime.Future {
	return &ioFuture{op: reactor.Op{Kind: reactor.OpRecv, Fd: c.fd, Buf: buf, Timeout: d}}
}

// Write returns a future yielding the written byte count, which may be
// short; callers needing full delivery use WriteAll.
func (c *Conn) Write(buf []byte) runtime.Future {
	return &ioFuture{op: reactor.Op{Kind: reactor.OpSend, Fd: c.fd, Buf: buf}}
}

// WriteAll returns a future that keeps writing until buf is fully sent.
func (c *Conn) WriteAll(buf []byte) runtime.Future {
	return &writeAllFuture{c: c, buf: buf}
}

// Close releases the descriptor.
func (c *Conn) Close() error {
	return unix.Close(c.fd)
}

// Connect returns a future yielding a *Conn to ap.
func Connect(ap netip.AddrPort) runtime.Future {
	return &connectFuture{ap: ap, fd: -1}
}

type connectFuture struct {
	ap netip.AddrPort
	fd int
	io *ioFuture
}

func (f *connectFuture) Poll(cx *runtime.Context) (runtime.Result, bool) {
	if f.io == nil {
		fd, err := unix.Socket(domainOf(f.ap), unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
		if err != nil {
			return runtime.Result{Err: sysErr("socket", err)}, true
		}
		if err := cx.PrepareFD(fd); err != nil {
			unix.Close(fd)
			return runtime.Result{Err: sysErr("prepare", err)}, true
		}
		f.fd = fd
		f.io = &ioFuture{
			op: reactor.Op{Kind: reactor.OpConnect, Fd: fd, Addr: sockaddrOf(f.ap)},
			finish: func(cx *runtime.Context, c reactor.Completion) (runtime.Result, bool) {
				return runtime.Result{Value: &Conn{fd: fd, peer: f.ap}}, true
			},
		}
	}
	res, done := f.io.Poll(cx)
	if done && res.Err != nil && f.fd >= 0 {
		unix.Close(f.fd)
		f.fd = -1
	}
	return res, done
}

type writeAllFuture struct {
	c    *Conn
	buf  []byte
	sent int
	io   *ioFuture
}

func (f *writeAllFuture) Poll(cx *runtime.Context) (runtime.Result, bool) {
	for {
		if f.io == nil {
			if f.sent == len(f.buf) {
				return runtime.Result{Value: f.sent}, true
			}
			f.io = &ioFuture{op: reactor.Op{Kind: reactor.OpSend, Fd: f.c.fd, Buf: f.buf[f.sent:]}}
		}
		res, done := f.io.Poll(cx)
		if !done {
			return runtime.Result{}, false
		}
		f.io = nil
		if res.Err != nil {
			return res, true
		}
		f.sent += res.Value.(int)
	}
}
