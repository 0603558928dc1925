//go:build linux

// File: netio/packet_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Datagram sockets. Dial connects the socket so Send and Recv work with a
// fixed peer; Bind leaves it unconnected for receive-only use.

package netio

import (
	"net/netip"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/coreloop/reactor"
	"github.com/momentics/coreloop/runtime"
)

// PacketConn is one UDP socket owned by a worker.
type PacketConn struct {
	fd    int
	local netip.AddrPort
	peer  netip.AddrPort
}

// Bind creates an unconnected UDP socket on ap.
func Bind(cx *runtime.Context, ap netip.AddrPort) (*PacketConn, error) {
	fd, err := unix.Socket(domainOf(ap), unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, sysErr("socket", err)
	}
	if err := unix.Bind(fd, sockaddrOf(ap)); err != nil {
		unix.Close(fd)
		return nil, sysErr("bind", err)
	}
	return finishPacket(cx, fd, netip.AddrPort{})
}

// Dial creates a UDP socket connected to ap. The connect is local state
// only and never blocks.
func Dial(cx *runtime.Context, ap netip.AddrPort) (*PacketConn, error) {
	fd, err := unix.Socket(domainOf(ap), unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, sysErr("socket", err)
	}
	if err := unix.Connect(fd, sockaddrOf(ap)); err != nil {
		unix.Close(fd)
		return nil, sysErr("connect", err)
	}
	return finishPacket(cx, fd, ap)
}

func finishPacket(cx *runtime.Context, fd int, peer netip.AddrPort) (*PacketConn, error) {
	if err := cx.PrepareFD(fd); err != nil {
		unix.Close(fd)
		return nil, sysErr("prepare", err)
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, sysErr("getsockname", err)
	}
	return &PacketConn{fd: fd, local: addrPortOf(sa), peer: peer}, nil
}

// LocalAddr returns the bound address.
func (p *PacketConn) LocalAddr() netip.AddrPort { return p.local }

// Peer returns the connected peer, or the zero AddrPort for Bind sockets.
func (p *PacketConn) Peer() netip.AddrPort { return p.peer }

// Send returns a future yielding the sent byte count. Connected sockets
// only.
func (p *PacketConn) Send(buf []byte) runtime.Future {
	return &ioFuture{op: reactor.Op{Kind: reactor.OpSend, Fd: p.fd, Buf: buf}}
}

// Recv returns a future yielding the next datagram's byte count.
func (p *PacketConn) Recv(buf []byte) runtime.Future {
	return &ioFuture{op: reactor.Op{Kind: reactor.OpRecv, Fd: p.fd, Buf: buf}}
}

// RecvTimeout is Recv bounded by d; expiry fails with api.ErrTimeout.
func (p *PacketConn) RecvTimeout(buf []byte, d time.Duration) runtime.Future {
	return &ioFuture{op: reactor.Op{Kind: reactor.OpRecv, Fd: p.fd, Buf: buf, Timeout: d}}
}

// Close releases the descriptor.
func (p *PacketConn) Close() error {
	return unix.Close(p.fd)
}
