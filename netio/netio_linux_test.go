//go:build linux

// File: netio/netio_linux_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package netio

import (
	"context"
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/coreloop/api"
	"github.com/momentics/coreloop/config"
	"github.com/momentics/coreloop/runtime"
)

func newPool(t *testing.T, workers int) *runtime.Pool {
	t.Helper()
	cfg := config.Default()
	cfg.Workers = workers
	cfg.Pinning = false
	cfg.IOBackend = config.BackendPoll
	cfg.LogLevel = "off"
	cfg.LogWriter = io.Discard
	p, err := runtime.Build(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = p.Stop(ctx)
	})
	return p
}

func join(t *testing.T, j *runtime.JoinHandle) runtime.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := j.Join(ctx)
	require.NoError(t, err)
	return res
}

var loopback0 = netip.MustParseAddrPort("127.0.0.1:0")

func TestListenResolvesEphemeralPort(t *testing.T) {
	p := newPool(t, 1)
	j, err := p.SpawnOn(0, runtime.FutureFunc(func(cx *runtime.Context) (runtime.Result, bool) {
		l, err := Listen(cx, loopback0)
		if err != nil {
			return runtime.Result{Err: err}, true
		}
		defer l.Close()
		return runtime.Result{Value: l.Addr()}, true
	}))
	require.NoError(t, err)
	res := join(t, j)
	require.NoError(t, res.Err)
	require.NotZero(t, res.Value.(netip.AddrPort).Port())
}

// echoOnce accepts one connection, reads one chunk and writes it back.
type echoOnce struct {
	addrCh chan netip.AddrPort
	l      *Listener
	conn   *Conn
	fut    runtime.Future
	buf    []byte
	n      int
	step   int
}

func (e *echoOnce) Poll(cx *runtime.Context) (runtime.Result, bool) {
	for {
		switch e.step {
		case 0:
			l, err := Listen(cx, loopback0)
			if err != nil {
				return runtime.Result{Err: err}, true
			}
			e.l = l
			e.addrCh <- l.Addr()
			e.fut = l.Accept()
			e.step = 1
		case 1:
			res, done := e.fut.Poll(cx)
			if !done {
				return runtime.Result{}, false
			}
			if res.Err != nil {
				return res, true
			}
			e.conn = res.Value.(*Conn)
			e.buf = make([]byte, 64)
			e.fut = e.conn.Read(e.buf)
			e.step = 2
		case 2:
			res, done := e.fut.Poll(cx)
			if !done {
				return runtime.Result{}, false
			}
			if res.Err != nil {
				return res, true
			}
			e.n = res.Value.(int)
			e.fut = e.conn.WriteAll(e.buf[:e.n])
			e.step = 3
		case 3:
			res, done := e.fut.Poll(cx)
			if !done {
				return runtime.Result{}, false
			}
			e.conn.Close()
			e.l.Close()
			if res.Err != nil {
				return res, true
			}
			return runtime.Result{Value: string(e.buf[:e.n])}, true
		}
	}
}

// echoClient connects, sends a payload and reads it back.
type echoClient struct {
	addr netip.AddrPort
	send string
	conn *Conn
	fut  runtime.Future
	buf  []byte
	step int
}

func (c *echoClient) Poll(cx *runtime.Context) (runtime.Result, bool) {
	for {
		switch c.step {
		case 0:
			c.fut = Connect(c.addr)
			c.step = 1
		case 1:
			res, done := c.fut.Poll(cx)
			if !done {
				return runtime.Result{}, false
			}
			if res.Err != nil {
				return res, true
			}
			c.conn = res.Value.(*Conn)
			c.fut = c.conn.WriteAll([]byte(c.send))
			c.step = 2
		case 2:
			res, done := c.fut.Poll(cx)
			if !done {
				return runtime.Result{}, false
			}
			if res.Err != nil {
				return res, true
			}
			c.buf = make([]byte, 64)
			c.fut = c.conn.Read(c.buf)
			c.step = 3
		case 3:
			res, done := c.fut.Poll(cx)
			if !done {
				return runtime.Result{}, false
			}
			c.conn.Close()
			if res.Err != nil {
				return res, true
			}
			return runtime.Result{Value: string(c.buf[:res.Value.(int)])}, true
		}
	}
}

func TestTCPEchoAcrossWorkers(t *testing.T) {
	p := newPool(t, 2)
	addrCh := make(chan netip.AddrPort, 1)
	srv, err := p.SpawnOn(0, &echoOnce{addrCh: addrCh})
	require.NoError(t, err)

	var addr netip.AddrPort
	select {
	case addr = <-addrCh:
	case <-time.After(5 * time.Second):
		t.Fatal("listener never came up")
	}

	cli, err := p.SpawnOn(1, &echoClient{addr: addr, send: "ping"})
	require.NoError(t, err)

	require.Equal(t, "ping", join(t, cli).Value)
	require.Equal(t, "ping", join(t, srv).Value)
}

func TestUDPSendRecv(t *testing.T) {
	p := newPool(t, 1)
	addrCh := make(chan netip.AddrPort, 1)

	type rxState struct {
		pc  *PacketConn
		fut runtime.Future
		buf []byte
	}
	rx := &rxState{}
	jrx, err := p.SpawnOn(0, runtime.FutureFunc(func(cx *runtime.Context) (runtime.Result, bool) {
		if rx.pc == nil {
			pc, err := Bind(cx, loopback0)
			if err != nil {
				return runtime.Result{Err: err}, true
			}
			rx.pc = pc
			addrCh <- pc.LocalAddr()
			rx.buf = make([]byte, 32)
			rx.fut = pc.Recv(rx.buf)
		}
		res, done := rx.fut.Poll(cx)
		if !done {
			return runtime.Result{}, false
		}
		rx.pc.Close()
		if res.Err != nil {
			return res, true
		}
		return runtime.Result{Value: string(rx.buf[:res.Value.(int)])}, true
	}))
	require.NoError(t, err)

	addr := <-addrCh
	type txState struct {
		pc  *PacketConn
		fut runtime.Future
	}
	tx := &txState{}
	jtx, err := p.SpawnOn(0, runtime.FutureFunc(func(cx *runtime.Context) (runtime.Result, bool) {
		if tx.pc == nil {
			pc, err := Dial(cx, addr)
			if err != nil {
				return runtime.Result{Err: err}, true
			}
			tx.pc = pc
			tx.fut = pc.Send([]byte("datagram"))
		}
		res, done := tx.fut.Poll(cx)
		if !done {
			return runtime.Result{}, false
		}
		tx.pc.Close()
		return res, true
	}))
	require.NoError(t, err)

	require.NoError(t, join(t, jtx).Err)
	require.Equal(t, "datagram", join(t, jrx).Value)
}

func TestSocketReadPromptDespiteBusyTask(t *testing.T) {
	p := newPool(t, 1)
	busy, err := p.SpawnOn(0, runtime.FutureFunc(func(cx *runtime.Context) (runtime.Result, bool) {
		cx.Waker().Wake() // never yields the worker for long
		return runtime.Result{}, false
	}))
	require.NoError(t, err)
	defer busy.Cancel()

	addrCh := make(chan netip.AddrPort, 1)
	type rxState struct {
		pc  *PacketConn
		fut runtime.Future
		buf []byte
	}
	rx := &rxState{}
	jrx, err := p.SpawnOn(0, runtime.FutureFunc(func(cx *runtime.Context) (runtime.Result, bool) {
		if rx.pc == nil {
			pc, err := Bind(cx, loopback0)
			if err != nil {
				return runtime.Result{Err: err}, true
			}
			rx.pc = pc
			addrCh <- pc.LocalAddr()
			rx.buf = make([]byte, 32)
			rx.fut = pc.Recv(rx.buf)
		}
		res, done := rx.fut.Poll(cx)
		if !done {
			return runtime.Result{}, false
		}
		rx.pc.Close()
		return res, true
	}))
	require.NoError(t, err)

	addr := <-addrCh
	tx, err := net.Dial("udp4", addr.String())
	require.NoError(t, err)
	defer tx.Close()

	arrival := time.Now()
	_, err = tx.Write([]byte("x"))
	require.NoError(t, err)

	res := join(t, jrx)
	require.NoError(t, res.Err)
	require.Less(t, time.Since(arrival), 2*time.Second,
		"socket task must be polled promptly despite the busy task")
}

func TestUDPRecvTimeout(t *testing.T) {
	p := newPool(t, 1)
	type st struct {
		pc  *PacketConn
		fut runtime.Future
	}
	s := &st{}
	j, err := p.SpawnOn(0, runtime.FutureFunc(func(cx *runtime.Context) (runtime.Result, bool) {
		if s.pc == nil {
			pc, err := Bind(cx, loopback0)
			if err != nil {
				return runtime.Result{Err: err}, true
			}
			s.pc = pc
			s.fut = pc.RecvTimeout(make([]byte, 32), 50*time.Millisecond)
		}
		res, done := s.fut.Poll(cx)
		if !done {
			return runtime.Result{}, false
		}
		s.pc.Close()
		return res, true
	}))
	require.NoError(t, err)
	res := join(t, j)
	require.ErrorIs(t, res.Err, api.ErrTimeout)
}
