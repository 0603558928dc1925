//go:build linux

// File: resolver/resolver_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Asynchronous hostname resolution. Literal addresses and hosts-file
// entries short-circuit; everything else becomes A and AAAA queries over a
// reactor-registered UDP socket with per-try timeouts and retries across
// the configured nameservers. A malformed reply fails the lookup outright.

package resolver

import (
	"fmt"
	"math/rand"
	"net/netip"
	"time"

	"github.com/momentics/coreloop/api"
	"github.com/momentics/coreloop/netio"
	"github.com/momentics/coreloop/runtime"
)

// Resolver performs lookups with a fixed view of the system configuration.
// The zero value reads the standard paths on first use; explicit Servers,
// Timeout or Attempts take precedence over resolv.conf.
type Resolver struct {
	HostsPath  string
	ConfigPath string

	Servers  []netip.AddrPort
	Timeout  time.Duration
	Attempts int
}

// New returns a resolver over the standard system paths.
func New() *Resolver {
	return &Resolver{}
}

func (r *Resolver) hostsPath() string {
	if r.HostsPath != "" {
		return r.HostsPath
	}
	return "/etc/hosts"
}

func (r *Resolver) config() dnsConfig {
	path := r.ConfigPath
	if path == "" {
		path = "/etc/resolv.conf"
	}
	cfg := loadConfig(path)
	if len(r.Servers) > 0 {
		cfg.servers = r.Servers
	}
	if r.Timeout > 0 {
		cfg.timeout = r.Timeout
	}
	if r.Attempts > 0 {
		cfg.attempts = r.Attempts
	}
	return cfg
}

// Resolve returns a future yielding []netip.Addr for name.
func (r *Resolver) Resolve(name string) runtime.Future {
	return &lookupFuture{r: r, name: name}
}

const (
	lsInit = iota
	lsQuery
	lsSend
	lsRecv
	lsDone
)

// replyBufLen fits any non-truncated UDP answer.
const replyBufLen = 4096

type lookupFuture struct {
	r    *Resolver
	name string
	cfg  dnsConfig

	qtypes  []uint16
	qi      int
	si      int
	attempt int

	pc   *netio.PacketConn
	fut  runtime.Future
	buf  []byte
	id   uint16
	step int

	addrs []netip.Addr
	final runtime.Result
}

func (f *lookupFuture) Poll(cx *runtime.Context) (runtime.Result, bool) {
	for {
		switch f.step {
		case lsInit:
			if addr, err := netip.ParseAddr(f.name); err == nil {
				return runtime.Result{Value: []netip.Addr{addr}}, true
			}
			if addrs := lookupHosts(f.r.hostsPath(), f.name); len(addrs) > 0 {
				return runtime.Result{Value: addrs}, true
			}
			f.cfg = f.r.config()
			f.qtypes = []uint16{typeA, typeAAAA}
			f.step = lsQuery

		case lsQuery:
			pc, err := netio.Dial(cx, f.cfg.servers[f.si])
			if err != nil {
				if !f.advanceTry() {
					return f.final, true
				}
				continue
			}
			f.pc = pc
			f.id = uint16(rand.Uint32())
			q, err := buildQuery(f.id, f.name, f.qtypes[f.qi])
			if err != nil {
				f.closeSock()
				return runtime.Result{Err: err}, true
			}
			f.fut = pc.Send(q)
			f.step = lsSend

		case lsSend:
			res, done := f.fut.Poll(cx)
			if !done {
				return runtime.Result{}, false
			}
			if res.Err != nil {
				f.closeSock()
				if !f.advanceTry() {
					return f.final, true
				}
				continue
			}
			f.buf = make([]byte, replyBufLen)
			f.fut = f.pc.RecvTimeout(f.buf, f.cfg.timeout)
			f.step = lsRecv

		case lsRecv:
			res, done := f.fut.Poll(cx)
			if !done {
				return runtime.Result{}, false
			}
			f.closeSock()
			if res.Err != nil {
				// Timeouts and transport errors move to the next try.
				if !f.advanceTry() {
					return f.final, true
				}
				continue
			}
			addrs, err := parseReply(f.buf[:res.Value.(int)], f.id)
			if err == errServFail {
				if !f.advanceTry() {
					return f.final, true
				}
				continue
			}
			if err != nil {
				return runtime.Result{Err: err}, true
			}
			f.addrs = append(f.addrs, addrs...)
			f.nextQtype()

		case lsDone:
			if len(f.addrs) == 0 {
				return runtime.Result{Err: fmt.Errorf("%w: no addresses for %q", api.ErrResolution, f.name)}, true
			}
			return runtime.Result{Value: f.addrs}, true
		}
	}
}

func (f *lookupFuture) closeSock() {
	if f.pc != nil {
		f.pc.Close()
		f.pc = nil
	}
}

// advanceTry moves to the next attempt, then the next server. Returns
// false once every try is spent, with f.final set.
func (f *lookupFuture) advanceTry() bool {
	f.attempt++
	if f.attempt >= f.cfg.attempts {
		f.attempt = 0
		f.si++
	}
	if f.si >= len(f.cfg.servers) {
		f.final = runtime.Result{Err: fmt.Errorf("%w: no nameserver answered for %q", api.ErrResolution, f.name)}
		f.step = lsDone
		// Partial answers from an earlier qtype still count.
		if len(f.addrs) > 0 {
			f.final = runtime.Result{Value: f.addrs}
		}
		return false
	}
	f.step = lsQuery
	return true
}

// nextQtype finishes one record type and starts the next from the first
// server.
func (f *lookupFuture) nextQtype() {
	f.qi++
	f.si = 0
	f.attempt = 0
	if f.qi >= len(f.qtypes) {
		f.step = lsDone
		return
	}
	f.step = lsQuery
}
