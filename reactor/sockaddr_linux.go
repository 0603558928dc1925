//go:build linux

// File: reactor/sockaddr_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Raw sockaddr conversions for operations submitted to the kernel by
// pointer (connect, accept). x/sys keeps its own converters unexported,
// so the inet variants are reimplemented here.

package reactor

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/momentics/coreloop/api"
)

// rawSockaddr holds a kernel-format socket address with stable storage for
// the duration of an in-flight operation.
type rawSockaddr struct {
	any unix.RawSockaddrAny
	len uint32
}

// fill encodes sa into kernel format. Only inet4/inet6 are supported; the
// runtime's socket surface creates no other families.
func (r *rawSockaddr) fill(sa unix.Sockaddr) error {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		p := (*unix.RawSockaddrInet4)(unsafe.Pointer(&r.any))
		p.Family = unix.AF_INET
		p.Port = htons(uint16(a.Port))
		p.Addr = a.Addr
		r.len = uint32(unsafe.Sizeof(*p))
		return nil
	case *unix.SockaddrInet6:
		p := (*unix.RawSockaddrInet6)(unsafe.Pointer(&r.any))
		p.Family = unix.AF_INET6
		p.Port = htons(uint16(a.Port))
		p.Addr = a.Addr
		p.Scope_id = a.ZoneId
		r.len = uint32(unsafe.Sizeof(*p))
		return nil
	default:
		return api.NewError(api.ErrCodeNotSupported, "unsupported sockaddr family")
	}
}

// ptr returns the kernel-facing pointer and length.
func (r *rawSockaddr) ptr() (unsafe.Pointer, uint32) {
	return unsafe.Pointer(&r.any), r.len
}

// decode converts the kernel-written address back to a unix.Sockaddr.
func (r *rawSockaddr) decode() unix.Sockaddr {
	switch r.any.Addr.Family {
	case unix.AF_INET:
		p := (*unix.RawSockaddrInet4)(unsafe.Pointer(&r.any))
		return &unix.SockaddrInet4{Port: int(ntohs(p.Port)), Addr: p.Addr}
	case unix.AF_INET6:
		p := (*unix.RawSockaddrInet6)(unsafe.Pointer(&r.any))
		return &unix.SockaddrInet6{Port: int(ntohs(p.Port)), Addr: p.Addr, ZoneId: p.Scope_id}
	default:
		return nil
	}
}

// Port fields in raw sockaddrs are big-endian regardless of host order.
func htons(v uint16) uint16 { return v<<8 | v>>8 }
func ntohs(v uint16) uint16 { return v<<8 | v>>8 }
