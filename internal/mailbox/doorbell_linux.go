//go:build linux

// File: internal/mailbox/doorbell_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Eventfd-backed doorbell. A write from any sender makes the descriptor
// readable, which unblocks the owning worker's reactor wait.

package mailbox

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

type doorbell struct {
	efd int
}

func newDoorbell() (doorbell, error) {
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return doorbell{efd: -1}, err
	}
	return doorbell{efd: efd}, nil
}

func (d doorbell) fd() int { return d.efd }

func (d doorbell) ring() {
	if d.efd < 0 {
		return
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	// EAGAIN means the counter is already pending; the owner is woken either way.
	_, _ = unix.Write(d.efd, buf[:])
}

func (d doorbell) clear() {
	if d.efd < 0 {
		return
	}
	var buf [8]byte
	_, _ = unix.Read(d.efd, buf[:])
}

func (d doorbell) close() {
	if d.efd >= 0 {
		_ = unix.Close(d.efd)
	}
}
