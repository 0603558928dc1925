//go:build !linux

// File: internal/mailbox/doorbell_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// No-op doorbell for platforms without an eventfd equivalent wired up.
// Senders still enqueue; the owner observes messages on its next drain.

package mailbox

type doorbell struct{}

func newDoorbell() (doorbell, error) { return doorbell{}, nil }

func (doorbell) fd() int { return -1 }
func (doorbell) ring()   {}
func (doorbell) clear()  {}
func (doorbell) close()  {}
