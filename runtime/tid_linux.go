//go:build linux

// File: runtime/tid_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package runtime

import "golang.org/x/sys/unix"

// gettid returns the caller's kernel thread id. Workers run under
// LockOSThread, so their tid is stable for the lifetime of the loop.
func gettid() int {
	return unix.Gettid()
}
