//go:build !linux

// File: runtime/tid_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package runtime

// gettid has no portable equivalent; workers never start on platforms
// without a reactor, so the sentinel is never compared against a live tid.
func gettid() int {
	return -1
}
