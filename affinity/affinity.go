// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Platform-neutral API for CPU affinity. Platform-specific implementations
// live in separate files (affinity_linux.go, affinity_stub.go) guarded by
// build tags.

package affinity

import "runtime"

// SetAffinity pins the current OS thread to a given logical CPU on
// supported platforms. The caller must have locked the goroutine to its
// thread first. On unsupported platforms it returns an error.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform(cpuID)
}

// NumCPUs returns the number of logical CPUs usable for pinning.
func NumCPUs() int {
	return runtime.NumCPU()
}
