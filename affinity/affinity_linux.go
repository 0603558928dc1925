//go:build linux

// File: affinity/affinity_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux implementation of thread CPU affinity through sched_setaffinity.
// Pure Go via golang.org/x/sys so the runtime builds with CGO disabled.

package affinity

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// setAffinityPlatform pins the calling thread (pid 0) to cpuID.
func setAffinityPlatform(cpuID int) error {
	if cpuID < 0 || cpuID >= NumCPUs() {
		return fmt.Errorf("affinity: cpu %d out of range", cpuID)
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("affinity: sched_setaffinity cpu %d: %w", cpuID, err)
	}
	return nil
}
