//go:build linux

// File: reactor/new_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Backend selection. "auto" probes io_uring once per process and falls
// back to the polling reactor on kernels without it.

package reactor

import (
	"fmt"
	"sync"

	"github.com/momentics/coreloop/config"
)

var (
	probeOnce sync.Once
	probeErr  error
)

// New builds a reactor for the configured backend.
func New(cfg *config.Config, log *config.Logger) (Reactor, error) {
	switch cfg.IOBackend {
	case config.BackendUring:
		return newUring(cfg.RingEntries)
	case config.BackendPoll:
		return newPollReactor(int(cfg.RingEntries) / 16)
	case config.BackendAuto:
		probeOnce.Do(func() { probeErr = probeUring() })
		if probeErr == nil {
			return newUring(cfg.RingEntries)
		}
		if log != nil {
			log.Warning().
				Err(probeErr).
				Log("io_uring unavailable, using polling reactor")
		}
		return newPollReactor(int(cfg.RingEntries) / 16)
	default:
		return nil, fmt.Errorf("reactor: unknown backend %q", cfg.IOBackend)
	}
}
