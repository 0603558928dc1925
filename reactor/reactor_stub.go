//go:build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stub for platforms without a reactor backend wired up. The contract
// admits further readiness-based backends (kqueue, IOCP) behind the same
// interface.

package reactor

import (
	"github.com/momentics/coreloop/api"
	"github.com/momentics/coreloop/config"
)

// New reports that no backend exists on this platform.
func New(cfg *config.Config, log *config.Logger) (Reactor, error) {
	return nil, api.ErrNotSupported
}
