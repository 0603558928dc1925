//go:build linux

// File: netio/future_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Shared future driving one reactor operation: register once, retry under
// backpressure, surface the completion.

package netio

import (
	"errors"
	"fmt"

	"github.com/momentics/coreloop/api"
	"github.com/momentics/coreloop/reactor"
	"github.com/momentics/coreloop/runtime"
)

// registerRetryBudget bounds backpressure retries before the error becomes
// the task result.
const registerRetryBudget = 64

// ioFuture registers op and completes with the reactor's outcome. A nil
// finish yields the transferred byte count as the result value.
type ioFuture struct {
	op      reactor.Op
	armed   bool
	retries int
	finish  func(cx *runtime.Context, c reactor.Completion) (runtime.Result, bool)
}

func (f *ioFuture) Poll(cx *runtime.Context) (runtime.Result, bool) {
	if f.armed {
		c, ok := cx.Completion()
		if !ok {
			return runtime.Result{}, false
		}
		if c.Err != nil {
			return runtime.Result{Err: c.Err}, true
		}
		if f.finish != nil {
			return f.finish(cx, c)
		}
		return runtime.Result{Value: c.N}, true
	}
	if err := cx.Register(&f.op); err != nil {
		if errors.Is(err, api.ErrBackpressure) && f.retries < registerRetryBudget {
			f.retries++
			cx.Waker().Wake()
			return runtime.Result{}, false
		}
		return runtime.Result{Err: err}, true
	}
	f.armed = true
	return runtime.Result{}, false
}

func sysErr(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", api.ErrIoFailure, what, err)
}
