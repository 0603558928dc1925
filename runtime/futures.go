// File: runtime/futures.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stock futures: timed sleep and a one-tick yield.

package runtime

import (
	"errors"
	"time"

	"github.com/momentics/coreloop/api"
	"github.com/momentics/coreloop/reactor"
)

// registerRetryBudget bounds how many ticks a future re-attempts a
// registration that keeps hitting a full submission queue before the
// backpressure error surfaces as the task result.
const registerRetryBudget = 64

// Sleep completes after d has elapsed. Zero and negative durations
// complete on the first poll.
func Sleep(d time.Duration) Future {
	return &sleepFuture{d: d}
}

type sleepFuture struct {
	d       time.Duration
	armed   bool
	retries int
}

func (s *sleepFuture) Poll(cx *Context) (Result, bool) {
	if s.armed {
		c, ok := cx.Completion()
		if !ok {
			// Spurious wake; the timer is still pending.
			return Result{}, false
		}
		return Result{Err: c.Err}, true
	}
	if s.d <= 0 {
		return Result{}, true
	}
	err := cx.Register(&reactor.Op{Kind: reactor.OpTimeout, Duration: s.d})
	if err != nil {
		if errors.Is(err, api.ErrBackpressure) && s.retries < registerRetryBudget {
			s.retries++
			cx.Waker().Wake()
			return Result{}, false
		}
		return Result{Err: err}, true
	}
	s.armed = true
	return Result{}, false
}

// YieldNow completes on its second poll, handing the rest of the current
// tick to other ready tasks.
func YieldNow() Future {
	return &yieldFuture{}
}

type yieldFuture struct {
	yielded bool
}

func (y *yieldFuture) Poll(cx *Context) (Result, bool) {
	if y.yielded {
		return Result{}, true
	}
	y.yielded = true
	cx.Waker().Wake()
	return Result{}, false
}
