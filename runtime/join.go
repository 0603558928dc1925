// File: runtime/join.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Join handles. A JoinHandle is created at spawn time and bound to its
// task once the owning worker has inserted it; requests arriving before
// the bind (an early Cancel) are latched and applied at bind time.

package runtime

import (
	"context"
	"sync"

	"github.com/momentics/coreloop/internal/slots"
)

// JoinHandle observes and controls one spawned task from any thread.
type JoinHandle struct {
	mu        sync.Mutex
	w         *Worker
	h         slots.Handle
	bound     bool
	cancelReq bool
	detached  bool
	waiters   []Waker

	done chan struct{}
	res  Result
}

func newJoinHandle() *JoinHandle {
	return &JoinHandle{done: make(chan struct{})}
}

// bind attaches the handle to its inserted task. Owner thread only.
func (j *JoinHandle) bind(w *Worker, h slots.Handle) {
	j.mu.Lock()
	j.w = w
	j.h = h
	j.bound = true
	cancel := j.cancelReq
	j.mu.Unlock()
	if cancel {
		// bind runs on the owner thread, so the cancel applies directly.
		w.cancelTask(h)
	}
}

// complete records the final result exactly once and releases all waiters.
func (j *JoinHandle) complete(res Result) {
	j.mu.Lock()
	select {
	case <-j.done:
		j.mu.Unlock()
		return
	default:
	}
	j.res = res
	waiters := j.waiters
	j.waiters = nil
	close(j.done)
	j.mu.Unlock()
	for _, wk := range waiters {
		wk.Wake()
	}
}

// Done is closed once the task has finished.
func (j *JoinHandle) Done() <-chan struct{} {
	return j.done
}

// Join blocks the calling goroutine until the task finishes or ctx ends.
// Never call it from a worker thread; await with Await there instead.
func (j *JoinHandle) Join(ctx context.Context) (Result, error) {
	select {
	case <-j.done:
		return j.res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Await polls for the task's result from inside another task. It follows
// the Future step contract: done=false parks the caller until completion.
func (j *JoinHandle) Await(cx *Context) (Result, bool) {
	j.mu.Lock()
	select {
	case <-j.done:
		res := j.res
		j.mu.Unlock()
		return res, true
	default:
	}
	j.waiters = append(j.waiters, cx.Waker())
	j.mu.Unlock()
	return Result{}, false
}

// Cancel requests the task finish early with api.ErrCancelled. Idempotent;
// a no-op once the task has completed.
func (j *JoinHandle) Cancel() {
	j.mu.Lock()
	if !j.bound {
		j.cancelReq = true
		j.mu.Unlock()
		return
	}
	w, h := j.w, j.h
	j.mu.Unlock()
	w.requestCancel(h)
}

// Detach marks the result as unobserved: a failure will be recorded in the
// pool's failed-task log instead of waiting for a join.
func (j *JoinHandle) Detach() {
	j.mu.Lock()
	j.detached = true
	j.mu.Unlock()
}

func (j *JoinHandle) isDetached() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.detached
}
