// File: runtime/context.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Poll context. Handed to a future for the duration of one Poll call; it
// must not be retained across polls (capture the Waker instead).

package runtime

import (
	"fmt"

	"github.com/momentics/coreloop/api"
	"github.com/momentics/coreloop/internal/slots"
	"github.com/momentics/coreloop/reactor"
)

// Context gives a future access to its task identity, its worker's reactor
// and the means to wake itself or spawn siblings.
type Context struct {
	w *Worker
	t *task
	h slots.Handle
}

// Waker returns a waker for this task, valid beyond the current poll and
// from any thread.
func (cx *Context) Waker() Waker {
	return Waker{w: cx.w, h: cx.h}
}

// WorkerID identifies the worker polling this task.
func (cx *Context) WorkerID() int {
	return cx.w.id
}

// Register binds one kernel operation to this task. The task parks until
// the completion is delivered; Completion surfaces it on the next poll.
// At most one operation may be outstanding per task. A full submission
// queue surfaces api.ErrBackpressure; the future self-wakes and retries.
func (cx *Context) Register(op *reactor.Op) error {
	if cx.t.registered {
		return fmt.Errorf("runtime: task already has an outstanding operation")
	}
	if err := cx.w.rx.Register(cx.h, op); err != nil {
		return err
	}
	cx.t.registered = true
	return nil
}

// Completion consumes the stored reactor completion, if one arrived since
// the previous poll. ok=false marks the poll as spurious.
func (cx *Context) Completion() (reactor.Completion, bool) {
	if !cx.t.hasComp {
		return reactor.Completion{}, false
	}
	c := cx.t.comp
	cx.t.comp = reactor.Completion{}
	cx.t.hasComp = false
	return c, true
}

// PrepareFD applies the active backend's descriptor setup to fd. Sockets
// must pass through this before their first registered operation.
func (cx *Context) PrepareFD(fd int) error {
	return cx.w.rx.PrepareFD(fd)
}

// Spawn starts f as a new task on the calling worker. In-task spawns stay
// local; cross-worker placement goes through the pool.
func (cx *Context) Spawn(f Future) *JoinHandle {
	j := newJoinHandle()
	if cx.w.stopping.Load() {
		j.complete(Result{Err: api.ErrRuntimeClosed})
		return j
	}
	cx.w.spawnLocal(f, j)
	return j
}
