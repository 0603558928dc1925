// File: runtime/task.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Task model. A task owns one future and lives in its worker's slot table
// from spawn until completion; the handle issued at spawn is the only way
// the rest of the system refers to it.

package runtime

import (
	"github.com/momentics/coreloop/reactor"
)

// Result is the final outcome of a task. Err is nil on success; Value
// carries whatever the future produced.
type Result struct {
	Value any
	Err   error
}

// Future is a cooperatively scheduled computation. Poll advances the state
// machine by one step and must never block. done=true means res is final
// and the future will not be polled again. A future that returns done=false
// must have arranged a wake (an outstanding reactor registration, a stored
// Waker, or a self-wake) or it parks forever.
type Future interface {
	Poll(cx *Context) (res Result, done bool)
}

// FutureFunc adapts a plain function to the Future interface. The function
// carries its state in its closure.
type FutureFunc func(cx *Context) (Result, bool)

// Poll implements Future.
func (f FutureFunc) Poll(cx *Context) (Result, bool) { return f(cx) }

// task is the per-slot runtime state. Owned by exactly one worker thread;
// no field is touched from outside it.
type task struct {
	fut Future

	// queued: handle sits on the ready queue. Wake coalescing keys off
	// this flag; a task is enqueued at most once between polls.
	queued bool

	// registered: one reactor operation is outstanding for this task.
	registered bool

	// cancelled: a cancellation request was observed. The task finishes
	// with api.ErrCancelled at the next safe point.
	cancelled bool

	// comp holds the completion delivered by the reactor until the next
	// poll consumes it through Context.Completion.
	comp    reactor.Completion
	hasComp bool

	join *JoinHandle
}
