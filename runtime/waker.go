// File: runtime/waker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Wakers move parked tasks back onto their worker's ready queue. A waker
// is safe to invoke from any thread: on the owning worker it enqueues
// directly, elsewhere it posts a wake message and rings the doorbell.

package runtime

import "github.com/momentics/coreloop/internal/slots"

// Waker references one task on one worker. The zero Waker is inert.
// Waking a finished task is a silent no-op: the handle no longer resolves
// in the worker's slot table.
type Waker struct {
	w *Worker
	h slots.Handle
}

// Wake schedules the referenced task for its next poll. Repeated wakes
// before that poll collapse into a single enqueue.
func (wk Waker) Wake() {
	if wk.w == nil {
		return
	}
	wk.w.wake(wk.h)
}
