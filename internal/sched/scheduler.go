// File: internal/sched/scheduler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Single-threaded cooperative ready-queue driver. The scheduler orders task
// handles for polling; task state itself lives with the owning worker. All
// methods must be called from the owning worker thread only.

package sched

import (
	"github.com/eapache/queue"

	"github.com/momentics/coreloop/internal/slots"
)

// DefaultEventInterval bounds how many tasks one tick may poll before the
// worker returns to the reactor. A prime close to a power of two avoids
// accidental lockstep with periodic event sources.
const DefaultEventInterval = 61

// Scheduler drives a FIFO ready queue of task handles.
type Scheduler struct {
	ready         *queue.Queue
	eventInterval int
	ticks         uint64
}

// New creates a scheduler. eventInterval <= 0 selects DefaultEventInterval.
func New(eventInterval int) *Scheduler {
	if eventInterval <= 0 {
		eventInterval = DefaultEventInterval
	}
	return &Scheduler{
		ready:         queue.New(),
		eventInterval: eventInterval,
	}
}

// Enqueue appends h to the ready queue. The caller is responsible for wake
// coalescing: a handle must not be enqueued while already queued.
func (s *Scheduler) Enqueue(h slots.Handle) {
	s.ready.Add(h)
}

// Len returns the number of queued handles.
func (s *Scheduler) Len() int {
	return s.ready.Length()
}

// Ticks returns the number of completed ticks.
func (s *Scheduler) Ticks() uint64 {
	return s.ticks
}

// RunTick snapshots the current ready queue and polls each referenced task
// exactly once in FIFO order via poll. Handles enqueued during the tick run
// on the following tick. The tick additionally stops after eventInterval
// polls so a large backlog still yields to the reactor. Returns the number
// of handles polled.
func (s *Scheduler) RunTick(poll func(slots.Handle)) int {
	n := s.ready.Length()
	if n > s.eventInterval {
		n = s.eventInterval
	}
	for i := 0; i < n; i++ {
		h := s.ready.Remove().(slots.Handle)
		poll(h)
	}
	s.ticks++
	return n
}
