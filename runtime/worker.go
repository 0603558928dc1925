// File: runtime/worker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Worker loop. Each worker is one locked, optionally pinned OS thread that
// owns a slot table, a scheduler, a reactor and a mailbox. Every iteration
// runs one scheduler tick, polls the reactor with a timeout derived from
// pending work, drains the mailbox and checks for shutdown. No task ever
// migrates off the worker it was spawned on.

package runtime

import (
	stdruntime "runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/coreloop/affinity"
	"github.com/momentics/coreloop/api"
	"github.com/momentics/coreloop/config"
	"github.com/momentics/coreloop/internal/mailbox"
	"github.com/momentics/coreloop/internal/sched"
	"github.com/momentics/coreloop/internal/slots"
	"github.com/momentics/coreloop/reactor"
)

// drainPollInterval bounds reactor waits while the worker is draining so
// the grace deadline is observed even when nothing completes.
const drainPollInterval = 10 * time.Millisecond

type msgKind uint8

const (
	msgNop msgKind = iota
	msgSpawn
	msgWake
	msgCancel
)

// wmsg is the cross-thread mailbox message.
type wmsg struct {
	kind msgKind
	h    slots.Handle
	fut  Future
	join *JoinHandle
}

// Worker drives one thread-per-core event loop.
type Worker struct {
	id   int
	pool *Pool
	log  *config.Logger

	tasks *slots.Table[*task]
	sched *sched.Scheduler
	rx    reactor.Reactor
	mbox  *mailbox.Mailbox[wmsg]

	// tid is the kernel thread id, published once the loop has locked its
	// OS thread. Compared against gettid() for same-thread fast paths.
	tid atomic.Int64

	stopping atomic.Bool
	forced   atomic.Bool
	stopped  chan struct{}

	// pendingCancels holds handles whose kernel cancellation hit a full
	// submission queue; retried at the top of every iteration.
	pendingCancels []slots.Handle

	shutdownBegun bool
	graceUntil    time.Time

	mu     sync.Mutex
	failed []Result
}

func newWorker(id int, p *Pool, rx reactor.Reactor, mbox *mailbox.Mailbox[wmsg]) *Worker {
	w := &Worker{
		id:      id,
		pool:    p,
		log:     p.log,
		tasks:   slots.New[*task](256),
		sched:   sched.New(p.cfg.EventInterval),
		rx:      rx,
		mbox:    mbox,
		stopped: make(chan struct{}),
	}
	w.tid.Store(-1)
	return w
}

// ID returns the worker index within its pool.
func (w *Worker) ID() int { return w.id }

func (w *Worker) onThread() bool {
	return int64(gettid()) == w.tid.Load()
}

func (w *Worker) run() {
	stdruntime.LockOSThread()
	w.tid.Store(int64(gettid()))
	if w.pool.cfg.Pinning {
		cpu := w.pool.cfg.CPUFor(w.id)
		if err := affinity.SetAffinity(cpu); err != nil {
			w.log.Warning().
				Err(err).
				Int("worker", w.id).
				Int("cpu", cpu).
				Log("thread pinning failed")
		}
	}
	defer close(w.stopped)

	for {
		w.retryCancels()
		w.sched.RunTick(w.pollTask)
		if _, err := w.rx.Poll(w.pollTimeout(), w.deliver); err != nil {
			w.log.Err().Err(err).Int("worker", w.id).Log("reactor poll failed")
		}
		w.mbox.Drain(w.handleMsg)
		if w.stopping.Load() && w.drainForShutdown() {
			return
		}
	}
}

// pollTimeout derives the reactor wait from pending work: zero when ready
// work or mailbox traffic exists, the nearest user-space timer otherwise,
// indefinite when the worker is fully idle.
func (w *Worker) pollTimeout() time.Duration {
	if w.sched.Len() > 0 || w.mbox.Len() > 0 || len(w.pendingCancels) > 0 {
		return 0
	}
	if w.stopping.Load() {
		return drainPollInterval
	}
	if d, ok := w.rx.NextTimer(); ok {
		return d
	}
	return -1
}

// pollTask resolves h and polls its future once. Stale handles (the task
// finished between enqueue and poll) fall out at the table lookup.
func (w *Worker) pollTask(h slots.Handle) {
	t, ok := w.tasks.Get(h)
	if !ok {
		return
	}
	t.queued = false
	if t.cancelled {
		w.finalize(h, t, Result{Err: api.ErrCancelled})
		return
	}
	cx := Context{w: w, t: t, h: h}
	res, done := t.fut.Poll(&cx)
	if done {
		w.finalize(h, t, res)
	}
}

// deliver receives reactor completions. The registration is gone by the
// time this runs; the outcome is parked on the task for its next poll.
func (w *Worker) deliver(h slots.Handle, c reactor.Completion) {
	t, ok := w.tasks.Get(h)
	if !ok {
		return
	}
	t.registered = false
	if t.cancelled {
		w.finalize(h, t, Result{Err: api.ErrCancelled})
		return
	}
	t.comp = c
	t.hasComp = true
	w.wakeLocal(h, t)
}

// wake moves a task to the ready queue from any thread.
func (w *Worker) wake(h slots.Handle) {
	if w.onThread() {
		if t, ok := w.tasks.Get(h); ok {
			w.wakeLocal(h, t)
		}
		return
	}
	// A closed mailbox means the runtime is shutting down; the wake is
	// moot then.
	_ = w.mbox.Send(wmsg{kind: msgWake, h: h})
}

// wakeLocal enqueues unless the task is already queued. Owner thread only.
func (w *Worker) wakeLocal(h slots.Handle, t *task) {
	if t.queued {
		return
	}
	t.queued = true
	w.sched.Enqueue(h)
}

func (w *Worker) spawnLocal(f Future, j *JoinHandle) slots.Handle {
	t := &task{fut: f, join: j}
	h := w.tasks.Insert(t)
	if j != nil {
		j.bind(w, h)
	}
	// bind may have applied a latched cancel and finalized already.
	if t2, ok := w.tasks.Get(h); ok {
		w.wakeLocal(h, t2)
	}
	return h
}

// requestCancel routes a cancellation to the owner thread.
func (w *Worker) requestCancel(h slots.Handle) {
	if w.onThread() {
		w.cancelTask(h)
		return
	}
	_ = w.mbox.Send(wmsg{kind: msgCancel, h: h})
}

// cancelTask marks the task cancelled and tears down its kernel state.
// Owner thread only. Finished tasks fall out at the lookup.
func (w *Worker) cancelTask(h slots.Handle) {
	t, ok := w.tasks.Get(h)
	if !ok {
		return
	}
	t.cancelled = true
	if t.registered {
		switch w.rx.Cancel(h) {
		case reactor.CancelDone:
			t.registered = false
			w.finalize(h, t, Result{Err: api.ErrCancelled})
		case reactor.CancelQueued:
			// The cancelled completion arrives through Poll; deliver
			// finalizes then.
		case reactor.CancelRetry:
			w.pendingCancels = append(w.pendingCancels, h)
		case reactor.CancelNone:
			// Completion raced the cancel; it is either parked on the
			// task or still in flight toward deliver.
			t.registered = false
			w.wakeLocal(h, t)
		}
		return
	}
	if !t.queued {
		w.finalize(h, t, Result{Err: api.ErrCancelled})
		return
	}
	// Queued: the next poll observes cancelled and finalizes.
}

func (w *Worker) retryCancels() {
	if len(w.pendingCancels) == 0 {
		return
	}
	pend := w.pendingCancels
	w.pendingCancels = w.pendingCancels[:0]
	for _, h := range pend {
		w.cancelTask(h)
	}
}

// finalize removes the task and routes its result: to the join handle when
// one is attached and observed, into the failed-task log otherwise.
func (w *Worker) finalize(h slots.Handle, t *task, res Result) {
	w.tasks.Remove(h)
	if t.join != nil {
		t.join.complete(res)
		if !t.join.isDetached() {
			return
		}
	}
	if res.Err != nil {
		w.mu.Lock()
		w.failed = append(w.failed, res)
		w.mu.Unlock()
	}
}

func (w *Worker) handleMsg(m wmsg) {
	switch m.kind {
	case msgSpawn:
		if w.stopping.Load() {
			if m.join != nil {
				m.join.complete(Result{Err: api.ErrRuntimeClosed})
			}
			return
		}
		w.spawnLocal(m.fut, m.join)
	case msgWake:
		if t, ok := w.tasks.Get(m.h); ok {
			w.wakeLocal(m.h, t)
		}
	case msgCancel:
		w.cancelTask(m.h)
	}
}

// drainForShutdown begins and advances cooperative shutdown. Returns true
// once the worker may exit: drained clean, or the grace period elapsed.
func (w *Worker) drainForShutdown() bool {
	if !w.shutdownBegun {
		w.shutdownBegun = true
		w.graceUntil = time.Now().Add(w.pool.cfg.GracePeriod)
		var live []slots.Handle
		w.tasks.Range(func(h slots.Handle, _ *task) bool {
			live = append(live, h)
			return true
		})
		for _, h := range live {
			w.cancelTask(h)
		}
		w.log.Debug().
			Int("worker", w.id).
			Int("tasks", len(live)).
			Log("draining worker")
	}
	if w.tasks.Len() == 0 && w.mbox.Len() == 0 && len(w.pendingCancels) == 0 {
		return true
	}
	if time.Now().After(w.graceUntil) {
		w.forced.Store(true)
		w.log.Warning().
			Int("worker", w.id).
			Int("abandoned", w.tasks.Len()).
			Log("grace period elapsed, forcing worker exit")
		return true
	}
	return false
}
