// File: runtime/pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Worker pool. Build starts the configured number of pinned workers, each
// with its own reactor and mailbox; Spawn places tasks; Stop drains and
// joins. Tasks never migrate between workers.

package runtime

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"

	"github.com/momentics/coreloop/api"
	"github.com/momentics/coreloop/config"
	"github.com/momentics/coreloop/internal/mailbox"
	"github.com/momentics/coreloop/reactor"
)

// Pool owns the worker threads of one runtime instance.
type Pool struct {
	cfg     config.Config
	log     *config.Logger
	workers []*Worker
	closed  atomic.Bool
}

// Build validates cfg and starts its workers. Worker i is pinned to
// cfg.CPUFor(i) unless pinning is disabled.
func Build(cfg config.Config) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pool{cfg: cfg, log: cfg.Logger()}
	for i := 0; i < cfg.Workers; i++ {
		rx, err := reactor.New(&cfg, p.log)
		if err != nil {
			p.teardown()
			return nil, fmt.Errorf("runtime: worker %d reactor: %w", i, err)
		}
		mbox, err := mailbox.New[wmsg](cfg.MailboxCapacity)
		if err != nil {
			_ = rx.Close()
			p.teardown()
			return nil, fmt.Errorf("runtime: worker %d mailbox: %w", i, err)
		}
		if fd := mbox.DoorbellFd(); fd >= 0 {
			if err := rx.SetDoorbell(fd); err != nil {
				mbox.Close()
				_ = rx.Close()
				p.teardown()
				return nil, fmt.Errorf("runtime: worker %d doorbell: %w", i, err)
			}
		}
		p.workers = append(p.workers, newWorker(i, p, rx, mbox))
	}
	for _, w := range p.workers {
		go w.run()
	}
	p.log.Info().
		Int("workers", cfg.Workers).
		Str("backend", p.workers[0].rx.Backend()).
		Log("runtime started")
	return p, nil
}

// teardown releases resources of partially built workers.
func (p *Pool) teardown() {
	for _, w := range p.workers {
		w.mbox.Close()
		_ = w.rx.Close()
	}
	p.workers = nil
}

// Workers returns the pool size.
func (p *Pool) Workers() int {
	return len(p.workers)
}

// Spawn starts f on the calling worker when invoked from one, preserving
// locality; from any other goroutine a pseudo-random worker is chosen.
func (p *Pool) Spawn(f Future) (*JoinHandle, error) {
	for i, w := range p.workers {
		if w.onThread() {
			return p.SpawnOn(i, f)
		}
	}
	return p.SpawnOn(rand.Intn(len(p.workers)), f)
}

// SpawnOn starts f on the given worker. Calling from that worker's own
// thread applies the spawn directly instead of going through the mailbox,
// which a full mailbox would otherwise deadlock.
func (p *Pool) SpawnOn(worker int, f Future) (*JoinHandle, error) {
	if worker < 0 || worker >= len(p.workers) {
		return nil, fmt.Errorf("runtime: worker index %d out of range [0,%d)", worker, len(p.workers))
	}
	w := p.workers[worker]
	j := newJoinHandle()
	if w.onThread() {
		if w.stopping.Load() {
			j.complete(Result{Err: api.ErrRuntimeClosed})
			return nil, api.ErrRuntimeClosed
		}
		w.spawnLocal(f, j)
		return j, nil
	}
	if err := w.mbox.Send(wmsg{kind: msgSpawn, fut: f, join: j}); err != nil {
		return nil, err
	}
	return j, nil
}

// Stop drains the workers cooperatively and joins them. Outstanding tasks
// are cancelled; ones that outlive the grace period are abandoned and the
// forced stop is reported as an api.ErrTimeout. ctx bounds the join wait
// itself.
func (p *Pool) Stop(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, w := range p.workers {
		w.stopping.Store(true)
		// Nudge so a reactor-blocked worker re-checks the flag.
		_ = w.mbox.Send(wmsg{kind: msgNop})
	}
	forced := false
	for _, w := range p.workers {
		select {
		case <-w.stopped:
		case <-ctx.Done():
			return ctx.Err()
		}
		if w.forced.Load() {
			forced = true
		}
	}
	for _, w := range p.workers {
		w.mbox.Close()
		_ = w.rx.Close()
	}
	if forced {
		p.log.Warning().Log("runtime stopped with abandoned tasks")
		return fmt.Errorf("%w: shutdown forced after grace period", api.ErrTimeout)
	}
	p.log.Info().Log("runtime stopped")
	return nil
}

// FailedTasks snapshots results of tasks that failed without an observer.
func (p *Pool) FailedTasks() []Result {
	var out []Result
	for _, w := range p.workers {
		w.mu.Lock()
		out = append(out, w.failed...)
		w.mu.Unlock()
	}
	return out
}
