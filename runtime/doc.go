// File: runtime/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package runtime implements a thread-per-core cooperative task runtime.
//
// A Pool starts one worker per configured CPU; each worker is a locked,
// pinned OS thread owning its own task table, ready queue, reactor and
// mailbox. Tasks are futures polled cooperatively: a poll either finishes
// the task or parks it until a reactor completion or an explicit Waker
// brings it back. Tasks never move between workers; cross-thread effects
// (spawn, wake, cancel) travel through per-worker mailboxes whose doorbell
// descriptors interrupt a reactor-blocked owner.
package runtime
