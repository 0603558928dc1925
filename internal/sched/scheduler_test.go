// File: internal/sched/scheduler_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package sched

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/coreloop/internal/slots"
)

func h(i uint32) slots.Handle { return slots.Handle{Index: i, Gen: 1} }

func TestTickPollsFIFO(t *testing.T) {
	s := New(0)
	s.Enqueue(h(0))
	s.Enqueue(h(1))
	s.Enqueue(h(2))

	var order []uint32
	n := s.RunTick(func(hd slots.Handle) {
		order = append(order, hd.Index)
	})
	require.Equal(t, 3, n)
	require.Equal(t, []uint32{0, 1, 2}, order)
	require.Equal(t, 0, s.Len())
}

// Handles enqueued while a tick runs must not be polled until the next tick.
func TestMidTickEnqueueRunsNextTick(t *testing.T) {
	s := New(0)
	s.Enqueue(h(0))

	var first []uint32
	s.RunTick(func(hd slots.Handle) {
		first = append(first, hd.Index)
		if hd.Index == 0 {
			s.Enqueue(h(7))
		}
	})
	require.Equal(t, []uint32{0}, first)
	require.Equal(t, 1, s.Len())

	var second []uint32
	s.RunTick(func(hd slots.Handle) {
		second = append(second, hd.Index)
	})
	require.Equal(t, []uint32{7}, second)
}

func TestEventIntervalBoundsTick(t *testing.T) {
	s := New(4)
	for i := uint32(0); i < 10; i++ {
		s.Enqueue(h(i))
	}
	n := s.RunTick(func(slots.Handle) {})
	require.Equal(t, 4, n)
	require.Equal(t, 6, s.Len())
	require.Equal(t, uint64(1), s.Ticks())
}

// A task that re-enqueues itself on every poll must still share the tick
// with its peers and never run twice within one tick.
func TestSelfWakingTaskDoesNotStarvePeers(t *testing.T) {
	s := New(0)
	s.Enqueue(h(0))
	s.Enqueue(h(1))

	counts := map[uint32]int{}
	s.RunTick(func(hd slots.Handle) {
		counts[hd.Index]++
		if hd.Index == 0 {
			s.Enqueue(hd) // immediately ready again
		}
	})
	require.Equal(t, 1, counts[0])
	require.Equal(t, 1, counts[1])
}
