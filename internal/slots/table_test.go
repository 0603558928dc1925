// File: internal/slots/table_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package slots

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertGetRemove(t *testing.T) {
	tb := New[string](4)

	h := tb.Insert("alpha")
	require.False(t, h.IsZero())

	got, ok := tb.Get(h)
	require.True(t, ok)
	require.Equal(t, "alpha", got)
	require.Equal(t, 1, tb.Len())

	val, ok := tb.Remove(h)
	require.True(t, ok)
	require.Equal(t, "alpha", val)
	require.Equal(t, 0, tb.Len())

	_, ok = tb.Get(h)
	require.False(t, ok)
	_, ok = tb.Remove(h)
	require.False(t, ok)
}

// A removed slot must be reused by a later insert, and the stale handle to
// it must keep failing even though the index now holds live data.
func TestGenerationRejectsRecycledSlot(t *testing.T) {
	tb := New[int](1)

	h1 := tb.Insert(11)
	_, ok := tb.Remove(h1)
	require.True(t, ok)

	h2 := tb.Insert(22)
	require.Equal(t, h1.Index, h2.Index, "free list must recycle the slot")
	require.NotEqual(t, h1.Gen, h2.Gen)

	_, ok = tb.Get(h1)
	require.False(t, ok, "stale handle must not observe recycled data")

	got, ok := tb.Get(h2)
	require.True(t, ok)
	require.Equal(t, 22, got)
}

func TestForeignAndZeroHandles(t *testing.T) {
	tb := New[int](2)
	tb.Insert(1)

	_, ok := tb.Get(Handle{})
	require.False(t, ok)

	_, ok = tb.Get(Handle{Index: 99, Gen: 1})
	require.False(t, ok)

	_, ok = tb.Remove(Handle{Index: 0, Gen: 42})
	require.False(t, ok)
}

func TestRangeVisitsLiveOnly(t *testing.T) {
	tb := New[int](8)
	h1 := tb.Insert(1)
	h2 := tb.Insert(2)
	h3 := tb.Insert(3)
	_, _ = tb.Remove(h2)

	seen := map[uint32]int{}
	tb.Range(func(h Handle, v int) bool {
		seen[h.Index] = v
		return true
	})
	require.Len(t, seen, 2)
	require.Equal(t, 1, seen[h1.Index])
	require.Equal(t, 3, seen[h3.Index])
}

func TestChurnKeepsHandlesUnique(t *testing.T) {
	tb := New[int](4)
	live := map[Handle]int{}
	for i := 0; i < 1000; i++ {
		h := tb.Insert(i)
		_, dup := live[h]
		require.False(t, dup, "handle reissued while predecessor tracked")
		live[h] = i
		if i%3 == 0 {
			for old := range live {
				_, ok := tb.Remove(old)
				require.True(t, ok)
				delete(live, old)
				break
			}
		}
	}
	require.Equal(t, len(live), tb.Len())
}
