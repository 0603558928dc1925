// File: internal/mailbox/mailbox_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package mailbox

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/coreloop/api"
)

func TestSendDrainPreservesSenderOrder(t *testing.T) {
	mb, err := New[int](64)
	require.NoError(t, err)
	defer mb.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, mb.Send(i))
	}
	require.Equal(t, 10, mb.Len())

	var got []int
	n := mb.Drain(func(v int) { got = append(got, v) })
	require.Equal(t, 10, n)
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestConcurrentSendersAllDelivered(t *testing.T) {
	mb, err := New[int](1024)
	require.NoError(t, err)
	defer mb.Close()

	const senders, per = 8, 100
	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < per; i++ {
				require.NoError(t, mb.Send(base+i))
			}
		}(s * per)
	}
	wg.Wait()

	seen := make(map[int]bool, senders*per)
	mb.Drain(func(v int) { seen[v] = true })
	require.Len(t, seen, senders*per)
}

func TestSendAfterCloseFails(t *testing.T) {
	mb, err := New[int](4)
	require.NoError(t, err)
	mb.Close()
	require.ErrorIs(t, mb.Send(1), api.ErrRuntimeClosed)
}
