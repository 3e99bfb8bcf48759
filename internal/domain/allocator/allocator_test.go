package allocator_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/webitel/sync-engine/internal/domain/allocator"
)

func TestNext_StartsAfterLast(t *testing.T) {
	a := allocator.New(41)
	require.Equal(t, uint64(42), a.Next())
	require.Equal(t, uint64(43), a.Next())
}

func TestNext_NeverRepeatsUnderConcurrency(t *testing.T) {
	a := allocator.New(0)
	const n = 1000

	seen := make(chan uint64, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			seen <- a.Next()
		}()
	}
	wg.Wait()
	close(seen)

	ids := make(map[uint64]struct{}, n)
	for id := range seen {
		_, dup := ids[id]
		require.False(t, dup, "id %d allocated twice", id)
		ids[id] = struct{}{}
	}
	require.Len(t, ids, n)
}

func TestRelease_OnlyUndoesLastAllocation(t *testing.T) {
	a := allocator.New(0)
	first := a.Next()
	second := a.Next()

	require.False(t, a.Release(first), "releasing a non-last id must fail")
	require.True(t, a.Release(second))
	require.Equal(t, second, a.Next(), "released id is handed out again")
}

func TestPeek_DoesNotConsume(t *testing.T) {
	a := allocator.New(10)
	require.Equal(t, uint64(11), a.Peek())
	require.Equal(t, uint64(11), a.Peek())
	require.Equal(t, uint64(11), a.Next())
}
