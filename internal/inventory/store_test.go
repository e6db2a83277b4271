package inventory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func available(t *testing.T, s Store, resource string) int {
	t.Helper()
	n, err := s.Available(context.Background(), resource)
	require.NoError(t, err)
	return n
}

func TestMemoryStoreReserve(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(map[string]int{ResourceRoadBike: 5, ResourceDirtBike: 5})

	err := store.Reserve(ctx, map[string]int{ResourceRoadBike: 2, ResourceDirtBike: 1})
	require.NoError(t, err)

	assert.Equal(t, 3, available(t, store, ResourceRoadBike))
	assert.Equal(t, 4, available(t, store, ResourceDirtBike))
}

func TestMemoryStoreReserveDeniedLeavesCountsUntouched(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(map[string]int{ResourceRoadBike: 1, ResourceDirtBike: 3})

	err := store.Reserve(ctx, map[string]int{ResourceRoadBike: 2, ResourceDirtBike: 1})
	require.ErrorIs(t, err, ErrInsufficientStock)

	// All-or-nothing: the satisfiable dirt bike part must not be taken.
	assert.Equal(t, 1, available(t, store, ResourceRoadBike))
	assert.Equal(t, 3, available(t, store, ResourceDirtBike))
}

func TestMemoryStoreReserveReleaseRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(map[string]int{ResourceRoom: 10})
	want := map[string]int{ResourceRoom: 1}

	require.NoError(t, store.Reserve(ctx, want))
	assert.Equal(t, 9, available(t, store, ResourceRoom))

	require.NoError(t, store.Release(ctx, want))
	assert.Equal(t, 10, available(t, store, ResourceRoom))
}

func TestMemoryStoreNeverOversellsUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(map[string]int{ResourceRoadBike: 5})

	var wg sync.WaitGroup
	var mu sync.Mutex
	approved := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Reserve(ctx, map[string]int{ResourceRoadBike: 1}); err == nil {
				mu.Lock()
				approved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, approved)
	assert.Equal(t, 0, available(t, store, ResourceRoadBike))
}
