package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocatorSeedsOnce(t *testing.T) {
	alloc := newIDAllocator()
	var seeds int
	seed := func(ctx context.Context) (int64, error) {
		seeds++
		return 41, nil
	}

	id, err := alloc.next(context.Background(), "demo", seed)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	id, err = alloc.next(context.Background(), "demo", seed)
	require.NoError(t, err)
	assert.Equal(t, int64(43), id)
	assert.Equal(t, 1, seeds)
}

func TestAllocatorConcurrentUniqueness(t *testing.T) {
	alloc := newIDAllocator()
	seed := func(ctx context.Context) (int64, error) { return 0, nil }

	const n = 100
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := alloc.next(context.Background(), "demo", seed)
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		assert.False(t, seen[id], "id %d assigned twice", id)
		seen[id] = true
	}
	// Exactly {1..n}, no gaps.
	for i := int64(1); i <= n; i++ {
		assert.True(t, seen[i], "id %d missing", i)
	}
}

func TestAllocatorResetReseeds(t *testing.T) {
	alloc := newIDAllocator()
	last := int64(10)
	seed := func(ctx context.Context) (int64, error) { return last, nil }

	id, err := alloc.next(context.Background(), "demo", seed)
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)

	alloc.reset("demo")
	last = 50
	id, err = alloc.next(context.Background(), "demo", seed)
	require.NoError(t, err)
	assert.Equal(t, int64(51), id)
}

func TestAllocatorPerRepositoryCounters(t *testing.T) {
	alloc := newIDAllocator()
	seed := func(ctx context.Context) (int64, error) { return 0, nil }

	a, err := alloc.next(context.Background(), "alpha", seed)
	require.NoError(t, err)
	b, err := alloc.next(context.Background(), "beta", seed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), a)
	assert.Equal(t, int64(1), b)
}
