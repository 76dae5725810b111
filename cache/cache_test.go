package cache_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sw965/banditformula/cache"
)

func TestGetOrCompute(t *testing.T) {
	c := cache.New(nil)
	calls := 0
	fn := func() (float64, error) {
		calls++
		return 1.5, nil
	}

	v, err := c.GetOrCompute("a", fn)
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)

	v, err = c.GetOrCompute("a", fn)
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)

	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(1), c.Hits())
	assert.Equal(t, int64(1), c.Misses())
	assert.Equal(t, 1, c.Len())
}

func TestErrorsAreNotCached(t *testing.T) {
	c := cache.New(nil)
	boom := errors.New("boom")
	_, err := c.GetOrCompute("k", func() (float64, error) { return 0, boom })
	require.ErrorIs(t, err, boom)

	_, ok := c.Get("k")
	assert.False(t, ok)

	v, err := c.GetOrCompute("k", func() (float64, error) { return 2, nil })
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)
}

func TestConcurrentAccess(t *testing.T) {
	c := cache.New(nil)
	var calls atomic.Int64
	var wg sync.WaitGroup
	keys := []string{"x", "y", "z"}
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := keys[i%len(keys)]
			v, err := c.GetOrCompute(key, func() (float64, error) {
				calls.Add(1)
				return float64(len(key)), nil
			})
			assert.NoError(t, err)
			assert.Equal(t, 1.0, v)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, c.Len())
	// 重複計算は許容されるが、キー数を下回ることはない
	assert.GreaterOrEqual(t, calls.Load(), int64(3))
}

func TestBadgerStore(t *testing.T) {
	store, err := cache.OpenBadger(cache.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	c := cache.New(store)
	_, err = c.GetOrCompute("B(add,V(0),V(1))", func() (float64, error) { return -0.25, nil })
	require.NoError(t, err)

	v, ok, err := store.Get("B(add,V(0),V(1))")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, -0.25, v)

	n, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// 別のCacheから同じストアを読むと計算されない
	fresh := cache.New(store)
	v, err = fresh.GetOrCompute("B(add,V(0),V(1))", func() (float64, error) {
		t.Fatal("value must come from the store")
		return 0, nil
	})
	require.NoError(t, err)
	assert.Equal(t, -0.25, v)
	assert.Equal(t, int64(1), fresh.Hits())

	_, ok, err = store.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenBadgerRequiresDir(t *testing.T) {
	_, err := cache.OpenBadger(cache.BadgerConfig{})
	assert.Error(t, err)
}

func TestBadgerPersistent(t *testing.T) {
	dir := t.TempDir()
	store, err := cache.OpenBadger(cache.BadgerConfig{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, store.Put("k", 3.25))
	require.NoError(t, store.Close())

	store, err = cache.OpenBadger(cache.BadgerConfig{Dir: dir})
	require.NoError(t, err)
	defer store.Close()
	v, ok, err := store.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3.25, v)
}
