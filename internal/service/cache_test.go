package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"covdiff/internal/coverage"
	"covdiff/internal/diff"
)

func bundleFor(version string) *coverage.Bundle {
	return coverage.NewBundle(buildKey(version))
}

func TestBundleCacheLRU(t *testing.T) {
	c := NewBundleCache(WithMaxEntries(2), WithMaxAge(0))

	c.Put(buildKey("1"), bundleFor("1"))
	c.Put(buildKey("2"), bundleFor("2"))

	// touch 1 so 2 is the least recently used
	_, ok := c.Get(buildKey("1"))
	require.True(t, ok)

	c.Put(buildKey("3"), bundleFor("3"))
	assert.Equal(t, 2, c.Len())

	_, ok = c.Get(buildKey("2"))
	assert.False(t, ok)
	_, ok = c.Get(buildKey("1"))
	assert.True(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)
}

func TestBundleCacheExpiry(t *testing.T) {
	c := NewBundleCache(WithMaxAge(time.Millisecond))
	c.Put(buildKey("1"), bundleFor("1"))
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get(buildKey("1"))
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestBundleCacheDisabled(t *testing.T) {
	c := NewBundleCache(WithMaxEntries(0))
	c.Put(buildKey("1"), bundleFor("1"))
	assert.Zero(t, c.Len())
}

func TestBundleCacheGetOrComputeSingleFlight(t *testing.T) {
	c := NewBundleCache()
	var calls atomic.Int32
	release := make(chan struct{})

	compute := func(ctx context.Context, key diff.BuildKey) (*coverage.Bundle, error) {
		calls.Add(1)
		<-release
		return coverage.NewBundle(key), nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*coverage.Bundle, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, _, err := c.GetOrCompute(context.Background(), buildKey("1"), compute)
			assert.NoError(t, err)
			results[i] = b
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, b := range results {
		assert.Same(t, results[0], b)
	}

	_, hit, err := c.GetOrCompute(context.Background(), buildKey("1"), compute)
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestBundleCacheComputeError(t *testing.T) {
	c := NewBundleCache()
	boom := errors.New("boom")

	_, _, err := c.GetOrCompute(context.Background(), buildKey("1"), func(context.Context, diff.BuildKey) (*coverage.Bundle, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, c.Len())
	assert.Equal(t, int64(1), c.Stats().Errors)
}

func TestBundleCacheUpdate(t *testing.T) {
	c := NewBundleCache()

	ok, err := c.Update(buildKey("1"), func(*coverage.Bundle) error { return nil })
	require.NoError(t, err)
	assert.False(t, ok, "missing entries are not created")

	orig := bundleFor("1")
	c.Put(buildKey("1"), orig)

	ok, err = c.Update(buildKey("1"), func(b *coverage.Bundle) error {
		b.Executions = 5
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, orig.Executions)

	got, _ := c.Get(buildKey("1"))
	assert.Equal(t, 5, got.Executions)

	_, err = c.Update(buildKey("1"), func(*coverage.Bundle) error { return errors.New("conflict") })
	assert.Error(t, err)
	_, found := c.Get(buildKey("1"))
	assert.False(t, found)
}

func TestBundleCacheInvalidate(t *testing.T) {
	c := NewBundleCache()
	c.Put(buildKey("1"), bundleFor("1"))
	c.Put(buildKey("2"), bundleFor("2"))

	c.Invalidate(buildKey("1"))
	assert.Equal(t, 1, c.Len())

	c.InvalidateAll()
	assert.Zero(t, c.Len())
}
