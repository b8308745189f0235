package cacheindex_test

import (
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvbkdw/kv-rdma-poc/cacheindex"
)

func TestGetMiss(t *testing.T) {
	idx := cacheindex.New(clock.New(), nil)
	_, ok := idx.Get("missing")
	assert.False(t, ok)
}

func TestPutThenGet(t *testing.T) {
	idx := cacheindex.New(clock.New(), nil)
	idx.Put("k", &cacheindex.Entry{DataLength: 5, PoolOffset: 0, CreatedAt: time.Now()})

	e, ok := idx.Get("k")
	require.True(t, ok)
	assert.Equal(t, uint64(5), e.DataLength)
	idx.Release("k", e)
}

func TestPutReplacesAndReclaimsOld(t *testing.T) {
	var reclaimed []uint64
	idx := cacheindex.New(clock.New(), func(offset, size uint64) {
		reclaimed = append(reclaimed, offset)
	})

	idx.Put("k", &cacheindex.Entry{DataLength: 4, PoolOffset: 100, CreatedAt: time.Now()})
	idx.Put("k", &cacheindex.Entry{DataLength: 8, PoolOffset: 200, CreatedAt: time.Now()})

	require.Len(t, reclaimed, 1)
	assert.Equal(t, uint64(100), reclaimed[0], "replaced entry's old pool range must be reclaimed")

	e, ok := idx.Get("k")
	require.True(t, ok)
	assert.Equal(t, uint64(200), e.PoolOffset)
	idx.Release("k", e)
}

func TestDeleteReportsExistence(t *testing.T) {
	idx := cacheindex.New(clock.New(), nil)
	assert.False(t, idx.Delete("never-existed"))

	idx.Put("k", &cacheindex.Entry{DataLength: 1, CreatedAt: time.Now()})
	assert.True(t, idx.Delete("k"))

	_, ok := idx.Get("k")
	assert.False(t, ok)
}

func TestDeleteDefersReclaimUntilGetReleases(t *testing.T) {
	var reclaimed bool
	idx := cacheindex.New(clock.New(), func(offset, size uint64) { reclaimed = true })

	idx.Put("k", &cacheindex.Entry{DataLength: 4, PoolOffset: 1, CreatedAt: time.Now()})

	e, ok := idx.Get("k")
	require.True(t, ok)

	idx.Delete("k")
	assert.False(t, reclaimed, "reclamation must wait for the in-flight GET to release")

	idx.Release("k", e)
	assert.True(t, reclaimed, "reclamation must happen once the last holder releases")
}

func TestLazyExpiry(t *testing.T) {
	mock := clock.NewMock()
	idx := cacheindex.New(mock, nil)

	idx.Put("k", &cacheindex.Entry{DataLength: 1, TTLSeconds: 1, CreatedAt: mock.Now()})

	_, ok := idx.Get("k")
	require.True(t, ok, "GET before TTL elapses must hit")

	mock.Add(1200 * time.Millisecond)

	_, ok = idx.Get("k")
	assert.False(t, ok, "GET after TTL elapses must be NotFound")
}

func TestConcurrentPutsOfSameKeyLeaveExactlyOneSurvivor(t *testing.T) {
	var reclaimedCount int
	idx := cacheindex.New(clock.New(), func(offset, size uint64) { reclaimedCount++ })

	const n = 50
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		go func(i int) {
			idx.Put("shared", &cacheindex.Entry{DataLength: uint64(i), PoolOffset: uint64(i), CreatedAt: time.Now()})
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < n; i++ {
		<-done
	}

	e, ok := idx.Get("shared")
	require.True(t, ok)
	idx.Release("shared", e)

	assert.Equal(t, n-1, reclaimedCount, "every PUT but the last writer must have its old value reclaimed")
}
