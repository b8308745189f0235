package pool_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvbkdw/kv-rdma-poc/pool"
)

func newTestPool(t *testing.T, size uint64) *pool.MemoryPool {
	t.Helper()
	return pool.New(pool.Config{Size: size, Alignment: pool.DefaultAlignment})
}

func TestAllocateAlignment(t *testing.T) {
	p := newTestPool(t, 1<<20)

	a, err := p.Allocate(100)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), a.Offset)

	b, err := p.Allocate(100)
	require.NoError(t, err)
	assert.Equal(t, uint64(pool.DefaultAlignment), b.Offset, "second allocation must bump to the next aligned offset")
}

func TestAllocateExhausted(t *testing.T) {
	p := newTestPool(t, pool.DefaultAlignment)

	_, err := p.Allocate(pool.DefaultAlignment)
	require.NoError(t, err)

	_, err = p.Allocate(1)
	require.ErrorIs(t, err, pool.ErrExhausted)
}

func TestDeallocateReuse(t *testing.T) {
	p := newTestPool(t, 2*pool.DefaultAlignment)

	a, err := p.Allocate(pool.DefaultAlignment)
	require.NoError(t, err)

	p.Deallocate(a.Offset, a.Size)

	b, err := p.Allocate(pool.DefaultAlignment)
	require.NoError(t, err)
	assert.Equal(t, a.Offset, b.Offset, "freed block must be reused by a same-size allocation before bumping")
}

func TestWriteReadRoundTrip(t *testing.T) {
	p := newTestPool(t, pool.DefaultAlignment)

	a, err := p.Allocate(16)
	require.NoError(t, err)

	payload := []byte("hello world12345")
	require.NoError(t, p.Write(a.Offset, payload))

	got, err := p.Read(a.Offset, uint64(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadWriteOutOfBounds(t *testing.T) {
	p := newTestPool(t, pool.DefaultAlignment)

	_, err := p.Read(pool.DefaultAlignment-1, 16)
	require.ErrorIs(t, err, pool.ErrOutOfBounds)

	err = p.Write(pool.DefaultAlignment-1, []byte("too long for tail"))
	require.ErrorIs(t, err, pool.ErrOutOfBounds)
}

func TestStatsAccounting(t *testing.T) {
	p := newTestPool(t, 4*pool.DefaultAlignment)

	a, err := p.Allocate(pool.DefaultAlignment)
	require.NoError(t, err)
	b, err := p.Allocate(pool.DefaultAlignment)
	require.NoError(t, err)

	stats := p.Stats()
	assert.Equal(t, uint64(4*pool.DefaultAlignment), stats.Total)
	assert.Equal(t, uint64(2*pool.DefaultAlignment), stats.Used)
	assert.Equal(t, uint64(2*pool.DefaultAlignment), stats.Available)

	p.Deallocate(a.Offset, a.Size)
	stats = p.Stats()
	assert.Equal(t, uint64(3*pool.DefaultAlignment), stats.Available, "freed block must count toward available")

	_ = b
}

func TestBasePtrNonZeroForNonEmptyPool(t *testing.T) {
	p := newTestPool(t, pool.DefaultAlignment)
	assert.NotZero(t, p.BasePtr())
}
