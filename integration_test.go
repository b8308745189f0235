// End-to-end tests exercising the server and client cores together over a
// real loopback TCP control plane with the mock data-plane transport.
package integration_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvbkdw/kv-rdma-poc/client"
	"github.com/nvbkdw/kv-rdma-poc/clientconf"
	"github.com/nvbkdw/kv-rdma-poc/kverrors"
	"github.com/nvbkdw/kv-rdma-poc/server"
	"github.com/nvbkdw/kv-rdma-poc/serverconf"
)

// nodeCounter hands out distinct node/client IDs per test so the mock
// transport's synthetic domain-address strings never collide across
// parallel subtests.
var nodeCounter int

func nextID() uint32 {
	nodeCounter++
	return uint32(nodeCounter)
}

func startServer(t *testing.T, memoryBytes uint64, extra ...serverconf.Option) (*server.Server, string) {
	t.Helper()
	opts := append([]serverconf.Option{
		serverconf.WithNodeID(nextID()),
		serverconf.WithMemoryBytes(memoryBytes),
		serverconf.WithTransportDriver("mock"),
	}, extra...)
	srv, err := server.New(context.Background(), opts...)
	require.NoError(t, err)

	l, err := srv.Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = l.Close()
		_ = srv.Close()
	})

	return srv, l.Addr().String()
}

func dialClient(t *testing.T, addr string) *client.Client {
	t.Helper()
	c, err := client.New(
		clientconf.WithClientID(nextID()),
		clientconf.WithTransportDriver("mock"),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx, addr))

	t.Cleanup(func() { _ = c.Close() })
	return c
}

func ctx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

// PUT then GET returns the stored value.
func TestPutThenGet(t *testing.T) {
	_, addr := startServer(t, 16<<20)
	c := dialClient(t, addr)

	require.NoError(t, c.Put(ctx(t), []byte("key1"), []byte("value1"), 0))

	got, err := c.Get(ctx(t), []byte("key1"))
	require.NoError(t, err)
	assert.Equal(t, "value1", string(got))
}

// DELETE then GET returns NotFound.
func TestDeleteThenGet(t *testing.T) {
	_, addr := startServer(t, 16<<20)
	c := dialClient(t, addr)

	require.NoError(t, c.Put(ctx(t), []byte("key1"), []byte("value1"), 0))

	existed, err := c.Delete(ctx(t), []byte("key1"))
	require.NoError(t, err)
	assert.True(t, existed)

	_, err = c.Get(ctx(t), []byte("key1"))
	assert.ErrorIs(t, err, kverrors.ErrNotFound)
}

// Values of varying sizes round-trip with their exact bytes.
func TestVaryingValueSizes(t *testing.T) {
	_, addr := startServer(t, 16<<20)
	c := dialClient(t, addr)

	for _, size := range []int{1024, 4096, 16384, 32768} {
		value := make([]byte, size)
		for i := range value {
			value[i] = byte(i % 256)
		}
		key := fmt.Sprintf("k-%d", size)

		require.NoError(t, c.Put(ctx(t), []byte(key), value, 0))

		got, err := c.Get(ctx(t), []byte(key))
		require.NoError(t, err)
		require.Len(t, got, size)
		assert.Equal(t, value, got)
	}
}

// Three clients all observe a value PUT by one of them.
func TestThreeClientsSharedKey(t *testing.T) {
	_, addr := startServer(t, 16<<20)
	c1 := dialClient(t, addr)
	c2 := dialClient(t, addr)
	c3 := dialClient(t, addr)

	require.NoError(t, c1.Put(ctx(t), []byte("shared"), []byte("shared_value"), 0))

	for _, c := range []*client.Client{c1, c2, c3} {
		got, err := c.Get(ctx(t), []byte("shared"))
		require.NoError(t, err)
		assert.Equal(t, "shared_value", string(got))
	}
}

// A TTL'd entry is gone after its TTL elapses. Uses a mock clock so the
// test advances past the TTL instantly rather than sleeping real wall-clock
// time.
func TestTTLExpiry(t *testing.T) {
	mc := clock.NewMock()
	_, addr := startServer(t, 16<<20, serverconf.WithClock(mc))
	c := dialClient(t, addr)

	require.NoError(t, c.Put(ctx(t), []byte("tk"), []byte("v"), 1))

	mc.Add(1200 * time.Millisecond)

	_, err := c.Get(ctx(t), []byte("tk"))
	assert.ErrorIs(t, err, kverrors.ErrNotFound)
}

// Filling the pool then overflowing it surfaces PoolExhausted while prior
// entries remain retrievable.
func TestPoolExhaustion(t *testing.T) {
	const poolSize = 8 << 10 // 8 KiB, small enough to fill deterministically
	_, addr := startServer(t, poolSize)
	c := dialClient(t, addr)

	value1KB := make([]byte, 1024)
	var keys []string
	for i := 0; i < 7; i++ { // only 2 of these 4096-aligned allocations fit in 8 KiB; the loop stops at the first failure
		key := fmt.Sprintf("fill-%d", i)
		err := c.Put(ctx(t), []byte(key), value1KB, 0)
		if err != nil {
			break
		}
		keys = append(keys, key)
	}
	require.NotEmpty(t, keys)

	overflow := make([]byte, 2<<10)
	err := c.Put(ctx(t), []byte("overflow"), overflow, 0)
	require.ErrorIs(t, err, kverrors.ErrPoolExhausted)

	for _, key := range keys {
		got, getErr := c.Get(ctx(t), []byte(key))
		require.NoError(t, getErr)
		assert.Equal(t, value1KB, got)
	}
}

// Concurrent PUTs of the same key leave exactly one survivor and do not
// leak pool memory.
func TestConcurrentPutsSameKeyLeaveOneSurvivor(t *testing.T) {
	srv, addr := startServer(t, 16<<20)
	c := dialClient(t, addr)

	const n = 10
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			value := []byte(fmt.Sprintf("value-%d", i))
			done <- c.Put(ctx(t), []byte("racey"), value, 0)
		}(i)
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-done)
	}

	got, err := c.Get(ctx(t), []byte("racey"))
	require.NoError(t, err)
	assert.Contains(t, string(got), "value-")

	stats := srv.Stats()
	assert.LessOrEqual(t, stats.Used, uint64(n)*4096, "replaced values' ranges must be reused, keeping pool usage within n aligned allocations")
}

// A PUT at or above the inline threshold fails with NotImplemented; the
// RDMA-sourced large-value path does not exist in this version.
func TestLargeValuePutNotImplemented(t *testing.T) {
	_, addr := startServer(t, 16<<20)
	c := dialClient(t, addr)

	err := c.Put(ctx(t), []byte("huge"), make([]byte, 64<<10), 0)
	assert.ErrorIs(t, err, kverrors.ErrNotImplemented)
}

// DELETE on a never-existed key never fails and reports key_existed=false.
func TestDeleteNeverExistedKey(t *testing.T) {
	_, addr := startServer(t, 16<<20)
	c := dialClient(t, addr)

	existed, err := c.Delete(ctx(t), []byte("ghost"))
	require.NoError(t, err)
	assert.False(t, existed)
}

// Heartbeat always reports alive for a registered client.
func TestHeartbeat(t *testing.T) {
	_, addr := startServer(t, 16<<20)
	c := dialClient(t, addr)

	alive, err := c.Heartbeat(ctx(t))
	require.NoError(t, err)
	assert.True(t, alive)
}

// The pending request table drains once a GET's reply has been processed.
func TestPendingTableDrainsAfterGet(t *testing.T) {
	_, addr := startServer(t, 16<<20)
	c := dialClient(t, addr)

	require.NoError(t, c.Put(ctx(t), []byte("k"), []byte("v"), 0))
	_, err := c.Get(ctx(t), []byte("k"))
	require.NoError(t, err)

	assert.Equal(t, 0, c.PendingCount())
}

// A GET for an oversized value (larger than the client's receive slot)
// surfaces BufferTooSmall rather than truncating silently.
func TestBufferTooSmall(t *testing.T) {
	_, addr := startServer(t, 16<<20)
	c, err := client.New(
		clientconf.WithClientID(nextID()),
		clientconf.WithTransportDriver("mock"),
		clientconf.WithMaxValueSize(16),
	)
	require.NoError(t, err)
	require.NoError(t, c.Connect(ctx(t), addr))
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Put(ctx(t), []byte("big"), make([]byte, 64), 0))

	_, err = c.Get(ctx(t), []byte("big"))
	require.ErrorIs(t, err, kverrors.ErrBufferTooSmall)
}
