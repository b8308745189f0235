package server_test

import (
	"context"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvbkdw/kv-rdma-poc/kverrors"
	"github.com/nvbkdw/kv-rdma-poc/protocol"
	"github.com/nvbkdw/kv-rdma-poc/server"
	"github.com/nvbkdw/kv-rdma-poc/serverconf"
	"github.com/nvbkdw/kv-rdma-poc/transport"
)

// receiveSlot registers a standalone buffer with its own mock transport and
// returns the ValueLocation a GET would carry for it, playing the client's
// role without a control plane.
func receiveSlot(t *testing.T, nodeID uint32, size uint64) (protocol.ValueLocation, []byte) {
	t.Helper()
	tr, err := transport.Open("mock", nodeID, 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	buf := make([]byte, size)
	_, descriptor, err := tr.RegisterMemory(buf)
	require.NoError(t, err)

	return protocol.ValueLocation{
		NodeID:       nodeID,
		MRDescriptor: descriptor,
		Offset:       0,
		Length:       size,
	}, buf
}

func newServer(t *testing.T, opts ...serverconf.Option) *server.Server {
	t.Helper()
	srv, err := server.New(context.Background(), append([]serverconf.Option{
		serverconf.WithNodeID(900),
		serverconf.WithMemoryBytes(1 << 20),
		serverconf.WithTransportDriver("mock"),
	}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func TestGetWritesValueIntoResponseLocation(t *testing.T) {
	srv := newServer(t)

	require.NoError(t, srv.Put([]byte("k"), []byte("payload"), 0))

	loc, buf := receiveSlot(t, 901, 4096)
	length, err := srv.Get(context.Background(), []byte("k"), loc)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), length)
	assert.Equal(t, "payload", string(buf[:length]))
}

func TestGetAbsentKeyIsNotFound(t *testing.T) {
	srv := newServer(t)

	loc, _ := receiveSlot(t, 902, 4096)
	_, err := srv.Get(context.Background(), []byte("missing"), loc)
	assert.ErrorIs(t, err, kverrors.ErrNotFound)
}

func TestGetUndersizedSlotIsBufferTooSmall(t *testing.T) {
	srv := newServer(t)

	require.NoError(t, srv.Put([]byte("big"), make([]byte, 128), 0))

	loc, _ := receiveSlot(t, 903, 16)
	_, err := srv.Get(context.Background(), []byte("big"), loc)
	assert.ErrorIs(t, err, kverrors.ErrBufferTooSmall)
}

func TestPutReplaceReturnsOldSpaceToPool(t *testing.T) {
	srv := newServer(t)
	total := srv.Stats().Total

	require.NoError(t, srv.Put([]byte("k"), make([]byte, 1024), 0))
	require.NoError(t, srv.Put([]byte("k"), make([]byte, 1024), 0))

	// The second PUT bumps to the next aligned offset before the first
	// value's 1024 bytes return to the free list.
	stats := srv.Stats()
	assert.Equal(t, total-4096, stats.Available)
}

func TestPutExhaustedPoolFails(t *testing.T) {
	srv := newServer(t, serverconf.WithMemoryBytes(4096))

	require.NoError(t, srv.Put([]byte("a"), make([]byte, 4096), 0))
	err := srv.Put([]byte("b"), []byte("x"), 0)
	assert.ErrorIs(t, err, kverrors.ErrPoolExhausted)
}

func TestDeleteReportsExistenceAndFreesSpace(t *testing.T) {
	srv := newServer(t)

	require.NoError(t, srv.Put([]byte("k"), make([]byte, 1024), 0))
	before := srv.Stats().Available

	assert.True(t, srv.Delete([]byte("k")))
	assert.False(t, srv.Delete([]byte("k")))

	assert.Equal(t, before+1024, srv.Stats().Available)
}

func TestExpiredEntryIsNotFoundAndReclaimed(t *testing.T) {
	mc := clock.NewMock()
	srv := newServer(t, serverconf.WithClock(mc))

	require.NoError(t, srv.Put([]byte("tk"), []byte("v"), 1))

	mc.Add(1100 * time.Millisecond)

	loc, _ := receiveSlot(t, 904, 4096)
	_, err := srv.Get(context.Background(), []byte("tk"), loc)
	assert.ErrorIs(t, err, kverrors.ErrNotFound)

	stats := srv.Stats()
	assert.Equal(t, stats.Total, stats.Available, "the expired entry's range must be back in the pool")
}

func TestRegisterClientReturnsServerIdentity(t *testing.T) {
	srv := newServer(t)

	serverID, domains := srv.RegisterClient(55, []protocol.DomainAddress{protocol.DomainAddress("mock://node55/domain0")}, 1<<20)
	assert.Equal(t, uint32(900), serverID)
	require.NotEmpty(t, domains)
	assert.True(t, srv.Heartbeat(55))
}
