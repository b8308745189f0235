// Package client implements the cache client core: it registers a receive
// pool with its transport, allocates per-request slots, issues
// control-plane RPCs, and delivers completed payloads once the server's
// one-sided write has landed.
package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nvbkdw/kv-rdma-poc/clientconf"
	"github.com/nvbkdw/kv-rdma-poc/controlplane"
	"github.com/nvbkdw/kv-rdma-poc/kverrors"
	"github.com/nvbkdw/kv-rdma-poc/pool"
	"github.com/nvbkdw/kv-rdma-poc/protocol"
	"github.com/nvbkdw/kv-rdma-poc/transport"
)

// pendingRequest tracks one in-flight GET's reserved receive-pool slot.
// The pending table holds the allocation, not a pointer back to the pool;
// the pool is reached via the owning Client, keeping pendingRequest a leaf
// in the ownership graph.
type pendingRequest struct {
	allocation pool.Allocation
	maxLength  uint64
}

// Client is the per-process cache client core.
type Client struct {
	cfg *clientconf.Config
	log *zap.SugaredLogger

	pool       *pool.MemoryPool
	transport  transport.Transport
	handle     protocol.MemoryRegionHandle
	descriptor protocol.MemoryRegionDescriptor

	nc   net.Conn
	conn *controlplane.Conn
	// roundTripMu serializes control-plane round trips: the connection
	// carries at most one outstanding RPC at a time. Concurrent
	// Get/Put/Delete calls from one process queue here rather than racing
	// frames on the wire.
	roundTripMu sync.Mutex

	requestIDCounter atomic.Uint64

	pendingMu sync.Mutex
	pending   map[uint64]*pendingRequest

	serverID      uint32
	serverDomains []protocol.DomainAddress
	connected     atomic.Bool
}

// New constructs a Client: opens the configured transport and registers
// its receive pool with it. Connect must still be called before any
// Get/Put/Delete.
func New(opts ...clientconf.Option) (*Client, error) {
	cfg := clientconf.Apply(opts...)

	tr, err := transport.Open(cfg.TransportDriver, cfg.ClientID, cfg.NumDomains)
	if err != nil {
		return nil, fmt.Errorf("client: open transport: %w", err)
	}

	p := pool.New(pool.Config{Size: cfg.ReceiveBufferBytes})

	handle, descriptor, err := tr.RegisterMemory(p.Buffer())
	if err != nil {
		return nil, fmt.Errorf("client: register receive pool: %w", err)
	}

	return &Client{
		cfg:        cfg,
		log:        cfg.Logger,
		pool:       p,
		transport:  tr,
		handle:     handle,
		descriptor: descriptor,
		pending:    make(map[uint64]*pendingRequest),
	}, nil
}

// Connect dials the server's control-plane address and registers this
// client. The dial and the RegisterClient exchange together are bounded by
// the configured ConnectTimeout (or ctx's deadline, if earlier).
func (c *Client) Connect(ctx context.Context, addr string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	dialer := net.Dialer{}
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", addr, err)
	}
	deadline, _ := ctx.Deadline()
	_ = nc.SetDeadline(deadline)
	conn := controlplane.NewConn(nc)

	err = conn.Send(controlplane.MsgRegisterClientRequest, protocol.RegisterClientRequest{
		ClientID:          c.cfg.ClientID,
		DomainAddresses:   c.transport.DomainAddresses(),
		ReceiveBufferSize: c.cfg.ReceiveBufferBytes,
	})
	if err != nil {
		_ = nc.Close()
		return err
	}

	msgType, payload, err := conn.Recv()
	if err != nil {
		_ = nc.Close()
		return err
	}
	if msgType != controlplane.MsgRegisterClientReply {
		_ = nc.Close()
		return fmt.Errorf("%w: unexpected reply type %d to RegisterClient", kverrors.ErrInternal, msgType)
	}

	var reply protocol.RegisterClientReply
	if err := controlplane.Decode(payload, &reply); err != nil {
		_ = nc.Close()
		return err
	}
	if !reply.Success {
		_ = nc.Close()
		return fmt.Errorf("%w: server rejected registration", kverrors.ErrInternal)
	}

	_ = nc.SetDeadline(time.Time{})
	c.nc = nc
	c.conn = conn
	c.serverID = reply.ServerID
	c.serverDomains = reply.ServerDomainAddresses
	c.connected.Store(true)

	c.log.Infow("connected", "server_addr", addr, "server_id", reply.ServerID, "client_id", c.cfg.ClientID)
	return nil
}

// Close releases the client's connection and transport resources.
func (c *Client) Close() error {
	c.connected.Store(false)
	if c.nc != nil {
		_ = c.nc.Close()
	}
	return c.transport.Close()
}

func (c *Client) nextRequestID() uint64 {
	return c.requestIDCounter.Add(1)
}

// roundTrip sends req and blocks for its reply, holding roundTripMu so the
// connection carries at most one outstanding RPC. The exchange is bounded
// by the configured RequestTimeout (or ctx's deadline, if earlier), which
// is enforced on the socket for the duration of the exchange.
func (c *Client) roundTrip(ctx context.Context, reqType controlplane.MsgType, req any, replyType controlplane.MsgType, reply any) error {
	c.roundTripMu.Lock()
	defer c.roundTripMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.nc.SetDeadline(deadline)
		defer func() { _ = c.nc.SetDeadline(time.Time{}) }()
	}

	if err := c.conn.Send(reqType, req); err != nil {
		return err
	}
	msgType, payload, err := c.conn.Recv()
	if err != nil {
		return err
	}
	if msgType != replyType {
		return fmt.Errorf("%w: unexpected reply type %d", kverrors.ErrInternal, msgType)
	}
	return controlplane.Decode(payload, reply)
}

// Get fetches the value for key. The server writes the
// value directly into this client's receive pool via a one-sided transfer;
// Get only copies the landed bytes out once the control-plane reply
// confirms the transfer succeeded.
func (c *Client) Get(ctx context.Context, key []byte) ([]byte, error) {
	if !c.connected.Load() {
		return nil, kverrors.ErrNotConnected
	}
	c.cfg.Metrics.IncrementGet()

	requestID := c.nextRequestID()

	alloc, err := c.pool.Allocate(c.cfg.MaxValueSize)
	if err != nil {
		c.cfg.Metrics.IncrementPoolExhausted()
		return nil, kverrors.ErrPoolExhausted
	}

	c.pendingMu.Lock()
	c.pending[requestID] = &pendingRequest{allocation: alloc, maxLength: c.cfg.MaxValueSize}
	c.pendingMu.Unlock()

	releaseOnce := sync.OnceFunc(func() {
		c.pendingMu.Lock()
		delete(c.pending, requestID)
		c.pendingMu.Unlock()
		c.pool.Deallocate(alloc.Offset, alloc.Size)
	})
	defer releaseOnce()

	respLoc := protocol.ValueLocation{
		NodeID:       c.cfg.ClientID,
		MRDescriptor: c.descriptor,
		Offset:       alloc.Offset,
		Length:       c.cfg.MaxValueSize,
	}

	req := protocol.GetRequest{Key: key, ResponseLocation: respLoc, RequestID: requestID}

	var reply protocol.GetReply
	if err := c.roundTrip(ctx, controlplane.MsgGetRequest, req, controlplane.MsgGetReply, &reply); err != nil {
		return nil, err
	}
	if !reply.Success {
		if sentinel := kverrors.FromMessage(reply.ErrorMessage); sentinel != nil {
			if sentinel == kverrors.ErrNotFound {
				c.cfg.Metrics.IncrementGetMiss()
				return nil, kverrors.ErrNotFound
			}
			return nil, fmt.Errorf("%w: get %q", sentinel, key)
		}
		return nil, fmt.Errorf("get %q: %s", key, reply.ErrorMessage)
	}

	value, err := c.pool.Read(alloc.Offset, reply.ValueLength)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kverrors.ErrInternal, err)
	}

	c.cfg.Metrics.IncrementGetHit()
	c.cfg.Metrics.IncrementBytesTransferred(int64(reply.ValueLength))
	return value, nil
}

// Put stores value under key with the given TTL. Values
// at or above the client's inline threshold fail with ErrNotImplemented;
// the symmetric RDMA-read PUT path does not exist in this version.
func (c *Client) Put(ctx context.Context, key, value []byte, ttlSeconds uint64) error {
	if !c.connected.Load() {
		return kverrors.ErrNotConnected
	}
	c.cfg.Metrics.IncrementPut()

	if uint64(len(value)) >= c.cfg.InlineValueThreshold {
		return kverrors.ErrNotImplemented
	}

	req := protocol.PutRequest{
		Key:         key,
		SourceKind:  protocol.ValueSourceInline,
		InlineValue: value,
		TTLSeconds:  ttlSeconds,
	}

	var reply protocol.PutReply
	if err := c.roundTrip(ctx, controlplane.MsgPutRequest, req, controlplane.MsgPutReply, &reply); err != nil {
		return err
	}
	if !reply.Success {
		if sentinel := kverrors.FromMessage(reply.ErrorMessage); sentinel != nil {
			return fmt.Errorf("%w: put %q", sentinel, key)
		}
		return fmt.Errorf("put %q: %s", key, reply.ErrorMessage)
	}
	return nil
}

// Delete removes key if present, returning whether it existed.
func (c *Client) Delete(ctx context.Context, key []byte) (bool, error) {
	if !c.connected.Load() {
		return false, kverrors.ErrNotConnected
	}
	c.cfg.Metrics.IncrementDelete()

	var reply protocol.DeleteReply
	if err := c.roundTrip(ctx, controlplane.MsgDeleteRequest, protocol.DeleteRequest{Key: key}, controlplane.MsgDeleteReply, &reply); err != nil {
		return false, err
	}
	return reply.KeyExisted, nil
}

// Heartbeat pings the server to confirm liveness.
func (c *Client) Heartbeat(ctx context.Context) (bool, error) {
	if !c.connected.Load() {
		return false, kverrors.ErrNotConnected
	}

	var reply protocol.HeartbeatReply
	if err := c.roundTrip(ctx, controlplane.MsgHeartbeatRequest, protocol.HeartbeatRequest{ClientID: c.cfg.ClientID}, controlplane.MsgHeartbeatReply, &reply); err != nil {
		return false, err
	}
	return reply.Alive, nil
}

// PendingCount reports how many GETs are currently in flight, used by
// tests to verify the pending table drains once replies are processed.
func (c *Client) PendingCount() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}
