// Package server implements the cache node core: it owns the pinned
// memory pool, a transport, the cache index, and the client registry, and
// orchestrates them to honour GET/PUT/DELETE over the control plane
// (package controlplane).
package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/nvbkdw/kv-rdma-poc/cacheindex"
	"github.com/nvbkdw/kv-rdma-poc/internal/scheduler"
	"github.com/nvbkdw/kv-rdma-poc/kverrors"
	"github.com/nvbkdw/kv-rdma-poc/observability"
	"github.com/nvbkdw/kv-rdma-poc/pool"
	"github.com/nvbkdw/kv-rdma-poc/protocol"
	"github.com/nvbkdw/kv-rdma-poc/serverconf"
	"github.com/nvbkdw/kv-rdma-poc/transport"
)

// RegisteredClient is the client registry's record. No liveness timeout
// is enforced in this version; Heartbeat answers but never expires a
// client. LastSeen is advanced on registration and on every heartbeat so
// the registry janitor can report stale clients.
type RegisteredClient struct {
	DomainAddresses   []protocol.DomainAddress
	ReceiveBufferSize uint64
	LastSeen          time.Time
}

// Server is the cache node core.
type Server struct {
	cfg *serverconf.Config
	log *zap.SugaredLogger

	pool       *pool.MemoryPool
	transport  transport.Transport
	handle     protocol.MemoryRegionHandle
	descriptor protocol.MemoryRegionDescriptor

	index *cacheindex.Index
	sem   *semaphore.Weighted

	regMu    sync.RWMutex
	registry map[uint32]RegisteredClient

	sched *scheduler.Pool
}

// New constructs a Server: opens the configured transport, allocates and
// registers the pool, and wires the cache index's reclamation callback to
// the pool's deallocator.
func New(ctx context.Context, opts ...serverconf.Option) (*Server, error) {
	cfg := serverconf.Apply(opts...)

	tr, err := transport.Open(cfg.TransportDriver, cfg.NodeID, cfg.NumDomains)
	if err != nil {
		return nil, fmt.Errorf("server: open transport: %w", err)
	}

	p := pool.New(pool.Config{Size: cfg.MemoryBytes, Alignment: cfg.Alignment})

	handle, descriptor, err := tr.RegisterMemory(p.Buffer())
	if err != nil {
		return nil, fmt.Errorf("server: register pool memory: %w", err)
	}

	s := &Server{
		cfg:        cfg,
		log:        cfg.Logger,
		pool:       p,
		transport:  tr,
		handle:     handle,
		descriptor: descriptor,
		sem:        semaphore.NewWeighted(int64(cfg.WorkerThreads)),
		registry:   make(map[uint32]RegisteredClient),
		sched:      scheduler.New(ctx, cfg.WorkerThreads),
	}
	s.index = cacheindex.New(cfg.Clock, s.reclaimPoolRange)

	go s.janitor(ctx)

	s.log.Infow("server core started",
		"node_id", cfg.NodeID, "memory_bytes", cfg.MemoryBytes,
		"num_domains", cfg.NumDomains, "transport", cfg.TransportDriver)

	return s, nil
}

func (s *Server) reclaimPoolRange(offset, size uint64) {
	s.pool.Deallocate(offset, size)
}

// janitor periodically sweeps the client registry for clients whose last
// heartbeat is older than the configured idle timeout. This version only
// reports them; a registered client is never evicted, so the sweep is an
// observability aid, not a reclamation path.
func (s *Server) janitor(ctx context.Context) {
	ticker := s.cfg.Clock.Ticker(s.cfg.IdleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := s.cfg.Clock.Now()
			s.regMu.RLock()
			for id, rc := range s.registry {
				if now.Sub(rc.LastSeen) > s.cfg.IdleTimeout {
					s.log.Warnw("client idle past timeout",
						"client_id", id, "last_seen", rc.LastSeen)
				}
			}
			s.regMu.RUnlock()
		}
	}
}

// Descriptor returns this server's pool descriptor. It is not sent to
// clients: the RegisterClient reply carries only the server's node ID and
// domain addresses.
func (s *Server) Descriptor() protocol.MemoryRegionDescriptor {
	return s.descriptor
}

// DomainAddresses returns the NICs this server's transport owns.
func (s *Server) DomainAddresses() []protocol.DomainAddress {
	return s.transport.DomainAddresses()
}

// Stats exposes the pool's usage for diagnostics and tests.
func (s *Server) Stats() pool.Stats {
	return s.pool.Stats()
}

// Metrics returns the server's counter collector.
func (s *Server) Metrics() observability.Metrics {
	return s.cfg.Metrics
}

// Close tears down the worker pool and the transport. The pool buffer is
// simply dropped; there is no resize and no persistence.
func (s *Server) Close() error {
	_ = s.sched.Wait()
	return s.transport.Close()
}

// Put stores value under key with the given TTL. Replacing an existing
// entry's allocation is handled by cacheindex.Index.Put, which reclaims
// the old range once safe.
func (s *Server) Put(key []byte, value []byte, ttlSeconds uint64) error {
	s.cfg.Metrics.IncrementPut()

	alloc, err := s.pool.Allocate(uint64(len(value)))
	if err != nil {
		s.cfg.Metrics.IncrementPoolExhausted()
		return kverrors.ErrPoolExhausted
	}

	if err := s.pool.Write(alloc.Offset, value); err != nil {
		s.pool.Deallocate(alloc.Offset, alloc.Size)
		return fmt.Errorf("%w: %v", kverrors.ErrInternal, err)
	}

	entry := &cacheindex.Entry{
		DataLength: uint64(len(value)),
		PoolOffset: alloc.Offset,
		TTLSeconds: ttlSeconds,
		CreatedAt:  s.cfg.Clock.Now(),
	}
	s.index.Put(string(key), entry)

	s.log.Debugw("put", "key", string(key), "length", len(value), "ttl_seconds", ttlSeconds)
	return nil
}

// Get looks up key and, if present and fresh, issues a one-sided write of
// its value to respLoc, blocking until the transfer has landed. The reply
// that follows is therefore safe to use as a payload-readable signal.
func (s *Server) Get(ctx context.Context, key []byte, respLoc protocol.ValueLocation) (valueLength uint64, err error) {
	s.cfg.Metrics.IncrementGet()
	keyStr := string(key)

	entry, ok := s.index.Get(keyStr)
	if !ok {
		s.cfg.Metrics.IncrementGetMiss()
		return 0, kverrors.ErrNotFound
	}
	defer s.index.Release(keyStr, entry)

	if respLoc.Length < entry.DataLength {
		return 0, kverrors.ErrBufferTooSmall
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return 0, fmt.Errorf("%w: %v", kverrors.ErrInternal, err)
	}
	defer s.sem.Release(1)

	resultCh, err := s.transport.SubmitTransferAsync(ctx, transport.TransferRequest{
		SrcHandle:     s.handle,
		SrcOffset:     entry.PoolOffset,
		Length:        entry.DataLength,
		DstDescriptor: respLoc.MRDescriptor,
		DstOffset:     respLoc.Offset,
		Routing:       transport.RoundRobinSharded{NumShards: 1},
	})
	if err != nil {
		s.cfg.Metrics.IncrementTransferFailure()
		return 0, fmt.Errorf("%w: %v", kverrors.ErrTransferFailed, err)
	}

	select {
	case <-ctx.Done():
		// Let the in-flight transfer settle before the deferred Release can
		// hand the entry's range back to the pool.
		<-resultCh
		return 0, ctx.Err()
	case result := <-resultCh:
		if !result.Success {
			s.cfg.Metrics.IncrementTransferFailure()
			return 0, fmt.Errorf("%w: %v", kverrors.ErrTransferFailed, result.Error)
		}
	}

	s.cfg.Metrics.IncrementGetHit()
	s.cfg.Metrics.IncrementBytesTransferred(int64(entry.DataLength))
	s.log.Debugw("get", "key", keyStr, "length", entry.DataLength)
	return entry.DataLength, nil
}

// Delete removes key if present; it never fails.
func (s *Server) Delete(key []byte) (keyExisted bool) {
	s.cfg.Metrics.IncrementDelete()
	existed := s.index.Delete(string(key))
	s.log.Debugw("delete", "key", string(key), "existed", existed)
	return existed
}

// RegisterClient records a client's identity and receive pool description,
// returning this server's own identity so the client can later name it.
func (s *Server) RegisterClient(clientID uint32, domains []protocol.DomainAddress, receiveBufferSize uint64) (serverID uint32, serverDomains []protocol.DomainAddress) {
	s.regMu.Lock()
	s.registry[clientID] = RegisteredClient{
		DomainAddresses:   domains,
		ReceiveBufferSize: receiveBufferSize,
		LastSeen:          s.cfg.Clock.Now(),
	}
	s.regMu.Unlock()

	s.log.Infow("client registered", "client_id", clientID, "receive_buffer_size", receiveBufferSize)
	return s.cfg.NodeID, s.transport.DomainAddresses()
}

// Heartbeat answers liveness for clientID and advances its registry
// record's LastSeen. It never expires a client in this version.
func (s *Server) Heartbeat(clientID uint32) bool {
	s.cfg.Metrics.IncrementHeartbeat()

	s.regMu.Lock()
	if rc, ok := s.registry[clientID]; ok {
		rc.LastSeen = s.cfg.Clock.Now()
		s.registry[clientID] = rc
	}
	s.regMu.Unlock()
	return true
}

// InlineValueThreshold returns the byte size at or above which a PUT's
// value must travel as an RDMA location rather than inline.
func (s *Server) InlineValueThreshold() uint64 {
	return s.cfg.InlineValueThreshold
}

// Submit dispatches fn onto the server's fixed worker pool.
func (s *Server) Submit(fn func(ctx context.Context) error) {
	s.sched.Submit(fn)
}
