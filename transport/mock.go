package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nvbkdw/kv-rdma-poc/protocol"
)

// mockLatency models the async completion delay of a one-sided write.
const mockLatency = 10 * time.Microsecond

// mockRegion is a registered memory region as the mock transport sees it:
// a same-address-space byte slice it can index directly.
type mockRegion struct {
	basePtr uint64
	buf     []byte
}

// MockTransport simulates one-sided RDMA writes with an in-process byte
// copy. It is correct only when both endpoints live in the same address
// space; the point of the mock is to exercise the server/client control
// flow without a real fabric.
type MockTransport struct {
	log      *zap.SugaredLogger
	nodeID   uint32
	domains  []protocol.DomainAddress
	rkeySeed uint64

	mu    sync.Mutex
	owned []uint64 // base ptrs this endpoint registered, removed from the shared registry on Close

	closed atomic.Bool
}

// mockRegistry is shared process-wide so that a server's MockTransport can
// resolve a client's MemoryRegionDescriptor.BasePtr (and vice versa). This
// is the mock's same-address-space contract; a real fabric driver would
// instead resolve dst_descriptor through the wire-visible RemoteKey, never
// a raw pointer.
var mockRegistry = struct {
	mu      sync.RWMutex
	regions map[uint64]*mockRegion
}{regions: make(map[uint64]*mockRegion)}

// MockFactory constructs MockTransport instances, registered under the
// driver name "mock".
type MockFactory struct {
	Logger *zap.SugaredLogger
}

func (f MockFactory) NewTransport(nodeID uint32, numDomains int) (Transport, error) {
	if numDomains <= 0 {
		numDomains = 1
	}
	logger := f.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	domains := make([]protocol.DomainAddress, numDomains)
	for i := 0; i < numDomains; i++ {
		domains[i] = protocol.DomainAddress(fmt.Sprintf("mock://node%d/domain%d", nodeID, i))
	}

	logger.Infow("mock transport opened; same-address-space simulator only",
		"node_id", nodeID, "num_domains", numDomains)

	return &MockTransport{
		log:      logger,
		nodeID:   nodeID,
		domains:  domains,
		rkeySeed: uint64(nodeID)<<32 | 0x5a5a5a5a,
	}, nil
}

func init() {
	Register("mock", MockFactory{})
}

func (t *MockTransport) DomainAddresses() []protocol.DomainAddress {
	return t.domains
}

func (t *MockTransport) RegisterMemory(buf []byte) (protocol.MemoryRegionHandle, protocol.MemoryRegionDescriptor, error) {
	if len(buf) == 0 {
		return protocol.MemoryRegionHandle{}, protocol.MemoryRegionDescriptor{}, fmt.Errorf("transport: cannot register empty buffer")
	}

	base := bufferBasePtr(buf)
	region := &mockRegion{basePtr: base, buf: buf}

	mockRegistry.mu.Lock()
	mockRegistry.regions[base] = region
	mockRegistry.mu.Unlock()

	t.mu.Lock()
	t.owned = append(t.owned, base)
	t.mu.Unlock()

	perDomain := make([]protocol.AddrRKey, len(t.domains))
	for i, d := range t.domains {
		perDomain[i] = protocol.AddrRKey{
			Domain: d,
			RKey:   protocol.RemoteKey(t.rkeySeed + uint64(i) + base),
		}
	}

	handle := protocol.MemoryRegionHandle{BasePtr: base, Length: uint64(len(buf))}
	descriptor := protocol.MemoryRegionDescriptor{BasePtr: base, PerDomain: perDomain}

	t.log.Debugw("registered memory region", "base_ptr", base, "length", len(buf))
	return handle, descriptor, nil
}

func (t *MockTransport) SubmitTransferAsync(ctx context.Context, req TransferRequest) (<-chan TransferResult, error) {
	resultCh := make(chan TransferResult, 1)

	mockRegistry.mu.RLock()
	src, srcOK := mockRegistry.regions[req.SrcHandle.BasePtr]
	dst, dstOK := mockRegistry.regions[req.DstDescriptor.BasePtr]
	mockRegistry.mu.RUnlock()

	if !srcOK || !dstOK {
		resultCh <- TransferResult{Success: false, Error: fmt.Errorf("%w: unregistered region (src_ok=%v dst_ok=%v); mock transport only works within one address space", ErrTransferFailed, srcOK, dstOK)}
		close(resultCh)
		return resultCh, nil
	}

	if req.SrcOffset+req.Length > uint64(len(src.buf)) || req.DstOffset+req.Length > uint64(len(dst.buf)) {
		resultCh <- TransferResult{Success: false, Error: fmt.Errorf("%w: transfer out of bounds", ErrTransferFailed)}
		close(resultCh)
		return resultCh, nil
	}

	go func() {
		timer := time.NewTimer(mockLatency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			resultCh <- TransferResult{Success: false, Error: ctx.Err()}
			close(resultCh)
			return
		case <-timer.C:
		}

		copy(dst.buf[req.DstOffset:req.DstOffset+req.Length], src.buf[req.SrcOffset:req.SrcOffset+req.Length])

		resultCh <- TransferResult{Success: true}
		close(resultCh)
	}()

	return resultCh, nil
}

func (t *MockTransport) PollCompletion() {
	// The mock always delivers its result over the channel returned by
	// SubmitTransferAsync; nothing to drain here.
}

func (t *MockTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	// The mock registry is process-global (see mockRegistry), so only the
	// regions this endpoint registered are removed; peers' registrations
	// stay resolvable.
	t.mu.Lock()
	owned := t.owned
	t.owned = nil
	t.mu.Unlock()

	mockRegistry.mu.Lock()
	for _, base := range owned {
		delete(mockRegistry.regions, base)
	}
	mockRegistry.mu.Unlock()
	return nil
}
