// Package transport exposes the one-sided RDMA data-plane abstraction:
// registering memory, naming domains (NICs), and submitting async
// one-sided writes whose completion only resolves once the payload has
// landed at the destination.
//
// Concrete fabrics plug in through the Factory registry, so a real fabric
// driver can be added later without touching callers.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nvbkdw/kv-rdma-poc/protocol"
)

// ErrTransferFailed wraps transport-level transfer failures, classified at
// the server boundary as TransferFailed.
var ErrTransferFailed = errors.New("transport: transfer failed")

// ErrUnknownDriver is returned when Open is asked for a driver name with no
// registered Factory.
var ErrUnknownDriver = errors.New("transport: unknown driver")

// Routing selects which domain(s) carry a transfer.
type Routing interface {
	isRouting()
}

// RoundRobinSharded splits a transfer into NumShards equal stripes across
// domains. NumShards=1 means the whole transfer rides one chosen domain.
type RoundRobinSharded struct {
	NumShards int
}

func (RoundRobinSharded) isRouting() {}

// Pinned always routes via the named domain index.
type Pinned struct {
	DomainIdx int
}

func (Pinned) isRouting() {}

// TransferRequest describes one one-sided write.
type TransferRequest struct {
	SrcHandle     protocol.MemoryRegionHandle
	SrcOffset     uint64
	Length        uint64
	ImmData       []byte
	DstDescriptor protocol.MemoryRegionDescriptor
	DstOffset     uint64
	Routing       Routing
}

// TransferResult reports the outcome of a TransferRequest.
type TransferResult struct {
	Success bool
	Error   error
}

// Transport is the capability set a GET/PUT data path relies on. Mock and
// real-fabric implementations satisfy it identically; callers never type
// switch on the concrete type.
type Transport interface {
	// DomainAddresses returns the NICs this endpoint owns.
	DomainAddresses() []protocol.DomainAddress

	// RegisterMemory pins the region backing buf and mints one RemoteKey per
	// domain, returning the local handle and the remote-visible descriptor.
	RegisterMemory(buf []byte) (protocol.MemoryRegionHandle, protocol.MemoryRegionDescriptor, error)

	// SubmitTransferAsync issues a one-sided write and returns a one-shot
	// channel that receives exactly one TransferResult once the write has
	// committed at the destination. Implementations that use callbacks
	// internally bridge them onto the channel.
	SubmitTransferAsync(ctx context.Context, req TransferRequest) (<-chan TransferResult, error)

	// PollCompletion is a non-blocking drain hook for transports whose
	// completions aren't delivered by the SubmitTransferAsync channel alone.
	// The mock transport's channel always already carries the result, so its
	// PollCompletion is a no-op.
	PollCompletion()

	// Close releases any transport-owned resources.
	Close() error
}

// Factory constructs a Transport for a node.
type Factory interface {
	NewTransport(nodeID uint32, numDomains int) (Transport, error)
}

var (
	factoriesMu sync.Mutex
	factories   = make(map[string]Factory)
)

// Register registers a Factory under name (e.g. "mock"). Panics on a
// duplicate registration: a second driver silently shadowing the first is
// a build-time mistake, not a runtime condition to recover from.
func Register(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, dup := factories[name]; dup {
		panic("transport: factory already registered for " + name)
	}
	factories[name] = f
}

// Drivers returns the names of all registered factories, sorted.
func Drivers() []string {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open constructs a Transport using the factory registered under name.
func Open(name string, nodeID uint32, numDomains int) (Transport, error) {
	factoriesMu.Lock()
	f, ok := factories[name]
	factoriesMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, name)
	}
	return f.NewTransport(nodeID, numDomains)
}
