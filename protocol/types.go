// Package protocol defines the wire-visible data model shared by the
// control plane and the data plane: domain addresses, remote keys, memory
// region descriptors, and the value locations used to target a one-sided
// write.
package protocol

import "bytes"

// DomainAddress names one NIC endpoint. Compared by equality.
type DomainAddress []byte

// Equal reports whether two domain addresses name the same NIC endpoint.
func (a DomainAddress) Equal(b DomainAddress) bool {
	return bytes.Equal(a, b)
}

func (a DomainAddress) String() string {
	return string(a)
}

// RemoteKey authorises a remote NIC to write into a memory region. One
// RemoteKey exists per (memory region, domain) pair.
type RemoteKey uint64

// AddrRKey pairs a domain with the remote key a peer must present to write
// into the region via that domain.
type AddrRKey struct {
	Domain DomainAddress `cbor:"domain"`
	RKey   RemoteKey     `cbor:"rkey"`
}

// MemoryRegionHandle identifies a registered region to its owning process
// only; it is never shipped across the wire. The address is opaque to
// everyone except the endpoint that registered the region.
type MemoryRegionHandle struct {
	BasePtr uint64 `cbor:"-"`
	Length  uint64 `cbor:"-"`
}

// MemoryRegionDescriptor is the remote-visible counterpart of a
// MemoryRegionHandle: it carries enough information for a peer to target a
// one-sided write at this region via any of the listed NICs.
type MemoryRegionDescriptor struct {
	BasePtr   uint64     `cbor:"base_ptr"`
	PerDomain []AddrRKey `cbor:"per_domain"`
}

// FirstDomain returns the descriptor's first listed domain, for callers
// that only care about single-NIC setups.
func (d MemoryRegionDescriptor) FirstDomain() (DomainAddress, bool) {
	if len(d.PerDomain) == 0 {
		return nil, false
	}
	return d.PerDomain[0].Domain, true
}

// ValueLocation uniquely locates a window inside some peer's registered
// region, used both to describe a client's GET receive slot and (in a
// future RDMA-sourced PUT) a client's source value.
type ValueLocation struct {
	NodeID       uint32                 `cbor:"node_id"`
	MRDescriptor MemoryRegionDescriptor `cbor:"mr_descriptor"`
	Offset       uint64                 `cbor:"offset"`
	Length       uint64                 `cbor:"length"`
}
