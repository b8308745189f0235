package protocol

// Control-plane RPC request/reply pairs. Field names are contractual.
// Values travel CBOR-encoded inside a controlplane.Frame.

// RegisterClientRequest registers a client's identity, domain addresses and
// receive-buffer size with the server.
type RegisterClientRequest struct {
	ClientID          uint32          `cbor:"client_id"`
	DomainAddresses   []DomainAddress `cbor:"domain_addresses"`
	ReceiveBufferSize uint64          `cbor:"receive_buffer_size"`
}

// RegisterClientReply returns the server's own identity so the client can
// later name the server.
type RegisterClientReply struct {
	Success               bool            `cbor:"success"`
	ServerID              uint32          `cbor:"server_id"`
	ServerDomainAddresses []DomainAddress `cbor:"server_domain_addresses"`
}

// GetRequest asks the server to one-sided-write the value for Key into
// ResponseLocation.
type GetRequest struct {
	Key              []byte        `cbor:"key"`
	ResponseLocation ValueLocation `cbor:"response_location"`
	RequestID        uint64        `cbor:"request_id"`
}

// GetReply reports whether the transfer landed, and how many bytes were
// written, so the client knows how much of its slot to read back.
type GetReply struct {
	Success      bool   `cbor:"success"`
	ValueLength  uint64 `cbor:"value_length"`
	ErrorMessage string `cbor:"error_message"`
	RequestID    uint64 `cbor:"request_id"`
}

// ValueSourceKind discriminates PutRequest.ValueSource.
type ValueSourceKind uint8

const (
	// ValueSourceInline carries the value inline in the control message.
	ValueSourceInline ValueSourceKind = iota
	// ValueSourceRDMA describes the value via a ValueLocation the server
	// would read via a one-sided read. Always rejected with NotImplemented
	// in this version.
	ValueSourceRDMA
)

// PutRequest stores Value (or, in the unimplemented path, describes its
// RDMA location) under Key with the given TTL.
type PutRequest struct {
	Key          []byte          `cbor:"key"`
	SourceKind   ValueSourceKind `cbor:"source_kind"`
	InlineValue  []byte          `cbor:"inline_value,omitempty"`
	RDMALocation ValueLocation   `cbor:"rdma_location,omitempty"`
	TTLSeconds   uint64          `cbor:"ttl_seconds"`
}

// PutReply reports success/failure of a PUT.
type PutReply struct {
	Success      bool   `cbor:"success"`
	ErrorMessage string `cbor:"error_message"`
}

// DeleteRequest removes a key if present.
type DeleteRequest struct {
	Key []byte `cbor:"key"`
}

// DeleteReply reports whether the key existed; DELETE never fails.
type DeleteReply struct {
	Success    bool `cbor:"success"`
	KeyExisted bool `cbor:"key_existed"`
}

// HeartbeatRequest pings the server to confirm liveness.
type HeartbeatRequest struct {
	ClientID uint32 `cbor:"client_id"`
}

// HeartbeatReply confirms the server is alive.
type HeartbeatReply struct {
	Alive bool `cbor:"alive"`
}
