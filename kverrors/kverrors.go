// Package kverrors defines the error taxonomy shared by the server and
// client cores: sentinel errors per kind, classified at the control-plane
// boundary into an RPC reply's success=false + error_message.
package kverrors

import (
	"errors"
	"strings"
)

var (
	// ErrNotConnected is returned by client operations issued before a
	// successful RegisterClient.
	ErrNotConnected = errors.New("kv: client has not registered with the server")
	// ErrNotFound is returned when a key is absent or has lazily expired.
	ErrNotFound = errors.New("kv: key not found")
	// ErrPoolExhausted is returned when the allocator cannot satisfy a
	// PUT/GET-slot allocation request.
	ErrPoolExhausted = errors.New("kv: memory pool exhausted")
	// ErrBufferTooSmall is returned on GET when the client's reserved slot
	// is smaller than the entry's data length.
	ErrBufferTooSmall = errors.New("kv: receive buffer too small for value")
	// ErrTransferFailed is returned when the one-sided transport write
	// failed or could not be confirmed landed.
	ErrTransferFailed = errors.New("kv: one-sided transfer failed")
	// ErrNotImplemented marks the RDMA-sourced large-value PUT path, which
	// this version declares unimplemented rather than inventing semantics
	// for it.
	ErrNotImplemented = errors.New("kv: operation not implemented")
	// ErrInvalidArgument is returned for malformed requests: a missing
	// response_location, a malformed descriptor, etc.
	ErrInvalidArgument = errors.New("kv: invalid argument")
	// ErrInternal marks an invariant violation: fatal to the request, not
	// to the process.
	ErrInternal = errors.New("kv: internal error")
)

// Message returns the string to ship as an RPC reply's error_message field
// for err: its full Error() text. An error built as
// fmt.Errorf("%w: ...", sentinel) therefore starts with the sentinel's
// text, which is what FromMessage matches on.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// sentinels lists every kind a reply's error_message can open with, so
// FromMessage can map a wire string back onto the sentinel it was minted
// from.
var sentinels = []error{
	ErrNotConnected,
	ErrNotFound,
	ErrPoolExhausted,
	ErrBufferTooSmall,
	ErrTransferFailed,
	ErrNotImplemented,
	ErrInvalidArgument,
	ErrInternal,
}

// FromMessage re-classifies an RPC reply's error_message into the sentinel
// it carries, so errors.Is works on the receiving side of the control
// plane. Messages that match no sentinel return nil.
func FromMessage(msg string) error {
	for _, s := range sentinels {
		if strings.HasPrefix(msg, s.Error()) {
			return s
		}
	}
	return nil
}
