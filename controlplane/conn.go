package controlplane

import (
	"bufio"
	"net"
	"sync"
)

// Conn wraps a net.Conn with framed, CBOR-bodied message exchange. The
// control plane carries small, self-contained RPC bodies, so a Conn is a
// thin, single-purpose framer: no encryption, rotation, or MTU chunking
// to manage.
type Conn struct {
	nc     net.Conn
	reader *bufio.Reader

	wmu sync.Mutex
}

// NewConn wraps an established net.Conn (from net.Dial or Listener.Accept).
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc, reader: bufio.NewReader(nc)}
}

// Send CBOR-encodes v and writes it as a frame of type t. Safe for
// concurrent use; writes from multiple goroutines are serialized.
func (c *Conn) Send(t MsgType, v any) error {
	payload, err := Encode(v)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return WriteFrame(c.nc, Frame{Type: t, Payload: payload})
}

// Recv reads the next frame and returns its type and raw payload; the
// caller decodes the payload with Decode into the struct its MsgType
// implies.
func (c *Conn) Recv() (MsgType, []byte, error) {
	f, err := ReadFrame(c.reader)
	if err != nil {
		return 0, nil, err
	}
	return f.Type, f.Payload, nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// RemoteAddr returns the peer address of the underlying connection.
func (c *Conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}
