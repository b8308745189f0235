package server

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/nvbkdw/kv-rdma-poc/controlplane"
	"github.com/nvbkdw/kv-rdma-poc/kverrors"
	"github.com/nvbkdw/kv-rdma-poc/protocol"
)

// Listener accepts control-plane TCP connections, one per client, and
// dispatches each accepted connection's request handling onto the Server's
// fixed worker pool.
type Listener struct {
	srv *Server
	nl  net.Listener
}

// Listen starts accepting control-plane connections on addr ("host:port").
// Each accepted connection is served on the Server's worker pool until the
// peer closes it or a protocol error occurs.
func (s *Server) Listen(addr string) (*Listener, error) {
	nl, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	l := &Listener{srv: s, nl: nl}
	go l.acceptLoop()
	return l, nil
}

// Addr returns the listener's bound network address.
func (l *Listener) Addr() net.Addr {
	return l.nl.Addr()
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.nl.Close()
}

func (l *Listener) acceptLoop() {
	for {
		nc, err := l.nl.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// Transient accept failures (fd exhaustion, aborted handshakes)
			// back off for a poll interval rather than spinning.
			l.srv.log.Warnw("accept failed", "error", err)
			time.Sleep(l.srv.cfg.AcceptPoll)
			continue
		}
		conn := controlplane.NewConn(nc)
		sessionID := uuid.New()
		l.srv.log.Debugw("control-plane connection accepted", "session_id", sessionID, "remote_addr", conn.RemoteAddr())
		l.srv.Submit(func(ctx context.Context) error {
			l.serveConn(ctx, sessionID, conn)
			return nil
		})
	}
}

// serveConn processes control-plane RPCs on conn sequentially (at most
// one outstanding RPC per connection) until the peer disconnects or sends
// a malformed frame. sessionID correlates this connection's log lines; it
// carries no protocol meaning.
func (l *Listener) serveConn(ctx context.Context, sessionID uuid.UUID, conn *controlplane.Conn) {
	defer conn.Close()
	defer l.srv.log.Debugw("control-plane connection closed", "session_id", sessionID)

	for {
		msgType, payload, err := conn.Recv()
		if err != nil {
			if err != io.EOF {
				l.srv.log.Debugw("control-plane read ended", "session_id", sessionID, "error", err)
			}
			return
		}

		if err := l.dispatch(ctx, conn, msgType, payload); err != nil {
			l.srv.log.Warnw("control-plane dispatch failed", "session_id", sessionID, "msg_type", msgType, "error", err)
			return
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, conn *controlplane.Conn, msgType controlplane.MsgType, payload []byte) error {
	switch msgType {
	case controlplane.MsgRegisterClientRequest:
		var req protocol.RegisterClientRequest
		if err := controlplane.Decode(payload, &req); err != nil {
			return err
		}
		serverID, serverDomains := l.srv.RegisterClient(req.ClientID, req.DomainAddresses, req.ReceiveBufferSize)
		return conn.Send(controlplane.MsgRegisterClientReply, protocol.RegisterClientReply{
			Success:               true,
			ServerID:              serverID,
			ServerDomainAddresses: serverDomains,
		})

	case controlplane.MsgGetRequest:
		var req protocol.GetRequest
		if err := controlplane.Decode(payload, &req); err != nil {
			return err
		}
		length, err := l.srv.Get(ctx, req.Key, req.ResponseLocation)
		reply := protocol.GetReply{RequestID: req.RequestID}
		if err != nil {
			reply.Success = false
			reply.ErrorMessage = kverrors.Message(err)
		} else {
			reply.Success = true
			reply.ValueLength = length
		}
		return conn.Send(controlplane.MsgGetReply, reply)

	case controlplane.MsgPutRequest:
		var req protocol.PutRequest
		if err := controlplane.Decode(payload, &req); err != nil {
			return err
		}
		reply := protocol.PutReply{Success: true}
		switch req.SourceKind {
		case protocol.ValueSourceInline:
			if err := l.srv.Put(req.Key, req.InlineValue, req.TTLSeconds); err != nil {
				reply.Success = false
				reply.ErrorMessage = kverrors.Message(err)
			}
		case protocol.ValueSourceRDMA:
			reply.Success = false
			reply.ErrorMessage = kverrors.Message(kverrors.ErrNotImplemented)
		default:
			reply.Success = false
			reply.ErrorMessage = kverrors.Message(kverrors.ErrInvalidArgument)
		}
		return conn.Send(controlplane.MsgPutReply, reply)

	case controlplane.MsgDeleteRequest:
		var req protocol.DeleteRequest
		if err := controlplane.Decode(payload, &req); err != nil {
			return err
		}
		existed := l.srv.Delete(req.Key)
		return conn.Send(controlplane.MsgDeleteReply, protocol.DeleteReply{Success: true, KeyExisted: existed})

	case controlplane.MsgHeartbeatRequest:
		var req protocol.HeartbeatRequest
		if err := controlplane.Decode(payload, &req); err != nil {
			return err
		}
		alive := l.srv.Heartbeat(req.ClientID)
		return conn.Send(controlplane.MsgHeartbeatReply, protocol.HeartbeatReply{Alive: alive})

	default:
		return kverrors.ErrInvalidArgument
	}
}
