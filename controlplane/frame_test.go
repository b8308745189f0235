package controlplane_test

import (
	"bufio"
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvbkdw/kv-rdma-poc/controlplane"
	"github.com/nvbkdw/kv-rdma-poc/protocol"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	payload, err := controlplane.Encode(protocol.DeleteRequest{Key: []byte("hello")})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, controlplane.WriteFrame(&buf, controlplane.Frame{Type: controlplane.MsgDeleteRequest, Payload: payload}))

	got, err := controlplane.ReadFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, controlplane.MsgDeleteRequest, got.Type)

	var req protocol.DeleteRequest
	require.NoError(t, controlplane.Decode(got.Payload, &req))
	assert.Equal(t, []byte("hello"), req.Key)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	header := []byte{0xff, 0xff, 0xff, 0xff, byte(controlplane.MsgGetRequest)}
	buf.Write(header)

	_, err := controlplane.ReadFrame(bufio.NewReader(&buf))
	require.ErrorIs(t, err, controlplane.ErrFrameTooLarge)
}

func TestConnSendRecvRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	cs := controlplane.NewConn(server)
	cc := controlplane.NewConn(client)

	go func() {
		_ = cs.Send(controlplane.MsgHeartbeatReply, protocol.HeartbeatReply{Alive: true})
	}()

	msgType, payload, err := cc.Recv()
	require.NoError(t, err)
	assert.Equal(t, controlplane.MsgHeartbeatReply, msgType)

	var reply protocol.HeartbeatReply
	require.NoError(t, controlplane.Decode(payload, &reply))
	assert.True(t, reply.Alive)
}
