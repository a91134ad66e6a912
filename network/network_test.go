package network

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshake_AcceptsMagic(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() { done <- sendMagic(client) }()

	require.NoError(t, expectMagic(server))
	require.NoError(t, <-done)
}

func TestHandshake_RejectsWrongMagic(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go client.Write([]byte("not-the-right-magic"))

	err := expectMagic(server)
	assert.Error(t, err)
}

func TestFrame_RoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	payload := []byte("hello peer")
	done := make(chan error, 1)
	go func() { done <- sendFrame(client, cmdTx, payload) }()

	cmd, got, err := readFrame(server)
	require.NoError(t, err)
	require.NoError(t, <-done)

	assert.Equal(t, cmdTx, cmd)
	assert.Equal(t, payload, got)
}

func TestCmdToBytesAndBack(t *testing.T) {
	assert.Equal(t, cmdBlock, bytesToCmd(cmdToBytes(cmdBlock)))
}

func TestServer_PeerBookkeeping(t *testing.T) {
	s := NewServer(nil, "localhost:9000", nil)
	s.AddPeer("localhost:9001")
	s.AddPeer("localhost:9002")
	assert.ElementsMatch(t, []string{"localhost:9001", "localhost:9002"}, s.Peers())

	s.RemovePeer("localhost:9001")
	assert.ElementsMatch(t, []string{"localhost:9002"}, s.Peers())
}
