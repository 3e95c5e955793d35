package netio

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanodns/nanodns/internal/dns/common/log"
)

func TestUDPSocket_ReceiveAndSend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sock := NewUDPSocket("127.0.0.1:0", 16, log.NewNoopLogger())
	require.NoError(t, sock.Start(ctx))
	defer func() { _ = sock.Stop() }()

	client, err := net.Dial("udp", sock.LocalAddr().String())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("hello"))
	require.NoError(t, err)

	select {
	case dg := <-sock.Datagrams():
		assert.Equal(t, []byte("hello"), dg.Data)

		// reply over the server socket
		require.NoError(t, sock.Send([]byte("world"), dg.Addr))
		buf := make([]byte, 64)
		require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
		n, err := client.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, "world", string(buf[:n]))
	case <-time.After(2 * time.Second):
		t.Fatal("datagram not received")
	}
}

func TestUDPSocket_PreservesArrivalOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sock := NewUDPSocket("127.0.0.1:0", 16, log.NewNoopLogger())
	require.NoError(t, sock.Start(ctx))
	defer func() { _ = sock.Stop() }()

	client, err := net.Dial("udp", sock.LocalAddr().String())
	require.NoError(t, err)
	defer client.Close()

	for _, payload := range []string{"one", "two", "three"} {
		_, err := client.Write([]byte(payload))
		require.NoError(t, err)
	}

	for _, want := range []string{"one", "two", "three"} {
		select {
		case dg := <-sock.Datagrams():
			assert.Equal(t, want, string(dg.Data))
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestUDPSocket_StartTwiceFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sock := NewUDPSocket("127.0.0.1:0", 16, log.NewNoopLogger())
	require.NoError(t, sock.Start(ctx))
	defer func() { _ = sock.Stop() }()

	assert.Error(t, sock.Start(ctx))
}

func TestUDPSocket_StopIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sock := NewUDPSocket("127.0.0.1:0", 16, log.NewNoopLogger())
	require.NoError(t, sock.Start(ctx))
	require.NoError(t, sock.Stop())
	assert.NoError(t, sock.Stop())
}

func TestUDPSocket_BadAddress(t *testing.T) {
	sock := NewUDPSocket("not-an-address", 16, log.NewNoopLogger())
	assert.Error(t, sock.Start(context.Background()))
}
