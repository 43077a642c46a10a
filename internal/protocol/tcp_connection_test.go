package protocol

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// newTCPPair returns an open TCPConnection and the server side of the socket
func newTCPPair(t *testing.T, readTimeout time.Duration) (*TCPConnection, net.Conn) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()

	addr := listener.Addr().(*net.TCPAddr)
	conn := NewTCPConnection(&TCPConfig{
		Host:         "127.0.0.1",
		Port:         addr.Port,
		Timeout:      time.Second,
		ReadTimeout:  readTimeout,
		WriteTimeout: time.Second,
	}, zaptest.NewLogger(t))
	require.NoError(t, conn.Open())
	t.Cleanup(func() { conn.Close() })

	select {
	case peer, ok := <-accepted:
		require.True(t, ok, "listener closed before accepting")
		t.Cleanup(func() { peer.Close() })
		return conn, peer
	case <-time.After(time.Second):
		t.Fatal("no connection accepted")
		return nil, nil
	}
}

func TestTCPConnectionReadTimeout(t *testing.T) {
	conn, _ := newTCPPair(t, 20*time.Millisecond)

	start := time.Now()
	n, err := conn.Read(make([]byte, 16))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestTCPConnectionSetReadTimeout(t *testing.T) {
	conn, _ := newTCPPair(t, time.Second)
	require.NoError(t, conn.SetReadTimeout(10*time.Millisecond))

	start := time.Now()
	n, err := conn.Read(make([]byte, 16))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestTCPConnectionWriteRead(t *testing.T) {
	conn, peer := newTCPPair(t, 500*time.Millisecond)

	_, err := conn.Write([]byte("PX\r"))
	require.NoError(t, err)

	got := make([]byte, 3)
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = peer.Read(got)
	require.NoError(t, err)
	assert.Equal(t, "PX\r", string(got))

	_, err = peer.Write([]byte("10\r"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "10\r", string(buf[:n]))
}

func TestTCPConnectionResetInputBuffer(t *testing.T) {
	conn, peer := newTCPPair(t, 20*time.Millisecond)

	_, err := peer.Write([]byte("R\rstale\r"))
	require.NoError(t, err)
	// let the bytes reach the socket buffer
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, conn.ResetInputBuffer())

	n, err := conn.Read(make([]byte, 16))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTCPConnectionClosed(t *testing.T) {
	conn, _ := newTCPPair(t, 20*time.Millisecond)
	require.NoError(t, conn.Close())
	assert.False(t, conn.IsOpen())

	_, err := conn.Read(make([]byte, 4))
	assert.Error(t, err)
	_, err = conn.Write([]byte("?\r"))
	assert.Error(t, err)
	assert.Error(t, conn.ResetInputBuffer())
}
