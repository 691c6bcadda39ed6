package tcp

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/netfabric/internal/netfabric"
)

// echoListener accepts one connection and echoes everything it reads
// back to the same connection until it is closed.
func echoListener(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				if _, werr := conn.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return ln.Addr().String()
}

func TestClientConnectSendReceiveEcho(t *testing.T) {
	accepted := make(chan *Client, 1)
	srv := &Server{
		AcceptThreads: 1,
		ClientAccepted: func(sc *Client) {
			sc.Received = func(data []byte) bool {
				_, _ = sc.Send(append([]byte{}, data...))
				return true
			}
			accepted <- sc
		},
	}
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	defer srv.Close()
	addr := srv.listeners[0].Addr().String()

	c := NewClient()
	c.ConnectTimeout = time.Second
	require.NoError(t, c.Connect(addr))
	defer c.Close()

	n, err := c.Send([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	stream := c.GetStream()
	buf := make([]byte, 16)
	n, err = stream.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	var sc *Client
	select {
	case sc = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted a client")
	}

	deadline := time.Now().Add(2 * time.Second)
	for sc.BytesReceived() < 5 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	assert.EqualValues(t, 5, c.BytesSent())
	assert.EqualValues(t, 5, c.BytesReceived())
	assert.EqualValues(t, 5, sc.BytesSent())
	assert.EqualValues(t, 5, sc.BytesReceived())
}

func TestClientConnectTwiceFails(t *testing.T) {
	addr := echoListener(t)
	c := NewClient()
	require.NoError(t, c.Connect(addr))
	defer c.Close()
	assert.Error(t, c.Connect(addr))
}

func TestClientCloseFiresDisconnectedOnce(t *testing.T) {
	addr := echoListener(t)
	c := NewClient()

	var mu sync.Mutex
	count := 0
	c.Disconnected = func() {
		mu.Lock()
		count++
		mu.Unlock()
	}

	require.NoError(t, c.Connect(addr))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestClientCloseWithoutConnectNeverFiresDisconnected(t *testing.T) {
	c := NewClient()
	fired := false
	c.Disconnected = func() { fired = true }
	require.NoError(t, c.Close())
	assert.False(t, fired)
}

func TestWriteTimeoutReturnsSendTimeout(t *testing.T) {
	c := NewClient()
	c.SendTimeout = 3 * time.Second
	assert.Equal(t, 3*time.Second, c.WriteTimeout())
}

func TestSendAsyncInvokesCallback(t *testing.T) {
	addr := echoListener(t)
	c := NewClient()
	require.NoError(t, c.Connect(addr))
	defer c.Close()

	done := make(chan error, 1)
	c.SendAsync([]byte("x"), func(n int, err error) { done <- err })

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("SendAsync callback never fired")
	}
	assert.Equal(t, int64(0), c.PendingAsyncSends())
}

func TestStreamReadReturnsEOFAfterDisconnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}()

	c := NewClient()
	require.NoError(t, c.Connect(ln.Addr().String()))
	defer c.Close()

	stream := c.GetStream()
	buf := make([]byte, 16)
	n, err := stream.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestConnectAppliesTTLSocketOption(t *testing.T) {
	addr := echoListener(t)
	c := NewClient()
	c.TTL = 42
	require.NoError(t, c.Connect(addr))
	defer c.Close()
	// applySocketOptions runs during Connect; a successful connect with
	// TTL set is as much as can be asserted without reading the option
	// back through a raw socket, since net.TCPConn exposes no getter.
}

func TestCloseReturnsDeadlockWhenSyncRootHeld(t *testing.T) {
	addr := echoListener(t)
	c := NewClient()
	c.DeadLockTimeout = 50 * time.Millisecond
	require.NoError(t, c.Connect(addr))

	require.NoError(t, c.lock())
	defer c.unlock()

	start := time.Now()
	err := c.Close()
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, netfabric.ErrDeadlock)
	assert.Less(t, elapsed, 500*time.Millisecond)
}
