package tcp

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerAcceptsAndEchoes(t *testing.T) {
	srv := &Server{
		AcceptThreads: 1,
		ClientAccepted: func(c *Client) {
			c.Received = func(data []byte) bool {
				_, _ = c.Send(append([]byte{}, data...))
				return true
			}
		},
	}
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	defer srv.Close()

	addr := srv.listeners[0].Addr().String()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
}

func TestServerTracksClientCount(t *testing.T) {
	var mu sync.Mutex
	accepted := make(chan struct{}, 1)
	srv := &Server{
		AcceptThreads: 1,
		ClientAccepted: func(c *Client) {
			mu.Lock()
			defer mu.Unlock()
			select {
			case accepted <- struct{}{}:
			default:
			}
		},
	}
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.listeners[0].Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("ClientAccepted never fired")
	}
	assert.Equal(t, 1, srv.ClientCount())
}

func TestServerCloseClosesTrackedClients(t *testing.T) {
	srv := &Server{AcceptThreads: 1}
	require.NoError(t, srv.Listen("127.0.0.1:0"))

	conn, err := net.Dial("tcp", srv.listeners[0].Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, srv.Close())
	assert.Equal(t, 0, srv.ClientCount())
}
