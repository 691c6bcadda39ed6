package udp

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketServerTracksSessionAndDeliversPackets(t *testing.T) {
	var mu sync.Mutex
	var received []byte
	connectedCh := make(chan struct{}, 1)
	gotCh := make(chan struct{}, 1)

	s := &PacketServer{
		Connected: func(remote *net.UDPAddr) {
			select {
			case connectedCh <- struct{}{}:
			default:
			}
		},
		PacketReceived: func(session *Session, data []byte) {
			mu.Lock()
			received = append([]byte{}, data...)
			mu.Unlock()
			select {
			case gotCh <- struct{}{}:
			default:
			}
		},
	}
	require.NoError(t, s.Listen("127.0.0.1:0"))
	defer s.Close()

	client, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.WriteToUDP([]byte("ping"), serverAddr(t, s))
	require.NoError(t, err)

	select {
	case <-connectedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Connected never fired")
	}
	select {
	case <-gotCh:
	case <-time.After(2 * time.Second):
		t.Fatal("PacketReceived never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "ping", string(received))
	assert.Equal(t, 1, s.SessionCount())
}

func TestPacketServerSweepsIdleSessions(t *testing.T) {
	timeoutCh := make(chan *net.UDPAddr, 1)
	s := &PacketServer{
		Timeout: 50 * time.Millisecond,
		SessionTimeout: func(remote *net.UDPAddr) {
			timeoutCh <- remote
		},
	}
	require.NoError(t, s.Listen("127.0.0.1:0"))
	defer s.Close()

	client, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.WriteToUDP([]byte("ping"), serverAddr(t, s))
	require.NoError(t, err)

	select {
	case <-timeoutCh:
	case <-time.After(3 * time.Second):
		t.Fatal("session was never swept")
	}
	assert.Equal(t, 0, s.SessionCount())
}

func serverAddr(t *testing.T, s *PacketServer) *net.UDPAddr {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.LocalAddr().(*net.UDPAddr)
}
