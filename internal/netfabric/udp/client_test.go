package udp

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsyncClientSendReceiveRoundTrip(t *testing.T) {
	var mu sync.Mutex
	var received []byte
	gotCh := make(chan struct{})

	receiver := &AsyncClient{
		Received: func(remote *net.UDPAddr, data []byte) {
			mu.Lock()
			received = append([]byte{}, data...)
			mu.Unlock()
			close(gotCh)
		},
	}
	require.NoError(t, receiver.Bind("127.0.0.1:0", boolPtr(false)))
	defer receiver.Close()

	sender := &AsyncClient{}
	require.NoError(t, sender.Bind("127.0.0.1:0", boolPtr(false)))
	defer sender.Close()

	dst := receiver.LocalAddr().(*net.UDPAddr)
	_, err := sender.SendTo(dst, []byte("hello"))
	require.NoError(t, err)

	select {
	case <-gotCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "hello", string(received))
}

func TestAsyncClientBindTwiceFails(t *testing.T) {
	c := &AsyncClient{}
	require.NoError(t, c.Bind("127.0.0.1:0", boolPtr(false)))
	defer c.Close()
	assert.Error(t, c.Bind("127.0.0.1:0", boolPtr(false)))
}

func TestAsyncClientCloseIsIdempotent(t *testing.T) {
	c := &AsyncClient{}
	require.NoError(t, c.Bind("127.0.0.1:0", boolPtr(false)))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestAsyncClientSendToAsyncInvokesCallback(t *testing.T) {
	receiver := &AsyncClient{}
	require.NoError(t, receiver.Bind("127.0.0.1:0", boolPtr(false)))
	defer receiver.Close()

	sender := &AsyncClient{}
	require.NoError(t, sender.Bind("127.0.0.1:0", boolPtr(false)))
	defer sender.Close()

	done := make(chan error, 1)
	sender.SendToAsync(receiver.LocalAddr().(*net.UDPAddr), []byte("x"), func(n int, err error) {
		done <- err
	})

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("async send callback never fired")
	}
}

func boolPtr(b bool) *bool { return &b }
