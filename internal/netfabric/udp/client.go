// Package udp implements the asynchronous UDP client/server fabric:
// a per-endpoint async client with a persistent outstanding receive,
// and a packet server that tracks one session per remote endpoint with
// idle eviction.
package udp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/jroosing/netfabric/internal/logging"
	"github.com/jroosing/netfabric/internal/netfabric"
	"github.com/jroosing/netfabric/internal/netfabric/stats"
)

// recvBufferSize is the minimum receive buffer the spec requires
// (≥2048 bytes); sized here to comfortably hold a non-EDNS DNS reply
// and typical small-datagram protocols without fragmentation.
const recvBufferSize = 4096

// ReceivedFunc is invoked once per datagram delivered to a bound client.
// data is only valid for the duration of the call; callers that need to
// retain it must copy it.
type ReceivedFunc func(remote *net.UDPAddr, data []byte)

// ErrorFunc reports a receive-loop or callback error. It does not imply
// the client closed: a receive error ends the receive loop, but the
// socket stays open until Close.
type ErrorFunc func(remote *net.UDPAddr, err error)

// AsyncClient is a single bound UDP socket with a continuously
// re-armed receive loop and callback-based delivery. It is stateless
// with respect to peers: any remote may send to it, and SendTo accepts
// an explicit destination per call.
type AsyncClient struct {
	Received     ReceivedFunc
	Connected    func()
	Disconnected func()
	Error        ErrorFunc

	Stats  *stats.Recorder
	Logger *slog.Logger

	mu     sync.Mutex
	conn   *net.UDPConn
	closed bool
	done   chan struct{}
}

// Bind opens the client's socket. endpoint may be "" to bind an
// ephemeral port on the wildcard address, "host:port", or ":port". When
// useIPv6 is nil, Bind probes local interfaces and prefers an IPv6
// dual-stack socket if any interface carries a global or link-local v6
// unicast address; otherwise it binds IPv4.
func (c *AsyncClient) Bind(endpoint string, useIPv6 *bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return fmt.Errorf("%w: client already bound", netfabric.ErrStateMisuse)
	}

	v6 := false
	if useIPv6 != nil {
		v6 = *useIPv6
	} else {
		v6 = hostPrefersIPv6()
	}

	network := "udp4"
	addr := endpoint
	if v6 {
		network = "udp6"
		if addr == "" {
			addr = ":0"
		}
	} else if addr == "" {
		addr = ":0"
	}

	lc := net.ListenConfig{}
	if v6 {
		lc.Control = func(_, _ string, rc syscall.RawConn) error {
			var setErr error
			err := rc.Control(func(fd uintptr) {
				setErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0)
			})
			if err != nil {
				return err
			}
			return setErr
		}
	}

	pc, err := lc.ListenPacket(context.Background(), network, addr)
	if err != nil {
		return fmt.Errorf("%w: udp bind: %v", netfabric.ErrTransport, err)
	}
	c.conn = pc.(*net.UDPConn)
	c.done = make(chan struct{})

	if c.Connected != nil {
		c.safeCall(func() { c.Connected() })
	}

	go c.recvLoop(c.conn, c.done)
	return nil
}

// LocalAddr returns the bound local address, or nil if not yet bound.
func (c *AsyncClient) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}

// recvLoop keeps exactly one outstanding receive at a time: it blocks
// on ReadFromUDP, delivers the datagram, then immediately loops back to
// read again. This is the Go translation of "re-register the receive
// without recursing" — a plain loop never grows the stack the way a
// recursive re-arm would.
func (c *AsyncClient) recvLoop(conn *net.UDPConn, done chan struct{}) {
	buf := make([]byte, recvBufferSize)
	for {
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			if c.Error != nil {
				c.safeCall(func() { c.Error(remote, fmt.Errorf("%w: %v", netfabric.ErrTransport, err)) })
			}
			return
		}
		c.Stats.AddBytesReceived(n)
		if c.Received != nil {
			data := buf[:n]
			c.safeCall(func() { c.Received(remote, data) })
		}
	}
}

// safeCall recovers a panicking user callback and reports it through
// Error rather than crashing the receive goroutine.
func (c *AsyncClient) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if c.Error != nil {
				c.Error(nil, fmt.Errorf("%w: %v", netfabric.ErrUserCallback, r))
			} else if c.Logger != nil {
				logging.WithEvent(c.Logger, "callback_panic").Error("udp client: callback panic", "panic", r)
			}
		}
	}()
	fn()
}

// SendTo writes data to remote synchronously.
func (c *AsyncClient) SendTo(remote *net.UDPAddr, data []byte) (int, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return 0, fmt.Errorf("%w: client not bound", netfabric.ErrStateMisuse)
	}
	n, err := conn.WriteToUDP(data, remote)
	if err != nil {
		return n, fmt.Errorf("%w: %v", netfabric.ErrTransport, err)
	}
	c.Stats.AddBytesSent(n)
	return n, nil
}

// SendToAsync writes data to remote on a new goroutine and invokes
// callback with the result once the write completes.
func (c *AsyncClient) SendToAsync(remote *net.UDPAddr, data []byte, callback func(n int, err error)) {
	go func() {
		n, err := c.SendTo(remote, data)
		if callback != nil {
			callback(n, err)
		}
	}()
}

// Close releases the socket and stops the receive loop. Idempotent.
func (c *AsyncClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	done := c.done
	c.mu.Unlock()

	if done != nil {
		close(done)
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}
	if c.Disconnected != nil {
		c.safeCall(func() { c.Disconnected() })
	}
	return err
}

// hostPrefersIPv6 reports whether any local interface carries a
// non-loopback IPv6 unicast address, used to pick the default family
// for Bind(port) calls that don't specify one explicitly.
func hostPrefersIPv6() bool {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip, ok := netip.AddrFromSlice(ipNet.IP)
		if !ok {
			continue
		}
		ip = ip.Unmap()
		if ip.Is6() && !ip.IsLoopback() {
			return true
		}
	}
	return false
}
