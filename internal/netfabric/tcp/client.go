// Package tcp implements the asynchronous TCP client/server fabric: a
// connection-oriented client with a state machine and single persistent
// receive loop, a byte-stream view layered over it, and an accept
// server that manages a set of such clients.
package tcp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/jroosing/netfabric/internal/fifo"
	"github.com/jroosing/netfabric/internal/helpers"
	"github.com/jroosing/netfabric/internal/logging"
	"github.com/jroosing/netfabric/internal/netfabric"
	"github.com/jroosing/netfabric/internal/netfabric/stats"
	"github.com/jroosing/netfabric/internal/pool"
)

// State is the client's connection lifecycle state.
type State int

const (
	StateCreated State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

// defaultDeadlockTimeout matches the ~1s default the spec calls for on
// DeadLockTimeout.
const defaultDeadlockTimeout = time.Second

// defaultBufferSize is used when BufferSize is left at zero.
const defaultBufferSize = 4096

// Client is a single TCP connection with a created→connecting→
// connected→closing→closed state machine, a persistently re-armed
// receive loop, and event callbacks. All exported entry points that
// mutate state take syncRoot under DeadLockTimeout.
type Client struct {
	BufferSize      int
	ConnectTimeout  time.Duration
	DeadLockTimeout time.Duration
	ReceiveTimeout  time.Duration
	SendTimeout     time.Duration
	TTL             int
	NoDelay         bool
	Linger          *int // seconds; nil leaves the OS default, 0 forces an abortive close

	// Received is invoked with each chunk read off the socket. Returning
	// true marks the data as handled by the callback; returning false (or
	// leaving Received nil) appends the bytes to the stream's FIFO for
	// Stream.Read / the Buffered event instead.
	Received     func(data []byte) (handled bool)
	Connected    func()
	Disconnected func()
	Error        func(err error)
	Buffered     func()

	Stats  *stats.Recorder
	Logger *slog.Logger

	syncRoot *deadlockMutex

	state             State
	conn              net.Conn
	recvBuf           *fifo.Buffer
	stream            *Stream
	connectedFired    bool
	disconnectedFired bool
	pendingAsyncSends int64
	bytesSent         int64
	bytesReceived     int64
	tickerDone        chan struct{}

	// bufPool, when set by a Server, supplies this client's recvLoop
	// buffer instead of a fresh per-connection allocation.
	bufPool *pool.Pool[*[]byte]
}

// NewClient returns a client ready for Connect/ConnectAsync.
func NewClient() *Client {
	return &Client{syncRoot: newDeadlockMutex()}
}

func (c *Client) lock() error {
	if c.syncRoot == nil {
		c.syncRoot = newDeadlockMutex()
	}
	timeout := c.DeadLockTimeout
	if timeout <= 0 {
		timeout = defaultDeadlockTimeout
	}
	return c.syncRoot.Lock(timeout)
}

func (c *Client) unlock() { c.syncRoot.Unlock() }

func (c *Client) bufferSize() int {
	if c.BufferSize <= 0 {
		return defaultBufferSize
	}
	return c.BufferSize
}

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	if err := c.lock(); err != nil {
		return c.state
	}
	defer c.unlock()
	return c.state
}

// WriteTimeout returns the timeout applied to outbound sends. The
// teacher-equivalent getter returned the receive timeout by mistake;
// this returns SendTimeout.
func (c *Client) WriteTimeout() time.Duration { return c.SendTimeout }

// PendingAsyncSends returns the number of SendAsync calls that have
// been registered but not yet completed.
func (c *Client) PendingAsyncSends() int64 { return atomic.LoadInt64(&c.pendingAsyncSends) }

// BytesSent returns the total bytes written to the connection by this
// client, independent of any shared Stats recorder.
func (c *Client) BytesSent() int64 { return atomic.LoadInt64(&c.bytesSent) }

// BytesReceived returns the total bytes read off the connection by this
// client, independent of any shared Stats recorder.
func (c *Client) BytesReceived() int64 { return atomic.LoadInt64(&c.bytesReceived) }

// RemoteAddr returns the connection's remote address, or nil before
// Connect/ConnectAsync establishes one.
func (c *Client) RemoteAddr() net.Addr {
	if err := c.lock(); err != nil {
		return nil
	}
	defer c.unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.RemoteAddr()
}

// Connect dials addr synchronously, bounded by ConnectTimeout.
func (c *Client) Connect(addr string) error {
	if err := c.lock(); err != nil {
		return err
	}
	if c.state != StateCreated {
		c.unlock()
		return fmt.Errorf("%w: client already connecting or connected", netfabric.ErrStateMisuse)
	}
	c.state = StateConnecting
	c.unlock()

	d := net.Dialer{Timeout: c.ConnectTimeout}
	conn, err := d.Dial("tcp", addr)
	if err != nil {
		c.lock()
		c.state = StateClosed
		c.unlock()
		if isTimeoutErr(err) {
			return fmt.Errorf("%w: connect to %s: %v", netfabric.ErrTimeout, addr, err)
		}
		return fmt.Errorf("%w: connect to %s: %v", netfabric.ErrTransport, addr, err)
	}
	c.applySocketOptions(conn)

	c.lock()
	c.conn = conn
	c.recvBuf = fifo.New()
	c.stream = newStream(c)
	c.state = StateConnected
	c.connectedFired = true
	c.tickerDone = make(chan struct{})
	c.unlock()

	if c.Connected != nil {
		c.safeCall(func() { c.Connected() })
	}
	go c.recvLoop()
	go c.stream.wakeTicker(c.tickerDone)
	return nil
}

// ConnectAsync dials addr on a new goroutine; the result is delivered
// via Connected/Error, and echoed synchronously to callback if non-nil.
func (c *Client) ConnectAsync(addr string, callback func(error)) {
	go func() {
		err := c.Connect(addr)
		if err != nil && c.Error != nil {
			c.safeCall(func() { c.Error(err) })
		}
		if callback != nil {
			callback(err)
		}
	}()
}

func (c *Client) applySocketOptions(conn net.Conn) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tc.SetNoDelay(c.NoDelay)
	if c.Linger != nil {
		_ = tc.SetLinger(*c.Linger)
	}
	if c.TTL > 0 {
		ttl := int(helpers.ClampUint32ToUint8(uint32(c.TTL)))
		_ = ipv4.NewConn(tc).SetTTL(ttl)
	}
}

// GetStream returns the byte-stream view over this client. Valid only
// after a successful Connect/ConnectAsync.
func (c *Client) GetStream() *Stream {
	c.lock()
	defer c.unlock()
	return c.stream
}

// recvLoop persistently re-arms the next Read without recursion. When
// the owning Server supplied a buffer pool, the read buffer is borrowed
// from it for the lifetime of the connection and returned on exit
// instead of being allocated fresh per connection.
func (c *Client) recvLoop() {
	var buf []byte
	if c.bufPool != nil {
		borrowed := c.bufPool.Get()
		defer c.bufPool.Put(borrowed)
		buf = *borrowed
	} else {
		buf = make([]byte, c.bufferSize())
	}
	for {
		if c.ReceiveTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.ReceiveTimeout))
		}
		n, err := c.conn.Read(buf)
		if n > 0 {
			atomic.AddInt64(&c.bytesReceived, int64(n))
			c.Stats.AddBytesReceived(n)
			handled := false
			if c.Received != nil {
				data := buf[:n]
				handled = c.safeCallBool(func() bool { return c.Received(data) })
			}
			if !handled {
				c.recvBuf.Append(buf, 0, n)
				if c.Buffered != nil {
					c.safeCall(func() { c.Buffered() })
				}
			}
		}
		if err != nil {
			if isGracefulClose(err) {
				c.transitionClosing(nil)
				return
			}
			wrapped := classifyReadErr(err)
			if c.Error != nil {
				c.safeCall(func() { c.Error(wrapped) })
			}
			c.transitionClosing(nil)
			return
		}
	}
}

// Send writes data synchronously, serialized under syncRoot.
func (c *Client) Send(data []byte) (int, error) {
	if err := c.lock(); err != nil {
		return 0, err
	}
	defer c.unlock()
	if c.state != StateConnected {
		return 0, fmt.Errorf("%w: send on a client that is not connected", netfabric.ErrStateMisuse)
	}
	if c.SendTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.SendTimeout))
	}
	n, err := c.conn.Write(data)
	if err != nil {
		if isTimeoutErr(err) {
			return n, fmt.Errorf("%w: send: %v", netfabric.ErrTimeout, err)
		}
		return n, fmt.Errorf("%w: send: %v", netfabric.ErrTransport, err)
	}
	atomic.AddInt64(&c.bytesSent, int64(n))
	c.Stats.AddBytesSent(n)
	return n, nil
}

// SendAsync sends data on a new goroutine, tracking it in
// PendingAsyncSends for the duration. callback is invoked on completion
// regardless of outcome; a send error fires Error and forces Close.
func (c *Client) SendAsync(data []byte, callback func(n int, err error)) {
	atomic.AddInt64(&c.pendingAsyncSends, 1)
	go func() {
		n, err := c.Send(data)
		atomic.AddInt64(&c.pendingAsyncSends, -1)
		if callback != nil {
			callback(n, err)
		}
		if err != nil {
			if c.Error != nil {
				c.safeCall(func() { c.Error(err) })
			}
			_ = c.Close()
		}
	}()
}

// Close transitions the client to closing then closed, shutting down
// the socket and firing Disconnected exactly once (only if Connected
// was fired). Idempotent.
func (c *Client) Close() error {
	if err := c.lock(); err != nil {
		return err
	}
	if c.state == StateClosing || c.state == StateClosed {
		c.unlock()
		return nil
	}
	c.unlock()
	return c.transitionClosing(nil)
}

// transitionClosing performs the actual teardown; cause, if non-nil, is
// unused beyond documenting why the caller invoked it (kept for future
// diagnostics hooks).
func (c *Client) transitionClosing(cause error) error {
	_ = cause
	if err := c.lock(); err != nil {
		return err
	}
	if c.state == StateClosing || c.state == StateClosed {
		c.unlock()
		return nil
	}
	c.state = StateClosing
	conn := c.conn
	recvBuf := c.recvBuf
	stream := c.stream
	tickerDone := c.tickerDone
	fireDisconnected := c.connectedFired && !c.disconnectedFired
	if fireDisconnected {
		c.disconnectedFired = true
	}
	c.state = StateClosed
	c.unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if recvBuf != nil {
		recvBuf.Close()
	}
	if stream != nil {
		stream.onDisconnected()
	}
	if tickerDone != nil {
		close(tickerDone)
	}
	if fireDisconnected && c.Disconnected != nil {
		c.safeCall(func() { c.Disconnected() })
	}
	return nil
}

func (c *Client) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.reportCallbackPanic(r)
		}
	}()
	fn()
}

func (c *Client) safeCallBool(fn func() bool) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			c.reportCallbackPanic(r)
			result = false
		}
	}()
	return fn()
}

func (c *Client) reportCallbackPanic(r any) {
	err := fmt.Errorf("%w: %v", netfabric.ErrUserCallback, r)
	if c.Error != nil {
		c.Error(err)
	} else if c.Logger != nil {
		logging.WithEvent(c.Logger, "callback_panic").Error("tcp client: callback panic", "panic", r)
	}
}

func isTimeoutErr(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isGracefulClose(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	return false
}

func classifyReadErr(err error) error {
	if isTimeoutErr(err) {
		return fmt.Errorf("%w: receive: %v", netfabric.ErrTimeout, err)
	}
	return fmt.Errorf("%w: receive: %v", netfabric.ErrTransport, err)
}
