package tcp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"runtime"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jroosing/netfabric/internal/fifo"
	"github.com/jroosing/netfabric/internal/logging"
	"github.com/jroosing/netfabric/internal/netfabric"
	"github.com/jroosing/netfabric/internal/netfabric/stats"
	"github.com/jroosing/netfabric/internal/pool"
)

// Server accepts TCP connections and wraps each in a Client, tracking
// the live set so Close can tear all of them down together.
type Server struct {
	AcceptBacklog       int
	AcceptThreads       int // default 2x NumCPU
	BufferSize          int
	ExclusiveAddressUse bool
	ReceiveTimeout      time.Duration
	SendTimeout         time.Duration

	ClientAccepted  func(c *Client)
	ClientException func(c *Client, err error)
	AcceptTasksBusy func()

	Stats  *stats.Recorder
	Logger *slog.Logger

	mu        sync.Mutex
	listeners []net.Listener
	clients   map[*Client]struct{}
	bufPool   *pool.Pool[*[]byte]
	wg        sync.WaitGroup
	closed    bool
}

func (s *Server) bufferSize() int {
	if s.BufferSize <= 0 {
		return defaultBufferSize
	}
	return s.BufferSize
}

// Listen binds addr and starts AcceptThreads concurrent accept loops.
// When ExclusiveAddressUse is false (the default) SO_REUSEPORT is set
// so multiple Server instances (e.g. one per CPU core) can share addr.
// When it is true, one plain listener is shared by all accept loops.
func (s *Server) Listen(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners != nil {
		return fmt.Errorf("%w: server already listening", netfabric.ErrStateMisuse)
	}

	threads := s.AcceptThreads
	if threads <= 0 {
		threads = 2 * runtime.NumCPU()
	}
	s.clients = map[*Client]struct{}{}
	s.listeners = make([]net.Listener, 0, threads)
	size := s.bufferSize()
	s.bufPool = pool.New(func() *[]byte {
		b := make([]byte, size)
		return &b
	})

	if s.ExclusiveAddressUse {
		ln, err := s.listen(addr)
		if err != nil {
			s.listeners = nil
			return fmt.Errorf("%w: tcp listen: %v", netfabric.ErrTransport, err)
		}
		s.listeners = append(s.listeners, ln)
		for i := 0; i < threads; i++ {
			s.wg.Add(1)
			go s.acceptLoop(ln)
		}
		return nil
	}
	for i := 0; i < threads; i++ {
		ln, err := s.listen(addr)
		if err != nil {
			for _, existing := range s.listeners {
				_ = existing.Close()
			}
			s.listeners = nil
			return fmt.Errorf("%w: tcp listen: %v", netfabric.ErrTransport, err)
		}
		s.listeners = append(s.listeners, ln)
		s.wg.Add(1)
		go s.acceptLoop(ln)
	}
	return nil
}

func (s *Server) listen(addr string) (net.Listener, error) {
	if s.ExclusiveAddressUse {
		return net.Listen("tcp", addr)
	}
	// AcceptBacklog is not applied here: the standard library's
	// net.ListenConfig exposes no way to set the OS listen backlog
	// directly, so the kernel default (tuned via net.core.somaxconn)
	// applies regardless of the configured value.
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var setErr error
			err := c.Control(func(fd uintptr) {
				setErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return setErr
		},
	}
	return lc.Listen(context.Background(), "tcp", addr)
}

// acceptLoop re-registers the next Accept without recursion: it is a
// plain for loop, matching the client receive loop's translation of
// "re-register without recursing".
func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			if s.AcceptTasksBusy != nil {
				s.safeCall(func() { s.AcceptTasksBusy() })
			}
			return
		}
		s.handleAccepted(conn)
	}
}

func (s *Server) handleAccepted(conn net.Conn) {
	c := NewClient()
	c.BufferSize = s.BufferSize
	c.ReceiveTimeout = s.ReceiveTimeout
	c.SendTimeout = s.SendTimeout
	c.Stats = s.Stats
	c.Logger = s.Logger
	c.bufPool = s.bufPool
	c.state = StateConnected
	c.conn = conn
	c.recvBuf = fifo.New()
	c.stream = newStream(c)
	c.connectedFired = true
	c.tickerDone = make(chan struct{})
	c.applySocketOptions(conn)

	c.Disconnected = func() {
		s.removeClient(c)
	}

	s.addClient(c)
	s.Stats.IncTCPClients()

	if s.ClientAccepted != nil {
		fired := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: %v", netfabric.ErrUserCallback, r)
				}
			}()
			s.ClientAccepted(c)
			return nil
		}()
		if fired != nil {
			if s.ClientException != nil {
				s.safeCall(func() { s.ClientException(c, fired) })
			}
			_ = c.Close()
			return
		}
	}

	go c.recvLoop()
	go c.stream.wakeTicker(c.tickerDone)
}

func (s *Server) addClient(c *Client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	s.Stats.DecTCPClients()
}

func (s *Server) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil && s.Logger != nil {
			logging.WithEvent(s.Logger, "callback_panic").Error("tcp server: callback panic", "panic", r)
		}
	}()
	fn()
}

// ClientCount returns the number of currently tracked connections.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close stops accepting new connections and closes every tracked
// client.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listeners := s.listeners
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	var firstErr error
	for _, ln := range listeners {
		if err := ln.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, c := range clients {
		_ = c.Close()
	}
	s.wg.Wait()
	return firstErr
}
