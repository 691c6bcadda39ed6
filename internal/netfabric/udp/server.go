package udp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jroosing/netfabric/internal/logging"
	"github.com/jroosing/netfabric/internal/netfabric"
	"github.com/jroosing/netfabric/internal/netfabric/stats"
)

// sweepInterval is the cadence at which the idle sweeper scans for
// timed-out sessions.
const sweepInterval = time.Second

// Session tracks one remote endpoint talking to a PacketServer.
type Session struct {
	Remote       *net.UDPAddr
	LastActivity time.Time
}

// PacketReceivedFunc is invoked once per datagram, after the sender's
// session has been created or refreshed.
type PacketReceivedFunc func(session *Session, data []byte)

// PacketServer binds one UDP socket and tracks a session per remote
// endpoint, evicting sessions that go quiet for longer than Timeout.
type PacketServer struct {
	// Timeout is the idle duration after which a session is swept. Zero
	// disables sweeping.
	Timeout time.Duration

	Connected      func(remote *net.UDPAddr)
	PacketReceived PacketReceivedFunc
	SessionTimeout func(remote *net.UDPAddr)
	Error          ErrorFunc

	Stats  *stats.Recorder
	Logger *slog.Logger

	mu       sync.Mutex
	conn     *net.UDPConn
	sessions map[string]*Session
	done     chan struct{}
	wg       sync.WaitGroup
}

// Listen binds addr (host:port, or ":port" for the wildcard address)
// with SO_REUSEPORT enabled, then starts the receive loop and idle
// sweeper.
func (s *PacketServer) Listen(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return fmt.Errorf("%w: server already listening", netfabric.ErrStateMisuse)
	}

	conn, err := listenReusePort(addr)
	if err != nil {
		return fmt.Errorf("%w: udp listen: %v", netfabric.ErrTransport, err)
	}
	s.conn = conn
	s.sessions = map[string]*Session{}
	s.done = make(chan struct{})

	s.wg.Add(2)
	go s.recvLoop()
	go s.sweepLoop()
	return nil
}

func (s *PacketServer) recvLoop() {
	defer s.wg.Done()
	buf := make([]byte, recvBufferSize)
	for {
		n, remote, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if s.Error != nil {
				s.safeCall(func() { s.Error(remote, fmt.Errorf("%w: %v", netfabric.ErrTransport, err)) })
			}
			return
		}
		s.Stats.AddBytesReceived(n)
		session := s.touchSession(remote)
		if s.PacketReceived != nil {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.safeCall(func() { s.PacketReceived(session, data) })
		}
	}
}

// touchSession creates or refreshes the session for remote, firing
// Connected on first sight.
func (s *PacketServer) touchSession(remote *net.UDPAddr) *Session {
	key := remote.String()

	s.mu.Lock()
	session, ok := s.sessions[key]
	isNew := !ok
	if !ok {
		session = &Session{Remote: remote}
		s.sessions[key] = session
		s.Stats.IncUDPSessions()
	}
	session.LastActivity = time.Now()
	s.mu.Unlock()

	if isNew && s.Connected != nil {
		s.safeCall(func() { s.Connected(remote) })
	}
	return session
}

// sweepLoop periodically removes sessions whose LastActivity is older
// than Timeout. now.Sub(session.LastActivity) > Timeout correctly flags
// idle sessions; the inverted comparison LastActivity+Timeout > Now
// would instead flag active ones.
func (s *PacketServer) sweepLoop() {
	defer s.wg.Done()
	if s.Timeout <= 0 {
		return
	}
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.sweepOnce(now)
		}
	}
}

func (s *PacketServer) sweepOnce(now time.Time) {
	var timedOut []*net.UDPAddr

	s.mu.Lock()
	for key, session := range s.sessions {
		if now.Sub(session.LastActivity) > s.Timeout {
			timedOut = append(timedOut, session.Remote)
			delete(s.sessions, key)
			s.Stats.DecUDPSessions()
			s.Stats.IncUDPSessionTimeout()
		}
	}
	s.mu.Unlock()

	for _, remote := range timedOut {
		if s.SessionTimeout != nil {
			s.safeCall(func() { s.SessionTimeout(remote) })
		}
	}
}

func (s *PacketServer) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if s.Error != nil {
				s.Error(nil, fmt.Errorf("%w: %v", netfabric.ErrUserCallback, r))
			} else if s.Logger != nil {
				logging.WithEvent(s.Logger, "callback_panic").Error("udp server: callback panic", "panic", r)
			}
		}
	}()
	fn()
}

// SendTo replies to remote over the server's shared socket.
func (s *PacketServer) SendTo(remote *net.UDPAddr, data []byte) (int, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return 0, fmt.Errorf("%w: server not listening", netfabric.ErrStateMisuse)
	}
	n, err := conn.WriteToUDP(data, remote)
	if err != nil {
		return n, fmt.Errorf("%w: %v", netfabric.ErrTransport, err)
	}
	s.Stats.AddBytesSent(n)
	return n, nil
}

// SessionCount returns the number of tracked sessions.
func (s *PacketServer) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close stops the receive loop and sweeper and closes the socket.
func (s *PacketServer) Close() error {
	s.mu.Lock()
	if s.done == nil {
		s.mu.Unlock()
		return nil
	}
	select {
	case <-s.done:
		s.mu.Unlock()
		return nil
	default:
		close(s.done)
	}
	conn := s.conn
	s.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	s.wg.Wait()
	return err
}

// listenReusePort binds a UDP socket with SO_REUSEPORT so multiple
// server instances (e.g. one per CPU core) can share the same port.
func listenReusePort(addr string) (*net.UDPConn, error) {
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
	pc, err := lc.ListenPacket(context.Background(), "udp", addr)
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}
