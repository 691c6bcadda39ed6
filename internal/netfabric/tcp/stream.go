package tcp

import (
	"fmt"
	"time"

	"github.com/jroosing/netfabric/internal/fifo"
	"github.com/jroosing/netfabric/internal/netfabric"
)

// wakeInterval is how often a blocked Read re-checks the client's
// connected state and the receive deadline, per the spec's "Read blocks
// wake every second to check for disconnect".
const wakeInterval = time.Second

// Stream is a byte-stream view over a Client: Read drains the client's
// receive FIFO, Write either sends synchronously (direct mode) or
// queues onto a send FIFO drained by a single chained async send
// (buffered mode, the default).
type Stream struct {
	// Direct, when true, makes Write call Client.Send synchronously
	// instead of buffering. Buffered is the default because it preserves
	// write ordering across concurrent callers without serializing them
	// on the client's Send call.
	Direct bool

	client   *Client
	sendFifo *fifo.Buffer
	draining bool
}

func newStream(c *Client) *Stream {
	return &Stream{client: c, sendFifo: fifo.New()}
}

// wakeTicker periodically broadcasts on the receive FIFO so a blocked
// Read re-evaluates its deadline/disconnect check even with no new
// data arriving.
func (s *Stream) wakeTicker(done <-chan struct{}) {
	ticker := time.NewTicker(wakeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.client.recvBuf.Lock()
			s.client.recvBuf.Broadcast()
			s.client.recvBuf.Unlock()
		}
	}
}

// Read blocks until at least one byte is available, the receive
// timeout elapses, or the client disconnects. A disconnect with no
// remaining buffered bytes returns (0, nil) to signal EOF, matching the
// spec's "returns 0 to signal EOF" contract.
func (s *Stream) Read(dst []byte) (int, error) {
	buf := s.client.recvBuf
	var deadline time.Time
	if s.client.ReceiveTimeout > 0 {
		deadline = time.Now().Add(s.client.ReceiveTimeout)
	}

	buf.Lock()
	defer buf.Unlock()
	for buf.AvailableLocked() == 0 {
		if buf.ClosedLocked() {
			return 0, nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return 0, fmt.Errorf("%w: stream read", netfabric.ErrTimeout)
		}
		buf.Wait()
	}
	return buf.ReadLocked(dst, 0, len(dst)), nil
}

// Write sends buf, synchronously in Direct mode or by appending to the
// stream's send FIFO and ensuring a drain goroutine is running.
func (s *Stream) Write(buf []byte) (int, error) {
	if s.Direct {
		return s.client.Send(buf)
	}

	s.sendFifo.Append(buf, 0, len(buf))

	s.sendFifo.Lock()
	needsDrain := !s.draining
	if needsDrain {
		s.draining = true
	}
	s.sendFifo.Unlock()

	if needsDrain {
		go s.drainLoop()
	}
	return len(buf), nil
}

// drainLoop dequeues everything currently buffered and sends it with a
// single SendAsync call, then loops to pick up anything appended while
// that send was in flight. Only one drainLoop instance ever runs per
// stream at a time, preserving write order without serializing Write
// callers on the network call.
func (s *Stream) drainLoop() {
	for {
		s.sendFifo.Lock()
		n := s.sendFifo.AvailableLocked()
		if n == 0 {
			s.draining = false
			s.sendFifo.Broadcast()
			s.sendFifo.Unlock()
			return
		}
		chunk := make([]byte, n)
		s.sendFifo.ReadLocked(chunk, 0, n)
		s.sendFifo.Unlock()

		done := make(chan error, 1)
		s.client.SendAsync(chunk, func(_ int, err error) { done <- err })
		if err := <-done; err != nil {
			s.sendFifo.Lock()
			s.draining = false
			s.sendFifo.Broadcast()
			s.sendFifo.Unlock()
			return
		}
	}
}

// Flush blocks until the send FIFO is empty and no drain is in flight.
// Returns an error if the client disconnects before that happens.
func (s *Stream) Flush() error {
	s.sendFifo.Lock()
	defer s.sendFifo.Unlock()
	for s.sendFifo.AvailableLocked() > 0 || s.draining {
		if s.client.State() != StateConnected {
			return fmt.Errorf("%w: flush: client disconnected", netfabric.ErrStateMisuse)
		}
		s.sendFifo.Wait()
	}
	return nil
}

// Available returns the number of unread bytes buffered for Read.
func (s *Stream) Available() int { return s.client.recvBuf.Available() }

// Position returns the cumulative number of bytes consumed via Read.
func (s *Stream) Position() int64 { return s.client.recvBuf.Position() }

// Close flushes pending writes, then closes the owning client.
func (s *Stream) Close() error {
	_ = s.Flush()
	return s.client.Close()
}

// onDisconnected wakes any Flush/drainLoop waiters blocked on the send
// FIFO once the owning client has closed.
func (s *Stream) onDisconnected() {
	s.sendFifo.Lock()
	s.sendFifo.Broadcast()
	s.sendFifo.Unlock()
}
