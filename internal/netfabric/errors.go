// Package netfabric holds the error taxonomy shared by the TCP/UDP
// fabric and the DNS resolver built on top of it.
package netfabric

import "errors"

// ErrTransport covers socket-level failures: connection reset, refused,
// unreachable, or any other error surfaced by the OS networking stack.
var ErrTransport = errors.New("netfabric: transport error")

// ErrTimeout covers an operation that exceeded its configured timeout:
// connect, send, receive, or a DNS query attempt.
var ErrTimeout = errors.New("netfabric: operation timed out")

// ErrProtocolParse covers a malformed DNS message: bad compression
// pointer, declared length exceeding the buffer, or a header/section
// count that fails validation.
var ErrProtocolParse = errors.New("netfabric: protocol parse error")

// ErrStateMisuse covers a call made in a state that forbids it: Send on
// a closed client, double Connect, Resolve with zero configured
// servers.
var ErrStateMisuse = errors.New("netfabric: invalid state for operation")

// ErrUserCallback covers a panic recovered from a user-supplied
// callback (Received, Connected, Disconnected, Error, ...), reported
// back through the same Error event rather than crashing the
// completion goroutine.
var ErrUserCallback = errors.New("netfabric: user callback error")

// ErrDeadlock covers DeadLockTimeout expiring while acquiring a
// client's syncRoot, indicating a callback re-entered the client it was
// invoked from.
var ErrDeadlock = errors.New("netfabric: deadlock timeout exceeded")
