package tcp

import (
	"fmt"
	"time"

	"github.com/jroosing/netfabric/internal/netfabric"
)

// deadlockMutex is a mutex whose Lock can fail with ErrDeadlock after a
// bounded wait, instead of blocking forever. It backs the client's
// syncRoot: a callback that re-enters the client it was invoked from
// would otherwise deadlock silently.
type deadlockMutex struct {
	ch chan struct{}
}

func newDeadlockMutex() *deadlockMutex {
	m := &deadlockMutex{ch: make(chan struct{}, 1)}
	m.ch <- struct{}{}
	return m
}

func (m *deadlockMutex) Lock(timeout time.Duration) error {
	if timeout <= 0 {
		<-m.ch
		return nil
	}
	select {
	case <-m.ch:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("%w: syncRoot not acquired within %s", netfabric.ErrDeadlock, timeout)
	}
}

func (m *deadlockMutex) Unlock() {
	m.ch <- struct{}{}
}
