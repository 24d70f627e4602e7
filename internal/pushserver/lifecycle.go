// SPDX-License-Identifier: MPL-2.0

package pushserver

import (
	"fmt"
	"sync"
	"sync/atomic"
)

const (
	// StateCreated means New returned and Start was not called yet.
	StateCreated State = iota
	// StateStarting means the listener is being set up.
	StateStarting
	// StateRunning means the server accepts connections.
	StateRunning
	// StateStopping means a graceful shutdown is in progress.
	StateStopping
	// StateStopped is terminal.
	StateStopped
	// StateFailed is terminal: Start or Serve failed.
	StateFailed
)

type (
	// State is the lifecycle state of a Server.
	State int32

	// lifecycle tracks the single-use Created -> Running -> Stopped progression.
	lifecycle struct {
		state     atomic.Int32
		mu        sync.Mutex
		lastErr   error
		startedCh chan struct{}
		errCh     chan error
	}
)

// String returns a human-readable representation of the server state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func newLifecycle() *lifecycle {
	return &lifecycle{
		startedCh: make(chan struct{}),
		errCh:     make(chan error, 1),
	}
}

func (l *lifecycle) current() State { return State(l.state.Load()) }

func (l *lifecycle) toStarting() error {
	if !l.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return fmt.Errorf("cannot start server in state %s", l.current())
	}
	return nil
}

func (l *lifecycle) toRunning() {
	if l.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		close(l.startedCh)
	}
}

func (l *lifecycle) fail(err error) {
	l.mu.Lock()
	l.lastErr = err
	l.mu.Unlock()
	l.state.Store(int32(StateFailed))
	select {
	case l.errCh <- err:
	default:
	}
}

// toStopping reports whether the caller owns the shutdown.
func (l *lifecycle) toStopping() bool {
	for {
		cur := l.current()
		switch cur {
		case StateCreated:
			if l.state.CompareAndSwap(int32(cur), int32(StateStopped)) {
				return false
			}
		case StateStarting, StateRunning:
			if l.state.CompareAndSwap(int32(cur), int32(StateStopping)) {
				return true
			}
		default:
			return false
		}
	}
}

func (l *lifecycle) err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}
