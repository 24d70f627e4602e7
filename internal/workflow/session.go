// SPDX-License-Identifier: MPL-2.0

package workflow

import (
	"context"
	"sync"
	"time"

	"hytale-panel/internal/status"
)

type (
	// Session is one provisioning run for one observer.
	Session struct {
		ID        string
		Key       string
		StartedAt time.Time

		observer status.Observer

		mu    sync.Mutex
		state State
		err   error
		done  chan struct{}
	}

	// Registry holds at most one active Session per container.
	Registry struct {
		mu     sync.Mutex
		active map[string]*Session
	}
)

func newSession(id, key string, startedAt time.Time, obs status.Observer) *Session {
	return &Session{
		ID:        id,
		Key:       key,
		StartedAt: startedAt,
		observer:  obs,
		state:     StateIdle,
		done:      make(chan struct{}),
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns why the session failed once it has ended in StateError,
// ErrAuthenticationRequired while it waits on the user, and nil otherwise.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateAwaitingAuth {
		return ErrAuthenticationRequired
	}
	return s.err
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session ends or ctx is done and returns the final state.
func (s *Session) Wait(ctx context.Context) (State, error) {
	select {
	case <-s.done:
		return s.State(), s.Err()
	case <-ctx.Done():
		return s.State(), ctx.Err()
	}
}

// Ref addresses the session's observer for publishing.
func (s *Session) Ref() status.Ref {
	return status.Ref{SessionID: s.ID, Observer: s.observer}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	s.err = err
	close(s.done)
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*Session)}
}

// Acquire claims key for s. It fails with an *InProgressError while another
// session holds the key.
func (r *Registry) Acquire(key string, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.active[key]; ok {
		return &InProgressError{Key: key, SessionID: cur.ID, State: cur.State()}
	}
	r.active[key] = s
	return nil
}

// Release frees key if s still holds it.
func (r *Registry) Release(key string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[key] == s {
		delete(r.active, key)
	}
}

// Active returns the session holding key.
func (r *Registry) Active(key string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.active[key]
	return s, ok
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
