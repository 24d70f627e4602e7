// SPDX-License-Identifier: MPL-2.0

package status

import (
	"errors"
	"io"
	"sync"

	"github.com/charmbracelet/log"
)

const (
	// Delivered means the observer accepted the event.
	Delivered Outcome = iota
	// DroppedAfterTerminal means the session had already published its terminal event.
	DroppedAfterTerminal
	// DroppedInvalid means the event did not carry a wire status.
	DroppedInvalid
	// ObserverGone means the observer disconnected; the event was recorded but not sent.
	ObserverGone
	// SendFailed means the observer rejected the event.
	SendFailed
)

type (
	// Outcome describes what Publish did with an event.
	Outcome int

	// Ref addresses one session's observer.
	Ref struct {
		SessionID string
		Observer  Observer
	}

	// Record is one entry of a session's publish history.
	Record struct {
		Seq     uint64
		Event   Event
		Outcome Outcome
	}

	// Publisher delivers status events with per-session ordering and at most one
	// terminal event per session. It never blocks on a disconnected observer and
	// never returns an error to the workflow.
	Publisher struct {
		mu       sync.Mutex
		sessions map[string]*sessionLog
		logger   *log.Logger
	}

	// PublisherOption configures a Publisher.
	PublisherOption func(*Publisher)

	sessionLog struct {
		mu         sync.Mutex
		seq        uint64
		terminated bool
		history    []Record
	}
)

// String returns a short name for the outcome.
func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case DroppedAfterTerminal:
		return "dropped-after-terminal"
	case DroppedInvalid:
		return "dropped-invalid"
	case ObserverGone:
		return "observer-gone"
	case SendFailed:
		return "send-failed"
	default:
		return "unknown"
	}
}

// WithLogger sets the logger used for dropped and failed deliveries.
func WithLogger(l *log.Logger) PublisherOption {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPublisher creates a Publisher.
func NewPublisher(opts ...PublisherOption) *Publisher {
	p := &Publisher{
		sessions: make(map[string]*sessionLog),
		logger:   log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish delivers ev to the session's observer.
func (p *Publisher) Publish(ref Ref, ev Event) Outcome {
	sl := p.session(ref.SessionID)

	// The session lock is held across Send so concurrent publishers for one
	// session cannot reorder deliveries.
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if err := ev.Status.Validate(); err != nil {
		p.logger.Warn("dropping invalid status event", "session", ref.SessionID, "error", err)
		return DroppedInvalid
	}
	if sl.terminated {
		p.logger.Debug("dropping event after terminal status", "session", ref.SessionID, "status", ev.Status)
		return DroppedAfterTerminal
	}

	sl.seq++
	if ev.Status.IsTerminal() {
		sl.terminated = true
	}
	outcome := deliver(ref.Observer, ev)
	sl.history = append(sl.history, Record{Seq: sl.seq, Event: ev, Outcome: outcome})

	switch outcome {
	case ObserverGone:
		p.logger.Debug("observer gone, status not sent", "session", ref.SessionID, "status", ev.Status)
	case SendFailed:
		p.logger.Warn("status delivery failed", "session", ref.SessionID, "status", ev.Status)
	}
	return outcome
}

// Published returns the publish history of a session.
func (p *Publisher) Published(sessionID string) []Record {
	p.mu.Lock()
	sl, ok := p.sessions[sessionID]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	out := make([]Record, len(sl.history))
	copy(out, sl.history)
	return out
}

// Forget drops the state kept for a finished session.
func (p *Publisher) Forget(sessionID string) {
	p.mu.Lock()
	delete(p.sessions, sessionID)
	p.mu.Unlock()
}

func (p *Publisher) session(id string) *sessionLog {
	p.mu.Lock()
	defer p.mu.Unlock()
	sl, ok := p.sessions[id]
	if !ok {
		sl = &sessionLog{}
		p.sessions[id] = sl
	}
	return sl
}

func deliver(obs Observer, ev Event) (outcome Outcome) {
	if obs == nil {
		return ObserverGone
	}
	select {
	case <-obs.Done():
		return ObserverGone
	default:
	}

	defer func() {
		if r := recover(); r != nil {
			outcome = SendFailed
		}
	}()
	if err := obs.Send(EventName, ev); err != nil {
		if errors.Is(err, ErrObserverGone) {
			return ObserverGone
		}
		return SendFailed
	}
	return Delivered
}
