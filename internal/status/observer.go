// SPDX-License-Identifier: MPL-2.0

package status

import (
	"errors"
	"sync"
)

// ErrObserverGone is returned by Send once an observer has disconnected.
var ErrObserverGone = errors.New("observer disconnected")

type (
	// Observer receives named events for one provisioning session. Send must not
	// block on the network; Done is closed when the observer disconnects.
	Observer interface {
		Send(name string, payload any) error
		Done() <-chan struct{}
	}

	// Func adapts a function to an Observer that never disconnects.
	Func func(name string, payload any) error

	// Message is one event delivered to a Recorder.
	Message struct {
		Name    string
		Payload any
	}

	// Recorder is an in-memory Observer that keeps every message in order.
	Recorder struct {
		mu       sync.Mutex
		messages []Message
		done     chan struct{}
		once     sync.Once
		notify   chan struct{}
	}
)

// Send calls f.
func (f Func) Send(name string, payload any) error { return f(name, payload) }

// Done returns nil; a Func observer never disconnects.
func (f Func) Done() <-chan struct{} { return nil }

// NewRecorder creates a connected Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		done:   make(chan struct{}),
		notify: make(chan struct{}, 1),
	}
}

// Send records the message unless the recorder has been disconnected.
func (r *Recorder) Send(name string, payload any) error {
	select {
	case <-r.done:
		return ErrObserverGone
	default:
	}
	r.mu.Lock()
	r.messages = append(r.messages, Message{Name: name, Payload: payload})
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

// Done returns a channel closed by Disconnect.
func (r *Recorder) Done() <-chan struct{} { return r.done }

// Disconnect simulates the observer going away.
func (r *Recorder) Disconnect() {
	r.once.Do(func() { close(r.done) })
}

// Updated returns a channel that receives after each recorded message. Several
// messages may coalesce into one notification.
func (r *Recorder) Updated() <-chan struct{} { return r.notify }

// Messages returns a copy of all recorded messages.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Events returns the download-status payloads in delivery order.
func (r *Recorder) Events() []Event {
	var events []Event
	for _, m := range r.Messages() {
		if ev, ok := m.Payload.(Event); ok && m.Name == EventName {
			events = append(events, ev)
		}
	}
	return events
}

// Statuses returns just the status field of each recorded event.
func (r *Recorder) Statuses() []Status {
	events := r.Events()
	out := make([]Status, len(events))
	for i, ev := range events {
		out[i] = ev.Status
	}
	return out
}
