// SPDX-License-Identifier: MPL-2.0

package workflow

import (
	"errors"
	"fmt"

	"hytale-panel/internal/classify"
	"hytale-panel/internal/container"
	"hytale-panel/internal/status"
)

const (
	StateIdle State = iota
	StateStarting
	StateAwaitingAuth
	StateDownloading
	StateExtracting
	StateReady
	StateError
)

// Messages that only the machine produces.
const (
	defaultUnavailableMessage = "Container not found"
	authRequiredMessage       = "Authentication required"
	observerGoneMessage       = "Observer disconnected"
)

type (
	// State is the lifecycle state of a provisioning session.
	State int

	// Event is an input to Transition.
	Event interface{ isEvent() }

	// EvStart begins a session.
	EvStart struct{}
	// EvLocated reports the container lookup. Message is the user-facing text
	// when the container is not usable.
	EvLocated struct {
		Found   bool
		Message string
		Err     error
	}
	// EvFilesProbed reports whether the server files were already present.
	EvFilesProbed struct{ Ready bool }
	// EvOutput reports that the download produced output.
	EvOutput struct{}
	// EvSignal reports a classified marker in the download output.
	EvSignal struct{ Match classify.Match }
	// EvStreamEnd reports that the download command exited.
	EvStreamEnd struct{}
	// EvStreamFault reports an abnormal end of the download stream.
	EvStreamFault struct{ Message string }
	// EvArchiveProbed reports whether the downloaded archive exists.
	EvArchiveProbed struct{ Present bool }
	// EvExtracted reports the extraction and its post-check.
	EvExtracted struct {
		Ready   bool
		Message string
	}
	// EvAuthTimeout fires when authentication took too long.
	EvAuthTimeout struct{}
	// EvObserverGone reports that the observer disconnected.
	EvObserverGone struct{}
	// EvAborted ends the session from outside, e.g. on shutdown.
	EvAborted struct {
		Message string
		Err     error
	}

	// Effect is an action Transition asks the Runner to perform.
	Effect interface{ isEffect() }

	// EffPublish sends a status event to the observer.
	EffPublish struct{ Event status.Event }
	// EffLocate looks the container up.
	EffLocate struct{}
	// EffProbeFiles checks whether the server files are already present.
	EffProbeFiles struct{}
	// EffRunDownload starts the download command and attaches to its output.
	EffRunDownload struct{}
	// EffProbeArchive checks for the downloaded archive.
	EffProbeArchive struct{}
	// EffExtract unpacks the archive and re-checks the server files.
	EffExtract struct{}
	// EffArmAuthTimeout starts the authentication deadline.
	EffArmAuthTimeout struct{}
	// EffStopStream detaches from and stops the download command.
	EffStopStream struct{}
	// EffRelease ends the session. Err is nil on success.
	EffRelease struct{ Err error }
)

func (EvStart) isEvent()         {}
func (EvLocated) isEvent()       {}
func (EvFilesProbed) isEvent()   {}
func (EvOutput) isEvent()        {}
func (EvSignal) isEvent()        {}
func (EvStreamEnd) isEvent()     {}
func (EvStreamFault) isEvent()   {}
func (EvArchiveProbed) isEvent() {}
func (EvExtracted) isEvent()     {}
func (EvAuthTimeout) isEvent()   {}
func (EvObserverGone) isEvent()  {}
func (EvAborted) isEvent()       {}

func (EffPublish) isEffect()        {}
func (EffLocate) isEffect()         {}
func (EffProbeFiles) isEffect()     {}
func (EffRunDownload) isEffect()    {}
func (EffProbeArchive) isEffect()   {}
func (EffExtract) isEffect()        {}
func (EffArmAuthTimeout) isEffect() {}
func (EffStopStream) isEffect()     {}
func (EffRelease) isEffect()        {}

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateAwaitingAuth:
		return "awaiting-auth"
	case StateDownloading:
		return "downloading"
	case StateExtracting:
		return "extracting"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// IsTerminal reports whether s ends the session.
func (s State) IsTerminal() bool {
	return s == StateReady || s == StateError
}

// Wire returns the status published on entering s. Idle and Downloading are
// internal and have no wire form.
func (s State) Wire() (status.Status, bool) {
	switch s {
	case StateStarting:
		return status.StatusStarting, true
	case StateAwaitingAuth:
		return status.StatusAuthRequired, true
	case StateExtracting:
		return status.StatusExtracting, true
	case StateReady:
		return status.StatusReady, true
	case StateError:
		return status.StatusError, true
	default:
		return "", false
	}
}

func (s State) streaming() bool {
	return s == StateStarting || s == StateDownloading || s == StateAwaitingAuth
}

// Transition is the provisioning state machine. It is pure: every side effect
// is returned as an Effect. Terminal states absorb all events, and events that
// do not apply to the current state leave it unchanged.
func Transition(s State, ev Event) (State, []Effect) {
	if s.IsTerminal() {
		return s, nil
	}

	switch e := ev.(type) {
	case EvAborted:
		return fail(e.Message, e.Err)

	case EvStart:
		if s == StateIdle {
			return StateIdle, []Effect{EffLocate{}}
		}

	case EvLocated:
		if s != StateIdle {
			break
		}
		if !e.Found {
			msg := e.Message
			if msg == "" {
				msg = defaultUnavailableMessage
			}
			cause := e.Err
			if cause == nil {
				cause = container.ErrEnvironmentUnavailable
			}
			return fail(msg, cause)
		}
		return StateStarting, []Effect{EffPublish{status.Starting()}, EffProbeFiles{}}

	case EvFilesProbed:
		if s != StateStarting {
			break
		}
		if e.Ready {
			return StateReady, []Effect{
				EffPublish{status.Event{Status: status.StatusReady, Message: status.MessageAlreadyPresent}},
				EffRelease{},
			}
		}
		return StateStarting, []Effect{EffRunDownload{}}

	case EvOutput:
		if s == StateStarting {
			return StateDownloading, nil
		}

	case EvSignal:
		if s.streaming() {
			return onSignal(s, e.Match)
		}

	case EvStreamFault:
		if s.streaming() {
			return fail(e.Message, fmt.Errorf("%w: %s", ErrStreamFault, e.Message))
		}

	case EvStreamEnd:
		if s.streaming() {
			return s, []Effect{EffProbeArchive{}}
		}

	case EvArchiveProbed:
		if !s.streaming() {
			break
		}
		// The downloader has exited, so an absent archive can no longer appear.
		if e.Present {
			return extract()
		}
		return fail(status.NoArchiveMessage, ErrNoArchive)

	case EvExtracted:
		if s != StateExtracting {
			break
		}
		if e.Ready {
			return StateReady, []Effect{
				EffPublish{status.Event{Status: status.StatusReady, Message: status.MessageReady}},
				EffRelease{},
			}
		}
		msg := e.Message
		if msg == "" {
			msg = status.ExtractionFailedMessage
		}
		return fail(msg, ErrExtractionFailed)

	case EvAuthTimeout:
		if s == StateAwaitingAuth {
			return fail(status.AuthTimeoutMessage, ErrAuthTimeout)
		}

	case EvObserverGone:
		if s == StateAwaitingAuth {
			return fail(observerGoneMessage, ErrObserverGone)
		}
	}

	return s, nil
}

func onSignal(s State, m classify.Match) (State, []Effect) {
	switch m.Signal {
	case classify.SignalAuthPrompt:
		if s == StateAwaitingAuth {
			return s, nil
		}
		msg := m.Context
		if msg == "" {
			msg = authRequiredMessage
		}
		return StateAwaitingAuth, []Effect{
			EffPublish{status.Event{Status: status.StatusAuthRequired, Message: msg}},
			EffArmAuthTimeout{},
		}
	case classify.SignalForbidden:
		return fail(status.ForbiddenMessage, ErrAccessDenied)
	case classify.SignalArchiveReady:
		return extract()
	default:
		return s, nil
	}
}

func extract() (State, []Effect) {
	return StateExtracting, []Effect{
		EffPublish{status.Event{Status: status.StatusExtracting, Message: status.MessageExtracting}},
		EffExtract{},
	}
}

func fail(msg string, cause error) (State, []Effect) {
	if cause == nil {
		cause = errors.New(msg)
	}
	return StateError, []Effect{
		EffPublish{status.Event{Status: status.StatusError, Message: msg}},
		EffStopStream{},
		EffRelease{Err: cause},
	}
}
