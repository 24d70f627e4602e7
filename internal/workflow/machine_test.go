// SPDX-License-Identifier: MPL-2.0

package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"hytale-panel/internal/classify"
	"hytale-panel/internal/container"
	"hytale-panel/internal/status"
)

func sig(s classify.Signal, context string) EvSignal {
	return EvSignal{Match: classify.Match{Signal: s, Context: context}}
}

func published(effects []Effect) []status.Event {
	var out []status.Event
	for _, e := range effects {
		if p, ok := e.(EffPublish); ok {
			out = append(out, p.Event)
		}
	}
	return out
}

func released(effects []Effect) (EffRelease, bool) {
	for _, e := range effects {
		if r, ok := e.(EffRelease); ok {
			return r, true
		}
	}
	return EffRelease{}, false
}

func TestTransition(t *testing.T) {
	t.Parallel()

	errEvent := func(msg string) []status.Event {
		return []status.Event{{Status: status.StatusError, Message: msg}}
	}

	tests := []struct {
		name      string
		from      State
		event     Event
		want      State
		publishes []status.Event
		effect    Effect
		cause     error
	}{
		{
			name: "start locates first", from: StateIdle, event: EvStart{},
			want: StateIdle, effect: EffLocate{},
		},
		{
			name: "container missing", from: StateIdle,
			event:     EvLocated{Message: "Container not found", Err: container.ErrEnvironmentUnavailable},
			want:      StateError,
			publishes: errEvent("Container not found"),
			cause:     container.ErrEnvironmentUnavailable,
		},
		{
			name: "container missing default message", from: StateIdle, event: EvLocated{},
			want: StateError, publishes: errEvent("Container not found"),
			cause: container.ErrEnvironmentUnavailable,
		},
		{
			name: "located publishes starting", from: StateIdle, event: EvLocated{Found: true},
			want: StateStarting, publishes: []status.Event{status.Starting()}, effect: EffProbeFiles{},
		},
		{
			name: "already provisioned", from: StateStarting, event: EvFilesProbed{Ready: true},
			want:      StateReady,
			publishes: []status.Event{{Status: status.StatusReady, Message: status.MessageAlreadyPresent}},
		},
		{
			name: "needs download", from: StateStarting, event: EvFilesProbed{},
			want: StateStarting, effect: EffRunDownload{},
		},
		{
			name: "first output", from: StateStarting, event: EvOutput{}, want: StateDownloading,
		},
		{
			name: "output while downloading", from: StateDownloading, event: EvOutput{}, want: StateDownloading,
		},
		{
			name: "auth prompt", from: StateDownloading,
			event:     sig(classify.SignalAuthPrompt, "Visit https://oauth.accounts.hytale.com/device?user_code=AB-CD"),
			want:      StateAwaitingAuth,
			publishes: []status.Event{{Status: status.StatusAuthRequired, Message: "Visit https://oauth.accounts.hytale.com/device?user_code=AB-CD"}},
			effect:    EffArmAuthTimeout{},
		},
		{
			name: "auth prompt without context", from: StateStarting, event: sig(classify.SignalAuthPrompt, ""),
			want:      StateAwaitingAuth,
			publishes: []status.Event{{Status: status.StatusAuthRequired, Message: authRequiredMessage}},
		},
		{
			name: "repeated auth prompt is absorbed", from: StateAwaitingAuth,
			event: sig(classify.SignalAuthPrompt, "again"), want: StateAwaitingAuth,
		},
		{
			name: "forbidden", from: StateDownloading, event: sig(classify.SignalForbidden, "403 Forbidden"),
			want: StateError, publishes: errEvent(status.ForbiddenMessage), cause: ErrAccessDenied,
			effect: EffStopStream{},
		},
		{
			name: "forbidden while awaiting auth", from: StateAwaitingAuth, event: sig(classify.SignalForbidden, ""),
			want: StateError, publishes: errEvent(status.ForbiddenMessage), cause: ErrAccessDenied,
		},
		{
			name: "archive ready", from: StateDownloading, event: sig(classify.SignalArchiveReady, "Download complete"),
			want:      StateExtracting,
			publishes: []status.Event{{Status: status.StatusExtracting, Message: status.MessageExtracting}},
			effect:    EffExtract{},
		},
		{
			name: "stream fault verbatim", from: StateDownloading, event: EvStreamFault{Message: "Stream failed"},
			want: StateError, publishes: errEvent("Stream failed"), cause: ErrStreamFault,
		},
		{
			name: "stream end probes archive", from: StateDownloading, event: EvStreamEnd{},
			want: StateDownloading, effect: EffProbeArchive{},
		},
		{
			name: "archive present after end", from: StateStarting, event: EvArchiveProbed{Present: true},
			want: StateExtracting, effect: EffExtract{},
			publishes: []status.Event{{Status: status.StatusExtracting, Message: status.MessageExtracting}},
		},
		{
			name: "no archive after end", from: StateDownloading, event: EvArchiveProbed{},
			want: StateError, publishes: errEvent(status.NoArchiveMessage), cause: ErrNoArchive,
		},
		{
			name: "no archive after end while awaiting auth", from: StateAwaitingAuth, event: EvArchiveProbed{},
			want: StateError, publishes: errEvent(status.NoArchiveMessage), cause: ErrNoArchive,
		},
		{
			name: "archive present after end while awaiting auth", from: StateAwaitingAuth, event: EvArchiveProbed{Present: true},
			want: StateExtracting, effect: EffExtract{},
			publishes: []status.Event{{Status: status.StatusExtracting, Message: status.MessageExtracting}},
		},
		{
			name: "auth timeout", from: StateAwaitingAuth, event: EvAuthTimeout{},
			want: StateError, publishes: errEvent(status.AuthTimeoutMessage), cause: ErrAuthTimeout,
		},
		{
			name: "stale auth timeout", from: StateExtracting, event: EvAuthTimeout{}, want: StateExtracting,
		},
		{
			name: "extracted ready", from: StateExtracting, event: EvExtracted{Ready: true},
			want:      StateReady,
			publishes: []status.Event{{Status: status.StatusReady, Message: status.MessageReady}},
		},
		{
			name: "extracted not ready", from: StateExtracting, event: EvExtracted{},
			want: StateError, publishes: errEvent(status.ExtractionFailedMessage), cause: ErrExtractionFailed,
		},
		{
			name: "stream events ignored while extracting", from: StateExtracting, event: EvStreamFault{Message: "x"},
			want: StateExtracting,
		},
		{
			name: "observer gone while awaiting auth", from: StateAwaitingAuth, event: EvObserverGone{},
			want: StateError, publishes: errEvent(observerGoneMessage), cause: ErrObserverGone,
		},
		{
			name: "observer gone while downloading", from: StateDownloading, event: EvObserverGone{},
			want: StateDownloading,
		},
		{
			name: "aborted", from: StateExtracting, event: EvAborted{Message: "Provisioning cancelled"},
			want: StateError, publishes: errEvent("Provisioning cancelled"),
		},
		{
			name: "ready absorbs", from: StateReady, event: sig(classify.SignalForbidden, ""), want: StateReady,
		},
		{
			name: "error absorbs", from: StateError, event: EvLocated{Found: true}, want: StateError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, effects := Transition(tt.from, tt.event)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.publishes, published(effects))
			if tt.effect != nil {
				assert.Contains(t, effects, tt.effect)
			}

			rel, ok := released(effects)
			cause := rel.Err
			assert.Equal(t, got.IsTerminal() && !tt.from.IsTerminal(), ok, "release iff entering a terminal state")
			if tt.cause != nil {
				require.Error(t, cause)
				assert.True(t, errors.Is(cause, tt.cause), "cause %v, want %v", cause, tt.cause)
			}
			if got == StateReady {
				assert.NoError(t, cause)
			}
			if got == StateError && ok {
				assert.Error(t, cause)
			}
		})
	}
}

func TestState_Wire(t *testing.T) {
	t.Parallel()

	for _, s := range []State{StateIdle, StateDownloading} {
		_, ok := s.Wire()
		assert.False(t, ok, s.String())
	}
	for s, want := range map[State]status.Status{
		StateStarting:     status.StatusStarting,
		StateAwaitingAuth: status.StatusAuthRequired,
		StateExtracting:   status.StatusExtracting,
		StateReady:        status.StatusReady,
		StateError:        status.StatusError,
	} {
		got, ok := s.Wire()
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
}

var anyEvent = rapid.SampledFrom([]Event{
	EvOutput{},
	sig(classify.SignalAuthPrompt, "https://oauth.accounts.hytale.com/device"),
	sig(classify.SignalForbidden, "403 Forbidden"),
	sig(classify.SignalArchiveReady, "Download complete"),
	EvStreamEnd{},
	EvStreamFault{Message: "Stream failed"},
	EvArchiveProbed{Present: true},
	EvArchiveProbed{},
	EvExtracted{Ready: true},
	EvExtracted{},
	EvAuthTimeout{},
	EvObserverGone{},
	EvFilesProbed{Ready: true},
	EvFilesProbed{},
})

// For any event order, a session that found its container publishes starting
// first, publishes at most one terminal event, and publishes nothing after it.
func TestProperty_PublishedSequence(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		events := append([]Event{EvStart{}, EvLocated{Found: true}},
			rapid.SliceOfN(anyEvent, 0, 30).Draw(t, "events")...)

		st := StateIdle
		var out []status.Event
		releases := 0
		for _, ev := range events {
			var effects []Effect
			st, effects = Transition(st, ev)
			out = append(out, published(effects)...)
			if _, ok := released(effects); ok {
				releases++
			}
		}

		if len(out) == 0 || out[0].Status != status.StatusStarting {
			t.Fatalf("first event is not starting: %v", out)
		}
		terminals := 0
		for i, ev := range out {
			if ev.Status.IsTerminal() {
				terminals++
				if i != len(out)-1 {
					t.Fatalf("event after terminal: %v", out)
				}
			}
			if i > 0 && ev.Status == status.StatusStarting {
				t.Fatalf("starting published twice: %v", out)
			}
		}
		if terminals > 1 || releases > 1 || (terminals == 1) != st.IsTerminal() || releases != terminals {
			t.Fatalf("terminals=%d releases=%d final=%s: %v", terminals, releases, st, out)
		}
	})
}

// A missing container never produces anything but the single error event.
func TestProperty_MissingContainer(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		events := append([]Event{EvStart{}, EvLocated{Message: "Container not found"}},
			rapid.SliceOfN(anyEvent, 0, 10).Draw(t, "events")...)
		st := StateIdle
		var out []status.Event
		for _, ev := range events {
			var effects []Effect
			st, effects = Transition(st, ev)
			out = append(out, published(effects)...)
		}
		want := []status.Event{{Status: status.StatusError, Message: "Container not found"}}
		if len(out) != 1 || out[0] != want[0] {
			t.Fatalf("published %v, want %v", out, want)
		}
	})
}
