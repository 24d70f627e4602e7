// SPDX-License-Identifier: MPL-2.0

package classify

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	// SignalNone is the zero Signal; no marker matched.
	SignalNone Signal = iota
	// SignalAuthPrompt means the downloader is waiting for the user to authorize a device code.
	SignalAuthPrompt
	// SignalForbidden means the remote rejected the credentials.
	SignalForbidden
	// SignalArchiveReady means the game archive has been fully written.
	SignalArchiveReady
)

var (
	// ErrInvalidSignal is returned when a Signal value or name is not recognized.
	ErrInvalidSignal = errors.New("invalid signal")

	// ErrInvalidMarker is the sentinel wrapped by InvalidMarkerError.
	ErrInvalidMarker = errors.New("invalid marker")
)

var signalNames = [...]string{
	SignalNone:         "none",
	SignalAuthPrompt:   "auth_prompt",
	SignalForbidden:    "forbidden",
	SignalArchiveReady: "archive_ready",
}

type (
	// Signal is the classification assigned to a line of process output.
	Signal uint8

	// Marker pairs a pattern with the Signal it raises. Literal patterns match by
	// case-sensitive substring containment; Regexp patterns use RE2 syntax.
	Marker struct {
		Pattern string `json:"pattern"`
		Regexp  bool   `json:"regexp,omitempty"`
		Signal  Signal `json:"signal"`
	}

	// InvalidMarkerError is returned when a marker cannot be compiled.
	InvalidMarkerError struct {
		Marker Marker
		Reason string
	}

	compiledMarker struct {
		Marker
		re *regexp.Regexp
	}
)

// String returns the configuration name of the signal.
func (s Signal) String() string {
	if int(s) < len(signalNames) {
		return signalNames[s]
	}
	return fmt.Sprintf("Signal(%d)", uint8(s))
}

// Validate returns an error unless s is one of the three classifying signals.
func (s Signal) Validate() error {
	switch s {
	case SignalAuthPrompt, SignalForbidden, SignalArchiveReady:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrInvalidSignal, s)
	}
}

// ParseSignal converts a configuration name (e.g. "auth_prompt") to a Signal.
func ParseSignal(name string) (Signal, error) {
	n := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for i, candidate := range signalNames {
		if i != int(SignalNone) && candidate == n {
			return Signal(i), nil
		}
	}
	return SignalNone, fmt.Errorf("%w: %q (valid: auth_prompt, forbidden, archive_ready)", ErrInvalidSignal, name)
}

// MarshalText implements encoding.TextMarshaler.
func (s Signal) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Signal) UnmarshalText(text []byte) error {
	parsed, err := ParseSignal(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Error implements the error interface.
func (e *InvalidMarkerError) Error() string {
	return fmt.Sprintf("invalid marker %q: %s", e.Marker.Pattern, e.Reason)
}

// Unwrap returns ErrInvalidMarker for errors.Is() compatibility.
func (e *InvalidMarkerError) Unwrap() error { return ErrInvalidMarker }

// DefaultMarkers returns the marker set recognized in the Hytale downloader output.
func DefaultMarkers() []Marker {
	return []Marker{
		{Pattern: "oauth.accounts.hytale.com", Signal: SignalAuthPrompt},
		{Pattern: "user_code", Signal: SignalAuthPrompt},
		{Pattern: "403 Forbidden", Signal: SignalForbidden},
		{Pattern: "Download complete", Signal: SignalArchiveReady},
	}
}

func compile(m Marker) (compiledMarker, error) {
	if m.Pattern == "" {
		return compiledMarker{}, &InvalidMarkerError{Marker: m, Reason: "empty pattern"}
	}
	if err := m.Signal.Validate(); err != nil {
		return compiledMarker{}, &InvalidMarkerError{Marker: m, Reason: err.Error()}
	}
	cm := compiledMarker{Marker: m}
	if m.Regexp {
		re, err := regexp.Compile(m.Pattern)
		if err != nil {
			return compiledMarker{}, &InvalidMarkerError{Marker: m, Reason: err.Error()}
		}
		cm.re = re
	}
	return cm, nil
}

// index returns the byte offset of the first match in line, or -1.
func (m compiledMarker) index(line []byte) int {
	if m.re != nil {
		loc := m.re.FindIndex(line)
		if loc == nil {
			return -1
		}
		return loc[0]
	}
	return indexLiteral(line, m.Pattern)
}
