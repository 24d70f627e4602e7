// SPDX-License-Identifier: MPL-2.0

// Package workflow provisions the game server files inside a container and
// reports each lifecycle step to a single observer.
//
// The machine itself is the pure function Transition, which maps a State and an
// Event to the next State plus the Effects the Runner must perform. The Runner
// owns one goroutine per Session; it turns container stream output into Events
// through a classify.Classifier, performs Effects (probes, extraction, timers,
// status publishing) and feeds their results back as Events, one at a time in
// arrival order.
//
// At most one Session per container may be active. A second request for the same
// container is rejected with ErrAlreadyInProgress. A disconnected observer no
// longer receives events, but the Session keeps its claim until it reaches a
// terminal state; a Session waiting on authentication ends immediately instead,
// since nobody is left to authorize the download.
package workflow
