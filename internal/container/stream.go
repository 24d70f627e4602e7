// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

const (
	// StreamData carries a chunk of combined stdout/stderr.
	StreamData StreamEventKind = iota
	// StreamEnd means the remote command exited. It is always the last event.
	StreamEnd
	// StreamError means the stream failed before the command finished normally.
	// It is always the last event.
	StreamError
)

// engineFailureExitCode is what docker/podman exec return when the engine
// itself failed rather than the command it ran.
const engineFailureExitCode = 125

const streamReadSize = 32 * 1024

type (
	// StreamEventKind distinguishes the events delivered by a Stream.
	StreamEventKind int

	// StreamEvent is one item of a streaming command's output.
	StreamEvent struct {
		Kind StreamEventKind
		// Data is owned by the receiver; the stream never reuses it.
		Data []byte
		// Err is set for StreamError only.
		Err error
		// ExitCode is the remote command's exit status for StreamEnd.
		ExitCode int
	}

	// Stream is a running command whose combined output is delivered as events,
	// in the order it was produced. Exactly one StreamEnd or StreamError is
	// delivered, after which the Events channel is closed.
	Stream struct {
		events    chan StreamEvent
		done      chan struct{}
		cancel    context.CancelFunc
		reader    *io.PipeReader
		closeOnce sync.Once
	}

	commandFactory func(ctx context.Context, args ...string) *exec.Cmd
)

// String returns a short name for the kind.
func (k StreamEventKind) String() string {
	switch k {
	case StreamData:
		return "data"
	case StreamEnd:
		return "end"
	case StreamError:
		return "error"
	default:
		return fmt.Sprintf("StreamEventKind(%d)", int(k))
	}
}

func startStream(ctx context.Context, create commandFactory, args []string) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := create(ctx, args...)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		cancel()
		_ = pw.Close()
		return nil, fmt.Errorf("failed to start stream: %w", err)
	}

	s := &Stream{
		events: make(chan StreamEvent),
		done:   make(chan struct{}),
		cancel: cancel,
		reader: pr,
	}

	waitCh := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		// Wait returns only after the copy goroutines have finished writing,
		// so closing here cannot drop output.
		_ = pw.Close()
		waitCh <- err
	}()

	go s.pump(ctx, waitCh)

	return s, nil
}

// Events returns the channel of stream events.
func (s *Stream) Events() <-chan StreamEvent {
	return s.events
}

// Close stops the remote command and releases the stream. Events not yet
// received are discarded. Close is safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
		_ = s.reader.Close()
	})
	return nil
}

func (s *Stream) pump(ctx context.Context, waitCh <-chan error) {
	defer close(s.events)
	defer s.cancel()

	buf := make([]byte, streamReadSize)
	for {
		n, err := s.reader.Read(buf)
		if n > 0 {
			if !s.send(StreamEvent{Kind: StreamData, Data: bytes.Clone(buf[:n])}) {
				return
			}
		}
		if err != nil {
			break
		}
	}

	s.send(finalEvent(ctx, <-waitCh))
}

func (s *Stream) send(ev StreamEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// finalEvent maps the command's exit to the terminating stream event.
// A non-zero exit from the remote command is a normal end; only engine
// failures and cancellation are stream errors.
func finalEvent(ctx context.Context, waitErr error) StreamEvent {
	if waitErr == nil {
		return StreamEvent{Kind: StreamEnd}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return StreamEvent{Kind: StreamError, Err: ctxErr}
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if exitErr.ExitCode() == engineFailureExitCode {
			return StreamEvent{Kind: StreamError, Err: fmt.Errorf("container exec failed: %w", waitErr)}
		}
		return StreamEvent{Kind: StreamEnd, ExitCode: exitErr.ExitCode()}
	}
	return StreamEvent{Kind: StreamError, Err: waitErr}
}
