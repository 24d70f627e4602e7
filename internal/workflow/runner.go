// SPDX-License-Identifier: MPL-2.0

package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"hytale-panel/internal/classify"
	"hytale-panel/internal/container"
	"hytale-panel/internal/status"
)

const (
	tracerName = "hytale-panel/workflow"

	downloadStartFailedMessage = "Failed to start download"
	cancelledMessage           = "Provisioning cancelled"
	streamClosedMessage        = "Stream closed"
)

type (
	// Runner drives provisioning sessions.
	Runner struct {
		cfg       Config
		registry  *Registry
		publisher *status.Publisher
		logger    *log.Logger
		tracer    trace.Tracer
		newID     func() string
		wg        sync.WaitGroup
	}

	// Option configures a Runner.
	Option func(*Runner)

	// run is the per-session loop state. It is only touched by the session goroutine.
	run struct {
		*Runner
		session    *Session
		target     Target
		classifier *classify.Classifier
		span       trace.Span

		queue      []Event
		stream     OutputStream
		streamCh   <-chan container.StreamEvent
		authTimer  <-chan time.Time
	}
)

// WithPublisher sets the status publisher.
func WithPublisher(p *status.Publisher) Option {
	return func(r *Runner) { r.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Runner. Unset Config fields take their defaults.
func New(cfg Config, opts ...Option) (*Runner, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Markers = append([]classify.Marker(nil), cfg.Markers...)

	r := &Runner{
		cfg:      cfg,
		registry: NewRegistry(),
		logger:   log.New(io.Discard),
		tracer:   otel.Tracer(tracerName),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.publisher == nil {
		r.publisher = status.NewPublisher(status.WithLogger(r.logger))
	}
	return r, nil
}

// Registry returns the runner's session registry.
func (r *Runner) Registry() *Registry { return r.registry }

// Start claims the target's container and provisions it in the background.
// It fails with ErrAlreadyInProgress when the container already has a session.
// ctx bounds the whole session, not just the call.
func (r *Runner) Start(ctx context.Context, target Target, obs status.Observer) (*Session, error) {
	key := target.Env.Name()
	s := newSession(r.newID(), key, r.cfg.Clock.Now(), obs)
	if err := r.registry.Acquire(key, s); err != nil {
		return nil, err
	}

	classifier, err := classify.New(r.cfg.Markers)
	if err != nil {
		r.registry.Release(key, s)
		return nil, err
	}

	ctx, span := r.tracer.Start(ctx, "provision", trace.WithAttributes(
		attribute.String("session.id", s.ID),
		attribute.String("container", key),
	))
	ru := &run{Runner: r, session: s, target: target, classifier: classifier, span: span}
	r.wg.Go(func() { ru.loop(ctx) })
	return s, nil
}

// Drain waits for every started session goroutine to return.
// Sessions are not cancelled; the caller cancels their contexts first.
func (r *Runner) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Provision runs a session to completion and returns it.
func (r *Runner) Provision(ctx context.Context, target Target, obs status.Observer) (*Session, error) {
	s, err := r.Start(ctx, target, obs)
	if err != nil {
		return nil, err
	}
	_, _ = s.Wait(ctx)
	return s, nil
}

func (ru *run) loop(ctx context.Context) {
	s := ru.session
	logger := ru.logger.With("session", s.ID, "container", s.Key)
	logger.Info("provisioning started")

	defer func() {
		if ru.stream != nil {
			_ = ru.stream.Close()
		}
		final := s.State()
		ru.span.SetAttributes(attribute.String("state", final.String()))
		if err := s.Err(); err != nil && final == StateError {
			ru.span.RecordError(err)
			ru.span.SetStatus(codes.Error, err.Error())
		}
		ru.span.End()
		logger.Info("provisioning finished", "state", final, "elapsed", ru.cfg.Clock.Since(s.StartedAt))
	}()

	var observerDone <-chan struct{}
	if s.observer != nil {
		observerDone = s.observer.Done()
	}
	ctxDone := ctx.Done()

	ru.queue = append(ru.queue, EvStart{})
	for !s.State().IsTerminal() {
		if len(ru.queue) == 0 {
			select {
			case ev, ok := <-ru.streamCh:
				if !ok {
					ru.streamCh = nil
					ru.queue = append(ru.queue, EvStreamFault{Message: streamClosedMessage})
					continue
				}
				ru.queue = append(ru.queue, ru.translate(ev)...)
			case <-ru.authTimer:
				ru.authTimer = nil
				ru.queue = append(ru.queue, EvAuthTimeout{})
			case <-observerDone:
				observerDone = nil
				logger.Debug("observer disconnected")
				ru.queue = append(ru.queue, EvObserverGone{})
			case <-ctxDone:
				ctxDone = nil
				ru.queue = append(ru.queue, EvAborted{Message: cancelledMessage, Err: ctx.Err()})
			}
			continue
		}

		ev := ru.queue[0]
		ru.queue = ru.queue[1:]

		from := s.State()
		next, effects := Transition(from, ev)
		if next != from {
			logger.Debug("transition", "from", from, "to", next, "event", fmt.Sprintf("%T", ev))
			ru.span.AddEvent("transition", trace.WithAttributes(
				attribute.String("from", from.String()),
				attribute.String("to", next.String()),
			))
		}
		s.setState(next)

		for _, eff := range effects {
			ru.apply(ctx, eff)
		}
	}
}

// translate turns one stream event into machine events, in stream order.
func (ru *run) translate(ev container.StreamEvent) []Event {
	var out []Event
	switch ev.Kind {
	case container.StreamData:
		out = append(out, EvOutput{})
		for _, m := range ru.classifier.Feed(ev.Data) {
			out = append(out, EvSignal{Match: m})
		}
	case container.StreamEnd:
		for _, m := range ru.classifier.Flush() {
			out = append(out, EvSignal{Match: m})
		}
		ru.streamCh = nil
		out = append(out, EvStreamEnd{})
	case container.StreamError:
		for _, m := range ru.classifier.Flush() {
			out = append(out, EvSignal{Match: m})
		}
		ru.streamCh = nil
		msg := "Stream failed"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		out = append(out, EvStreamFault{Message: msg})
	}
	return out
}

func (ru *run) apply(ctx context.Context, eff Effect) {
	s := ru.session
	switch e := eff.(type) {
	case EffPublish:
		ru.publisher.Publish(s.Ref(), e.Event)

	case EffLocate:
		if err := ru.target.Env.Locate(ctx); err != nil {
			ru.queue = append(ru.queue, EvLocated{Message: userMessage(err), Err: err})
			return
		}
		ru.queue = append(ru.queue, EvLocated{Found: true})

	case EffProbeFiles:
		ru.queue = append(ru.queue, EvFilesProbed{Ready: ru.target.Probe.CheckServerFiles(ctx).Ready})

	case EffRunDownload:
		stream, err := ru.target.Env.Run(ctx, ru.cfg.DownloadCommand)
		if err != nil {
			ru.logger.Warn("download failed to start", "session", s.ID, "error", err)
			msg := downloadStartFailedMessage
			var um userMessager
			if errors.As(err, &um) {
				msg = um.UserMessage()
			}
			ru.queue = append(ru.queue, EvStreamFault{Message: msg})
			return
		}
		ru.stream = stream
		ru.streamCh = stream.Events()

	case EffProbeArchive:
		ru.queue = append(ru.queue, EvArchiveProbed{Present: ru.target.Probe.ArchiveExists(ctx)})

	case EffExtract:
		if err := ru.target.Probe.Extract(ctx); err != nil {
			ru.logger.Warn("extraction failed", "session", s.ID, "error", err)
			ru.queue = append(ru.queue, EvExtracted{Message: status.ExtractionFailedMessage})
			return
		}
		ru.queue = append(ru.queue, EvExtracted{Ready: ru.target.Probe.CheckServerFiles(ctx).Ready})

	case EffArmAuthTimeout:
		ru.authTimer = ru.cfg.Clock.After(ru.cfg.AuthTimeout)

	case EffStopStream:
		if ru.stream != nil {
			_ = ru.stream.Close()
			ru.stream = nil
		}
		ru.streamCh = nil

	case EffRelease:
		ru.registry.Release(s.Key, s)
		ru.span.SetAttributes(attribute.Int("status.published", len(ru.publisher.Published(s.ID))))
		ru.publisher.Forget(s.ID)
		s.finish(e.Err)
	}
}

type userMessager interface {
	UserMessage() string
}

// userMessage returns the observer-facing text for a container lookup failure.
func userMessage(err error) string {
	var um userMessager
	if errors.As(err, &um) {
		return um.UserMessage()
	}
	return defaultUnavailableMessage
}
