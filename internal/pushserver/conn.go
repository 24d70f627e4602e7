// SPDX-License-Identifier: MPL-2.0

package pushserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"hytale-panel/internal/status"
	"hytale-panel/internal/workflow"
)

const (
	readLimit       = 64 << 10
	writeTimeout    = 10 * time.Second
	maxHistoryLines = 5000

	rateLimitedMessage = "Too many download requests. Try again shortly."
)

// conn is one push connection. It is the status.Observer of every session it
// starts.
type conn struct {
	id      string
	srv     *Server
	ws      *websocket.Conn
	limiter *rate.Limiter
	logger  *log.Logger

	out       chan outbound
	done      chan struct{}
	closeOnce sync.Once
	reason    string
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(readLimit)

	c := &conn{
		id:      uuid.NewString(),
		srv:     s,
		ws:      ws,
		limiter: s.newLimiter(),
		out:     make(chan outbound, s.cfg.SendQueue),
		done:    make(chan struct{}),
	}
	c.logger = s.logger.With("conn", c.id)
	c.logger.Debug("push connection opened", "remote", r.RemoteAddr, "user", usernameFrom(r.Context()))

	s.track(c)
	defer s.untrack(c)

	ctx := r.Context()
	var wg sync.WaitGroup
	wg.Go(func() { c.writeLoop(ctx) })
	c.readLoop(ctx)
	c.shutdown("client disconnected")
	wg.Wait()
	c.logger.Debug("push connection closed", "reason", c.reason)
}

// Send queues an event. It never blocks: a full queue drops the connection.
func (c *conn) Send(name string, payload any) error {
	select {
	case <-c.done:
		return status.ErrObserverGone
	default:
	}
	select {
	case c.out <- outbound{Event: name, Data: payload}:
		return nil
	case <-c.done:
		return status.ErrObserverGone
	default:
		c.logger.Warn("send queue full, dropping connection", "event", name)
		c.shutdown("send queue full")
		return status.ErrObserverGone
	}
}

// Done is closed once the connection is gone.
func (c *conn) Done() <-chan struct{} { return c.done }

func (c *conn) shutdown(reason string) {
	c.closeOnce.Do(func() {
		c.reason = reason
		close(c.done)
	})
}

func (c *conn) writeLoop(ctx context.Context) {
	for {
		select {
		case msg := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c.ws, msg)
			cancel()
			if err != nil {
				c.logger.Debug("write failed", "event", msg.Event, "error", err)
				c.shutdown("write failed")
			}
		case <-ctx.Done():
			c.shutdown("server shutting down")
		case <-c.done:
			_ = c.ws.Close(websocket.StatusNormalClosure, c.reason)
			return
		}
	}
}

func (c *conn) readLoop(ctx context.Context) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				c.logger.Debug("read failed", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			_ = c.Send(EventError, ErrorPayload{Message: "Expected a text message"})
			continue
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			_ = c.Send(EventError, ErrorPayload{Message: "Malformed message"})
			continue
		}
		c.dispatch(ctx, env)
	}
}

func (c *conn) dispatch(ctx context.Context, env Envelope) {
	switch env.Event {
	case EventDownload:
		c.download()
	case EventFilesCheck:
		_ = c.Send(EventFilesStatus, c.srv.filesStatus(ctx))
	case EventLogsHistory:
		c.logsHistory(ctx, env.Data)
	default:
		_ = c.Send(EventError, ErrorPayload{Message: fmt.Sprintf("Unknown event %q", env.Event)})
	}
}

func (c *conn) download() {
	if !c.limiter.Allow() {
		_ = c.Send(EventDownloadBusy, BusyPayload{Message: rateLimitedMessage})
		return
	}
	session, err := c.srv.deps.Runner.Start(c.srv.ctx, c.srv.deps.Target, c)
	var inProgress *workflow.InProgressError
	switch {
	case errors.As(err, &inProgress):
		_ = c.Send(EventDownloadBusy, BusyPayload{Message: inProgress.UserMessage()})
	case err != nil:
		c.logger.Error("download failed to start", "error", err)
		_ = c.Send(EventError, ErrorPayload{Message: "Failed to start download"})
	default:
		c.logger.Info("download started", "session", session.ID)
	}
}

func (c *conn) logsHistory(ctx context.Context, data json.RawMessage) {
	var req LogsRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			_ = c.Send(EventLogsHistory, LogsPayload{Logs: []string{}, Initial: true, Error: "Malformed request"})
			return
		}
	}
	req.Offset = max(req.Offset, 0)
	if req.Limit <= 0 {
		req.Limit = c.srv.cfg.HistoryLines
	}
	req.Limit = min(req.Limit, maxHistoryLines)
	initial := req.Offset == 0

	lines, err := c.srv.deps.Container.Logs(ctx, req.Offset+req.Limit)
	if err != nil {
		c.logger.Warn("failed to read container logs", "error", err)
		_ = c.Send(EventLogsHistory, LogsPayload{Logs: []string{}, Initial: initial, Error: "Failed to fetch logs"})
		return
	}
	end := max(len(lines)-req.Offset, 0)
	start := max(end-req.Limit, 0)
	page := append([]string{}, lines[start:end]...)
	_ = c.Send(EventLogsHistory, LogsPayload{Logs: page, Initial: initial})
}
