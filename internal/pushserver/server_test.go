// SPDX-License-Identifier: MPL-2.0

package pushserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hytale-panel/internal/auth"
	"hytale-panel/internal/pathguard"
	"hytale-panel/internal/probe"
	"hytale-panel/internal/status"
	"hytale-panel/internal/workflow"
)

const testTimeout = 2 * time.Second

type (
	fakeFiles struct {
		mu     sync.Mutex
		status probe.ArtifactStatus
		authed bool
		wipe   probe.WipeResult
		wipes  int
	}

	copied struct {
		Path    string
		Content string
	}

	fakeContainer struct {
		mu      sync.Mutex
		logs    []string
		logsErr error
		copyErr error
		copies  []copied
		tails   []int
	}

	fakeEnv struct {
		// release, when set, blocks Locate until it is closed.
		release chan struct{}
	}
)

func (f *fakeFiles) CheckServerFiles(context.Context) probe.ArtifactStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeFiles) CheckAuth(context.Context) bool { return f.authed }

func (f *fakeFiles) WipeData(context.Context) probe.WipeResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wipes++
	return f.wipe
}

func (f *fakeFiles) ArchiveExists(context.Context) bool { return false }

func (f *fakeFiles) Extract(context.Context) error { return probe.ErrExtractFailed }

func (c *fakeContainer) CopyIn(_ context.Context, hostPath, containerPath string) error {
	data, err := os.ReadFile(hostPath)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.copyErr != nil {
		return c.copyErr
	}
	c.copies = append(c.copies, copied{Path: containerPath, Content: string(data)})
	return nil
}

func (c *fakeContainer) Logs(_ context.Context, tail int) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tails = append(c.tails, tail)
	if c.logsErr != nil {
		return nil, c.logsErr
	}
	if tail >= len(c.logs) {
		return c.logs, nil
	}
	return c.logs[len(c.logs)-tail:], nil
}

func (c *fakeContainer) copiesSnapshot() []copied {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]copied(nil), c.copies...)
}

func (e *fakeEnv) Name() string { return "hytale" }

func (e *fakeEnv) Locate(ctx context.Context) error {
	if e.release == nil {
		return nil
	}
	select {
	case <-e.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *fakeEnv) Run(context.Context, string) (workflow.OutputStream, error) {
	return nil, errors.New("not scripted")
}

type fixture struct {
	srv       *Server
	ts        *httptest.Server
	files     *fakeFiles
	container *fakeContainer
	env       *fakeEnv
	issuer    *auth.Issuer
	token     string
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()

	f := &fixture{
		files: &fakeFiles{
			status: probe.NewArtifactStatus(true, true),
			authed: true,
			wipe:   probe.WipeResult{Success: true},
		},
		container: &fakeContainer{},
		env:       &fakeEnv{},
		issuer:    auth.NewIssuer("test-secret", time.Hour),
	}
	token, err := f.issuer.Generate("admin")
	require.NoError(t, err)
	f.token = token

	runner, err := workflow.New(workflow.Config{})
	require.NoError(t, err)
	guard, err := pathguard.NewGuard("/opt/hytale")
	require.NoError(t, err)

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := New(cfg, Deps{
		Runner:    runner,
		Target:    workflow.Target{Env: f.env, Probe: f.files},
		Files:     f.files,
		Container: f.container,
		Guard:     guard,
		Issuer:    f.issuer,
	}, WithLogger(log.New(io.Discard)))
	require.NoError(t, err)
	f.srv = srv
	f.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		f.ts.Close()
		_ = srv.Stop()
	})
	return f
}

func (f *fixture) request(t *testing.T, method, path string, body io.Reader, authed bool) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), method, f.ts.URL+path, body)
	require.NoError(t, err)
	if authed {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, r io.Reader) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(r).Decode(&v))
	return v
}

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(DefaultConfig(), Deps{})
	require.ErrorIs(t, err, ErrMissingDependency)
}

func TestHandler_PublicRoutes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(c *Config) { c.BasePath = "panel/" })

	resp := f.request(t, http.MethodGet, "/panel-config", http.NoBody, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, PanelConfig{BasePath: "/panel", AllowedUploads: pathguard.AllowedUploadExtensions()},
		decode[PanelConfig](t, resp.Body))

	resp = f.request(t, http.MethodGet, "/panel/panel-config", http.NoBody, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.request(t, http.MethodGet, "/panel/health", http.NoBody, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok", string(body))

	resp = f.request(t, http.MethodGet, "/api/files/status", http.NoBody, true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "routes live under the base path")
}

func TestHandler_Auth(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	resp := f.request(t, http.MethodGet, "/api/files/status", http.NoBody, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.request(t, http.MethodGet, "/api/files/status", http.NoBody, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, FilesStatus{ArtifactStatus: probe.NewArtifactStatus(true, true), Authenticated: true},
		decode[FilesStatus](t, resp.Body))

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, f.ts.URL+"/auth/status", http.NoBody)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: f.token})
	resp, err = f.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, AuthStatus{Authenticated: true, Username: "admin"}, decode[AuthStatus](t, resp.Body))

	resp = f.request(t, http.MethodGet, "/auth/status", http.NoBody, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_AuthDisabled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(c *Config) { c.AuthDisabled = true })

	resp := f.request(t, http.MethodGet, "/api/files/status", http.NoBody, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.request(t, http.MethodGet, "/panel-config", http.NoBody, false)
	assert.True(t, decode[PanelConfig](t, resp.Body).AuthDisabled)
}

func TestHandler_Wipe(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	resp := f.request(t, http.MethodPost, "/api/files/wipe", http.NoBody, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, probe.WipeResult{Success: true}, decode[probe.WipeResult](t, resp.Body))

	f.files.mu.Lock()
	f.files.wipe = probe.WipeResult{Error: "Failed to remove server data"}
	f.files.mu.Unlock()
	resp = f.request(t, http.MethodPost, "/api/files/wipe", http.NoBody, true)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Failed to remove server data", decode[probe.WipeResult](t, resp.Body).Error)
}

func multipartBody(t *testing.T, dir, filename, content string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("path", dir))
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(part, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHandler_Upload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		dir      string
		filename string
		code     int
		want     UploadResult
	}{
		{
			name: "allowed", dir: "/mods", filename: "config.json",
			code: http.StatusOK, want: UploadResult{Success: true, Path: "/mods/config.json"},
		},
		{
			name: "root dir", dir: "", filename: "Assets.zip",
			code: http.StatusOK, want: UploadResult{Success: true, Path: "/Assets.zip"},
		},
		{
			name: "executable", dir: "/mods", filename: "run.sh",
			code: http.StatusBadRequest, want: UploadResult{Error: "File type not allowed"},
		},
		{
			name: "traversal", dir: "../../etc", filename: "passwd.txt",
			code: http.StatusBadRequest, want: UploadResult{Error: "Invalid path"},
		},
		{
			name: "absolute", dir: "//etc", filename: "hosts.txt",
			code: http.StatusBadRequest, want: UploadResult{Error: "Invalid path"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, nil)
			body, contentType := multipartBody(t, tt.dir, tt.filename, "payload")
			req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, f.ts.URL+"/api/files/upload", body)
			require.NoError(t, err)
			req.Header.Set("Content-Type", contentType)
			req.Header.Set("Authorization", "Bearer "+f.token)
			resp, err := f.ts.Client().Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.code, resp.StatusCode)
			assert.Equal(t, tt.want, decode[UploadResult](t, resp.Body))

			copies := f.container.copiesSnapshot()
			if tt.want.Success {
				require.Len(t, copies, 1)
				assert.Equal(t, "/opt/hytale"+tt.want.Path, copies[0].Path)
				assert.Equal(t, "payload", copies[0].Content)
			} else {
				assert.Empty(t, copies)
			}
		})
	}
}

func TestUploadDestination_RejectedError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	_, err := f.srv.uploadDestination("../x", "a.txt")
	require.ErrorIs(t, err, ErrUploadRejected)
	require.ErrorIs(t, err, pathguard.ErrPathTraversal)
}

// --- push channel ---

type received struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
	c, _, err := websocket.Dial(t.Context(), url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + f.token}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func send(t *testing.T, c *websocket.Conn, event string, data any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), testTimeout)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, c, map[string]any{"event": event, "data": data}))
}

func recv(t *testing.T, c *websocket.Conn) received {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), testTimeout)
	defer cancel()
	var msg received
	require.NoError(t, wsjson.Read(ctx, c, &msg))
	return msg
}

func recvAs[T any](t *testing.T, c *websocket.Conn, event string) T {
	t.Helper()
	msg := recv(t, c)
	require.Equal(t, event, msg.Event, "payload %s", msg.Data)
	var v T
	require.NoError(t, json.Unmarshal(msg.Data, &v))
	return v
}

func TestPush_RequiresToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
	_, resp, err := websocket.Dial(t.Context(), url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPush_FilesCheck(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	c := f.dial(t)

	send(t, c, EventFilesCheck, nil)
	got := recvAs[FilesStatus](t, c, EventFilesStatus)
	assert.Equal(t, FilesStatus{ArtifactStatus: probe.NewArtifactStatus(true, true), Authenticated: true}, got)
}

func TestPush_LogsHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(c *Config) { c.HistoryLines = 3 })
	f.container.logs = []string{"l1", "l2", "l3", "l4", "l5"}
	c := f.dial(t)

	send(t, c, EventLogsHistory, nil)
	assert.Equal(t, LogsPayload{Logs: []string{"l3", "l4", "l5"}, Initial: true},
		recvAs[LogsPayload](t, c, EventLogsHistory))

	send(t, c, EventLogsHistory, LogsRequest{Offset: 3, Limit: 3})
	assert.Equal(t, LogsPayload{Logs: []string{"l1", "l2"}},
		recvAs[LogsPayload](t, c, EventLogsHistory))

	send(t, c, EventLogsHistory, LogsRequest{Offset: 5, Limit: 3})
	assert.Equal(t, LogsPayload{Logs: []string{}}, recvAs[LogsPayload](t, c, EventLogsHistory))

	f.container.mu.Lock()
	f.container.logsErr = errors.New("daemon gone")
	f.container.mu.Unlock()
	send(t, c, EventLogsHistory, nil)
	assert.Equal(t, LogsPayload{Logs: []string{}, Initial: true, Error: "Failed to fetch logs"},
		recvAs[LogsPayload](t, c, EventLogsHistory))
}

func TestPush_Download(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	c := f.dial(t)

	send(t, c, EventDownload, nil)
	assert.Equal(t, status.Starting(), recvAs[status.Event](t, c, status.EventName))
	assert.Equal(t, status.Event{Status: status.StatusReady, Message: status.MessageAlreadyPresent},
		recvAs[status.Event](t, c, status.EventName))
}

func TestPush_DownloadBusy(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.env.release = make(chan struct{})
	first := f.dial(t)
	second := f.dial(t)

	send(t, first, EventDownload, nil)
	require.Eventually(t, func() bool {
		_, ok := f.srv.deps.Runner.Registry().Active("hytale")
		return ok
	}, testTimeout, 5*time.Millisecond)

	send(t, second, EventDownload, nil)
	assert.Equal(t, BusyPayload{Message: "A download is already in progress"},
		recvAs[BusyPayload](t, second, EventDownloadBusy))

	send(t, second, EventFilesCheck, nil)
	assert.True(t, recvAs[FilesStatus](t, second, EventFilesStatus).Provisioning)

	close(f.env.release)
	assert.Equal(t, status.StatusStarting, recvAs[status.Event](t, first, status.EventName).Status)
	assert.Equal(t, status.StatusReady, recvAs[status.Event](t, first, status.EventName).Status)
}

func TestPush_DownloadRateLimited(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(c *Config) {
		c.DownloadBurst = 1
		c.DownloadEvery = time.Hour
	})
	c := f.dial(t)

	send(t, c, EventDownload, nil)
	recvAs[status.Event](t, c, status.EventName)
	recvAs[status.Event](t, c, status.EventName)

	send(t, c, EventDownload, nil)
	assert.Equal(t, BusyPayload{Message: rateLimitedMessage}, recvAs[BusyPayload](t, c, EventDownloadBusy))
}

func TestPush_BadMessages(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	c := f.dial(t)

	send(t, c, "reboot", nil)
	assert.Equal(t, `Unknown event "reboot"`, recvAs[ErrorPayload](t, c, EventError).Message)

	ctx, cancel := context.WithTimeout(t.Context(), testTimeout)
	defer cancel()
	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte("{not json")))
	assert.Equal(t, "Malformed message", recvAs[ErrorPayload](t, c, EventError).Message)
}

func TestPush_DisconnectEndsObserver(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	c := f.dial(t)
	require.Eventually(t, func() bool { return f.srv.Connections() == 1 }, testTimeout, 5*time.Millisecond)

	require.NoError(t, c.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool { return f.srv.Connections() == 0 }, testTimeout, 5*time.Millisecond)
}

func TestConn_SendAfterShutdown(t *testing.T) {
	t.Parallel()

	c := &conn{out: make(chan outbound, 1), done: make(chan struct{}), logger: log.New(io.Discard)}
	require.NoError(t, c.Send("a", nil))
	require.ErrorIs(t, c.Send("b", nil), status.ErrObserverGone, "full queue drops the connection")
	select {
	case <-c.Done():
	default:
		t.Fatal("connection should be done after overflow")
	}
	assert.Equal(t, "send queue full", c.reason)
	require.ErrorIs(t, c.Send("c", nil), status.ErrObserverGone)
}

// --- lifecycle ---

func TestServer_Lifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(c *Config) {
		c.Host = "127.0.0.1"
		c.Port = 0
	})
	srv := f.srv
	assert.Equal(t, StateCreated, srv.State())
	assert.Empty(t, srv.URL())

	require.NoError(t, srv.Start(t.Context()))
	assert.True(t, srv.IsRunning())
	require.NotEmpty(t, srv.Address())

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL()+"/health", http.NoBody)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Error(t, srv.Start(t.Context()), "a server is single-use")

	require.NoError(t, srv.Stop())
	assert.Equal(t, StateStopped, srv.State())
	require.NoError(t, srv.Stop())
}

func TestServer_StartCancelled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.ErrorIs(t, f.srv.Start(ctx), context.Canceled)
	assert.Equal(t, StateFailed, f.srv.State())
	require.ErrorIs(t, f.srv.LastError(), context.Canceled)
}

func TestServer_StopClosesConnections(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(c *Config) {
		c.Host = "127.0.0.1"
		c.Port = 0
	})
	require.NoError(t, f.srv.Start(t.Context()))

	url := "ws" + strings.TrimPrefix(f.srv.URL(), "http") + "/ws"
	c, _, err := websocket.Dial(t.Context(), url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + f.token}},
	})
	require.NoError(t, err)
	defer c.CloseNow()
	require.Eventually(t, func() bool { return f.srv.Connections() == 1 }, testTimeout, 5*time.Millisecond)

	require.NoError(t, f.srv.Stop())

	ctx, cancel := context.WithTimeout(t.Context(), testTimeout)
	defer cancel()
	_, _, err = c.Read(ctx)
	require.Error(t, err)
}

func TestServer_StopDrainsSessions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(c *Config) {
		c.Host = "127.0.0.1"
		c.Port = 0
	})
	f.env.release = make(chan struct{})
	require.NoError(t, f.srv.Start(t.Context()))

	url := "ws" + strings.TrimPrefix(f.srv.URL(), "http") + "/ws"
	c, _, err := websocket.Dial(t.Context(), url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + f.token}},
	})
	require.NoError(t, err)
	defer c.CloseNow()

	send(t, c, EventDownload, nil)
	require.Eventually(t, func() bool { return f.srv.deps.Runner.Registry().Len() == 1 },
		testTimeout, 5*time.Millisecond)

	require.NoError(t, f.srv.Stop())
	assert.Zero(t, f.srv.deps.Runner.Registry().Len(), "sessions finish before Stop returns")
}
