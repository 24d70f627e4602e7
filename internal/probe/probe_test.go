// SPDX-License-Identifier: MPL-2.0

package probe

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExec answers commands by prefix and records what it was asked to run.
type fakeExec struct {
	mu       sync.Mutex
	replies  map[string]string
	errs     map[string]error
	commands []string
}

func newFakeExec() *fakeExec {
	return &fakeExec{replies: map[string]string{}, errs: map[string]error{}}
}

func (f *fakeExec) on(prefix, out string) *fakeExec {
	f.replies[prefix] = out
	return f
}

func (f *fakeExec) fail(prefix string, err error) *fakeExec {
	f.errs[prefix] = err
	return f
}

func (f *fakeExec) Exec(_ context.Context, command string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	for prefix, err := range f.errs {
		if strings.HasPrefix(command, prefix) {
			return "", err
		}
	}
	for prefix, out := range f.replies {
		if strings.HasPrefix(command, prefix) {
			return out, nil
		}
	}
	return "", nil
}

func (f *fakeExec) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.commands) == 0 {
		return ""
	}
	return f.commands[len(f.commands)-1]
}

func TestCheckServerFiles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		out  string
		err  error
		want ArtifactStatus
	}{
		{
			name: "both present",
			out:  "/opt/hytale/HytaleServer.jar\n/opt/hytale/Assets.zip\n",
			want: ArtifactStatus{HasJar: true, HasAssets: true, Ready: true},
		},
		{
			name: "jar only",
			out:  "/opt/hytale/HytaleServer.jar\nNO_FILES\n",
			want: ArtifactStatus{HasJar: true},
		},
		{
			name: "assets only",
			out:  "/opt/hytale/Assets.zip\nNO_FILES\n",
			want: ArtifactStatus{HasAssets: true},
		},
		{name: "none", out: "NO_FILES\n", want: ArtifactStatus{}},
		{name: "exec fault", err: errors.New("container gone"), want: ArtifactStatus{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			exec := newFakeExec()
			if tt.err != nil {
				exec.fail("ls", tt.err)
			} else {
				exec.on("ls", tt.out)
			}
			got := New(exec, Layout{}).CheckServerFiles(t.Context())
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got.HasJar && got.HasAssets, got.Ready)
			assert.Equal(t,
				"ls /opt/hytale/HytaleServer.jar /opt/hytale/Assets.zip 2>/dev/null || echo NO_FILES",
				exec.last())
		})
	}
}

func TestCheckServerFiles_NotCached(t *testing.T) {
	t.Parallel()

	exec := newFakeExec().on("ls", "NO_FILES\n")
	p := New(exec, Layout{})
	assert.False(t, p.CheckServerFiles(t.Context()).Ready)

	exec.on("ls", "/opt/hytale/HytaleServer.jar\n/opt/hytale/Assets.zip\n")
	assert.True(t, p.CheckServerFiles(t.Context()).Ready)
}

func TestCheckAuth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		out  string
		err  error
		want bool
	}{
		{name: "access token", out: `{"access_token": "abc123"}`, want: true},
		{name: "refresh token only", out: `{"refresh_token": "r1", "access_token": ""}`, want: true},
		{name: "with comments", out: "// written by downloader\n{\"access_token\": \"abc\",}\n", want: true},
		{name: "no auth", out: "NO_AUTH\n", want: false},
		{name: "empty tokens", out: `{"access_token": ""}`, want: false},
		{name: "non-string token", out: `{"access_token": 42}`, want: false},
		{name: "malformed", out: `{"access_token": `, want: false},
		{name: "array", out: `["access_token"]`, want: false},
		{name: "empty", out: "", want: false},
		{name: "exec fault", err: errors.New("exec failed"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			exec := newFakeExec()
			if tt.err != nil {
				exec.fail("cat", tt.err)
			} else {
				exec.on("cat", tt.out)
			}
			assert.Equal(t, tt.want, New(exec, Layout{}).CheckAuth(t.Context()))
		})
	}
}

func TestArchiveExists(t *testing.T) {
	t.Parallel()

	exec := newFakeExec().on("ls", "/tmp/hytale-game.zip\n")
	p := New(exec, Layout{})
	assert.True(t, p.ArchiveExists(t.Context()))
	assert.Contains(t, exec.last(), "ls /tmp/hytale-game.zip")
	assert.Contains(t, exec.last(), "echo NO_ZIP")

	exec.on("ls", "NO_ZIP\n")
	assert.False(t, p.ArchiveExists(t.Context()))

	exec.fail("ls", errors.New("boom"))
	assert.False(t, p.ArchiveExists(t.Context()))
}

func TestExtract(t *testing.T) {
	t.Parallel()

	exec := newFakeExec()
	p := New(exec, Layout{})
	require.NoError(t, p.Extract(t.Context()))
	assert.Equal(t,
		"mkdir -p /opt/hytale && unzip -o -q /tmp/hytale-game.zip -d /opt/hytale && rm -f /tmp/hytale-game.zip",
		exec.last())

	exec.fail("mkdir", errors.New("unzip: not found"))
	err := p.Extract(t.Context())
	assert.ErrorIs(t, err, ErrExtractFailed)
}

func TestWipeData(t *testing.T) {
	t.Parallel()

	exec := newFakeExec()
	p := New(exec, Layout{})
	assert.Equal(t, WipeResult{Success: true}, p.WipeData(t.Context()))
	for _, want := range []string{"/opt/hytale/HytaleServer.jar", "/opt/hytale/Assets.zip", "/tmp/hytale-game.zip"} {
		assert.Contains(t, exec.last(), want)
	}

	exec.fail("rm", errors.New("Device or resource busy"))
	res := p.WipeData(t.Context())
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	assert.NotContains(t, res.Error, "Device", "container internals are not surfaced")
}

func TestPathsAreQuoted(t *testing.T) {
	t.Parallel()

	exec := newFakeExec().on("ls", "/srv/my server/HytaleServer.jar\n/srv/my server/Assets.zip\n")
	p := New(exec, Layout{ServerDir: "/srv/my server"})
	assert.True(t, p.CheckServerFiles(t.Context()).Ready)
	assert.Contains(t, exec.last(), "'/srv/my server/HytaleServer.jar'")

	assert.Equal(t, "/tmp/hytale-game.zip", p.Layout().ArchivePath, "unset fields keep defaults")
}
