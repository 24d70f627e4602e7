// SPDX-License-Identifier: MPL-2.0

package container

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/testcontainers/testcontainers-go"
)

// checkTestcontainersAvailable safely checks if testcontainers can be used.
// Returns true if containers are available, false otherwise.
func checkTestcontainersAvailable() (available bool) {
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		return false
	}
	defer provider.Close()
	return true
}

func TestTargetIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	engine, err := AutoDetectEngine()
	if err != nil {
		t.Skipf("skipping container integration tests: no container engine available: %v", err)
	}
	if !checkTestcontainersAvailable() {
		t.Skip("skipping container integration tests: testcontainers provider not available")
	}

	ctr, err := testcontainers.GenericContainer(t.Context(), testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image: "alpine:3.20",
			Cmd:   []string{"sleep", "300"},
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("failed to start container: %v", err)
	}

	target := NewTarget(engine, ctr.GetContainerID())

	t.Run("Locate", func(t *testing.T) {
		if err := target.Locate(t.Context()); err != nil {
			t.Fatalf("Locate() error = %v", err)
		}
	})

	t.Run("ExecFallback", func(t *testing.T) {
		out, err := target.Exec(t.Context(), "ls /tmp/hytale-game.zip 2>/dev/null || echo NO_ZIP")
		if err != nil {
			t.Fatalf("Exec() error = %v", err)
		}
		if strings.TrimSpace(out) != "NO_ZIP" {
			t.Errorf("Exec() = %q, want NO_ZIP", out)
		}
	})

	t.Run("StreamMergesOutput", func(t *testing.T) {
		s, err := target.Run(t.Context(), "echo one; echo two >&2; echo three")
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		defer s.Close()

		data, final := collect(t, s)
		for _, want := range []string{"one", "two", "three"} {
			if !strings.Contains(data, want) {
				t.Errorf("stream output %q missing %q", data, want)
			}
		}
		if final.Kind != StreamEnd {
			t.Errorf("final kind = %s, want end", final.Kind)
		}
	})

	t.Run("CopyIn", func(t *testing.T) {
		host := filepath.Join(t.TempDir(), "config.json")
		if err := os.WriteFile(host, []byte(`{"motd":"hi"}`), 0o600); err != nil {
			t.Fatal(err)
		}
		if err := target.CopyIn(t.Context(), host, "/tmp/config.json"); err != nil {
			t.Fatalf("CopyIn() error = %v", err)
		}
		out, err := target.Exec(t.Context(), "cat /tmp/config.json")
		if err != nil {
			t.Fatalf("Exec() error = %v", err)
		}
		if out != `{"motd":"hi"}` {
			t.Errorf("copied content = %q", out)
		}
	})

	t.Run("MissingContainer", func(t *testing.T) {
		missing := NewTarget(engine, "hytale-panel-does-not-exist")
		err := missing.Locate(t.Context())
		var envErr *EnvironmentUnavailableError
		if !errors.As(err, &envErr) || envErr.Reason != ReasonNotFound {
			t.Fatalf("Locate() error = %v, want not found", err)
		}
	})
}
