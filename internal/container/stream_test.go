// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func collect(t *testing.T, s *Stream) (data string, final StreamEvent) {
	t.Helper()
	var b strings.Builder
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return b.String(), final
			}
			switch ev.Kind {
			case StreamData:
				if final.Kind != StreamData {
					t.Fatalf("data event after %s", final.Kind)
				}
				b.Write(ev.Data)
			default:
				if final.Kind != StreamData {
					t.Fatalf("second terminal event %s", ev.Kind)
				}
				final = ev
			}
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
}

func TestStream_DeliversChunksInOrderThenEnd(t *testing.T) {
	t.Parallel()

	recorder := NewMockCommandRecorder().On("exec", MockResponse{
		Chunks: []string{"Please visit https://oauth.accounts.", "hytale.com/device\n", "Download complete\n"},
	})
	s, err := recorder.Engine(t).Stream(t.Context(), "abc", "hytale-downloader")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer s.Close()

	data, final := collect(t, s)
	if want := "Please visit https://oauth.accounts.hytale.com/device\nDownload complete\n"; data != want {
		t.Errorf("data = %q, want %q", data, want)
	}
	if final.Kind != StreamEnd {
		t.Errorf("final kind = %s, want end", final.Kind)
	}
	recorder.AssertLastArgs(t, "exec", "abc", "sh", "-c", "hytale-downloader")
}

func TestStream_CombinesStderr(t *testing.T) {
	t.Parallel()

	recorder := NewMockCommandRecorder().On("exec", MockResponse{Stderr: "403 Forbidden\n", ExitCode: 1})
	s, err := recorder.Engine(t).Stream(t.Context(), "abc", "dl")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer s.Close()

	data, final := collect(t, s)
	if data != "403 Forbidden\n" {
		t.Errorf("data = %q", data)
	}
	if final.Kind != StreamEnd || final.ExitCode != 1 {
		t.Errorf("final = %+v, want end with exit code 1", final)
	}
}

func TestStream_EngineFailureIsError(t *testing.T) {
	t.Parallel()

	recorder := NewMockCommandRecorder().On("exec", MockResponse{ExitCode: engineFailureExitCode})
	s, err := recorder.Engine(t).Stream(t.Context(), "abc", "dl")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer s.Close()

	_, final := collect(t, s)
	if final.Kind != StreamError || final.Err == nil {
		t.Errorf("final = %+v, want error", final)
	}
}

func TestStream_ContextCancelIsError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	recorder := NewMockCommandRecorder().On("exec", MockResponse{Chunks: []string{"working\n"}, Sleep: time.Minute})
	s, err := recorder.Engine(t).Stream(ctx, "abc", "dl")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer s.Close()

	ev := <-s.Events()
	if ev.Kind != StreamData {
		t.Fatalf("first event = %s, want data", ev.Kind)
	}
	cancel()

	_, final := collect(t, s)
	if final.Kind != StreamError || !errors.Is(final.Err, context.Canceled) {
		t.Errorf("final = %+v, want context.Canceled error", final)
	}
}

func TestStream_CloseStopsDelivery(t *testing.T) {
	t.Parallel()

	recorder := NewMockCommandRecorder().On("exec", MockResponse{Chunks: []string{"a", "b", "c"}, Sleep: time.Minute})
	s, err := recorder.Engine(t).Stream(t.Context(), "abc", "dl")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	_ = s.Close()
	_ = s.Close()

	select {
	case _, ok := <-s.Events():
		for ok {
			_, ok = <-s.Events()
		}
	case <-time.After(10 * time.Second):
		t.Fatal("events channel not closed after Close")
	}
}
