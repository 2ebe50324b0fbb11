package loghub

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestHubCaptureAppendsToRingAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "web.log")
	h := New(100, 16, 50)
	h.Open("demo", "web", path, "command=sleep 1")
	h.CaptureStream("demo", "web", LevelStdout, strings.NewReader("line one\nline two\n"))

	tail := h.Tail("demo", "web", 10)
	if len(tail) != 3 { // header + two captured lines
		t.Fatalf("Tail returned %d entries, want 3: %+v", len(tail), tail)
	}
	if tail[0].Level != LevelSystem {
		t.Fatalf("first entry should be the SYSTEM header, got %+v", tail[0])
	}
	if tail[1].Content != "line one" || tail[2].Content != "line two" {
		t.Fatalf("unexpected captured content: %+v", tail[1:])
	}

	if err := h.Close("demo", "web"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "line one") {
		t.Fatalf("expected file to contain captured line, got %q", data)
	}
}

func TestHubSubscribeReceivesLiveLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "web.log")
	h := New(100, 16, 50)
	h.Open("demo", "web", path, "command=sleep 1")

	sub := h.Subscribe("demo", "web")
	defer h.Unsubscribe("demo", "web", sub)

	go h.CaptureStream("demo", "web", LevelStdout, strings.NewReader("hello\n"))

	select {
	case e := <-sub:
		if e.Content != "hello" {
			t.Fatalf("unexpected entry: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscribed line")
	}
}

func TestHubRemoveClosesSubscribersAndForgetsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "web.log")
	h := New(100, 16, 50)
	h.Open("demo", "web", path, "header")
	sub := h.Subscribe("demo", "web")

	h.Remove("demo", "web")

	if _, ok := <-sub; ok {
		t.Fatalf("expected subscription to be closed by Remove")
	}
	if got := h.Tail("demo", "web", 10); got != nil {
		t.Fatalf("expected no ring buffer state after Remove, got %+v", got)
	}
}
