package loghub

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"
)

func writeTestLog(t *testing.T, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proc.log")
	var content string
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, l := range lines {
		ts := base.Add(time.Duration(i) * time.Second).Format(timestampLayout)
		content += ts + " STDOUT " + l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write test log: %v", err)
	}
	return path
}

func TestGrepFindsMatchesWithContext(t *testing.T) {
	path := writeTestLog(t, []string{"booting", "listening on :5173", "ready"})
	matches, err := Grep(path, GrepOptions{Pattern: regexp.MustCompile(`listening`), Before: 1, After: 1})
	if err != nil {
		t.Fatalf("Grep: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("len(matches) = %d, want 1", len(matches))
	}
	m := matches[0]
	if m.Entry.Content != "listening on :5173" {
		t.Fatalf("matched entry = %q", m.Entry.Content)
	}
	if len(m.ContextBefore) != 1 || m.ContextBefore[0].Content != "booting" {
		t.Fatalf("ContextBefore = %+v", m.ContextBefore)
	}
	if len(m.ContextAfter) != 1 || m.ContextAfter[0].Content != "ready" {
		t.Fatalf("ContextAfter = %+v", m.ContextAfter)
	}
}

func TestGrepDedupsOverlappingContextWindows(t *testing.T) {
	path := writeTestLog(t, []string{"err one", "err two", "err three"})
	matches, err := Grep(path, GrepOptions{Pattern: regexp.MustCompile(`err`), Before: 2, After: 2})
	if err != nil {
		t.Fatalf("Grep: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("len(matches) = %d, want 3", len(matches))
	}
	// The second match's "before" context must not repeat the first match's own line.
	if len(matches[1].ContextBefore) != 0 {
		t.Fatalf("expected no duplicated context before match 2, got %+v", matches[1].ContextBefore)
	}
}

func TestGrepRespectsTimeWindow(t *testing.T) {
	path := writeTestLog(t, []string{"alpha", "alpha again", "alpha last"})
	since := time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC)
	matches, err := Grep(path, GrepOptions{Pattern: regexp.MustCompile(`alpha`), Since: since})
	if err != nil {
		t.Fatalf("Grep: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("len(matches) = %d, want 2 (excluding the entry before `since`)", len(matches))
	}
}

func TestParseRelativeDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"10s": 10 * time.Second,
		"5m":  5 * time.Minute,
		"2h":  2 * time.Hour,
		"1d":  24 * time.Hour,
		"":    0,
	}
	for in, want := range cases {
		got, err := ParseRelativeDuration(in)
		if err != nil {
			t.Fatalf("ParseRelativeDuration(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseRelativeDuration(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseRelativeDuration("5x"); err == nil {
		t.Fatalf("expected error for unknown suffix")
	}
}
