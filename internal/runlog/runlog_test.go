package runlog

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func fixedNow() time.Time { return time.Date(2024, 3, 9, 7, 5, 1, 0, time.UTC) }

func TestNew_WritesConsoleAndTimestampedFile(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "logs")
	var console bytes.Buffer

	l, err := New(Options{Dir: dir, Console: &console, now: fixedNow, runID: "run-1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	wantPath := filepath.Join(dir, "pulse_loader_20240309_070501.log")
	if l.Path() != wantPath {
		t.Fatalf("path=%q, want %q", l.Path(), wantPath)
	}

	l.Printf("Inserted %d rows for %s: %s", 3, "map_user", "x/2023/1.json")
	l.Warnf("Path does not exist: %s", "/nope")
	l.Debugf("hidden at info level")

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	b, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	for _, out := range []string{console.String(), string(b)} {
		if !strings.Contains(out, "Inserted 3 rows for map_user: x/2023/1.json") {
			t.Fatalf("missing info line in %q", out)
		}
		if !strings.Contains(out, "level=warning") || !strings.Contains(out, "Path does not exist: /nope") {
			t.Fatalf("missing warning line in %q", out)
		}
		if !strings.Contains(out, "run_id=run-1") {
			t.Fatalf("missing run_id field in %q", out)
		}
		if strings.Contains(out, "hidden at info level") {
			t.Fatalf("debug line leaked at info level: %q", out)
		}
	}
	if strings.Contains(string(b), "\x1b[") {
		t.Fatalf("log file must not contain color codes")
	}
}

func TestNew_DebugLevelAndPrefix(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var console bytes.Buffer
	l, err := New(Options{Dir: dir, Prefix: "custom", Level: "debug", Console: &console, now: fixedNow})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	if filepath.Base(l.Path()) != "custom_20240309_070501.log" {
		t.Fatalf("path=%q", l.Path())
	}
	if l.RunID() == "" {
		t.Fatalf("run id should default to a generated uuid")
	}
	l.Debugf("visible")
	if !strings.Contains(console.String(), "visible") {
		t.Fatalf("debug line missing: %q", console.String())
	}
}

func TestNew_RejectsBadLevel(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{Level: "loud", NoFile: true}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestWith_AddsFieldAndSharesFile(t *testing.T) {
	t.Parallel()

	var console bytes.Buffer
	l, err := New(Options{Console: &console, NoFile: true, runID: "r"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	child := l.With("kind", "top_user")
	child.Errorf("Failed to load %s", "a.json")

	if !strings.Contains(console.String(), "kind=top_user") || !strings.Contains(console.String(), "level=error") {
		t.Fatalf("console=%q", console.String())
	}
	if err := child.Close(); err != nil {
		t.Fatalf("child Close: %v", err)
	}
}

func TestNop(t *testing.T) {
	t.Parallel()

	l := Nop()
	l.Printf("nothing")
	if l.Path() != "" {
		t.Fatalf("Nop should not create a file")
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
