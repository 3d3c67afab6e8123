package pcminfo

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReportsNewEndpoints(t *testing.T) {
	base := t.TempDir()
	dirs := RunDirs{Root: filepath.Join(base, "missing"), User: base, Pattern: DefaultPattern}
	w, err := NewWatcher(dirs, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()
	events := w.Endpoints(t.Context())

	touch(t, filepath.Join(base, "unrelated"))
	touch(t, filepath.Join(base, "pinfo.12"))

	select {
	case ep := <-events:
		if ep.Path != filepath.Join(base, "pinfo.12") || ep.Pid != 12 || ep.Scope != ScopeUser {
			t.Errorf("endpoint = %+v", ep)
		}
	case <-time.After(timeoutShort):
		t.Fatal("no endpoint reported")
	}
}

func TestWatcherNeedsADirectory(t *testing.T) {
	base := t.TempDir()
	dirs := RunDirs{Root: filepath.Join(base, "a"), User: filepath.Join(base, "b")}
	if _, err := NewWatcher(dirs, slog.New(slog.DiscardHandler)); err == nil {
		t.Fatal("expected error when no directory exists")
	}
}

func TestClientWatchServesNewEndpoints(t *testing.T) {
	base := shortTempDir(t)
	dirs := RunDirs{Root: base, Pattern: DefaultPattern}

	var out syncBuffer
	input := newBlockingReader()
	c := &Client{
		Dirs:    dirs,
		Console: NewPlainConsole(input, &out, ""),
		Logger:  slog.New(slog.DiscardHandler),
	}
	done := make(chan error, 1)
	go func() { done <- c.Watch(t.Context()) }()

	// Give the watcher time to register before the daemon appears.
	time.Sleep(100 * time.Millisecond)
	srv := startServer(t, base, "pinfo.8")

	waitFor(t, timeoutShort, func() bool { return out.Contains("Connecting to " + srv.Path()) })
	input.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch: %v", err)
		}
	case <-time.After(timeoutShort):
		t.Fatal("Watch did not return after input closed")
	}
}

func TestVisitedMatchesSameFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pinfo.1")
	touch(t, path)

	seen := make(visited)
	seen.add(path)
	seen.add(filepath.Join(dir, "pinfo.gone"))

	if !seen.has(path) {
		t.Error("has = false for the recorded file")
	}
	if seen.has(filepath.Join(dir, "pinfo.2")) {
		t.Error("has = true for an unrecorded path")
	}
	if seen.has(filepath.Join(dir, "pinfo.gone")) {
		t.Error("has = true for a path that never existed")
	}

	// Keep the old file alive so the new one cannot reuse its inode.
	if err := os.Rename(path, path+".old"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	touch(t, path)
	if seen.has(path) {
		t.Error("has = true for a recreated file")
	}
}

func TestClientWatchSkipsEndpointsFromFirstPass(t *testing.T) {
	base := shortTempDir(t)
	dirs := RunDirs{Root: filepath.Join(base, "r"), User: filepath.Join(base, "u"), Pattern: DefaultPattern}
	touch(t, filepath.Join(dirs.User, "keep"))
	first := startServer(t, dirs.Root, "pinfo.1")

	var out syncBuffer
	pr, pw := io.Pipe()
	defer pw.Close()
	c := &Client{
		Dirs:    dirs,
		Console: NewPlainConsole(pr, &out, ""),
		Logger:  slog.New(slog.DiscardHandler),
	}
	done := make(chan error, 1)
	go func() { done <- c.Watch(t.Context()) }()

	// The user directory is globbed only after the root session ends, so
	// this daemon is both found by discovery and reported by the watcher.
	waitFor(t, timeoutShort, func() bool { return out.Contains("Connecting to " + first.Path()) })
	second := startServer(t, dirs.User, "pinfo.2")
	if _, err := io.WriteString(pw, "quit\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, timeoutShort, func() bool { return out.Contains("Connecting to " + second.Path()) })
	if _, err := io.WriteString(pw, "quit\n"); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Watcher events arrive in order: once the third daemon is served the
	// second one's event has been handled.
	third := startServer(t, dirs.User, "pinfo.3")
	waitFor(t, timeoutShort, func() bool { return out.Contains("Connecting to " + third.Path()) })
	pw.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch: %v", err)
		}
	case <-time.After(timeoutShort):
		t.Fatal("Watch did not return after input closed")
	}
	if n := out.Count("Connecting to " + second.Path()); n != 1 {
		t.Errorf("%s served %d times, want 1", second.Path(), n)
	}
}
