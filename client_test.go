package pcminfo

import (
	"bytes"
	"errors"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func testClient(dirs RunDirs, input string, out *bytes.Buffer) *Client {
	return &Client{
		Dirs:    dirs,
		Console: NewPlainConsole(strings.NewReader(input), out, DefaultPrompt),
		Logger:  slog.New(slog.DiscardHandler),
	}
}

func TestClientEndToEnd(t *testing.T) {
	base := shortTempDir(t)
	dirs := RunDirs{Root: filepath.Join(base, "root"), User: filepath.Join(base, "user"), Pattern: DefaultPattern}
	touch(t, filepath.Join(dirs.User, "keep"))
	touch(t, filepath.Join(dirs.Root, "keep"))

	path := filepath.Join(dirs.User, "pinfo.42")
	daemon := startScriptedDaemon(t, path, `{"max_output_len":1024}`, map[string]string{
		"/":    `{"/":["ping"]}`,
		"ping": `{"ping":"pong"}`,
	})

	var out bytes.Buffer
	c := testClient(dirs, "ping\nquit\n", &out)
	if err := c.Run(t.Context()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := "Connecting to " + path + "\n" +
		"--> {\n  \"ping\": \"pong\"\n}\n" +
		"--> "
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
	waitFor(t, timeoutShort, func() bool { return len(daemon.seen()) == 2 })
	if got := daemon.seen(); !slices.Equal(got, []string{"/", "ping"}) {
		t.Errorf("daemon saw %q", got)
	}
}

func TestClientSkipsUnreachableEndpoints(t *testing.T) {
	base := shortTempDir(t)
	dirs := RunDirs{Root: filepath.Join(base, "root"), User: filepath.Join(base, "user"), Pattern: DefaultPattern}
	touch(t, filepath.Join(dirs.Root, "pinfo.1"))
	srv := startServer(t, dirs.User, "pinfo.2")

	var out bytes.Buffer
	c := testClient(dirs, "/pcm/info\nquit\n", &out)
	if err := c.Run(t.Context()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "Connecting to "+filepath.Join(dirs.Root, "pinfo.1")) {
		t.Errorf("output missing first endpoint: %q", got)
	}
	if !strings.Contains(got, "Connecting to "+srv.Path()) || !strings.Contains(got, `"maxbuffer": 16384`) {
		t.Errorf("output missing reachable endpoint reply: %q", got)
	}
}

func TestClientCollectsSessionErrors(t *testing.T) {
	base := shortTempDir(t)
	dirs := RunDirs{Root: filepath.Join(base, "root"), User: filepath.Join(base, "user"), Pattern: DefaultPattern}
	touch(t, filepath.Join(dirs.Root, "keep"))
	startScriptedDaemon(t, filepath.Join(dirs.Root, "pinfo.1"), `{"max_output_len":64}`, map[string]string{
		"/":    `{"/":["/bad"]}`,
		"/bad": `{"oops"`,
	})
	srv := startServer(t, dirs.User, "pinfo.2")

	var out bytes.Buffer
	c := testClient(dirs, "/bad\n/pcm/info\nquit\n", &out)
	err := c.Run(t.Context())
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("Run err = %v, want ErrDecode", err)
	}
	// The failed session is abandoned and the next endpoint still runs.
	if !strings.Contains(out.String(), "Connecting to "+srv.Path()) {
		t.Errorf("second endpoint not visited: %q", out.String())
	}
}

func TestClientStopsOnInputEOF(t *testing.T) {
	base := shortTempDir(t)
	dirs := RunDirs{Root: base, Pattern: DefaultPattern}
	first := startServer(t, base, "pinfo.1")
	second := startServer(t, base, "pinfo.2")

	var out bytes.Buffer
	c := testClient(dirs, "", &out)
	if err := c.Run(t.Context()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), first.Path()) {
		t.Errorf("first endpoint not visited: %q", out.String())
	}
	if strings.Contains(out.String(), second.Path()) {
		t.Errorf("client kept going after input closed: %q", out.String())
	}
}

func TestClientNoEndpoints(t *testing.T) {
	base := shortTempDir(t)
	var out bytes.Buffer
	c := testClient(RunDirs{Root: base, User: base}, "quit\n", &out)
	if err := c.Run(t.Context()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("output = %q, want nothing", out.String())
	}
}
