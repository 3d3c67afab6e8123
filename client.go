package pcminfo

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
)

// Client visits every discovered endpoint in turn and runs an interactive
// session against it.
type Client struct {
	Dirs      RunDirs
	Options   SessionOptions
	Console   Console
	SlashOnly bool
	Logger    *slog.Logger
}

// Run performs one discovery pass. Connect failures are logged and skipped.
// Session failures are logged, collected and returned together once every
// endpoint has been tried. Input EOF stops the pass early.
func (c *Client) Run(ctx context.Context) error {
	_, err := c.runAll(ctx, Endpoints(c.Dirs, c.logger()))
	return err
}

// Watch runs a discovery pass and then keeps serving endpoints as they
// appear, until ctx is done or the input ends.
func (c *Client) Watch(ctx context.Context) error {
	w, err := NewWatcher(c.Dirs, c.logger())
	if err != nil {
		return err
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := w.Endpoints(ctx)

	// Sockets created after the watcher started but before the glob
	// reached their directory show up twice.
	seen := make(visited)
	first := func(yield func(Endpoint) bool) {
		for ep := range Endpoints(c.Dirs, c.logger()) {
			seen.add(ep.Path)
			if !yield(ep) {
				return
			}
		}
	}
	stopped, err := c.runAll(ctx, first)
	if stopped {
		return err
	}
	errs := []error{err}
	c.logger().Info("waiting for new endpoints")
	for {
		select {
		case <-ctx.Done():
			return errors.Join(errs...)
		case ep, ok := <-events:
			if !ok {
				return errors.Join(errs...)
			}
			if seen.has(ep.Path) {
				c.logger().Debug("endpoint already served", "path", ep.Path)
				continue
			}
			stopped, err := c.runAll(ctx, func(yield func(Endpoint) bool) { yield(ep) })
			errs = append(errs, err)
			if stopped {
				return errors.Join(errs...)
			}
		}
	}
}

// RunEndpoint opens, handshakes and drives one session. The socket is
// closed on every path out.
func (c *Client) RunEndpoint(ctx context.Context, ep Endpoint) error {
	fmt.Fprintf(c.Console, "Connecting to %s\n", ep.Path)
	opts := c.Options
	opts.Logger = c.logger()
	sess, err := Open(ctx, ep, opts)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Handshake(); err != nil {
		return err
	}
	sh := &Shell{Session: sess, Console: c.Console, SlashOnly: c.SlashOnly}
	return sh.Run(ctx)
}

// runAll reports stopped when the caller should not look at further
// endpoints: input closed or ctx done.
func (c *Client) runAll(ctx context.Context, endpoints iter.Seq[Endpoint]) (bool, error) {
	var errs []error
	for ep := range endpoints {
		if err := ctx.Err(); err != nil {
			return true, errors.Join(append(errs, err)...)
		}
		err := c.RunEndpoint(ctx, ep)
		switch {
		case err == nil:
		case errors.Is(err, ErrInputClosed):
			return true, errors.Join(errs...)
		case errors.Is(err, ErrConnect):
			c.logger().Warn("skipping endpoint", "path", ep.Path, "err", err)
		case errors.Is(err, context.Canceled):
			return true, errors.Join(errs...)
		default:
			c.logger().Error("session failed", "path", ep.Path, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", ep.Path, err))
		}
	}
	return false, errors.Join(errs...)
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger
}

// visited remembers the socket files served by the first discovery pass.
// A path recreated since then is a different daemon.
type visited map[string]os.FileInfo

func (v visited) add(path string) {
	if fi, err := os.Stat(path); err == nil {
		v[path] = fi
	}
}

func (v visited) has(path string) bool {
	old, ok := v[path]
	if !ok {
		return false
	}
	fi, err := os.Stat(path)
	return err == nil && os.SameFile(old, fi)
}
