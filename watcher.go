package pcminfo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports endpoints created in the run directories after it
// starts.
type Watcher struct {
	dirs    RunDirs
	logger  *slog.Logger
	watcher *fsnotify.Watcher
}

// NewWatcher watches every run directory that exists. It fails only if
// none can be watched.
func NewWatcher(dirs RunDirs, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if dirs.Pattern == "" {
		dirs.Pattern = DefaultPattern
	}
	watched := 0
	for _, dir := range []string{dirs.Root, dirs.User} {
		if dir == "" {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			logger.Debug("not watching run directory", "dir", dir, "err", err)
			continue
		}
		watched++
	}
	if watched == 0 {
		fsw.Close()
		return nil, errors.New("no run directory can be watched")
	}
	return &Watcher{dirs: dirs, logger: logger, watcher: fsw}, nil
}

// Endpoints streams newly created endpoints until ctx is done or the
// watcher is closed.
func (w *Watcher) Endpoints(ctx context.Context) <-chan Endpoint {
	out := make(chan Endpoint, 16)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("watch error", "err", err)
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Create) {
					continue
				}
				ep, ok := w.match(event.Name)
				if !ok {
					continue
				}
				w.logger.Debug("endpoint appeared", "path", ep.Path)
				select {
				case out <- ep:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) match(path string) (Endpoint, bool) {
	ok, err := filepath.Match(w.dirs.Pattern, filepath.Base(path))
	if err != nil || !ok {
		return Endpoint{}, false
	}
	if fi, err := os.Stat(path); err != nil || fi.IsDir() {
		return Endpoint{}, false
	}
	return endpointFor(path, scopeOf(w.dirs, path)), true
}
