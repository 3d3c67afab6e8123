package pcminfo

import (
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Scope says who owns the daemon behind an endpoint.
type Scope string

const (
	ScopeRoot Scope = "root"
	ScopeUser Scope = "user"
)

// DefaultPattern matches daemon socket files. The suffix is the daemon pid.
const DefaultPattern = "pinfo.*"

// Endpoint is one daemon socket found on disk.
type Endpoint struct {
	Path  string
	Scope Scope
	Pid   int // -1 when the file name carries no pid
}

// RunDirs are the directories searched for endpoints, root-owned first.
type RunDirs struct {
	Root    string
	User    string
	Pattern string
}

// DefaultRunDirs returns the well-known socket directories for the
// current user.
func DefaultRunDirs() RunDirs {
	return RunDirs{
		Root:    "/var/run/pcm-info",
		User:    filepath.Join("/run/user", strconv.Itoa(os.Getuid()), "pcm-info"),
		Pattern: DefaultPattern,
	}
}

// Endpoints lazily yields every socket matching the pattern, all root-owned
// endpoints before any user-owned one. No matches is not an error.
func Endpoints(dirs RunDirs, logger *slog.Logger) iter.Seq[Endpoint] {
	pattern := dirs.Pattern
	if pattern == "" {
		pattern = DefaultPattern
	}
	return func(yield func(Endpoint) bool) {
		seen := make(map[string]bool)
		for _, d := range []struct {
			dir   string
			scope Scope
		}{{dirs.Root, ScopeRoot}, {dirs.User, ScopeUser}} {
			if d.dir == "" {
				continue
			}
			matches, err := filepath.Glob(filepath.Join(d.dir, pattern))
			if err != nil {
				if logger != nil {
					logger.Debug("bad endpoint pattern", "dir", d.dir, "pattern", pattern, "err", err)
				}
				continue
			}
			for _, path := range matches {
				if seen[path] {
					continue
				}
				seen[path] = true
				if !yield(endpointFor(path, d.scope)) {
					return
				}
			}
		}
	}
}

// ResolveEndpoint turns a user-supplied argument into an endpoint. It
// accepts a socket path, a pid, or a file name such as "pinfo.42".
func ResolveEndpoint(dirs RunDirs, arg string, logger *slog.Logger) (Endpoint, error) {
	if strings.ContainsRune(arg, os.PathSeparator) {
		if _, err := os.Stat(arg); err != nil {
			return Endpoint{}, err
		}
		return endpointFor(arg, scopeOf(dirs, arg)), nil
	}
	for ep := range Endpoints(dirs, logger) {
		base := filepath.Base(ep.Path)
		if base == arg || (ep.Pid >= 0 && strconv.Itoa(ep.Pid) == arg) {
			return ep, nil
		}
	}
	return Endpoint{}, fmt.Errorf("no endpoint matches %q", arg)
}

func endpointFor(path string, scope Scope) Endpoint {
	pid := -1
	if ext := filepath.Ext(path); len(ext) > 1 {
		if n, err := strconv.Atoi(ext[1:]); err == nil {
			pid = n
		}
	}
	return Endpoint{Path: path, Scope: scope, Pid: pid}
}

func scopeOf(dirs RunDirs, path string) Scope {
	if dirs.Root != "" && filepath.Dir(path) == filepath.Clean(dirs.Root) {
		return ScopeRoot
	}
	return ScopeUser
}
