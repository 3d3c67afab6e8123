package pcminfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

// DefaultPrefix is the socket file prefix; the full name is prefix.pid.
const DefaultPrefix = "pinfo"

// Request is one parsed command as seen by a handler.
type Request struct {
	// Command is the command exactly as the client sent it.
	Command string
	// Params is whatever followed the first comma, if anything.
	Params    string
	HasParams bool
}

// HandlerFunc builds the reply for a command. The value is sent as JSON.
// Returning an error sends {"error": <message>} instead.
type HandlerFunc func(req Request) (any, error)

// Server speaks the daemon side of the protocol on a SOCK_SEQPACKET socket.
type Server struct {
	Dir          string
	Prefix       string
	Name         string // overrides prefix.pid when set
	MaxOutputLen int
	Version      string
	Logger       *slog.Logger

	mu       sync.RWMutex
	commands []string
	handlers map[string]HandlerFunc

	listener *net.UnixListener
	lock     *flock.Flock
	path     string
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// NewServer returns a server with the built-in / and /pcm/info commands.
func NewServer(dir string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		Dir:          dir,
		Prefix:       DefaultPrefix,
		MaxOutputLen: DefaultMaxOutputLen,
		Version:      "dev",
		Logger:       logger,
		handlers:     make(map[string]HandlerFunc),
		conns:        make(map[net.Conn]struct{}),
	}
	s.mustRegister(ListCommand, s.listCommands)
	s.mustRegister(InfoCommand, s.info)
	return s
}

// Register adds a command. Names must start with "/", be shorter than
// MaxCommandLen and be unique ignoring case.
func (s *Server) Register(cmd string, fn HandlerFunc) error {
	if fn == nil || !strings.HasPrefix(cmd, ListCommand) || len(cmd) >= MaxCommandLen {
		return fmt.Errorf("invalid command %q", cmd)
	}
	if strings.Contains(cmd, ParamSeparator) {
		return fmt.Errorf("command %q contains %q", cmd, ParamSeparator)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(cmd)
	if _, ok := s.handlers[key]; ok {
		return fmt.Errorf("command %q already registered", cmd)
	}
	s.handlers[key] = fn
	s.commands = append(s.commands, cmd)
	return nil
}

func (s *Server) mustRegister(cmd string, fn HandlerFunc) {
	if err := s.Register(cmd, fn); err != nil {
		panic(err)
	}
}

// Path is the socket path, known once Listen has been called.
func (s *Server) Path() string {
	return s.path
}

// Listen creates the socket and starts accepting connections.
func (s *Server) Listen(ctx context.Context) error {
	if s.MaxOutputLen <= 0 {
		s.MaxOutputLen = DefaultMaxOutputLen
	}
	if s.MaxOutputLen > MaxOutputLimit {
		return fmt.Errorf("max output length %d exceeds %d", s.MaxOutputLen, MaxOutputLimit)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	name := s.Name
	if name == "" {
		name = s.Prefix + "." + strconv.Itoa(os.Getpid())
	}
	s.path = filepath.Join(s.Dir, name)

	// The lock file is hidden so it never matches the endpoint pattern.
	s.lock = flock.New(filepath.Join(s.Dir, "."+name+".lock"))
	ok, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrServerAlreadyRunning
	}

	// Anything left at the path is stale: we hold the lock.
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.lock.Unlock()
		return fmt.Errorf("removing stale socket: %w", err)
	}

	ln, err := net.ListenUnix("unixpacket", &net.UnixAddr{Name: s.path, Net: "unixpacket"})
	if err != nil {
		s.lock.Unlock()
		return fmt.Errorf("listening on %s: %w", s.path, err)
	}
	s.listener = ln
	s.Logger.Info("listening", "path", s.path, "max_output_len", s.MaxOutputLen)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.AcceptUnix()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				s.Logger.Error("accept error", "err", err)
				continue
			}
			if !s.track(conn) {
				conn.Close()
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer s.untrack(conn)
				s.handleConn(conn)
			}()
		}
	}()

	return nil
}

// Close stops accepting, drops open connections, waits for handlers and
// removes the socket.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	s.listener.Close()
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.conns = nil
	s.mu.Unlock()
	s.wg.Wait()

	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	if uerr := s.lock.Unlock(); uerr != nil && err == nil {
		err = uerr
	}
	os.Remove(s.lock.Path())
	return err
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	hello := mustMarshal(Hello{Version: s.Version, Pid: os.Getpid(), MaxOutputLen: s.MaxOutputLen})
	if _, err := conn.Write(hello); err != nil {
		s.Logger.Debug("hello failed", "err", err)
		return
	}

	buf := make([]byte, MaxInputLen)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if !isHangup(err) {
				s.Logger.Debug("read error", "err", err)
			}
			return
		}
		// Oversized requests are truncated to the buffer; drop the client.
		if n == 0 || n >= MaxInputLen {
			s.Logger.Warn("dropping client", "bytes", n)
			return
		}
		reply := s.Dispatch(string(buf[:n]))
		if _, err := conn.Write(reply); err != nil {
			if !isHangup(err) {
				s.Logger.Debug("write error", "err", err)
			}
			return
		}
	}
}

// Dispatch runs one request and returns the encoded reply.
func (s *Server) Dispatch(raw string) []byte {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, ListCommand) {
		return invalidCommand(raw)
	}
	req := Request{Command: raw}
	if cmd, params, ok := strings.Cut(raw, ParamSeparator); ok {
		req = Request{Command: cmd, Params: params, HasParams: true}
	}

	s.mu.RLock()
	fn, ok := s.handlers[strings.ToLower(req.Command)]
	s.mu.RUnlock()
	if !ok {
		return invalidCommand(raw)
	}

	v, err := fn(req)
	if err != nil {
		return mustMarshal(ErrorReply{Error: err.Error()})
	}
	reply, err := json.Marshal(v)
	if err != nil {
		return mustMarshal(ErrorReply{Error: err.Error()})
	}
	if len(reply) > s.MaxOutputLen {
		s.Logger.Warn("reply too large", "cmd", req.Command, "bytes", len(reply))
		return mustMarshal(ErrorReply{Error: "reply too large"})
	}
	return reply
}

func invalidCommand(raw string) []byte {
	return mustMarshal(ErrorReply{Error: fmt.Sprintf("invalid cmd (%s)", raw)})
}

func (s *Server) listCommands(req Request) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cmds := make([]string, len(s.commands))
	copy(cmds, s.commands)
	return map[string][]string{req.Command: cmds}, nil
}

func (s *Server) info(req Request) (any, error) {
	return map[string]InfoReply{req.Command: {
		Pid:       os.Getpid(),
		Version:   s.Version,
		MaxBuffer: s.MaxOutputLen,
	}}, nil
}
