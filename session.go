package pcminfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SessionOptions tunes how a session talks to its daemon.
type SessionOptions struct {
	// ConnectTimeout bounds the dial. Zero means no limit.
	ConnectTimeout time.Duration
	// ReplyTimeout bounds every receive. Zero waits indefinitely, which is
	// the protocol default: the daemon is local and trusted.
	ReplyTimeout time.Duration
	Logger       *slog.Logger
}

// Session is one connected request/reply channel to a daemon. It owns the
// socket and the handshake results. Any failed exchange closes it.
type Session struct {
	ID       uuid.UUID
	Endpoint Endpoint
	Hello    Hello
	Peer     *PeerCred
	Logger   *slog.Logger

	conn         PacketConn
	replyTimeout time.Duration
	handshaken   bool
	commands     []string
	completer    *Completer

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
}

// Open dials the endpoint and returns an unhandshaken session. Dial
// failures match ErrConnect.
func Open(ctx context.Context, ep Endpoint, opts SessionOptions) (*Session, error) {
	conn, err := DialPacket(ctx, ep.Path, opts.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	s := NewSession(conn, ep, opts)
	if cred, err := PeerCredentials(conn); err == nil {
		s.Peer = &cred
		s.Logger.Debug("peer credentials", "pid", cred.Pid, "uid", cred.Uid)
	} else {
		s.Logger.Debug("no peer credentials", "err", err)
	}
	return s, nil
}

// NewSession wraps an already connected socket.
func NewSession(conn PacketConn, ep Endpoint, opts SessionOptions) *Session {
	id := uuid.New()
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Session{
		ID:           id,
		Endpoint:     ep,
		Logger:       logger.With("session", id.String()[:8], "endpoint", ep.Path),
		conn:         conn,
		replyTimeout: opts.ReplyTimeout,
	}
}

// Handshake reads the daemon's unprompted hello, then asks for the command
// list. On any failure the session is closed and the error returned.
func (s *Session) Handshake() error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if s.handshaken {
		return nil
	}

	data, err := readPacket(s.conn, HandshakeBufferSize, s.replyTimeout)
	if err != nil {
		return s.fail(fmt.Errorf("reading hello: %w", err))
	}
	hello, err := decodeHello(data)
	if err != nil {
		return s.fail(fmt.Errorf("hello: %w", err))
	}
	s.Hello = hello
	s.Logger.Debug("hello received", "version", hello.Version, "pid", hello.Pid, "max_output_len", hello.MaxOutputLen)

	data, err = s.exchange(ListCommand)
	if err != nil {
		return s.fail(fmt.Errorf("listing commands: %w", err))
	}
	cmds, err := decodeCommandList(data)
	if err != nil {
		return s.fail(fmt.Errorf("listing commands: %w", err))
	}
	s.commands = cmds
	s.completer = NewCompleter(cmds)
	s.handshaken = true
	s.Logger.Info("session ready", "commands", len(cmds))
	return nil
}

// Do sends one request and returns the reply after checking that it is
// JSON. A failed exchange closes the session.
func (s *Session) Do(request string) (json.RawMessage, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	if !s.handshaken {
		return nil, errors.New("session not handshaken")
	}
	if request == "" {
		return nil, errors.New("empty request")
	}
	if len(request) >= MaxInputLen {
		return nil, fmt.Errorf("request is %d bytes, daemon limit is %d", len(request), MaxInputLen-1)
	}
	data, err := s.exchange(request)
	if err != nil {
		return nil, s.fail(fmt.Errorf("%s: %w", request, err))
	}
	reply, err := checkReply(data)
	if err != nil {
		return nil, s.fail(fmt.Errorf("%s: %w", request, err))
	}
	return reply, nil
}

// Commands returns the command set advertised during the handshake.
func (s *Session) Commands() []string {
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

// Completer returns the completion source for this session. It is nil
// before the handshake.
func (s *Session) Completer() *Completer {
	return s.completer
}

// MaxOutputLen is the receive bound in effect: the handshake buffer size
// until the daemon has said otherwise.
func (s *Session) MaxOutputLen() int {
	if s.Hello.MaxOutputLen > 0 {
		return s.Hello.MaxOutputLen
	}
	return HandshakeBufferSize
}

// Close releases the socket. It is safe to call more than once; the
// socket is closed exactly once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.conn.Close()
		if s.closeErr != nil && errors.Is(s.closeErr, net.ErrClosed) {
			s.closeErr = nil
		}
		s.Logger.Debug("session closed")
	})
	return s.closeErr
}

// Closed reports whether Close has run.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

func (s *Session) exchange(request string) ([]byte, error) {
	if _, err := s.conn.Write([]byte(request)); err != nil {
		return nil, fmt.Errorf("sending: %w", err)
	}
	data, err := readPacket(s.conn, s.MaxOutputLen(), s.replyTimeout)
	if err != nil {
		if isHangup(err) {
			return nil, fmt.Errorf("daemon hung up: %w", err)
		}
		return nil, fmt.Errorf("receiving: %w", err)
	}
	return data, nil
}

func (s *Session) fail(err error) error {
	s.Logger.Warn("session failed", "err", err)
	s.Close()
	return err
}
