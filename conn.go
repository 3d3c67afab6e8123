package pcminfo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// PacketConn is the part of a sequenced-packet connection a session needs.
// Every Write is one datagram and every Read returns at most one.
type PacketConn interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

// PeerCred identifies the process on the other end of a local socket.
type PeerCred struct {
	Pid int32
	Uid uint32
	Gid uint32
}

// DialPacket opens a SOCK_SEQPACKET connection to path. A zero timeout
// means no limit on the dial.
func DialPacket(ctx context.Context, path string, timeout time.Duration) (*net.UnixConn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "unixpacket", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnect, path, err)
	}
	return conn.(*net.UnixConn), nil
}

// PeerCredentials reads SO_PEERCRED from a connected unix socket.
func PeerCredentials(conn *net.UnixConn) (PeerCred, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return PeerCred{}, err
	}
	var cred *unix.Ucred
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		cred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return PeerCred{}, err
	}
	if sockErr != nil {
		return PeerCred{}, fmt.Errorf("reading peer credentials: %w", sockErr)
	}
	return PeerCred{Pid: cred.Pid, Uid: cred.Uid, Gid: cred.Gid}, nil
}

// readPacket receives one datagram of at most size bytes. A positive
// timeout bounds the wait; zero waits indefinitely.
func readPacket(conn PacketConn, size int, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, fmt.Errorf("setting read deadline: %w", err)
		}
		defer conn.SetReadDeadline(time.Time{})
	}
	buf := make([]byte, size)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// A zero-length read on a seqpacket socket is the peer hanging up.
		return nil, io.EOF
	}
	return buf[:n], nil
}

// isHangup reports whether err means the daemon went away: EOF, a closed
// connection, a broken pipe or a reset.
func isHangup(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
